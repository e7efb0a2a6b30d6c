package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/pnl-engine/internal/models"
)

// dailyPoint is one day of realized P&L, keyed by the exit date of the
// positions settled that day.
type dailyPoint struct {
	day time.Time
	pnl float64
}

// computeRiskRatios fills the risk-adjusted ratio block from the daily
// return series. With fewer than MinReturnPeriods independent periods the
// ratios stay nil; a two-day Sharpe ratio is not information.
func computeRiskRatios(row *models.WalletMetricsRow, positions []*PositionResult) {
	if row.CapitalDeployed <= 0 {
		return
	}

	points := dailyPnL(positions)
	row.ReturnPeriods = len(points)
	if len(points) < 2 {
		return
	}

	returns := make([]float64, len(points))
	for i, p := range points {
		returns[i] = p.pnl / row.CapitalDeployed
	}

	// Drawdown and volatility are descriptive, not ratios; they only need a
	// curve to describe.
	ddPct, ddDays := maxDrawdown(points, row.CapitalDeployed)
	row.MaxDrawdownPct = ptr(ddPct)
	row.MaxDrawdownDays = ptrInt(ddDays)
	if sd := stdDev(returns); sd > 0 {
		row.VolatilityPct = ptr(sd * math.Sqrt(periodsPerYear) * 100)
	}

	if len(points) < MinReturnPeriods {
		return
	}

	row.SharpeRatio = sharpeRatio(returns)
	row.SortinoRatio = sortinoRatio(returns)
	row.CalmarRatio = calmarRatio(points, row.CapitalDeployed, ddPct)
	row.OmegaRatio = omegaRatio(returns, 0)
}

// dailyPnL buckets realized P&L by UTC exit date, ascending. Positions that
// never disposed of anything have no exit date and no realized money, so
// they contribute no point.
func dailyPnL(positions []*PositionResult) []dailyPoint {
	buckets := make(map[time.Time]float64)
	for _, pr := range positions {
		exit := pr.Position.LastExit
		if exit.IsZero() {
			continue
		}
		day := exit.UTC().Truncate(24 * time.Hour)
		buckets[day] += pr.RealizedPnL()
	}

	points := make([]dailyPoint, 0, len(buckets))
	for day, pnl := range buckets {
		points = append(points, dailyPoint{day: day, pnl: pnl})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].day.Before(points[j].day) })
	return points
}

// sharpeRatio is the annualized mean over standard deviation of daily returns
func sharpeRatio(returns []float64) *float64 {
	sd := stdDev(returns)
	if sd == 0 {
		return nil
	}
	return ptr(mean(returns) / sd * math.Sqrt(periodsPerYear))
}

// sortinoRatio penalizes only downside deviation
func sortinoRatio(returns []float64) *float64 {
	var downSq float64
	for _, r := range returns {
		if r < 0 {
			downSq += r * r
		}
	}
	downside := math.Sqrt(downSq / float64(len(returns)))
	if downside == 0 {
		return nil
	}
	return ptr(mean(returns) / downside * math.Sqrt(periodsPerYear))
}

// calmarRatio is annualized return over maximum drawdown
func calmarRatio(points []dailyPoint, capital, ddPct float64) *float64 {
	if ddPct == 0 {
		return nil
	}

	var total float64
	for _, p := range points {
		total += p.pnl
	}
	totalReturn := total / capital

	days := points[len(points)-1].day.Sub(points[0].day).Hours()/24 + 1
	if days <= 0 {
		return nil
	}

	var annualized float64
	if 1+totalReturn <= 0 {
		annualized = -1 // wiped out; the power curve is undefined below -100%
	} else {
		annualized = math.Pow(1+totalReturn, periodsPerYear/days) - 1
	}

	return ptr(annualized / (ddPct / 100))
}

// omegaRatio is the probability-weighted gain/loss ratio above a threshold.
// A zero loss leg with gains is unbounded and reported capped.
func omegaRatio(returns []float64, threshold float64) *float64 {
	var gains, losses float64
	for _, r := range returns {
		if r > threshold {
			gains += r - threshold
		} else {
			losses += threshold - r
		}
	}

	switch {
	case losses == 0 && gains == 0:
		return nil
	case losses == 0:
		return ptr(UnboundedSentinel)
	default:
		return ptr(math.Min(gains/losses, UnboundedSentinel))
	}
}

// maxDrawdown walks the equity curve (capital plus cumulative P&L) and
// returns the deepest peak-to-trough loss in percent and the longest time
// spent below a prior peak in days.
func maxDrawdown(points []dailyPoint, capital float64) (pct float64, days int) {
	equity := capital
	peak := capital
	var peakDay time.Time
	var maxPct float64
	var maxDays int

	if len(points) > 0 {
		peakDay = points[0].day
	}

	for _, p := range points {
		equity += p.pnl
		if equity >= peak {
			peak = equity
			peakDay = p.day
			continue
		}
		if peak > 0 {
			dd := (peak - equity) / peak * 100
			if dd > maxPct {
				maxPct = dd
			}
		}
		underwater := int(p.day.Sub(peakDay).Hours() / 24)
		if underwater > maxDays {
			maxDays = underwater
		}
	}

	return maxPct, maxDays
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the sample standard deviation
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSq float64
	for _, v := range values {
		sumSq += (v - m) * (v - m)
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

func ptrInt(v int) *int {
	return &v
}
