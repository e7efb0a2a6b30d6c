package aggregator

import (
	"context"
	"time"

	apperrors "github.com/pnl-engine/internal/errors"
	"github.com/pnl-engine/internal/fifo"
	"github.com/pnl-engine/internal/logging"
	"github.com/pnl-engine/internal/metrics"
	"github.com/pnl-engine/internal/models"
	"github.com/pnl-engine/internal/refdata"
	"github.com/pnl-engine/internal/types"
)

// oversoldPosition records one position excluded for a data-integrity error,
// with enough context to attribute it to the right metrics cells.
type oversoldPosition struct {
	key       models.PositionKey
	category  string
	firstSeen time.Time
}

// UnitResult is the output of processing one wallet: the full lot set and
// the full metrics cell set, both stamped with the run's match version.
type UnitResult struct {
	Wallet   string
	Lots     []*models.Lot
	Rows     []*models.WalletMetricsRow
	Oversold int
}

// unitProcessor turns one wallet's fill stream into lots and metrics rows.
// It is pure given its loaded reference data, so workers share one instance.
type unitProcessor struct {
	fills        fillSource
	catalog      *refdata.Catalog
	prices       *refdata.PriceBook
	matchVersion int64
	now          time.Time
}

type fillSource interface {
	GetWalletFills(ctx context.Context, wallet string) ([]*models.Fill, error)
}

// process matches every position of the wallet and computes its metrics
// cells. An oversold position is excluded and counted; any other matching
// error fails the whole unit.
func (p *unitProcessor) process(ctx context.Context, wallet string) (*UnitResult, error) {
	log := logging.FromContext(ctx).WithField("wallet", wallet)

	fills, err := p.fills.GetWalletFills(ctx, wallet)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load wallet fills", err)
	}

	result := &UnitResult{Wallet: wallet}
	var positions []*positionCell
	var oversold []oversoldPosition

	for key, posFills := range fifo.GroupByPosition(fills) {
		resolved, payout := p.catalog.Resolution(key.ConditionID, key.Outcome)
		res := fifo.Resolution{Resolved: resolved, PayoutPerUnit: payout}

		pos, lots, err := fifo.MatchFills(key, posFills, res, p.matchVersion)
		if err != nil {
			if apperrors.IsDataIntegrity(err) {
				log.WithError(err).Warn("excluding oversold position")
				oversold = append(oversold, oversoldPosition{
					key:       key,
					category:  p.catalog.Category(key.ConditionID),
					firstSeen: earliestFill(posFills),
				})
				continue
			}
			return nil, err
		}

		result.Lots = append(result.Lots, lots...)
		positions = append(positions, &positionCell{
			result:   &metrics.PositionResult{Position: pos, Lots: lots},
			category: p.catalog.Category(key.ConditionID),
		})
	}

	result.Oversold = len(oversold)
	result.Rows = p.computeCells(wallet, positions, oversold)
	return result, nil
}

// positionCell pairs a matched position with its category label
type positionCell struct {
	result   *metrics.PositionResult
	category string
}

// computeCells computes the full (window × category) grid for a wallet. The
// lifetime/all cell always exists; other cells exist only when the wallet
// has positions (or exclusions) inside them.
func (p *unitProcessor) computeCells(wallet string, positions []*positionCell, oversold []oversoldPosition) []*models.WalletMetricsRow {
	categories := []string{types.CategoryAll}
	seen := map[string]bool{types.CategoryAll: true}
	for _, pc := range positions {
		if !seen[pc.category] {
			seen[pc.category] = true
			categories = append(categories, pc.category)
		}
	}
	for _, o := range oversold {
		if !seen[o.category] {
			seen[o.category] = true
			categories = append(categories, o.category)
		}
	}

	var rows []*models.WalletMetricsRow
	for _, window := range types.AllWindows {
		cutoff, bounded := window.CutoffFrom(p.now)
		for _, category := range categories {
			var cellPositions []*metrics.PositionResult
			for _, pc := range positions {
				if category != types.CategoryAll && pc.category != category {
					continue
				}
				if bounded && pc.result.Position.FirstEntry.Before(cutoff) {
					continue
				}
				cellPositions = append(cellPositions, pc.result)
			}

			var cellOversold int
			for _, o := range oversold {
				if category != types.CategoryAll && o.category != category {
					continue
				}
				if bounded && o.firstSeen.Before(cutoff) {
					continue
				}
				cellOversold++
			}

			isBaseCell := window == types.WindowLifetime && category == types.CategoryAll
			if len(cellPositions) == 0 && cellOversold == 0 && !isBaseCell {
				continue
			}

			rows = append(rows, metrics.Compute(&metrics.Input{
				Wallet:       wallet,
				Window:       window,
				Category:     category,
				Positions:    cellPositions,
				Prices:       p.prices,
				Oversold:     cellOversold,
				MatchVersion: p.matchVersion,
				Now:          p.now,
			}))
		}
	}

	return rows
}

func earliestFill(fills []*models.Fill) time.Time {
	var earliest time.Time
	for _, f := range fills {
		if earliest.IsZero() || f.Timestamp.Before(earliest) {
			earliest = f.Timestamp
		}
	}
	return earliest
}
