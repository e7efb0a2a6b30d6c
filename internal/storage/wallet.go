package storage

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pnl-engine/internal/types"
)

// ValidateWallet validates a proxy wallet address. Polymarket proxy wallets
// are ordinary Ethereum addresses, so the standard hex-address check applies.
func ValidateWallet(wallet string) error {
	if !common.IsHexAddress(wallet) {
		return &types.ServiceError{
			Code:    "INVALID_WALLET_FORMAT",
			Message: fmt.Sprintf("invalid wallet address: %s (must be 0x followed by 40 hexadecimal characters)", wallet),
			Details: map[string]any{
				"wallet": wallet,
			},
		}
	}
	return nil
}

// NormalizeWallet lowercases a wallet address for storage and lookup.
// Every table keys wallets in lowercase; checksummed input is accepted at the
// edges and normalized here.
func NormalizeWallet(wallet string) string {
	return strings.ToLower(wallet)
}
