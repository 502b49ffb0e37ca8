package uopool

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Mode selects how much validation Add performs before admitting an operation.
type Mode string

const (
	// Standard runs simulateValidation against the entry point.
	Standard Mode = "Standard"
	// Unsafe skips simulation. Only meant for devnets.
	Unsafe Mode = "Unsafe"
)

// ParseMode accepts the config spelling in any case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "standard":
		return Standard, nil
	case "unsafe":
		return Unsafe, nil
	}
	return "", fmt.Errorf("unknown uopool mode %q", s)
}

const DefaultReceiptLookback = 10_000

type Params struct {
	EntryPoints          []common.Address
	ChainID              *big.Int
	MaxVerificationGas   uint64
	MinStake             *big.Int
	MinUnstakeDelay      uint64
	MinPriorityFeePerGas *big.Int

	// Whitelist holds paymasters exempt from the stake requirement.
	Whitelist []common.Address
	Mode      Mode

	// ReceiptLookback bounds how many blocks GetReceipt and GetByHash scan.
	ReceiptLookback uint64
}

func (p *Params) withDefaults() Params {
	out := *p
	if out.MinStake == nil {
		out.MinStake = new(big.Int)
	}
	if out.MinPriorityFeePerGas == nil {
		out.MinPriorityFeePerGas = new(big.Int)
	}
	if out.Mode == "" {
		out.Mode = Standard
	}
	if out.ReceiptLookback == 0 {
		out.ReceiptLookback = DefaultReceiptLookback
	}
	return out
}

func (p *Params) validate() error {
	if len(p.EntryPoints) == 0 {
		return fmt.Errorf("at least one entry point is required")
	}
	if p.ChainID == nil || p.ChainID.Sign() <= 0 {
		return fmt.Errorf("chain id is required")
	}
	if p.MaxVerificationGas == 0 {
		return fmt.Errorf("max verification gas must be positive")
	}
	return nil
}
