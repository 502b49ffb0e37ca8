package builder

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SendMode selects how a signed bundle transaction reaches the chain.
type SendMode string

const (
	EthClient SendMode = "EthClient"
	Flashbots SendMode = "Flashbots"
)

func ParseSendMode(s string) (SendMode, error) {
	switch strings.ToLower(s) {
	case "", "ethclient":
		return EthClient, nil
	case "flashbots":
		return Flashbots, nil
	}
	return "", fmt.Errorf("unknown send bundle mode %q", s)
}

// BundlingMode is switched at runtime through debug_bundler_setBundlingMode.
type BundlingMode string

const (
	Auto   BundlingMode = "auto"
	Manual BundlingMode = "manual"
)

func ParseBundlingMode(s string) (BundlingMode, error) {
	switch BundlingMode(strings.ToLower(s)) {
	case Auto:
		return Auto, nil
	case Manual:
		return Manual, nil
	}
	return "", fmt.Errorf("unknown bundling mode %q, expected auto or manual", s)
}

const (
	DefaultRelay          = "https://relay.flashbots.net"
	DefaultBundleInterval = 5 * time.Second
	DefaultMaxBundleSize  = 10
	DefaultConfirmTimeout = 2 * time.Minute
)

type Params struct {
	EntryPoint  common.Address
	ChainID     *big.Int
	Beneficiary common.Address

	// MinBalance below which fees are paid back to the bundler wallet.
	MinBalance *big.Int

	BundleInterval time.Duration
	MaxBundleSize  int
	SendMode       SendMode
	Relays         []string
	BundlingMode   BundlingMode
	ConfirmTimeout time.Duration
}

func (p *Params) withDefaults() Params {
	out := *p
	if out.MinBalance == nil {
		out.MinBalance = new(big.Int)
	}
	if out.BundleInterval <= 0 {
		out.BundleInterval = DefaultBundleInterval
	}
	if out.MaxBundleSize <= 0 {
		out.MaxBundleSize = DefaultMaxBundleSize
	}
	if out.SendMode == "" {
		out.SendMode = EthClient
	}
	if out.SendMode == Flashbots && len(out.Relays) == 0 {
		out.Relays = []string{DefaultRelay}
	}
	if out.BundlingMode == "" {
		out.BundlingMode = Auto
	}
	if out.ConfirmTimeout <= 0 {
		out.ConfirmTimeout = DefaultConfirmTimeout
	}
	return out
}
