package metrics

import (
	"context"
	"math/big"
	"time"

	"github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/prometheus/client_golang/prometheus"
)

// BalanceReader reads the native balance and the EntryPoint deposit of an account.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	DepositOf(ctx context.Context, account common.Address) (*big.Int, error)
}

// WalletCollector reports the bundler signer balances on every scrape.
type WalletCollector struct {
	reader  BalanceReader
	account common.Address
	logger  logging.Logger
	timeout time.Duration

	balance *prometheus.GaugeVec
}

func NewWalletCollector(reader BalanceReader, account common.Address, logger logging.Logger) prometheus.Collector {
	return &WalletCollector{
		reader:  reader,
		account: account,
		logger:  logger,
		timeout: 5 * time.Second,

		balance: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ethuoNamespace,
				Subsystem: "wallet",
				Name:      "balance_eth",
				Help:      "Bundler signer balance in ETH, kind is native or deposit",
			},
			[]string{"kind"},
		),
	}
}

func (c *WalletCollector) Describe(ch chan<- *prometheus.Desc) {
	c.balance.Describe(ch)
}

func (c *WalletCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if native, err := c.reader.BalanceAt(ctx, c.account, nil); err != nil {
		c.logger.Debug("cannot read bundler balance", "account", c.account.Hex(), "error", err)
	} else {
		c.balance.WithLabelValues("native").Set(weiToEth(native))
	}

	if deposit, err := c.reader.DepositOf(ctx, c.account); err != nil {
		c.logger.Debug("cannot read bundler deposit", "account", c.account.Hex(), "error", err)
	} else {
		c.balance.WithLabelValues("deposit").Set(weiToEth(deposit))
	}

	c.balance.Collect(ch)
}

func weiToEth(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.Ether)).Float64()
	return f
}
