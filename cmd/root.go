package cmd

import (
	"fmt"
	"math/big"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ethuo/core/config"
	"github.com/AvaProtocol/ethuo/pkg/logger"
)

var (
	configPath string
	rpcURL     string

	rootCmd = &cobra.Command{
		Use:   "ethuo",
		Short: "ERC-4337 user operation toolkit",
		Long: `ethuo manages smart contract wallets through ERC-4337 user operations
and runs an embedded bundler.

Such as "ethuo wallet new-key" or "ethuo bundler run"
`,
		SilenceUsage: true,
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to config file, .json or .yaml")
	rootCmd.PersistentFlags().StringVar(&rpcURL, "rpc", "", "Execution client URL, overridden by HTTP_RPC")
}

// ethClientURL prefers HTTP_RPC, then --rpc, then eth_client from the config.
func ethClientURL(cfg *config.Config) string {
	if v := os.Getenv(config.EnvHTTPRPC); v != "" {
		return v
	}
	if rpcURL != "" {
		return rpcURL
	}
	return cfg.Bundler.EthClient
}

func newLogger(cfg *config.Config) (logger.Logger, error) {
	env := cfg.Bundler.Environment
	if env == "" {
		env = "development"
	}
	return logger.FromEnv(env)
}

// parseEther turns a decimal ETH amount into wei.
func parseEther(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: must not be negative", amount)
	}
	wei := d.Shift(18)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("invalid amount %q: more than 18 decimals", amount)
	}
	return wei.BigInt(), nil
}

func formatEther(wei *big.Int) string {
	return decimal.NewFromBigInt(wei, -18).String()
}
