package cmd

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ethuo/builder"
	"github.com/AvaProtocol/ethuo/core/chainio/signer"
	"github.com/AvaProtocol/ethuo/core/config"
	"github.com/AvaProtocol/ethuo/devnet"
	"github.com/AvaProtocol/ethuo/jsonrpc"
	"github.com/AvaProtocol/ethuo/pkg/logger"
	"github.com/AvaProtocol/ethuo/supervisor"
	"github.com/AvaProtocol/ethuo/uopool"
)

const (
	testMaxVerificationGas = 1_500_000
	testBundleInterval     = 10
)

var (
	testFunding = new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))

	bundlerCmd = &cobra.Command{
		Use:     "bundler",
		Aliases: []string{"b"},
		Short:   "Bundler management utilities",
	}

	runBundlerCmd = &cobra.Command{
		Use:     "run",
		Aliases: []string{"r"},
		Short:   "Run the bundler with the config file",
		Long: `Run mempool, bundle builder and JSON-RPC server until SIGINT or SIGTERM.

The bundler key comes from the keystore at $HOME/$WALLET_PATH, unlocked with
WALLET_PASSWORD, or from bundler_seed when WALLET_PATH is unset.

Default listen addresses:
  JSON-RPC HTTP   127.0.0.1:3000
  JSON-RPC WS     127.0.0.1:3001
  bundle builder  127.0.0.1:3002 (gRPC)
  mempool         127.0.0.1:3003 (gRPC, moved off 3001 which the WS server uses)`,
		RunE: runBundler,
	}

	testBundlerCmd = &cobra.Command{
		Use:     "test",
		Aliases: []string{"t"},
		Short:   "Run the bundler on a local geth dev chain",
		Long: `Start geth --dev, fund the bundler wallet, deploy EntryPoint and
SimpleAccountFactory from compiled artifacts and run the bundler against them.`,
		RunE: runBundlerTest,
	}
)

func init() {
	testBundlerCmd.Flags().String("artifacts", os.Getenv("ETHUO_DEVNET_ARTIFACTS"), "Directory of hardhat or foundry artifacts")
	testBundlerCmd.Flags().String("geth", "geth", "geth binary")
	testBundlerCmd.Flags().Int("port", devnet.DefaultPort, "geth HTTP port")

	bundlerCmd.AddCommand(runBundlerCmd, testBundlerCmd)
	rootCmd.AddCommand(bundlerCmd)
}

func chainIDOf(ctx context.Context, url string) (*big.Int, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to execution client %s: %w", url, err)
	}
	defer client.Close()
	return client.ChainID(ctx)
}

func runBundler(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	lgr, err := newLogger(cfg)
	if err != nil {
		return err
	}

	url := ethClientURL(cfg)
	chainID, err := chainIDOf(ctx, url)
	if err != nil {
		return err
	}
	wallet, err := cfg.Bundler.BundlerWallet(chainID)
	if err != nil {
		return err
	}

	params, err := cfg.Bundler.SupervisorParams(wallet, lgr)
	if err != nil {
		return err
	}
	params.EthClient = url
	return supervisor.Run(ctx, params)
}

// testWallet is the WALLET_PATH keystore when set, the test mnemonic otherwise.
func testWallet(chainID *big.Int, lgr logger.Logger) (*signer.Wallet, error) {
	if path, ok := config.WalletPath(); ok {
		return signer.FromKeystore(path, config.WalletPassword(), chainID, false)
	}
	lgr.Warn("WALLET_PATH is not set, using the test mnemonic")
	return signer.FromPhrase(signer.TestMnemonic, chainID, false)
}

func runBundlerTest(cmd *cobra.Command, args []string) error {
	artifacts, _ := cmd.Flags().GetString("artifacts")
	gethBinary, _ := cmd.Flags().GetString("geth")
	port, _ := cmd.Flags().GetInt("port")
	if artifacts == "" {
		return fmt.Errorf("--artifacts or ETHUO_DEVNET_ARTIFACTS is required")
	}

	lgr, err := logger.FromEnv("development")
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	geth, err := devnet.StartGeth(ctx, devnet.GethOptions{
		Binary: gethBinary,
		Port:   port,
		Logger: logger.Component(lgr, "geth"),
	})
	if err != nil {
		return err
	}
	defer geth.Stop()

	rpcClient, err := rpc.DialContext(ctx, geth.Endpoint())
	if err != nil {
		return err
	}
	defer rpcClient.Close()
	client := ethclient.NewClient(rpcClient)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return err
	}
	wallet, err := testWallet(chainID, lgr)
	if err != nil {
		return err
	}

	if _, err := devnet.Fund(ctx, rpcClient, wallet.Address(), testFunding); err != nil {
		return fmt.Errorf("cannot fund %s: %w", wallet.Address().Hex(), err)
	}
	opts, err := wallet.TransactOpts(ctx)
	if err != nil {
		return err
	}
	stack, err := devnet.DeployStack(ctx, client, opts, artifacts)
	if err != nil {
		return err
	}
	lgr.Info("devnet contracts deployed",
		"entry_point", stack.EntryPoint.Hex(),
		"simple_account_factory", stack.Factory.Hex(),
		"weth", stack.WETH.Hex())

	return supervisor.Run(ctx, testParams(geth.Endpoint(), wallet, stack.EntryPoint, lgr))
}

func testParams(endpoint string, wallet *signer.Wallet, entryPoint common.Address, lgr logger.Logger) supervisor.Params {
	return supervisor.Params{
		EthClient: endpoint,
		Wallet:    wallet,
		Pool: uopool.Params{
			EntryPoints:          []common.Address{entryPoint},
			MaxVerificationGas:   testMaxVerificationGas,
			MinStake:             big.NewInt(1),
			MinPriorityFeePerGas: big.NewInt(0),
			Mode:                 uopool.Standard,
		},
		Builder: builder.Params{
			EntryPoint:     entryPoint,
			Beneficiary:    wallet.Address(),
			MinBalance:     big.NewInt(1),
			BundleInterval: testBundleInterval * time.Second,
			SendMode:       builder.EthClient,
		},
		RPC: jsonrpc.Params{
			HTTP:     true,
			HTTPAddr: jsonrpc.DefaultHTTPAddr,
		},
		Logger: lgr,
	}
}
