// Package devnet drives a throwaway geth --dev chain for `bundler test`:
// start the node, fund the bundler wallet and deploy the ERC-4337 contracts.
package devnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/AvaProtocol/ethuo/pkg/logger"
)

const (
	DefaultPort    = 8545
	DefaultChainID = 1337

	defaultStartTimeout = 30 * time.Second
	readyPollInterval   = 200 * time.Millisecond
)

var ErrNoDevAccount = errors.New("node has no unlocked dev account")

type GethOptions struct {
	// Binary defaults to geth on PATH.
	Binary string
	Port   int

	// DataDir defaults to a temporary directory removed by Stop.
	DataDir string

	StartTimeout time.Duration
	Output       io.Writer
	Logger       logger.Logger
}

type Geth struct {
	cmd      *exec.Cmd
	endpoint string
	dataDir  string
	ownsDir  bool
	logger   logger.Logger
}

// StartGeth spawns geth in dev mode and waits until it answers eth_chainId.
// ctx only bounds the startup; the node runs until Stop.
func StartGeth(ctx context.Context, opts GethOptions) (*Geth, error) {
	if opts.Binary == "" {
		opts.Binary = "geth"
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = defaultStartTimeout
	}

	g := &Geth{
		endpoint: fmt.Sprintf("http://127.0.0.1:%d", opts.Port),
		dataDir:  opts.DataDir,
		logger:   logger.EnsureLogger(opts.Logger),
	}
	if g.dataDir == "" {
		dir, err := os.MkdirTemp("", "ethuo-geth-")
		if err != nil {
			return nil, fmt.Errorf("cannot create geth data dir: %w", err)
		}
		g.dataDir = dir
		g.ownsDir = true
	}

	g.cmd = exec.Command(opts.Binary, gethArgs(opts.Port, g.dataDir)...)
	if opts.Output != nil {
		g.cmd.Stdout = opts.Output
		g.cmd.Stderr = opts.Output
	}
	if err := g.cmd.Start(); err != nil {
		g.cleanup()
		return nil, fmt.Errorf("cannot start %s: %w", opts.Binary, err)
	}
	g.logger.Info("geth started", "pid", g.cmd.Process.Pid, "endpoint", g.endpoint, "datadir", g.dataDir)

	readyCtx, cancel := context.WithTimeout(ctx, opts.StartTimeout)
	defer cancel()
	if err := waitReady(readyCtx, g.endpoint); err != nil {
		g.Stop()
		return nil, fmt.Errorf("geth did not become ready: %w", err)
	}
	return g, nil
}

func gethArgs(port int, dataDir string) []string {
	return []string{
		"--dev",
		"--http",
		"--http.port", strconv.Itoa(port),
		"--http.api", "eth,net,web3,debug,personal",
		"--datadir", dataDir,
	}
}

func waitReady(ctx context.Context, endpoint string) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		client, err := ethclient.DialContext(ctx, endpoint)
		if err == nil {
			_, err = client.ChainID(ctx)
			client.Close()
			if err == nil {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

func (g *Geth) Endpoint() string { return g.endpoint }

func (g *Geth) DataDir() string { return g.dataDir }

// Stop kills the node and removes its temporary data dir.
func (g *Geth) Stop() error {
	var err error
	if g.cmd != nil && g.cmd.Process != nil {
		if killErr := g.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			err = killErr
		}
		// Wait reports the kill signal, which is expected here.
		_ = g.cmd.Wait()
	}
	g.cleanup()
	return err
}

func (g *Geth) cleanup() {
	if g.ownsDir {
		os.RemoveAll(g.dataDir)
	}
}

// Fund sends amount from the first unlocked node account and waits for it
// to be mined.
func Fund(ctx context.Context, client *rpc.Client, to common.Address, amount *big.Int) (*types.Receipt, error) {
	var accounts []common.Address
	if err := client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("eth_accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoDevAccount
	}

	var hash common.Hash
	tx := map[string]interface{}{
		"from":  accounts[0],
		"to":    to,
		"value": (*hexutil.Big)(amount),
	}
	if err := client.CallContext(ctx, &hash, "eth_sendTransaction", tx); err != nil {
		return nil, fmt.Errorf("eth_sendTransaction: %w", err)
	}

	ec := ethclient.NewClient(client)
	sent, _, err := ec.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("cannot find funding tx %s: %w", hash.Hex(), err)
	}
	receipt, err := bind.WaitMined(ctx, ec, sent)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("funding tx %s reverted", hash.Hex())
	}
	return receipt, nil
}
