package config

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ethuo/builder"
	"github.com/AvaProtocol/ethuo/core/chainio/signer"
	"github.com/AvaProtocol/ethuo/jsonrpc"
	"github.com/AvaProtocol/ethuo/pkg/logger"
	"github.com/AvaProtocol/ethuo/supervisor"
	"github.com/AvaProtocol/ethuo/uopool"
)

func (c *BundlerJSONConfig) EntryPoint() common.Address {
	return common.HexToAddress(c.EntryPointAddress)
}

// BundlerWallet opens the keystore named by WALLET_PATH, or derives the
// wallet from bundler_seed when it is unset.
func (c *BundlerJSONConfig) BundlerWallet(chainID *big.Int) (*signer.Wallet, error) {
	withFlashbots := c.Bundler.SendBundleMode == string(builder.Flashbots)
	if path, ok := WalletPath(); ok {
		return signer.FromKeystore(path, WalletPassword(), chainID, withFlashbots)
	}
	if c.Bundler.BundlerSeed == "" {
		return nil, errors.New("neither WALLET_PATH nor bundler_seed is set")
	}
	return signer.FromPhrase(c.Bundler.BundlerSeed, chainID, withFlashbots)
}

// HTTPEndpoint is the façade URL that wallet commands talk to.
func (c *BundlerJSONConfig) HTTPEndpoint() string {
	return "http://" + hostPort(c.RPC.HTTPAddr, c.RPC.HTTPPort, jsonrpc.DefaultHTTPAddr)
}

func (c *BundlerJSONConfig) SupervisorParams(wallet *signer.Wallet, lgr logger.Logger) (supervisor.Params, error) {
	sendMode, err := builder.ParseSendMode(c.Bundler.SendBundleMode)
	if err != nil {
		return supervisor.Params{}, err
	}
	poolMode, err := uopool.ParseMode(c.UoPool.UoPoolMode)
	if err != nil {
		return supervisor.Params{}, err
	}

	entryPoint := c.EntryPoint()
	beneficiary := wallet.Address()
	if c.Bundler.BeneficiaryAddress != "" {
		beneficiary = common.HexToAddress(c.Bundler.BeneficiaryAddress)
	}
	dataDir := c.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	return supervisor.Params{
		EthClient:      c.EthClient,
		Wallet:         wallet,
		DataDir:        dataDir,
		BackupInterval: time.Duration(c.BackupInterval) * time.Second,
		SocketPath:     c.SocketPath,
		UoPoolAddr:     hostPort(c.UoPool.UoPoolAddress, c.UoPool.UoPoolPort, supervisor.DefaultUoPoolAddr),
		Pool: uopool.Params{
			EntryPoints:          []common.Address{entryPoint},
			MaxVerificationGas:   c.UoPool.MaxVerificationGas,
			MinStake:             new(big.Int).SetUint64(c.UoPool.MinStake),
			MinUnstakeDelay:      c.UoPool.MinUnstakeDelay,
			MinPriorityFeePerGas: new(big.Int).SetUint64(c.UoPool.MinPriorityFeePerGas),
			Whitelist:            convertToAddressSlice(c.UoPool.Whitelist),
			Mode:                 poolMode,
		},
		BuilderAddr: hostPort(c.Bundler.BundlerAddress, c.Bundler.BundlerPort, supervisor.DefaultBuilderAddr),
		Builder: builder.Params{
			EntryPoint:     entryPoint,
			Beneficiary:    beneficiary,
			MinBalance:     new(big.Int).SetUint64(c.Bundler.MinBalance),
			BundleInterval: time.Duration(c.Bundler.BundleInterval) * time.Second,
			SendMode:       sendMode,
			Relays:         c.Bundler.Relays,
		},
		RPC: jsonrpc.Params{
			HTTP:     c.RPC.HTTP,
			HTTPAddr: hostPort(c.RPC.HTTPAddr, c.RPC.HTTPPort, jsonrpc.DefaultHTTPAddr),
			WS:       c.RPC.WS,
			WSAddr:   hostPort(c.RPC.WSAddr, c.RPC.WSPort, jsonrpc.DefaultWSAddr),
		},
		Logger: lgr,
	}, nil
}
