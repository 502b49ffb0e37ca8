package preset

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AvaProtocol/ethuo/core/chainio/aa"
	"github.com/AvaProtocol/ethuo/core/chainio/signer"
	"github.com/AvaProtocol/ethuo/pkg/eip1559"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
	"github.com/AvaProtocol/ethuo/pkg/logger"
)

var (
	ErrWalletAlreadyDeployed = errors.New("smart contract wallet is already deployed")
	ErrWalletNotDeployed     = errors.New("smart contract wallet is not deployed")
	ErrContractCreation      = errors.New("contract creation cannot be wrapped in a user operation")
	ErrUnsupportedTxType     = errors.New("unsupported transaction type")
)

// EthBackend is the execution client surface used by the middleware.
// *ethclient.Client satisfies it.
type EthBackend interface {
	signer.Backend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// UserOpMiddleware drives whole UserOperation actions: it owns the execution
// client, the bundler client and the signing wallet.
type UserOpMiddleware struct {
	backend    EthBackend
	bundler    Bundler
	entryPoint common.Address
	chainID    *big.Int
	wallet     *signer.Wallet
	nonces     *bundler.NonceManager
	logger     logger.Logger

	mu      sync.RWMutex
	wallets map[common.Address]aa.Wallet
}

func NewUserOpMiddleware(backend EthBackend, client Bundler, entryPoint common.Address, wallet *signer.Wallet, lgr logger.Logger) *UserOpMiddleware {
	lgr = logger.EnsureLogger(lgr)
	m := &UserOpMiddleware{
		backend:    backend,
		bundler:    client,
		entryPoint: entryPoint,
		chainID:    wallet.ChainID(),
		wallet:     wallet,
		logger:     lgr,
		wallets:    make(map[common.Address]aa.Wallet),
	}
	m.nonces = bundler.NewNonceManager(func(ctx context.Context, sender common.Address) (*big.Int, error) {
		return aa.GetNonce(ctx, backend, entryPoint, sender, nil)
	}, lgr)
	return m
}

func (m *UserOpMiddleware) EntryPoint() common.Address { return m.entryPoint }
func (m *UserOpMiddleware) ChainID() *big.Int          { return new(big.Int).Set(m.chainID) }
func (m *UserOpMiddleware) Signer() *signer.Wallet     { return m.wallet }

// WalletAt returns the wallet capability registered for a deployed scw.
func (m *UserOpMiddleware) WalletAt(scw common.Address) (aa.Wallet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[scw]
	return w, ok
}

func (m *UserOpMiddleware) registerWallet(scw common.Address, w aa.Wallet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[scw] = w
}

func (m *UserOpMiddleware) newBuilder(walletName string, scw *common.Address, salt *big.Int) (*Builder, error) {
	return NewBuilder(m.wallet.Address(), walletName, scw, m.backend, m.chainID, salt, m.logger)
}

func (m *UserOpMiddleware) isDeployed(ctx context.Context, addr common.Address) (bool, error) {
	code, err := m.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("failed to get code at %s: %w", addr.Hex(), err)
	}
	return len(code) > 0, nil
}

func (m *UserOpMiddleware) send(ctx context.Context, b *Builder) (common.Hash, error) {
	maxFee, prio, err := eip1559.SuggestFee(ctx, m.backend)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to suggest fees: %w", err)
	}
	return sendWithRetry(ctx, b, m.bundler, m.wallet, m.entryPoint, maxFee, prio, m.logger)
}

// CounterfactualAddress returns the address of walletName for the signer and salt.
func (m *UserOpMiddleware) CounterfactualAddress(ctx context.Context, walletName string, salt *big.Int) (common.Address, error) {
	b, err := m.newBuilder(walletName, nil, salt)
	if err != nil {
		return common.Address{}, err
	}
	return b.SetScwAddress(ctx)
}

// BuildRandomAddress picks a random 64 bit salt and returns the wallet address it yields.
func (m *UserOpMiddleware) BuildRandomAddress(ctx context.Context, walletName string) (common.Address, *big.Int, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return common.Address{}, nil, err
	}
	salt := new(big.Int).SetUint64(binary.BigEndian.Uint64(buf[:]))

	addr, err := m.CounterfactualAddress(ctx, walletName, salt)
	if err != nil {
		return common.Address{}, nil, err
	}
	return addr, salt, nil
}

// DeployScw deploys the signer's walletName wallet for salt through a
// UserOperation carrying initCode. preFund, when positive, is sent to the
// counterfactual address first so the wallet can pay for its own deployment.
func (m *UserOpMiddleware) DeployScw(ctx context.Context, walletName string, preFund, salt *big.Int) (common.Hash, common.Address, error) {
	b, err := m.newBuilder(walletName, nil, salt)
	if err != nil {
		return common.Hash{}, common.Address{}, err
	}

	scw, err := b.SetScwAddress(ctx)
	if err != nil {
		return common.Hash{}, common.Address{}, err
	}

	deployed, err := m.isDeployed(ctx, scw)
	if err != nil {
		return common.Hash{}, scw, err
	}
	if deployed {
		return common.Hash{}, scw, fmt.Errorf("%w: %s", ErrWalletAlreadyDeployed, scw.Hex())
	}

	if preFund != nil && preFund.Sign() > 0 {
		m.logger.Info("pre-funding smart contract wallet", "scw", scw.Hex(), "amount", preFund.String())
		if _, err := m.wallet.Transfer(ctx, m.backend, scw, preFund); err != nil {
			return common.Hash{}, scw, fmt.Errorf("failed to pre-fund %s: %w", scw.Hex(), err)
		}
	}

	initCode, err := b.InitCode()
	if err != nil {
		return common.Hash{}, scw, err
	}
	callData, err := b.Wallet().ExecuteCalldata(common.Address{}, big.NewInt(0), nil)
	if err != nil {
		return common.Hash{}, scw, err
	}

	b.SetSender(scw).
		SetNonce(big.NewInt(0)).
		SetInitCode(initCode).
		SetCallData(callData).
		SetPaymasterAndData([]byte{})

	hash, err := m.send(ctx, b)
	if err != nil {
		return common.Hash{}, scw, err
	}

	m.registerWallet(scw, b.Wallet())
	return hash, scw, nil
}

// execute wraps a call from scw to `to` into a UserOperation and submits it.
func (m *UserOpMiddleware) execute(ctx context.Context, walletName string, scw, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	b, err := m.newBuilder(walletName, &scw, nil)
	if err != nil {
		return common.Hash{}, err
	}

	deployed, err := m.isDeployed(ctx, scw)
	if err != nil {
		return common.Hash{}, err
	}
	if !deployed {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrWalletNotDeployed, scw.Hex())
	}

	nonce, err := m.nonces.GetNextNonce(ctx, scw)
	if err != nil {
		return common.Hash{}, err
	}
	callData, err := b.Wallet().ExecuteCalldata(to, value, data)
	if err != nil {
		return common.Hash{}, err
	}

	b.SetSender(scw).
		SetNonce(nonce).
		SetInitCode([]byte{}).
		SetCallData(callData).
		SetPaymasterAndData([]byte{})

	hash, err := m.send(ctx, b)
	if isNonceConflict(err) {
		// an earlier operation was dropped and the cached nonce ran ahead of the chain
		m.nonces.ResetNonce(scw)
		fresh, ferr := m.nonces.GetNextNonce(ctx, scw)
		if ferr != nil {
			return common.Hash{}, ferr
		}
		m.logger.Info("nonce conflict, resending with on-chain nonce", "sender", scw.Hex(), "stale", nonce.String(), "nonce", fresh.String())
		nonce = fresh
		b.SetNonce(nonce)
		hash, err = m.send(ctx, b)
	}
	if err != nil {
		return common.Hash{}, err
	}

	m.nonces.IncrementNonce(scw, nonce)
	m.registerWallet(scw, b.Wallet())
	return hash, nil
}

// isNonceConflict reports whether the bundler refused the operation's nonce (AA25).
func isNonceConflict(err error) bool {
	var unknown *bundler.UnknownError
	return errors.As(err, &unknown) && strings.Contains(unknown.Message, "AA25")
}

// SendEth moves amount wei from scw to `to`.
func (m *UserOpMiddleware) SendEth(ctx context.Context, scw common.Address, walletName string, to common.Address, amount *big.Int) (common.Hash, error) {
	return m.execute(ctx, walletName, scw, to, amount, nil)
}

// unwrapTx extracts (to, value, data) from a legacy, access list or dynamic fee transaction.
func unwrapTx(tx *types.Transaction) (common.Address, *big.Int, []byte, error) {
	switch tx.Type() {
	case types.LegacyTxType, types.AccessListTxType, types.DynamicFeeTxType:
	default:
		return common.Address{}, nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedTxType, tx.Type())
	}
	if tx.To() == nil {
		return common.Address{}, nil, nil, ErrContractCreation
	}
	return *tx.To(), tx.Value(), tx.Data(), nil
}

// Call executes tx from scw as a UserOperation. Only to, value and data of tx are used.
func (m *UserOpMiddleware) Call(ctx context.Context, walletName string, scw common.Address, tx *types.Transaction) (common.Hash, error) {
	to, value, data, err := unwrapTx(tx)
	if err != nil {
		return common.Hash{}, err
	}
	return m.execute(ctx, walletName, scw, to, value, data)
}

// EstimateTransactionGas returns the total gas a bundler would charge to run tx from scw.
func (m *UserOpMiddleware) EstimateTransactionGas(ctx context.Context, walletName string, scw common.Address, tx *types.Transaction) (*big.Int, error) {
	to, value, data, err := unwrapTx(tx)
	if err != nil {
		return nil, err
	}

	b, err := m.newBuilder(walletName, &scw, nil)
	if err != nil {
		return nil, err
	}
	deployed, err := m.isDeployed(ctx, scw)
	if err != nil {
		return nil, err
	}
	if !deployed {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotDeployed, scw.Hex())
	}

	nonce, err := aa.GetNonce(ctx, m.backend, m.entryPoint, scw, nil)
	if err != nil {
		return nil, err
	}
	callData, err := b.Wallet().ExecuteCalldata(to, value, data)
	if err != nil {
		return nil, err
	}
	maxFee, prio, err := eip1559.SuggestFee(ctx, m.backend)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest fees: %w", err)
	}

	op, err := b.SetSender(scw).
		SetNonce(nonce).
		SetInitCode([]byte{}).
		SetCallData(callData).
		SetCallGasLimit(placeholderCallGasLimit).
		SetVerificationGasLimit(placeholderVerificationGasLimit).
		SetPreVerificationGas(placeholderPreVerificationGas).
		SetMaxFeePerGas(maxFee).
		SetMaxPriorityFeePerGas(prio).
		SetPaymasterAndData([]byte{}).
		SetSignature(userop.DummySignature).
		Build()
	if err != nil {
		return nil, err
	}

	estimate, err := m.bundler.EstimateUserOperationGas(ctx, op, m.entryPoint)
	if err != nil {
		return nil, err
	}
	return estimate.Total(), nil
}

// Deposit adds amount to the EntryPoint deposit of scw, paid by the signer.
func (m *UserOpMiddleware) Deposit(ctx context.Context, scw common.Address, amount *big.Int) (*types.Receipt, error) {
	opts, err := m.wallet.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	opts.Value = amount

	contract := bind.NewBoundContract(m.entryPoint, aa.EntryPointABI, m.backend, m.backend, m.backend)
	tx, err := contract.Transact(opts, "depositTo", scw)
	if err != nil {
		return nil, fmt.Errorf("failed to send depositTo: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, m.backend, tx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("depositTo reverted: %s", tx.Hash().Hex())
	}
	return receipt, nil
}

// DepositOf returns the EntryPoint deposit of account.
func (m *UserOpMiddleware) DepositOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return aa.BalanceOf(ctx, m.backend, m.entryPoint, account)
}
