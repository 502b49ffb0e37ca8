package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
)

const transferGas = 21000

var ErrTransferReverted = errors.New("transfer reverted")

// Backend is the execution client surface a Wallet needs to send and wait for transactions.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Wallet is an externally owned key bound to a chain. An optional second key
// signs Flashbots relay requests.
type Wallet struct {
	key          *ecdsa.PrivateKey
	flashbotsKey *ecdsa.PrivateKey
	address      common.Address
	chainID      *big.Int
}

func NewWallet(key *ecdsa.PrivateKey, chainID *big.Int) *Wallet {
	return &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
	}
}

// FromPhrase derives the wallet from the first account of a BIP-39 phrase.
// The Flashbots key is the second account of the same phrase.
func FromPhrase(phrase string, chainID *big.Int, withFlashbots bool) (*Wallet, error) {
	key, err := DeriveKey(phrase, 0)
	if err != nil {
		return nil, err
	}

	w := NewWallet(key, chainID)
	if withFlashbots {
		if w.flashbotsKey, err = DeriveKey(phrase, 1); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// FromKeystore decrypts a geth v3 keystore file. A keystore carries a single
// key, so the Flashbots key is random.
func FromKeystore(path, password string, chainID *big.Int, withFlashbots bool) (*Wallet, error) {
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore %s: %w", path, err)
	}

	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore %s: %w", path, err)
	}

	w := NewWallet(key.PrivateKey, chainID)
	if withFlashbots {
		if w.flashbotsKey, err = crypto.GenerateKey(); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *Wallet) Address() common.Address { return w.address }

func (w *Wallet) ChainID() *big.Int { return new(big.Int).Set(w.chainID) }

func (w *Wallet) PrivateKey() *ecdsa.PrivateKey { return w.key }

// FlashbotsKey is nil unless the wallet was created with a Flashbots key.
func (w *Wallet) FlashbotsKey() *ecdsa.PrivateKey { return w.flashbotsKey }

// SignUserOp returns a copy of op carrying the owner's personal_sign signature
// over its hash. SimpleAccount validates toEthSignedMessageHash(userOpHash).
func (w *Wallet) SignUserOp(op *userop.UserOperation, entryPoint common.Address) (*userop.UserOperation, error) {
	signed := op.Clone()
	signed.Signature = []byte{}

	hash := signed.GetUserOpHash(entryPoint, w.chainID)
	sig, err := SignMessage(w.key, hash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign user operation: %w", err)
	}
	signed.Signature = sig
	return signed, nil
}

func (w *Wallet) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, w.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

// Transfer sends amount wei to `to` and waits for it to be mined.
func (w *Wallet) Transfer(ctx context.Context, backend Backend, to common.Address, amount *big.Int) (*types.Receipt, error) {
	opts, err := w.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	opts.Value = amount

	code, err := backend.PendingCodeAt(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get code at %s: %w", to.Hex(), err)
	}
	if len(code) == 0 {
		opts.GasLimit = transferGas
	}

	tx, err := bind.NewBoundContract(to, abi.ABI{}, backend, backend, backend).Transfer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to send transfer: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transfer %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrTransferReverted, tx.Hash().Hex())
	}
	return receipt, nil
}
