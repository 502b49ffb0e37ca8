package preset

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ethuo/core/chainio/aa"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
	"github.com/AvaProtocol/ethuo/pkg/logger"
)

var ErrScwAddressNotSet = errors.New("smart contract wallet address is not set")

// Stage is how far a Builder has progressed towards a submitted UserOperation.
type Stage int

const (
	StagePartial Stage = iota
	StageReady
	StageSigned
	StageSubmitted
)

func (s Stage) String() string {
	switch s {
	case StagePartial:
		return "partial"
	case StageReady:
		return "ready"
	case StageSigned:
		return "signed"
	case StageSubmitted:
		return "submitted"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Builder assembles one UserOperation for one owner and wallet family.
// It is owned by a single action and never shared between goroutines.
type Builder struct {
	walletName     string
	wallet         aa.Wallet
	factory        aa.Factory
	factoryAddress common.Address

	owner   common.Address
	caller  bind.ContractCaller
	chainID *big.Int
	salt    *big.Int

	scwAddress *common.Address
	uo         *userop.Partial
	uoHash     *common.Hash

	logger logger.Logger
}

// NewBuilder resolves walletName through the wallet registry. A nil salt uses aa.DefaultSalt.
func NewBuilder(
	owner common.Address,
	walletName string,
	scwAddress *common.Address,
	caller bind.ContractCaller,
	chainID *big.Int,
	salt *big.Int,
	lgr logger.Logger,
) (*Builder, error) {
	wallet, factory, factoryAddress, err := aa.Resolve(walletName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, walletName)
	}
	if salt == nil {
		salt = aa.DefaultSalt
	}

	b := &Builder{
		walletName:     walletName,
		wallet:         wallet,
		factory:        factory,
		factoryAddress: factoryAddress,
		owner:          owner,
		caller:         caller,
		chainID:        new(big.Int).Set(chainID),
		salt:           new(big.Int).Set(salt),
		uo:             new(userop.Partial),
		logger:         logger.EnsureLogger(lgr),
	}
	if scwAddress != nil {
		addr := *scwAddress
		b.scwAddress = &addr
	}
	return b, nil
}

// SetScwAddress derives the counterfactual wallet address from the factory.
// Once known the address is cached and later calls do not touch the chain.
func (b *Builder) SetScwAddress(ctx context.Context) (common.Address, error) {
	if b.scwAddress != nil {
		b.logger.Warn("smart contract wallet address already set", "scw", b.scwAddress.Hex())
		return *b.scwAddress, nil
	}

	addr, err := b.factory.CounterfactualAddress(ctx, b.caller, b.factoryAddress, b.owner, b.salt)
	if err != nil {
		return common.Address{}, err
	}
	b.scwAddress = &addr
	return addr, nil
}

func (b *Builder) ScwAddress() (common.Address, error) {
	if b.scwAddress == nil {
		return common.Address{}, ErrScwAddressNotSet
	}
	return *b.scwAddress, nil
}

// InitCode is factory address || createAccount(owner, salt).
func (b *Builder) InitCode() ([]byte, error) {
	return b.factory.InitCode(b.factoryAddress, b.owner, b.salt)
}

func (b *Builder) SetSender(v common.Address) *Builder {
	b.uo.WithSender(v)
	return b
}

func (b *Builder) SetNonce(v *big.Int) *Builder {
	if b.uo.Nonce != nil && v != nil && b.uo.Nonce.Cmp(v) != 0 {
		b.logger.Warn("overwriting user operation nonce", "old", b.uo.Nonce.String(), "new", v.String())
	}
	b.uo.WithNonce(v)
	return b
}

func (b *Builder) SetInitCode(v []byte) *Builder {
	b.uo.WithInitCode(v)
	return b
}

func (b *Builder) SetCallData(v []byte) *Builder {
	b.uo.WithCallData(v)
	return b
}

func (b *Builder) SetCallGasLimit(v *big.Int) *Builder {
	b.uo.WithCallGasLimit(v)
	return b
}

func (b *Builder) SetVerificationGasLimit(v *big.Int) *Builder {
	b.uo.WithVerificationGasLimit(v)
	return b
}

func (b *Builder) SetPreVerificationGas(v *big.Int) *Builder {
	b.uo.WithPreVerificationGas(v)
	return b
}

func (b *Builder) SetMaxFeePerGas(v *big.Int) *Builder {
	b.uo.WithMaxFeePerGas(v)
	return b
}

func (b *Builder) SetMaxPriorityFeePerGas(v *big.Int) *Builder {
	b.uo.WithMaxPriorityFeePerGas(v)
	return b
}

func (b *Builder) SetPaymasterAndData(v []byte) *Builder {
	b.uo.WithPaymasterAndData(v)
	return b
}

func (b *Builder) SetSignature(v []byte) *Builder {
	b.uo.WithSignature(v)
	return b
}

// Build returns the complete operation or a *userop.MissingFieldError.
func (b *Builder) Build() (*userop.UserOperation, error) {
	return b.uo.Build()
}

func (b *Builder) SetUoHash(h common.Hash) *Builder {
	b.uoHash = &h
	return b
}

// UoHash is the hash the bundler returned, if the operation was submitted.
func (b *Builder) UoHash() (common.Hash, bool) {
	if b.uoHash == nil {
		return common.Hash{}, false
	}
	return *b.uoHash, true
}

func (b *Builder) Stage() Stage {
	switch {
	case b.uoHash != nil:
		return StageSubmitted
	case b.uo.Missing() != "":
		return StagePartial
	case len(b.uo.Signature) > 0:
		return StageSigned
	}
	return StageReady
}

// Partial returns a copy of the operation under construction.
func (b *Builder) Partial() *userop.Partial { return b.uo.Clone() }

func (b *Builder) Owner() common.Address          { return b.owner }
func (b *Builder) WalletName() string             { return b.walletName }
func (b *Builder) Wallet() aa.Wallet              { return b.wallet }
func (b *Builder) FactoryAddress() common.Address { return b.factoryAddress }
func (b *Builder) ChainID() *big.Int              { return new(big.Int).Set(b.chainID) }
func (b *Builder) Salt() *big.Int                 { return new(big.Int).Set(b.salt) }

// Clone copies the builder, including the partial operation. The clone shares
// the contract caller and logger.
func (b *Builder) Clone() *Builder {
	c := *b
	c.chainID = new(big.Int).Set(b.chainID)
	c.salt = new(big.Int).Set(b.salt)
	c.uo = b.uo.Clone()
	if b.scwAddress != nil {
		addr := *b.scwAddress
		c.scwAddress = &addr
	}
	if b.uoHash != nil {
		h := *b.uoHash
		c.uoHash = &h
	}
	return &c
}
