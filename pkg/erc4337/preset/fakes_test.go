package preset

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/ethuo/core/chainio/aa"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
)

// fakeBackend answers the handful of execution client calls the middleware makes.
type fakeBackend struct {
	mu          sync.Mutex
	deployed    map[common.Address]bool
	allDeployed bool
	nonce       *big.Int
	factoryHits int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{deployed: map[common.Address]bool{}, nonce: big.NewInt(0)}
}

func (f *fakeBackend) CodeAt(ctx context.Context, addr common.Address, block *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allDeployed || f.deployed[addr] {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case bytes.HasPrefix(call.Data, aa.SimpleAccountFactoryABI.Methods["getAddress"].ID):
		f.factoryHits++
		digest := crypto.Keccak256(call.To.Bytes(), call.Data)
		return common.LeftPadBytes(digest[12:], 32), nil
	case bytes.HasPrefix(call.Data, aa.EntryPointABI.Methods["getNonce"].ID):
		return common.LeftPadBytes(f.nonce.Bytes(), 32), nil
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeBackend) PendingCodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return f.CodeAt(ctx, addr, nil)
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(3_000_000_000), nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return errors.New("transactions are not supported by the fake backend")
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions are not supported by the fake backend")
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

// scriptedBundler returns a fixed estimate and pops one error per send until
// the script is exhausted, after which sends succeed.
type scriptedBundler struct {
	estimate  *bundler.GasEstimation
	script    []error
	estimates []*userop.UserOperation
	sent      []*userop.UserOperation
}

func (s *scriptedBundler) EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation, ep common.Address) (*bundler.GasEstimation, error) {
	s.estimates = append(s.estimates, op.Clone())
	return &bundler.GasEstimation{
		PreVerificationGas:   new(big.Int).Set(s.estimate.PreVerificationGas),
		VerificationGasLimit: new(big.Int).Set(s.estimate.VerificationGasLimit),
		CallGasLimit:         new(big.Int).Set(s.estimate.CallGasLimit),
	}, nil
}

func (s *scriptedBundler) SendUserOperation(ctx context.Context, op *userop.UserOperation, ep common.Address) (common.Hash, error) {
	s.sent = append(s.sent, op.Clone())
	if len(s.script) > 0 {
		err := s.script[0]
		s.script = s.script[1:]
		return common.Hash{}, err
	}
	return op.GetUserOpHash(ep, big.NewInt(1337)), nil
}

func (s *scriptedBundler) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*bundler.UserOperationReceipt, error) {
	return nil, nil
}
