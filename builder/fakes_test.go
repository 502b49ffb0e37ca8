package builder

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ethuo/core/chainio/signer"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
)

var (
	testEntryPoint  = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	testBeneficiary = common.HexToAddress("0x4444444444444444444444444444444444444444")
	testChainID     = big.NewInt(1337)
)

func testWallet(t *testing.T) *signer.Wallet {
	t.Helper()
	w, err := signer.FromPhrase(signer.TestMnemonic, testChainID, true)
	require.NoError(t, err)
	return w
}

func testOp(nonce int64) *userop.UserOperation {
	return &userop.UserOperation{
		Sender:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:                big.NewInt(nonce),
		InitCode:             []byte{},
		CallData:             []byte{0x01},
		CallGasLimit:         big.NewInt(40000),
		VerificationGasLimit: big.NewInt(100000),
		PreVerificationGas:   big.NewInt(50000),
		MaxFeePerGas:         big.NewInt(3_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(2_000_000_000),
		PaymasterAndData:     []byte{},
		Signature:            make([]byte, 65),
	}
}

// fakePool is an in-memory Mempool.
type fakePool struct {
	mu      sync.Mutex
	ops     []*userop.UserOperation
	removed []common.Hash
}

func (p *fakePool) Add(_ context.Context, op *userop.UserOperation, ep common.Address) (common.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, op)
	return op.GetUserOpHash(ep, testChainID), nil
}

func (p *fakePool) Estimate(context.Context, *userop.UserOperation, common.Address) (*bundler.GasEstimation, error) {
	return nil, errors.New("not implemented")
}

func (p *fakePool) GetSortedOps(_ context.Context, _ common.Address, max int) ([]*userop.UserOperation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if max > 0 && len(p.ops) > max {
		return append([]*userop.UserOperation(nil), p.ops[:max]...), nil
	}
	return append([]*userop.UserOperation(nil), p.ops...), nil
}

func (p *fakePool) Remove(_ context.Context, ep common.Address, hashes []common.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, hashes...)

	drop := map[common.Hash]bool{}
	for _, h := range hashes {
		drop[h] = true
	}
	kept := p.ops[:0]
	for _, op := range p.ops {
		if !drop[op.GetUserOpHash(ep, testChainID)] {
			kept = append(kept, op)
		}
	}
	p.ops = kept
	return nil
}

func (p *fakePool) GetByHash(context.Context, common.Hash) (*bundler.UserOperationByHash, error) {
	return nil, nil
}

func (p *fakePool) GetReceipt(context.Context, common.Hash) (*bundler.UserOperationReceipt, error) {
	return nil, nil
}

func (p *fakePool) Clear(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = nil
	return nil
}

func (p *fakePool) Dump(context.Context, common.Address) ([]*userop.UserOperation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*userop.UserOperation(nil), p.ops...), nil
}

func (p *fakePool) ChainID(context.Context) (*big.Int, error) { return testChainID, nil }

func (p *fakePool) SupportedEntryPoints(context.Context) ([]common.Address, error) {
	return []common.Address{testEntryPoint}, nil
}

type revertErr struct{ data string }

func (e revertErr) Error() string          { return "execution reverted" }
func (e revertErr) ErrorData() interface{} { return e.data }

// fakeBackend records sent transactions and mines them on demand.
type fakeBackend struct {
	mu sync.Mutex

	balance     *big.Int
	nonce       uint64
	gas         uint64
	estimateErr error
	sendErr     error
	head        uint64

	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		balance:  big.NewInt(1e18),
		nonce:    7,
		gas:      100000,
		head:     41,
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (f *fakeBackend) mine(hash common.Hash, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = &types.Receipt{Status: status, TxHash: hash, BlockNumber: big.NewInt(int64(f.head + 1))}
}

func (f *fakeBackend) lastSent() *types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errors.New("unexpected call")
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: new(big.Int).SetUint64(f.head), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeBackend) PendingCodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return f.CodeAt(ctx, addr, nil)
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(3_000_000_000), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.gas, f.estimateErr
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeBackend) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("not supported")
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}
