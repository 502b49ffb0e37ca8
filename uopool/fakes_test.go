package uopool

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ethuo/core/chainio/aa"
	"github.com/AvaProtocol/ethuo/core/testutil"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
)

var (
	testEntryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	testFactory    = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	testSender     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testChainID    = big.NewInt(1337)
)

type revertErr struct{ data string }

func (e revertErr) Error() string          { return "execution reverted" }
func (e revertErr) ErrorData() interface{} { return e.data }

// fakeBackend answers the pool's execution client calls from fixed data.
type fakeBackend struct {
	mu sync.Mutex

	code        map[common.Address][]byte
	callGas     uint64
	estimateErr error

	// revert payloads keyed by the 4 byte selector of the eth_call
	reverts map[string][]byte
	calls   int

	head     uint64
	logs     []types.Log
	txs      map[common.Hash]*types.Transaction
	receipts map[common.Hash]*types.Receipt
	queries  []ethereum.FilterQuery
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		code: map[common.Address][]byte{
			testSender:  {0x60, 0x80},
			testFactory: {0x60, 0x80},
		},
		callGas:  30000,
		reverts:  map[string][]byte{},
		head:     100,
		txs:      map[common.Hash]*types.Transaction{},
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (f *fakeBackend) CodeAt(_ context.Context, addr common.Address, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code[addr], nil
}

func (f *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if revert, ok := f.reverts[string(call.Data[:4])]; ok {
		return nil, revertErr{data: hexutil.Encode(revert)}
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeBackend) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	return f.callGas, f.estimateErr
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)

	var out []types.Log
	for _, log := range f.logs {
		if len(q.Topics) > 1 && len(q.Topics[1]) > 0 && log.Topics[1] != q.Topics[1][0] {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (f *fakeBackend) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	tx, ok := f.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) BlockNumber(_ context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeBackend) setRevert(method string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverts[string(aa.EntryPointABI.Methods[method].ID)] = payload
}

func packError(t *testing.T, name string, args ...interface{}) []byte {
	t.Helper()
	abiErr := aa.EntryPointABI.Errors[name]
	packed, err := abiErr.Inputs.Pack(args...)
	require.NoError(t, err)
	return append(bytes.Clone(abiErr.ID[:4]), packed...)
}

func validationResult(t *testing.T, sigFailed bool, validUntil int64, paymaster aa.StakeInfo) []byte {
	zero := aa.StakeInfo{Stake: big.NewInt(0), UnstakeDelaySec: big.NewInt(0)}
	return packError(t, "ValidationResult",
		aa.ReturnInfo{
			PreOpGas:         big.NewInt(50000),
			Prefund:          big.NewInt(0),
			SigFailed:        sigFailed,
			ValidAfter:       big.NewInt(0),
			ValidUntil:       big.NewInt(validUntil),
			PaymasterContext: []byte{},
		},
		zero, zero, paymaster,
	)
}

func newTestPool(t *testing.T, backend *fakeBackend, mode Mode) *Pool {
	t.Helper()

	pool, err := NewPool(backend, testutil.TestMustDB(t), nil, Params{
		EntryPoints:          []common.Address{testEntryPoint},
		ChainID:              testChainID,
		MaxVerificationGas:   1_500_000,
		MinStake:             big.NewInt(1),
		MinUnstakeDelay:      1,
		MinPriorityFeePerGas: big.NewInt(1),
		Mode:                 mode,
	}, nil, nil)
	require.NoError(t, err)
	clock := time.Unix(1_700_000_000, 0)
	pool.now = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}
	return pool
}

// validOp passes every Unsafe mode check against newFakeBackend.
func validOp(nonce int64, priority int64) *userop.UserOperation {
	return &userop.UserOperation{
		Sender:               testSender,
		Nonce:                big.NewInt(nonce),
		InitCode:             []byte{},
		CallData:             []byte{0xb6, 0x1d, 0x27, 0xf6},
		CallGasLimit:         big.NewInt(40000),
		VerificationGasLimit: big.NewInt(100000),
		PreVerificationGas:   big.NewInt(60000),
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(priority),
		PaymasterAndData:     []byte{},
		Signature:            bytes.Repeat([]byte{0x01}, 65),
	}
}
