package uopool

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ethuo/core/chainio/aa"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
)

func requireCode(t *testing.T, err error, code int) *ValidationError {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	assert.Equal(t, code, verr.Code)
	return verr
}

func TestNewPoolRequiresParams(t *testing.T) {
	_, err := NewPool(newFakeBackend(), nil, nil, Params{}, nil, nil)
	assert.Error(t, err)

	_, err = NewPool(newFakeBackend(), nil, nil, Params{EntryPoints: []common.Address{testEntryPoint}, MaxVerificationGas: 1}, nil, nil)
	assert.Error(t, err)
}

func TestAddAndDump(t *testing.T) {
	pool := newTestPool(t, newFakeBackend(), Unsafe)
	ctx := context.Background()

	op := validOp(0, 5)
	hash, err := pool.Add(ctx, op, testEntryPoint)
	require.NoError(t, err)
	assert.Equal(t, op.GetUserOpHash(testEntryPoint, testChainID), hash)

	dumped, err := pool.Dump(ctx, testEntryPoint)
	require.NoError(t, err)
	require.Len(t, dumped, 1)
	assert.Equal(t, op.GetUserOpHash(testEntryPoint, testChainID), dumped[0].GetUserOpHash(testEntryPoint, testChainID))

	found, err := pool.GetByHash(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, testEntryPoint, found.EntryPoint)
	assert.Nil(t, found.BlockNumber)

	_, err = pool.Dump(ctx, common.HexToAddress("0x01"))
	assert.ErrorIs(t, err, ErrUnsupportedEntryPoint)
}

func TestAddRejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(op *userop.UserOperation, b *fakeBackend)
		ep       common.Address
		code     int
		contains string
	}{
		{
			name:     "unsupported entry point",
			ep:       common.HexToAddress("0x0000000000000000000000000000000000000001"),
			code:     InvalidFields,
			contains: "entry point is not supported",
		},
		{
			name:     "missing nonce",
			mutate:   func(op *userop.UserOperation, _ *fakeBackend) { op.Nonce = nil },
			code:     InvalidFields,
			contains: "missing nonce",
		},
		{
			name:     "deployed sender with initCode",
			mutate:   func(op *userop.UserOperation, _ *fakeBackend) { op.InitCode = testFactory.Bytes() },
			code:     SimulateValidation,
			contains: "AA10",
		},
		{
			name:     "undeployed sender without initCode",
			mutate:   func(_ *userop.UserOperation, b *fakeBackend) { delete(b.code, testSender) },
			code:     SimulateValidation,
			contains: "AA20",
		},
		{
			name: "factory without code",
			mutate: func(op *userop.UserOperation, b *fakeBackend) {
				delete(b.code, testSender)
				delete(b.code, testFactory)
				op.InitCode = testFactory.Bytes()
			},
			code:     SimulateValidation,
			contains: "AA13",
		},
		{
			name:     "verification gas above max",
			mutate:   func(op *userop.UserOperation, _ *fakeBackend) { op.VerificationGasLimit = big.NewInt(1_500_001) },
			code:     InvalidFields,
			contains: "max verification gas 1500000",
		},
		{
			name:     "priority fee below min",
			mutate:   func(op *userop.UserOperation, _ *fakeBackend) { op.MaxPriorityFeePerGas = big.NewInt(0) },
			code:     InvalidFields,
			contains: "lower than minimum 1",
		},
		{
			name:     "max fee below priority fee",
			mutate:   func(op *userop.UserOperation, _ *fakeBackend) { op.MaxFeePerGas = big.NewInt(4) },
			code:     InvalidFields,
			contains: "maxFeePerGas 4 is lower than maxPriorityFeePerGas 5",
		},
		{
			name:     "pre-verification gas too low",
			mutate:   func(op *userop.UserOperation, _ *fakeBackend) { op.PreVerificationGas = big.NewInt(1) },
			code:     InvalidFields,
			contains: "Pre-verification gas 1 is lower than calculated pre-verification gas",
		},
		{
			name:     "call gas too low",
			mutate:   func(op *userop.UserOperation, _ *fakeBackend) { op.CallGasLimit = big.NewInt(100) },
			code:     InvalidFields,
			contains: "Call gas limit 100 is lower than call gas estimation 30000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			pool := newTestPool(t, backend, Unsafe)

			op := validOp(0, 5)
			if tt.mutate != nil {
				tt.mutate(op, backend)
			}
			ep := testEntryPoint
			if tt.ep != (common.Address{}) {
				ep = tt.ep
			}

			_, err := pool.Add(context.Background(), op, ep)
			verr := requireCode(t, err, tt.code)
			assert.Contains(t, verr.Message, tt.contains)

			dumped, err := pool.Dump(context.Background(), testEntryPoint)
			require.NoError(t, err)
			assert.Empty(t, dumped)
		})
	}
}

func TestUndeployedSenderGetsCallGasFloor(t *testing.T) {
	backend := newFakeBackend()
	delete(backend.code, testSender)
	pool := newTestPool(t, backend, Unsafe)

	op := validOp(0, 5)
	op.InitCode = append(testFactory.Bytes(), 0x5f, 0xbf, 0xb9, 0xcf)
	op.CallGasLimit = big.NewInt(33100)

	_, err := pool.Add(context.Background(), op, testEntryPoint)
	verr := requireCode(t, err, InvalidFields)
	assert.Equal(t, "Call gas limit 33100 is lower than call gas estimation 33164", verr.Message)

	op.CallGasLimit = big.NewInt(33164)
	_, err = pool.Add(context.Background(), op, testEntryPoint)
	require.NoError(t, err)
}

func TestReplacementRequiresHigherPriorityFee(t *testing.T) {
	pool := newTestPool(t, newFakeBackend(), Unsafe)
	ctx := context.Background()

	first, err := pool.Add(ctx, validOp(7, 5), testEntryPoint)
	require.NoError(t, err)

	_, err = pool.Add(ctx, validOp(7, 5), testEntryPoint)
	verr := requireCode(t, err, InvalidFields)
	assert.Contains(t, verr.Message, "replacement")

	second, err := pool.Add(ctx, validOp(7, 6), testEntryPoint)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	dumped, err := pool.Dump(ctx, testEntryPoint)
	require.NoError(t, err)
	require.Len(t, dumped, 1)
	assert.Equal(t, int64(6), dumped[0].MaxPriorityFeePerGas.Int64())

	found, err := pool.GetByHash(ctx, first)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestGetSortedOps(t *testing.T) {
	pool := newTestPool(t, newFakeBackend(), Unsafe)
	ctx := context.Background()

	for nonce, fee := range []int64{3, 9, 1, 9} {
		_, err := pool.Add(ctx, validOp(int64(nonce), fee), testEntryPoint)
		require.NoError(t, err)
	}

	ops, err := pool.GetSortedOps(ctx, testEntryPoint, 0)
	require.NoError(t, err)
	require.Len(t, ops, 4)

	var got [][2]int64
	for _, op := range ops {
		got = append(got, [2]int64{op.MaxPriorityFeePerGas.Int64(), op.Nonce.Int64()})
	}
	// equal fees keep arrival order
	assert.Equal(t, [][2]int64{{9, 1}, {9, 3}, {3, 0}, {1, 2}}, got)

	limited, err := pool.GetSortedOps(ctx, testEntryPoint, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRemoveAndClear(t *testing.T) {
	pool := newTestPool(t, newFakeBackend(), Unsafe)
	ctx := context.Background()

	var hashes []common.Hash
	for i := int64(0); i < 3; i++ {
		h, err := pool.Add(ctx, validOp(i, 5), testEntryPoint)
		require.NoError(t, err)
		hashes = append(hashes, h)
	}

	require.NoError(t, pool.Remove(ctx, testEntryPoint, []common.Hash{hashes[0], common.HexToHash("0xdead")}))
	dumped, err := pool.Dump(ctx, testEntryPoint)
	require.NoError(t, err)
	assert.Len(t, dumped, 2)

	// the freed (sender, nonce) slot accepts any fee again
	_, err = pool.Add(ctx, validOp(0, 1), testEntryPoint)
	require.NoError(t, err)

	require.NoError(t, pool.Clear(ctx))
	dumped, err = pool.Dump(ctx, testEntryPoint)
	require.NoError(t, err)
	assert.Empty(t, dumped)
}

func TestChainIDAndEntryPoints(t *testing.T) {
	pool := newTestPool(t, newFakeBackend(), Unsafe)

	id, err := pool.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1337), id.Int64())
	id.SetInt64(1)
	id, _ = pool.ChainID(context.Background())
	assert.Equal(t, int64(1337), id.Int64())

	eps, err := pool.SupportedEntryPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []common.Address{testEntryPoint}, eps)
}

func TestStandardModeSimulation(t *testing.T) {
	staked := aa.StakeInfo{Stake: big.NewInt(10), UnstakeDelaySec: big.NewInt(10)}
	unstaked := aa.StakeInfo{Stake: big.NewInt(0), UnstakeDelaySec: big.NewInt(0)}
	paymaster := common.HexToAddress("0x2222222222222222222222222222222222222222")

	tests := []struct {
		name      string
		revert    func(t *testing.T) []byte
		paymaster bool
		whitelist bool
		code      int
		contains  string
	}{
		{
			name:   "valid",
			revert: func(t *testing.T) []byte { return validationResult(t, false, 0, unstaked) },
		},
		{
			name: "failed op surfaces reason",
			revert: func(t *testing.T) []byte {
				return packError(t, "FailedOp", big.NewInt(0), "AA40 over verificationGasLimit")
			},
			code:     SimulateValidation,
			contains: "AA40 over verificationGasLimit",
		},
		{
			name: "paymaster failure",
			revert: func(t *testing.T) []byte {
				return packError(t, "FailedOp", big.NewInt(0), "AA31 paymaster deposit too low")
			},
			code:     SimulatePaymasterValid,
			contains: "AA31",
		},
		{
			name:     "signature failure",
			revert:   func(t *testing.T) []byte { return validationResult(t, true, 0, unstaked) },
			code:     InvalidSignature,
			contains: "signature",
		},
		{
			name:     "expires shortly",
			revert:   func(t *testing.T) []byte { return validationResult(t, false, 1_700_000_010, unstaked) },
			code:     ExpiresShortly,
			contains: "expires",
		},
		{
			name:      "unstaked paymaster",
			revert:    func(t *testing.T) []byte { return validationResult(t, false, 0, unstaked) },
			paymaster: true,
			code:      StakeTooLow,
			contains:  "lower than min stake",
		},
		{
			name:      "whitelisted paymaster",
			revert:    func(t *testing.T) []byte { return validationResult(t, false, 0, unstaked) },
			paymaster: true,
			whitelist: true,
		},
		{
			name:      "staked paymaster",
			revert:    func(t *testing.T) []byte { return validationResult(t, false, 0, staked) },
			paymaster: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			backend.setRevert("simulateValidation", tt.revert(t))
			pool := newTestPool(t, backend, Standard)
			if tt.whitelist {
				pool.params.Whitelist = []common.Address{paymaster}
			}

			op := validOp(0, 5)
			if tt.paymaster {
				op.PaymasterAndData = paymaster.Bytes()
			}

			_, err := pool.Add(context.Background(), op, testEntryPoint)
			if tt.code == 0 {
				require.NoError(t, err)
				return
			}
			verr := requireCode(t, err, tt.code)
			assert.Contains(t, verr.Message, tt.contains)
		})
	}
}

func TestUnsafeModeSkipsSimulation(t *testing.T) {
	backend := newFakeBackend()
	pool := newTestPool(t, backend, Unsafe)

	_, err := pool.Add(context.Background(), validOp(0, 5), testEntryPoint)
	require.NoError(t, err)
	assert.Zero(t, backend.calls)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": Standard, "standard": Standard, "Unsafe": Unsafe, "UNSAFE": Unsafe} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("reckless")
	assert.Error(t, err)
}
