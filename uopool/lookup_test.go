package uopool

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ethuo/core/chainio/aa"
	"github.com/AvaProtocol/ethuo/core/testutil"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
)

// minedBundle puts op into a handleOps transaction and the matching
// UserOperationEvent into backend.
func minedBundle(t *testing.T, backend *fakeBackend, op *userop.UserOperation) common.Hash {
	t.Helper()

	hash := op.GetUserOpHash(testEntryPoint, testChainID)
	data, err := aa.HandleOpsCalldata([]*userop.UserOperation{op}, testSender)
	require.NoError(t, err)
	to := testEntryPoint
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, To: &to, Gas: 1_000_000, GasPrice: big.NewInt(1), Data: data})

	eventData, err := aa.EntryPointABI.Events["UserOperationEvent"].Inputs.NonIndexed().Pack(op.Nonce, true, big.NewInt(21000), big.NewInt(70000))
	require.NoError(t, err)

	blockHash := common.HexToHash("0xb10c")
	transfer := &types.Log{
		Address:     common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Topics:      []common.Hash{common.HexToHash("0x01")},
		Data:        []byte{},
		BlockNumber: 90,
		TxHash:      tx.Hash(),
		BlockHash:   blockHash,
		Index:       4,
	}
	event := types.Log{
		Address:     testEntryPoint,
		Topics:      []common.Hash{aa.UserOperationEventTopic, hash, common.BytesToHash(op.Sender.Bytes()), {}},
		Data:        eventData,
		BlockNumber: 90,
		TxHash:      tx.Hash(),
		BlockHash:   blockHash,
		Index:       5,
	}
	after := &types.Log{
		Address:     testEntryPoint,
		Topics:      []common.Hash{common.HexToHash("0x02")},
		Data:        []byte{},
		BlockNumber: 90,
		TxHash:      tx.Hash(),
		BlockHash:   blockHash,
		Index:       6,
	}

	backend.logs = append(backend.logs, event)
	backend.txs[tx.Hash()] = tx
	backend.receipts[tx.Hash()] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockHash:   blockHash,
		BlockNumber: big.NewInt(90),
		GasUsed:     90000,
		Logs:        []*types.Log{transfer, &event, after},
	}
	return hash
}

func TestGetReceipt(t *testing.T) {
	backend := newFakeBackend()
	pool := newTestPool(t, backend, Unsafe)
	ctx := context.Background()

	op := validOp(4, 5)
	hash := op.GetUserOpHash(testEntryPoint, testChainID)

	receipt, err := pool.GetReceipt(ctx, hash)
	require.NoError(t, err)
	assert.Nil(t, receipt, "pending operations have no receipt")

	minedBundle(t, backend, op)
	receipt, err = pool.GetReceipt(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, receipt)

	assert.Equal(t, hash, receipt.UserOpHash)
	assert.Equal(t, testEntryPoint, receipt.EntryPoint)
	assert.Equal(t, testSender, receipt.Sender)
	assert.Equal(t, int64(4), receipt.Nonce.ToInt().Int64())
	assert.Equal(t, int64(21000), receipt.ActualGasCost.ToInt().Int64())
	assert.True(t, receipt.Success)
	require.Len(t, receipt.Logs, 1)
	assert.Equal(t, uint(4), receipt.Logs[0].Index)

	q := backend.queries[len(backend.queries)-1]
	assert.Equal(t, int64(0), q.FromBlock.Int64())
	assert.Equal(t, []common.Address{testEntryPoint}, q.Addresses)
}

func TestGetReceiptLookbackWindow(t *testing.T) {
	backend := newFakeBackend()
	backend.head = 50_000
	pool := newTestPool(t, backend, Unsafe)

	_, err := pool.GetReceipt(context.Background(), common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Equal(t, int64(50_000-DefaultReceiptLookback), backend.queries[0].FromBlock.Int64())
}

func TestGetReceiptIsCached(t *testing.T) {
	backend := newFakeBackend()
	pool := newTestPool(t, backend, Unsafe)

	pool.cache = testutil.GetDefaultCache(t)

	op := validOp(1, 5)
	hash := minedBundle(t, backend, op)

	first, err := pool.GetReceipt(context.Background(), hash)
	require.NoError(t, err)
	require.NotNil(t, first)
	queries := len(backend.queries)

	second, err := pool.GetReceipt(context.Background(), hash)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, queries, len(backend.queries), "second lookup must come from the cache")
	assert.Equal(t, first.UserOpHash, second.UserOpHash)
	assert.Equal(t, first.Receipt.TxHash, second.Receipt.TxHash)

	require.NoError(t, pool.Clear(context.Background()))
	_, err = pool.GetReceipt(context.Background(), hash)
	require.NoError(t, err)
	assert.Greater(t, len(backend.queries), queries)
}

func TestGetByHashOnChain(t *testing.T) {
	backend := newFakeBackend()
	pool := newTestPool(t, backend, Unsafe)

	op := validOp(2, 5)
	hash := minedBundle(t, backend, op)

	found, err := pool.GetByHash(context.Background(), hash)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, testEntryPoint, found.EntryPoint)
	assert.Equal(t, int64(90), found.BlockNumber.ToInt().Int64())
	assert.Equal(t, common.HexToHash("0xb10c"), found.BlockHash)
	assert.Equal(t, hash, found.UserOperation.GetUserOpHash(testEntryPoint, testChainID))

	missing, err := pool.GetByHash(context.Background(), common.HexToHash("0xabc"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}
