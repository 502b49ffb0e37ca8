package bundler

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
)

var testEntryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

type rpcHandler func(req Request) (interface{}, *RPCError)

// fakeBundler records every request and answers through handle
type fakeBundler struct {
	mu       sync.Mutex
	requests []Request
	handle   rpcHandler
}

func (f *fakeBundler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	result, rpcErr := f.handle(req)
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, handle rpcHandler) (*BundlerClient, *fakeBundler) {
	t.Helper()
	fake := &fakeBundler{handle: handle}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := NewBundlerClient(srv.URL)
	require.NoError(t, err)
	return client, fake
}

func testOp() *userop.UserOperation {
	return &userop.UserOperation{
		Sender:               common.HexToAddress("0x01"),
		Nonce:                big.NewInt(0),
		InitCode:             []byte{},
		CallData:             []byte{},
		CallGasLimit:         big.NewInt(1),
		VerificationGasLimit: big.NewInt(1_000_000),
		PreVerificationGas:   big.NewInt(1),
		MaxFeePerGas:         big.NewInt(1),
		MaxPriorityFeePerGas: big.NewInt(1),
		PaymasterAndData:     []byte{},
		Signature:            userop.DummySignature,
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		message string
		check   func(t *testing.T, err error)
	}{
		{
			name:    "call gas limit",
			message: "Call gas limit 1 is lower than call gas estimation 35000",
			check: func(t *testing.T, err error) {
				var target *CallGasLimitError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, int64(1), target.Limit.Int64())
				assert.Equal(t, int64(35000), target.Estimation.Int64())
			},
		},
		{
			name:    "pre verification gas",
			message: "Pre-verification gas 1 is lower than calculated pre-verification gas 48000",
			check: func(t *testing.T, err error) {
				var target *PreVerificationGasError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, int64(1), target.Actual.Int64())
				assert.Equal(t, int64(48000), target.Calculated.Int64())
			},
		},
		{
			name:    "verification gas limit",
			message: "Invalid UserOperation: AA40 over verificationGasLimit",
			check: func(t *testing.T, err error) {
				var target *VerificationGasLimitError
				assert.True(t, errors.As(err, &target))
			},
		},
		{
			name:    "unknown",
			message: "AA21 didn't pay prefund",
			check: func(t *testing.T, err error) {
				var target *UnknownError
				require.True(t, errors.As(err, &target))
				assert.Equal(t, -32500, target.Code)
				assert.Equal(t, "AA21 didn't pay prefund", target.Message)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(req Request) (interface{}, *RPCError) {
				return nil, &RPCError{Code: -32500, Message: tt.message}
			})
			_, err := client.SendUserOperation(context.Background(), testOp(), testEntryPoint)
			require.Error(t, err)
			tt.check(t, err)

			_, tracked := client.Tracked(common.Hash{})
			assert.False(t, tracked)
		})
	}
}

func TestFormattedMessagesRoundTrip(t *testing.T) {
	err := classify(&RPCError{Message: FormatCallGasLimit(big.NewInt(10), big.NewInt(20))})
	var cgl *CallGasLimitError
	require.True(t, errors.As(err, &cgl))
	assert.Equal(t, int64(20), cgl.Estimation.Int64())

	err = classify(&RPCError{Message: FormatPreVerificationGas(big.NewInt(10), big.NewInt(30))})
	var pvg *PreVerificationGasError
	require.True(t, errors.As(err, &pvg))
	assert.Equal(t, int64(30), pvg.Calculated.Int64())
}

func TestEstimateUserOperationGas(t *testing.T) {
	client, fake := newTestClient(t, func(req Request) (interface{}, *RPCError) {
		return map[string]string{
			"preVerificationGas":   "0xbb80",
			"verificationGasLimit": "0x11170",
			"callGasLimit":         "0x88b8",
		}, nil
	})

	est, err := client.EstimateUserOperationGas(context.Background(), testOp(), testEntryPoint)
	require.NoError(t, err)
	assert.Equal(t, int64(48000), est.PreVerificationGas.Int64())
	assert.Equal(t, int64(70000), est.VerificationGasLimit.Int64())
	assert.Equal(t, int64(35000), est.CallGasLimit.Int64())
	assert.Equal(t, int64(153000), est.Total().Int64())

	_, err = client.EstimateUserOperationGas(context.Background(), testOp(), testEntryPoint)
	require.NoError(t, err)

	require.Len(t, fake.requests, 2)
	first := fake.requests[0]
	assert.Equal(t, "2.0", first.JSONRPC)
	assert.Equal(t, "eth_estimateUserOperationGas", first.Method)
	assert.Len(t, first.Params, 2)
	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, uint64(2), fake.requests[1].ID)
}

func TestSendUserOperationTracksHash(t *testing.T) {
	op := testOp()
	hash := op.GetUserOpHash(testEntryPoint, big.NewInt(1))
	client, _ := newTestClient(t, func(req Request) (interface{}, *RPCError) {
		return hash.Hex(), nil
	})

	got, err := client.SendUserOperation(context.Background(), op, testEntryPoint)
	require.NoError(t, err)
	assert.Equal(t, hash, got)

	tracked, ok := client.Tracked(hash)
	require.True(t, ok)
	assert.Equal(t, op.Sender, tracked.Sender)
}

func TestNullResults(t *testing.T) {
	client, _ := newTestClient(t, func(req Request) (interface{}, *RPCError) {
		return nil, nil
	})

	receipt, err := client.GetUserOperationReceipt(context.Background(), common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Nil(t, receipt)

	found, err := client.GetUserOperationByHash(context.Background(), common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestChainIDAndEntryPoints(t *testing.T) {
	client, _ := newTestClient(t, func(req Request) (interface{}, *RPCError) {
		switch req.Method {
		case "eth_chainId":
			return "0x539", nil
		case "eth_supportedEntryPoints":
			return []string{testEntryPoint.Hex()}, nil
		}
		return nil, &RPCError{Code: -32601, Message: "method not found"}
	})

	id, err := client.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1337), id.Int64())

	eps, err := client.SupportedEntryPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []common.Address{testEntryPoint}, eps)

	_, err = client.SendBundleNow(context.Background())
	var unknown *UnknownError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, -32601, unknown.Code)
}

func TestTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewBundlerClient(srv.URL)
	require.NoError(t, err)
	_, err = client.ChainID(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	_, err = NewBundlerClient("ws://localhost:3000")
	assert.Error(t, err)
}

func TestNonceManager(t *testing.T) {
	sender := common.HexToAddress("0x01")
	onChain := big.NewInt(3)
	nm := NewNonceManager(func(ctx context.Context, addr common.Address) (*big.Int, error) {
		return new(big.Int).Set(onChain), nil
	}, nil)
	ctx := context.Background()

	n, err := nm.GetNextNonce(ctx, sender)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n.Int64())

	nm.IncrementNonce(sender, n)
	n, err = nm.GetNextNonce(ctx, sender)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n.Int64())

	onChain = big.NewInt(9)
	n, err = nm.GetNextNonce(ctx, sender)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n.Int64())

	// cached nonce ahead of the chain after a dropped operation
	nm.IncrementNonce(sender, n)
	onChain = big.NewInt(9)
	n, err = nm.GetNextNonce(ctx, sender)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n.Int64())

	nm.ResetNonce(sender)
	n, err = nm.GetNextNonce(ctx, sender)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n.Int64())
}
