package builder

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ethuo/core/chainio/signer"
)

type relayHit struct {
	header string
	body   []byte
}

func newRelay(t *testing.T, status int, response string, hits *[]relayHit) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*hits = append(*hits, relayHit{header: r.Header.Get("X-Flashbots-Signature"), body: body})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signedTx(t *testing.T) *types.Transaction {
	t.Helper()
	w := testWallet(t)
	to := testEntryPoint
	tx, err := types.SignTx(
		types.NewTx(&types.DynamicFeeTx{ChainID: testChainID, Nonce: 1, Gas: 21000, GasFeeCap: big.NewInt(2), GasTipCap: big.NewInt(1), To: &to}),
		types.LatestSignerForChainID(testChainID),
		w.PrivateKey(),
	)
	require.NoError(t, err)
	return tx
}

func TestSignatureHeader(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"eth_sendBundle","params":[]}`)

	header, err := SignatureHeader(key, body)
	require.NoError(t, err)

	parts := strings.Split(header, ":")
	require.Len(t, parts, 2)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), parts[0])

	sig, err := hexutil.Decode(parts[1])
	require.NoError(t, err)
	recovered, err := signer.RecoverMessageSigner([]byte(crypto.Keccak256Hash(body).Hex()), sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), recovered)
}

func TestFlashbotsSender(t *testing.T) {
	var hits []relayHit
	relay := newRelay(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"bundleHash":"0x01"}}`, &hits)

	w := testWallet(t)
	sender, err := NewFlashbotsSender([]string{relay.URL}, w.FlashbotsKey(), newFakeBackend(), nil)
	require.NoError(t, err)

	tx := signedTx(t)
	hash, err := sender.Send(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), hash)

	require.Len(t, hits, 1)
	assert.True(t, strings.HasPrefix(hits[0].header, crypto.PubkeyToAddress(w.FlashbotsKey().PublicKey).Hex()+":"))

	var req struct {
		Method string `json:"method"`
		Params []struct {
			Txs         []hexutil.Bytes `json:"txs"`
			BlockNumber hexutil.Uint64  `json:"blockNumber"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(hits[0].body, &req))
	assert.Equal(t, "eth_sendBundle", req.Method)
	require.Len(t, req.Params, 1)
	assert.Equal(t, hexutil.Uint64(42), req.Params[0].BlockNumber)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, req.Params[0].Txs, 1)
	assert.Equal(t, hexutil.Bytes(raw), req.Params[0].Txs[0])
}

func TestFlashbotsSenderRelayFailures(t *testing.T) {
	var hits []relayHit
	bad := newRelay(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"bundle rejected"}}`, &hits)
	down := newRelay(t, http.StatusServiceUnavailable, `{}`, &hits)
	good := newRelay(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"bundleHash":"0x01"}}`, &hits)

	w := testWallet(t)

	sender, err := NewFlashbotsSender([]string{bad.URL, down.URL, good.URL}, w.FlashbotsKey(), newFakeBackend(), nil)
	require.NoError(t, err)
	_, err = sender.Send(context.Background(), signedTx(t))
	require.NoError(t, err)
	assert.Len(t, hits, 3)

	sender, err = NewFlashbotsSender([]string{bad.URL, down.URL}, w.FlashbotsKey(), newFakeBackend(), nil)
	require.NoError(t, err)
	_, err = sender.Send(context.Background(), signedTx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bundle rejected")
	assert.Contains(t, err.Error(), "503")
}

func TestFlashbotsSenderRelayReplies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"short bundle hash", `{"jsonrpc":"2.0","id":1,"result":{"bundleHash":"0x01"}}`},
		{"full bundle hash", `{"jsonrpc":"2.0","id":1,"result":{"bundleHash":"0x2f0a3c1b5d7e9f11223344556677889900aabbccddeeff00112233445566778a"}}`},
		{"string result", `{"jsonrpc":"2.0","id":1,"result":"0x1234"}`},
		{"null result", `{"jsonrpc":"2.0","id":1,"result":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits []relayHit
			relay := newRelay(t, http.StatusOK, tt.body, &hits)
			sender, err := NewFlashbotsSender([]string{relay.URL}, testWallet(t).FlashbotsKey(), newFakeBackend(), nil)
			require.NoError(t, err)

			_, err = sender.Send(context.Background(), signedTx(t))
			require.NoError(t, err)
			assert.Len(t, hits, 1)
		})
	}
}

func TestFlashbotsSenderRequiresKey(t *testing.T) {
	_, err := NewFlashbotsSender(nil, nil, newFakeBackend(), nil)
	assert.Error(t, err)
}

func TestEthClientSender(t *testing.T) {
	backend := newFakeBackend()
	tx := signedTx(t)

	hash, err := NewEthClientSender(backend).Send(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), hash)
	assert.Equal(t, []*types.Transaction{tx}, backend.sent)

	backend.sendErr = assert.AnError
	_, err = NewEthClientSender(backend).Send(context.Background(), tx)
	assert.ErrorIs(t, err, assert.AnError)
}
