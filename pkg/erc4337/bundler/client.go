// Provide primitive to work with a bundler RPC
// Bundler RPC is stateless; the client only remembers what it sent.
package bundler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
	"github.com/AvaProtocol/ethuo/pkg/logger"
)

const defaultTimeout = 30 * time.Second

var errMissingResult = errors.New("missing result in JSON-RPC response")

// BundlerClient defines a client for interacting with an EIP-4337 bundler RPC endpoint.
type BundlerClient struct {
	url    string
	http   *http.Client
	logger logger.Logger
	nextID atomic.Uint64

	mu      sync.RWMutex
	tracked map[common.Hash]*userop.UserOperation
}

type Option func(*BundlerClient)

func WithLogger(l logger.Logger) Option {
	return func(bc *BundlerClient) { bc.logger = logger.EnsureLogger(l) }
}

func WithHTTPClient(c *http.Client) Option {
	return func(bc *BundlerClient) { bc.http = c }
}

// NewBundlerClient creates a new BundlerClient that talks JSON-RPC over HTTP to rawURL.
func NewBundlerClient(rawURL string, opts ...Option) (*BundlerClient, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("Error creating bundler client: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("Error creating bundler client: unsupported scheme %q", u.Scheme)
	}

	bc := &BundlerClient{
		url:     rawURL,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger.NewNoOpLogger(),
		tracked: make(map[common.Hash]*userop.UserOperation),
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc, nil
}

func (bc *BundlerClient) URL() string {
	return bc.url
}

// call performs one JSON-RPC round trip. The body is read once; a JSON-RPC
// error is classified into a typed bundler error.
func (bc *BundlerClient) call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	id := bc.nextID.Add(1)

	reqBody, err := json.Marshal(Request{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to marshal JSON-RPC request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, bc.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	bc.logger.Debug("bundler request", "method", method, "id", id)

	resp, err := bc.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var envelope Response
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), string(respBody))
		}
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}

	if envelope.Error != nil {
		bc.logger.Debug("bundler rejected request", "method", method, "id", id, "code", envelope.Error.Code, "message", envelope.Error.Message)
		return classify(envelope.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), string(respBody))
	}
	if len(envelope.Result) == 0 {
		return errMissingResult
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// EstimateUserOperationGas estimates the gas required for a UserOperation.
// https://eips.ethereum.org/EIPS/eip-4337#rpc-methods-eth-namespace
// The signature field is ignored by the wallet but must be well formed, use userop.DummySignature.
func (bc *BundlerClient) EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation, entrypoint common.Address) (*GasEstimation, error) {
	var estimation GasEstimation
	if err := bc.call(ctx, &estimation, "eth_estimateUserOperationGas", op, entrypoint); err != nil {
		return nil, err
	}
	return &estimation, nil
}

// SendUserOperation sends a UserOperation to the bundler and remembers it by hash.
func (bc *BundlerClient) SendUserOperation(ctx context.Context, op *userop.UserOperation, entrypoint common.Address) (common.Hash, error) {
	var hash common.Hash
	if err := bc.call(ctx, &hash, "eth_sendUserOperation", op, entrypoint); err != nil {
		return common.Hash{}, err
	}

	bc.mu.Lock()
	bc.tracked[hash] = op.Clone()
	bc.mu.Unlock()

	return hash, nil
}

// Tracked returns an operation previously accepted through this client.
func (bc *BundlerClient) Tracked(hash common.Hash) (*userop.UserOperation, bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	op, ok := bc.tracked[hash]
	if !ok {
		return nil, false
	}
	return op.Clone(), true
}

// GetUserOperationReceipt returns nil without error while the operation is pending.
func (bc *BundlerClient) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*UserOperationReceipt, error) {
	var receipt *UserOperationReceipt
	if err := bc.call(ctx, &receipt, "eth_getUserOperationReceipt", hash); err != nil {
		return nil, err
	}
	return receipt, nil
}

// GetUserOperationByHash returns nil without error when the bundler does not know the hash.
func (bc *BundlerClient) GetUserOperationByHash(ctx context.Context, hash common.Hash) (*UserOperationByHash, error) {
	var found *UserOperationByHash
	if err := bc.call(ctx, &found, "eth_getUserOperationByHash", hash); err != nil {
		return nil, err
	}
	return found, nil
}

func (bc *BundlerClient) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var eps []common.Address
	if err := bc.call(ctx, &eps, "eth_supportedEntryPoints"); err != nil {
		return nil, err
	}
	return eps, nil
}

func (bc *BundlerClient) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := bc.call(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return id.ToInt(), nil
}

// SendBundleNow asks a bundler running in debug mode to bundle immediately.
func (bc *BundlerClient) SendBundleNow(ctx context.Context) (common.Hash, error) {
	var hash common.Hash
	if err := bc.call(ctx, &hash, "debug_bundler_sendBundleNow"); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (bc *BundlerClient) DumpMempool(ctx context.Context, entrypoint common.Address) ([]*userop.UserOperation, error) {
	var ops []*userop.UserOperation
	if err := bc.call(ctx, &ops, "debug_bundler_dumpMempool", entrypoint); err != nil {
		return nil, err
	}
	return ops, nil
}

func (bc *BundlerClient) ClearState(ctx context.Context) error {
	return bc.call(ctx, nil, "debug_bundler_clearState")
}

// SetBundlingMode switches the bundler between "auto" and "manual".
func (bc *BundlerClient) SetBundlingMode(ctx context.Context, mode string) error {
	return bc.call(ctx, nil, "debug_bundler_setBundlingMode", mode)
}
