// Package jsonrpc is the public JSON-RPC 2.0 face of the bundler. It serves the
// eth and debug namespaces over HTTP and websocket and proxies anything else
// to the execution client.
package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/AvaProtocol/ethuo/metrics"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
	"github.com/AvaProtocol/ethuo/uopool"
)

const (
	NamespaceEth   = "eth"
	NamespaceDebug = "debug"
)

// Bundler is the part of the bundle builder the debug namespace drives.
// *builder.Client satisfies it.
type Bundler interface {
	SendBundleNow(ctx context.Context) (common.Hash, error)
	SetBundlingMode(ctx context.Context, mode string) error
}

type method func(ctx context.Context, params []json.RawMessage) (interface{}, error)

var errNoBundler = errors.New("bundle builder is not available")

// API dispatches JSON-RPC methods to the mempool and the bundle builder.
type API struct {
	pool    uopool.Mempool
	bundler Bundler
	metrics metrics.MetricsGenerator
	methods map[string]method
}

// NewAPI registers the methods of every namespace listed. Methods of other
// namespaces are treated as unknown.
func NewAPI(pool uopool.Mempool, b Bundler, namespaces []string, m metrics.MetricsGenerator) *API {
	api := &API{
		pool:    pool,
		bundler: b,
		metrics: metrics.Ensure(m),
		methods: make(map[string]method),
	}

	for _, ns := range namespaces {
		switch strings.ToLower(ns) {
		case NamespaceEth:
			api.methods["eth_sendUserOperation"] = api.sendUserOperation
			api.methods["eth_estimateUserOperationGas"] = api.estimateUserOperationGas
			api.methods["eth_getUserOperationReceipt"] = api.getUserOperationReceipt
			api.methods["eth_getUserOperationByHash"] = api.getUserOperationByHash
			api.methods["eth_supportedEntryPoints"] = api.supportedEntryPoints
			api.methods["eth_chainId"] = api.chainID
		case NamespaceDebug:
			api.methods["debug_bundler_clearState"] = api.clearState
			api.methods["debug_bundler_dumpMempool"] = api.dumpMempool
			api.methods["debug_bundler_sendBundleNow"] = api.sendBundleNow
			api.methods["debug_bundler_setBundlingMode"] = api.setBundlingMode
		}
	}
	return api
}

// Has reports whether method is served locally.
func (api *API) Has(name string) bool {
	_, ok := api.methods[name]
	return ok
}

// Call runs one method. A missing method is reported as MethodNotFound.
func (api *API) Call(ctx context.Context, name string, rawParams json.RawMessage) (interface{}, error) {
	m, ok := api.methods[name]
	if !ok {
		return nil, &uopool.ValidationError{Code: uopool.MethodNotFound, Message: fmt.Sprintf("the method %s does not exist/is not available", name)}
	}

	params, err := splitParams(rawParams)
	if err != nil {
		api.metrics.IncRPCRequest(name, "error")
		return nil, err
	}

	result, err := m(ctx, params)
	if err != nil {
		api.metrics.IncRPCRequest(name, "error")
		return nil, err
	}
	api.metrics.IncRPCRequest(name, "ok")
	return result, nil
}

func invalidParams(format string, args ...interface{}) error {
	return &uopool.ValidationError{Code: uopool.InvalidFields, Message: fmt.Sprintf(format, args...)}
}

func splitParams(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("params must be an array: %v", err)
	}
	return params, nil
}

// decodeParams fills targets positionally. Every target is required.
func decodeParams(params []json.RawMessage, targets ...interface{}) error {
	if len(params) < len(targets) {
		return invalidParams("missing value for required argument %d", len(params))
	}
	for i, target := range targets {
		if err := json.Unmarshal(params[i], target); err != nil {
			return invalidParams("invalid argument %d: %v", i, err)
		}
	}
	return nil
}

func (api *API) decodeOp(params []json.RawMessage) (*userop.UserOperation, common.Address, error) {
	var (
		op userop.UserOperation
		ep common.Address
	)
	if err := decodeParams(params, &op, &ep); err != nil {
		return nil, common.Address{}, err
	}
	return &op, ep, nil
}

func (api *API) sendUserOperation(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	op, ep, err := api.decodeOp(params)
	if err != nil {
		return nil, err
	}
	return api.pool.Add(ctx, op, ep)
}

func (api *API) estimateUserOperationGas(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	op, ep, err := api.decodeOp(params)
	if err != nil {
		return nil, err
	}
	return api.pool.Estimate(ctx, op, ep)
}

func (api *API) getUserOperationReceipt(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	var hash common.Hash
	if err := decodeParams(params, &hash); err != nil {
		return nil, err
	}
	receipt, err := api.pool.GetReceipt(ctx, hash)
	if errors.Is(err, uopool.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, nil
	}
	return receipt, nil
}

func (api *API) getUserOperationByHash(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	var hash common.Hash
	if err := decodeParams(params, &hash); err != nil {
		return nil, err
	}
	found, err := api.pool.GetByHash(ctx, hash)
	if errors.Is(err, uopool.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, nil
	}
	return found, nil
}

func (api *API) supportedEntryPoints(ctx context.Context, _ []json.RawMessage) (interface{}, error) {
	return api.pool.SupportedEntryPoints(ctx)
}

func (api *API) chainID(ctx context.Context, _ []json.RawMessage) (interface{}, error) {
	id, err := api.pool.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	return (*hexutil.Big)(id), nil
}

func (api *API) clearState(ctx context.Context, _ []json.RawMessage) (interface{}, error) {
	if err := api.pool.Clear(ctx); err != nil {
		return nil, err
	}
	return "ok", nil
}

func (api *API) dumpMempool(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	var ep common.Address
	if err := decodeParams(params, &ep); err != nil {
		return nil, err
	}
	ops, err := api.pool.Dump(ctx, ep)
	if err != nil {
		return nil, err
	}
	if ops == nil {
		ops = []*userop.UserOperation{}
	}
	return ops, nil
}

func (api *API) sendBundleNow(ctx context.Context, _ []json.RawMessage) (interface{}, error) {
	if api.bundler == nil {
		return nil, errNoBundler
	}
	return api.bundler.SendBundleNow(ctx)
}

func (api *API) setBundlingMode(ctx context.Context, params []json.RawMessage) (interface{}, error) {
	if api.bundler == nil {
		return nil, errNoBundler
	}
	var mode string
	if err := decodeParams(params, &mode); err != nil {
		return nil, err
	}
	if err := api.bundler.SetBundlingMode(ctx, mode); err != nil {
		return nil, err
	}
	return "ok", nil
}
