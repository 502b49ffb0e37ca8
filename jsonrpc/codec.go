package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AvaProtocol/ethuo/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ethuo/uopool"
)

const (
	jsonRPCVersion = "2.0"

	ParseError     = -32700
	InvalidRequest = -32600
)

var nullID = json.RawMessage("null")

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func errorResponse(id json.RawMessage, code int, message string) *bundler.Response {
	if len(id) == 0 {
		id = nullID
	}
	return &bundler.Response{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &bundler.RPCError{Code: code, Message: message},
	}
}

// toRPCError keeps the code of admission rejections. Anything unexpected is
// an internal error.
func toRPCError(err error) (int, string) {
	var verr *uopool.ValidationError
	if errors.As(err, &verr) {
		return verr.Code, verr.Message
	}
	if errors.Is(err, uopool.ErrUnsupportedEntryPoint) {
		return uopool.InvalidFields, err.Error()
	}
	return uopool.InternalError, err.Error()
}

func marshal(resp *bundler.Response) json.RawMessage {
	out, err := json.Marshal(resp)
	if err != nil {
		out, _ = json.Marshal(errorResponse(resp.ID, uopool.InternalError, err.Error()))
	}
	return out
}

// handle answers a single request or a batch. The returned body is always a
// valid JSON-RPC response, or an array of them.
func (s *Service) handle(ctx context.Context, body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return marshal(errorResponse(nil, InvalidRequest, "empty request"))
	}
	if trimmed[0] != '[' {
		return s.handleOne(ctx, trimmed)
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		return marshal(errorResponse(nil, ParseError, err.Error()))
	}
	if len(batch) == 0 {
		return marshal(errorResponse(nil, InvalidRequest, "empty batch"))
	}

	out := make([]json.RawMessage, 0, len(batch))
	for _, raw := range batch {
		out = append(out, s.handleOne(ctx, raw))
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return marshal(errorResponse(nil, uopool.InternalError, err.Error()))
	}
	return encoded
}

func (s *Service) handleOne(ctx context.Context, raw json.RawMessage) json.RawMessage {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return marshal(errorResponse(nil, ParseError, err.Error()))
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		return marshal(errorResponse(req.ID, InvalidRequest, "invalid json-rpc request"))
	}

	if !s.api.Has(req.Method) && s.proxy != nil {
		forwarded, err := s.proxy.Forward(ctx, raw)
		if err != nil {
			s.logger.Warn("proxy call failed", "method", req.Method, "error", err)
			return marshal(errorResponse(req.ID, uopool.InternalError, fmt.Sprintf("proxy: %v", err)))
		}
		s.metrics.IncRPCRequest(req.Method, "proxied")
		return forwarded
	}

	result, err := s.api.Call(ctx, req.Method, req.Params)
	if err != nil {
		code, message := toRPCError(err)
		s.logger.Debug("json-rpc call rejected", "method", req.Method, "code", code, "message", message)
		return marshal(errorResponse(req.ID, code, message))
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return marshal(errorResponse(req.ID, uopool.InternalError, err.Error()))
	}
	id := req.ID
	if len(id) == 0 {
		id = nullID
	}
	return marshal(&bundler.Response{JSONRPC: jsonRPCVersion, ID: id, Result: encoded})
}
