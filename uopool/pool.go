// Package uopool is the mempool of the embedded bundler. Operations are
// validated on admission, persisted in badger and handed to the bundle
// builder sorted by priority fee.
package uopool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/samber/lo"

	"github.com/AvaProtocol/ethuo/metrics"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
	"github.com/AvaProtocol/ethuo/pkg/logger"
	"github.com/AvaProtocol/ethuo/storage"
)

// Backend is the subset of the execution client the pool needs.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractCaller
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Mempool is implemented by Pool and by the gRPC Client, so the builder and
// the façade do not care whether the pool is local.
type Mempool interface {
	Add(ctx context.Context, op *userop.UserOperation, ep common.Address) (common.Hash, error)
	Estimate(ctx context.Context, op *userop.UserOperation, ep common.Address) (*bundler.GasEstimation, error)
	GetSortedOps(ctx context.Context, ep common.Address, max int) ([]*userop.UserOperation, error)
	Remove(ctx context.Context, ep common.Address, hashes []common.Hash) error
	GetByHash(ctx context.Context, hash common.Hash) (*bundler.UserOperationByHash, error)
	GetReceipt(ctx context.Context, hash common.Hash) (*bundler.UserOperationReceipt, error)
	Clear(ctx context.Context) error
	Dump(ctx context.Context, ep common.Address) ([]*userop.UserOperation, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SupportedEntryPoints(ctx context.Context) ([]common.Address, error)
}

// entry is the persisted form of a pooled operation.
type entry struct {
	Hash          common.Hash           `json:"hash"`
	EntryPoint    common.Address        `json:"entry_point"`
	UserOperation *userop.UserOperation `json:"user_operation"`
	AddedAt       int64                 `json:"added_at"`
}

func opKey(ep common.Address, hash common.Hash) []byte {
	return []byte(fmt.Sprintf("uo:%s:%s", strings.ToLower(ep.Hex()), hash.Hex()))
}

func opPrefix(ep common.Address) []byte {
	return []byte(fmt.Sprintf("uo:%s:", strings.ToLower(ep.Hex())))
}

func senderKey(ep, sender common.Address, nonce *big.Int) []byte {
	return []byte(fmt.Sprintf("sender:%s:%s:%s", strings.ToLower(ep.Hex()), strings.ToLower(sender.Hex()), nonce.String()))
}

type Pool struct {
	backend  Backend
	db       storage.Storage
	cache    *bigcache.BigCache
	params   Params
	overhead Overhead
	metrics  metrics.MetricsGenerator
	logger   logger.Logger

	// mu serializes read-modify-write sequences on the store
	mu sync.Mutex

	now func() time.Time
}

// NewPool wires a pool. cache may be nil, receipts are then always looked up
// on chain.
func NewPool(backend Backend, db storage.Storage, cache *bigcache.BigCache, params Params, m metrics.MetricsGenerator, lgr logger.Logger) (*Pool, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	return &Pool{
		backend:  backend,
		db:       db,
		cache:    cache,
		params:   params.withDefaults(),
		overhead: DefaultOverhead,
		metrics:  metrics.Ensure(m),
		logger:   logger.EnsureLogger(lgr),
		now:      time.Now,
	}, nil
}

func (p *Pool) supports(ep common.Address) bool {
	return lo.Contains(p.params.EntryPoints, ep)
}

func (p *Pool) isDeployed(ctx context.Context, addr common.Address) (bool, error) {
	code, err := p.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("cannot read code of %s: %w", addr.Hex(), err)
	}
	return len(code) > 0, nil
}

func (p *Pool) hash(op *userop.UserOperation, ep common.Address) common.Hash {
	return op.GetUserOpHash(ep, p.params.ChainID)
}

// Add validates op and stores it. A pooled operation with the same sender and
// nonce is replaced when op pays a strictly higher priority fee.
func (p *Pool) Add(ctx context.Context, op *userop.UserOperation, ep common.Address) (common.Hash, error) {
	if op == nil {
		return common.Hash{}, newValidationError(InvalidFields, "missing user operation")
	}

	if err := p.validate(ctx, op, ep); err != nil {
		p.reject(err)
		return common.Hash{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	replaced, err := p.checkReplacement(op, ep)
	if err != nil {
		p.reject(err)
		return common.Hash{}, err
	}

	hash := p.hash(op, ep)
	raw, err := json.Marshal(&entry{
		Hash:          hash,
		EntryPoint:    ep,
		UserOperation: op,
		AddedAt:       p.now().UnixNano(),
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("cannot encode user operation: %w", err)
	}

	if replaced != (common.Hash{}) {
		if err := p.db.Delete(opKey(ep, replaced)); err != nil {
			return common.Hash{}, err
		}
		p.logger.Info("replaced user operation", "old", replaced.Hex(), "new", hash.Hex(), "sender", op.Sender.Hex())
	}

	updates := make(map[string][]byte, 2)
	updates[string(opKey(ep, hash))] = raw
	updates[string(senderKey(ep, op.Sender, op.Nonce))] = hash.Bytes()
	if err := p.db.BatchWrite(updates); err != nil {
		return common.Hash{}, fmt.Errorf("cannot store user operation: %w", err)
	}

	p.metrics.IncUserOpAdded(ep.Hex())
	p.refreshSize(ep)
	p.logger.Info("user operation added", "hash", hash.Hex(), "sender", op.Sender.Hex(), "nonce", op.Nonce.String())
	return hash, nil
}

func (p *Pool) reject(err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		p.metrics.IncUserOpRejected(verr.Code)
		p.logger.Debug("user operation rejected", "code", verr.Code, "reason", verr.Message)
		return
	}
	p.metrics.IncUserOpRejected(InternalError)
}

func (p *Pool) refreshSize(ep common.Address) {
	n, err := p.db.CountKeysByPrefix(opPrefix(ep))
	if err != nil {
		return
	}
	p.metrics.SetMempoolSize(ep.Hex(), float64(n))
}

func (p *Pool) entries(ep common.Address) ([]*entry, error) {
	items, err := p.db.GetByPrefix(opPrefix(ep))
	if err != nil {
		return nil, err
	}

	out := make([]*entry, 0, len(items))
	for _, item := range items {
		var e entry
		if err := json.Unmarshal(item.Value, &e); err != nil {
			p.logger.Warn("skipping corrupt pool entry", "key", string(item.Key), "error", err)
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}

func (p *Pool) entry(ep common.Address, hash common.Hash) (*entry, error) {
	raw, err := p.db.GetKey(opKey(ep, hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("corrupt pool entry %s: %w", hash.Hex(), err)
	}
	return &e, nil
}

// GetSortedOps returns at most max operations ordered by priority fee,
// highest first. Ties keep arrival order. max <= 0 means no limit.
func (p *Pool) GetSortedOps(_ context.Context, ep common.Address, max int) ([]*userop.UserOperation, error) {
	if !p.supports(ep) {
		return nil, ErrUnsupportedEntryPoint
	}

	entries, err := p.entries(ep)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ci := entries[i].UserOperation.MaxPriorityFeePerGas.Cmp(entries[j].UserOperation.MaxPriorityFeePerGas)
		if ci != 0 {
			return ci > 0
		}
		return entries[i].AddedAt < entries[j].AddedAt
	})

	if max > 0 && len(entries) > max {
		entries = entries[:max]
	}
	return lo.Map(entries, func(e *entry, _ int) *userop.UserOperation { return e.UserOperation }), nil
}

// Remove drops the given hashes. Unknown hashes are ignored.
func (p *Pool) Remove(_ context.Context, ep common.Address, hashes []common.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([][]byte, 0, 2*len(hashes))
	for _, hash := range hashes {
		e, err := p.entry(ep, hash)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		keys = append(keys, opKey(ep, hash), senderKey(ep, e.UserOperation.Sender, e.UserOperation.Nonce))
	}
	if len(keys) == 0 {
		return nil
	}

	if err := p.db.BatchDelete(keys); err != nil {
		return fmt.Errorf("cannot remove user operations: %w", err)
	}
	p.refreshSize(ep)
	return nil
}

// Clear empties the pool and the receipt cache.
func (p *Pool) Clear(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, prefix := range []string{"uo:", "sender:"} {
		if err := p.db.DropPrefix([]byte(prefix)); err != nil {
			return fmt.Errorf("cannot clear pool: %w", err)
		}
	}
	if p.cache != nil {
		if err := p.cache.Reset(); err != nil {
			return err
		}
	}
	for _, ep := range p.params.EntryPoints {
		p.metrics.SetMempoolSize(ep.Hex(), 0)
	}
	p.logger.Info("mempool cleared")
	return nil
}

// Dump returns every pooled operation for ep in arrival order.
func (p *Pool) Dump(_ context.Context, ep common.Address) ([]*userop.UserOperation, error) {
	if !p.supports(ep) {
		return nil, ErrUnsupportedEntryPoint
	}

	entries, err := p.entries(ep)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].AddedAt < entries[j].AddedAt })
	return lo.Map(entries, func(e *entry, _ int) *userop.UserOperation { return e.UserOperation }), nil
}

func (p *Pool) ChainID(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(p.params.ChainID), nil
}

func (p *Pool) SupportedEntryPoints(_ context.Context) ([]common.Address, error) {
	return append([]common.Address(nil), p.params.EntryPoints...), nil
}
