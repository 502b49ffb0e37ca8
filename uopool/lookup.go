package uopool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AvaProtocol/ethuo/core/chainio/aa"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/bundler"
)

// findEvent scans the lookback window for the UserOperationEvent of hash.
// It returns nil, nil when the operation was not mined yet.
func (p *Pool) findEvent(ctx context.Context, hash common.Hash) (*aa.UserOperationEvent, error) {
	head, err := p.backend.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot read block number: %w", err)
	}

	from := uint64(0)
	if head > p.params.ReceiptLookback {
		from = head - p.params.ReceiptLookback
	}

	logs, err := p.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		Addresses: p.params.EntryPoints,
		Topics:    [][]common.Hash{{aa.UserOperationEventTopic}, {hash}},
	})
	if err != nil {
		return nil, fmt.Errorf("cannot filter entry point logs: %w", err)
	}

	for _, log := range logs {
		if log.Removed {
			continue
		}
		ev, err := aa.ParseUserOperationEvent(log)
		if err != nil {
			p.logger.Warn("skipping undecodable UserOperationEvent", "tx", log.TxHash.Hex(), "error", err)
			continue
		}
		if ev.UserOpHash == hash {
			return ev, nil
		}
	}
	return nil, nil
}

// GetByHash looks in the pool first, then on chain. It returns nil, nil for
// an unknown hash.
func (p *Pool) GetByHash(ctx context.Context, hash common.Hash) (*bundler.UserOperationByHash, error) {
	for _, ep := range p.params.EntryPoints {
		e, err := p.entry(ep, hash)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &bundler.UserOperationByHash{UserOperation: e.UserOperation, EntryPoint: ep}, nil
	}

	ev, err := p.findEvent(ctx, hash)
	if err != nil || ev == nil {
		return nil, err
	}

	tx, _, err := p.backend.TransactionByHash(ctx, ev.Raw.TxHash)
	if err != nil {
		return nil, fmt.Errorf("cannot load bundle transaction %s: %w", ev.Raw.TxHash.Hex(), err)
	}

	ops, _, err := aa.UnpackHandleOps(tx.Data())
	if err != nil {
		return nil, fmt.Errorf("bundle transaction %s is not handleOps: %w", tx.Hash().Hex(), err)
	}

	for _, op := range ops {
		if p.hash(op, ev.Raw.Address) != hash {
			continue
		}
		return &bundler.UserOperationByHash{
			UserOperation:   op,
			EntryPoint:      ev.Raw.Address,
			BlockNumber:     (*hexutil.Big)(new(big.Int).SetUint64(ev.Raw.BlockNumber)),
			BlockHash:       ev.Raw.BlockHash,
			TransactionHash: ev.Raw.TxHash,
		}, nil
	}
	return nil, nil
}

// GetReceipt returns nil, nil while the operation is pending. Mined receipts
// are cached since they never change.
func (p *Pool) GetReceipt(ctx context.Context, hash common.Hash) (*bundler.UserOperationReceipt, error) {
	if cached := p.cachedReceipt(hash); cached != nil {
		return cached, nil
	}

	ev, err := p.findEvent(ctx, hash)
	if err != nil || ev == nil {
		return nil, err
	}

	txReceipt, err := p.backend.TransactionReceipt(ctx, ev.Raw.TxHash)
	if err != nil {
		return nil, fmt.Errorf("cannot load bundle receipt %s: %w", ev.Raw.TxHash.Hex(), err)
	}

	receipt := &bundler.UserOperationReceipt{
		UserOpHash:    hash,
		EntryPoint:    ev.Raw.Address,
		Sender:        ev.Sender,
		Nonce:         (*hexutil.Big)(ev.Nonce),
		Paymaster:     ev.Paymaster,
		ActualGasCost: (*hexutil.Big)(ev.ActualGasCost),
		ActualGasUsed: (*hexutil.Big)(ev.ActualGasUsed),
		Success:       ev.Success,
		Logs:          opLogs(txReceipt, ev.Raw),
		Receipt:       txReceipt,
	}
	p.cacheReceipt(receipt)
	return receipt, nil
}

// opLogs returns the logs emitted while executing one operation of a bundle:
// everything after the previous UserOperationEvent up to this one.
func opLogs(receipt *types.Receipt, event types.Log) []*types.Log {
	if receipt == nil {
		return nil
	}

	out := []*types.Log{}
	for _, log := range receipt.Logs {
		if log.Index >= event.Index {
			break
		}
		if len(log.Topics) > 0 && log.Topics[0] == aa.UserOperationEventTopic {
			out = out[:0]
			continue
		}
		out = append(out, log)
	}
	return out
}

func (p *Pool) cachedReceipt(hash common.Hash) *bundler.UserOperationReceipt {
	if p.cache == nil {
		return nil
	}

	raw, err := p.cache.Get(hash.Hex())
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil
	}
	if err != nil {
		p.logger.Warn("receipt cache read failed", "hash", hash.Hex(), "error", err)
		return nil
	}

	var receipt bundler.UserOperationReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil
	}
	return &receipt
}

func (p *Pool) cacheReceipt(receipt *bundler.UserOperationReceipt) {
	if p.cache == nil {
		return
	}

	raw, err := json.Marshal(receipt)
	if err != nil {
		return
	}
	if err := p.cache.Set(receipt.UserOpHash.Hex(), raw); err != nil {
		p.logger.Warn("receipt cache write failed", "hash", receipt.UserOpHash.Hex(), "error", err)
	}
}
