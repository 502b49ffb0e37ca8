package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AvaProtocol/ethuo/core/apqueue"
)

const JobTypeConfirmBundle = "confirm_bundle"

var ErrBundleReverted = errors.New("bundle transaction reverted")

// BundleRecord is the apqueue payload describing one submitted bundle.
type BundleRecord struct {
	ID           string        `json:"id"`
	TxHash       common.Hash   `json:"tx_hash"`
	UserOpHashes []common.Hash `json:"user_op_hashes"`
	SendMode     SendMode      `json:"send_mode"`
	SentAt       int64         `json:"sent_at"`
}

// receiptPollInterval is a var so tests can shorten it.
var receiptPollInterval = time.Second

// confirmProcessor marks a bundle job complete once its transaction is mined
// successfully, failed when it reverts or never lands.
type confirmProcessor struct {
	builder *Builder
}

func (p *confirmProcessor) Perform(job *apqueue.Job) error {
	var record BundleRecord
	if err := json.Unmarshal(job.Data, &record); err != nil {
		return fmt.Errorf("invalid bundle record: %w", err)
	}

	b := p.builder
	ctx, cancel := context.WithTimeout(b.ctx, b.params.ConfirmTimeout)
	defer cancel()

	receipt, err := waitReceipt(ctx, b.backend, record.TxHash)
	if err != nil {
		b.metrics.IncBundleSent(string(record.SendMode), "dropped")
		return fmt.Errorf("bundle %s not confirmed: %w", record.ID, err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		b.metrics.IncBundleSent(string(record.SendMode), "reverted")
		return fmt.Errorf("%w: %s in block %s", ErrBundleReverted, record.TxHash.Hex(), receipt.BlockNumber)
	}

	b.metrics.IncBundleSent(string(record.SendMode), "mined")
	b.logger.Info("bundle mined", "bundle", record.ID, "tx", record.TxHash.Hex(), "block", receipt.BlockNumber, "ops", len(record.UserOpHashes))
	return nil
}

type receiptReader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

func waitReceipt(ctx context.Context, backend receiptReader, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
