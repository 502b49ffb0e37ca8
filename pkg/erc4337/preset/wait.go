package preset

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ethuo/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ethuo/pkg/logger"
)

// ReceiptSource looks up user operation receipts, nil while pending.
type ReceiptSource interface {
	GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*bundler.UserOperationReceipt, error)
}

// Backoff controls receipt polling.
type Backoff struct {
	MaxWait  time.Duration
	Initial  time.Duration
	Max      time.Duration
	Multiple float64
}

// DefaultBackoff polls from 1s up to every 5s for at most 30s.
var DefaultBackoff = Backoff{
	MaxWait:  30 * time.Second,
	Initial:  1 * time.Second,
	Max:      5 * time.Second,
	Multiple: 1.5,
}

// WaitForReceipt polls for the receipt of hash with exponential backoff.
//
// Returns:
// - (receipt, nil) once the operation is mined
// - (nil, nil) if MaxWait elapsed first, the operation may still be pending
// - (nil, err) if ctx was cancelled
func WaitForReceipt(ctx context.Context, source ReceiptSource, hash common.Hash, backoff Backoff, lgr logger.Logger) (*bundler.UserOperationReceipt, error) {
	lgr = logger.EnsureLogger(lgr)

	deadline := time.Now().Add(backoff.MaxWait)
	interval := backoff.Initial
	attempt := 0

	for {
		attempt++
		receipt, err := source.GetUserOperationReceipt(ctx, hash)
		if err != nil {
			// transient bundler errors do not end the wait
			lgr.Debug("receipt poll failed", "hash", hash.Hex(), "attempt", attempt, "error", err)
		}
		if receipt != nil {
			return receipt, nil
		}

		if time.Now().Add(interval).After(deadline) {
			lgr.Info("timed out waiting for user operation receipt", "hash", hash.Hex(), "attempts", attempt)
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * backoff.Multiple)
		if interval > backoff.Max {
			interval = backoff.Max
		}
	}
}
