package bundler

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ethuo/pkg/logger"
)

// NonceFetcher reads the on-chain EntryPoint nonce of a sender.
type NonceFetcher func(ctx context.Context, sender common.Address) (*big.Int, error)

// NonceManager hands out nonces for UserOperations so that consecutive sends
// from one wallet do not collide while earlier ones sit in the mempool.
// It returns max(on-chain nonce, cached pending nonce).
type NonceManager struct {
	pendingNonces map[common.Address]*big.Int
	mu            sync.RWMutex
	fetch         NonceFetcher
	logger        logger.Logger
}

func NewNonceManager(fetch NonceFetcher, l logger.Logger) *NonceManager {
	return &NonceManager{
		pendingNonces: make(map[common.Address]*big.Int),
		fetch:         fetch,
		logger:        logger.EnsureLogger(l),
	}
}

// GetNextNonce returns the next nonce to use for a sender.
func (nm *NonceManager) GetNextNonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	onChainNonce, err := nm.fetch(ctx, sender)
	if err != nil {
		return nil, err
	}

	cachedNonce, hasCached := nm.pendingNonces[sender]
	if !hasCached || onChainNonce.Cmp(cachedNonce) > 0 {
		// first use, or earlier operations were mined or dropped
		return new(big.Int).Set(onChainNonce), nil
	}

	nm.logger.Debug("using cached nonce", "sender", sender.Hex(), "cached", cachedNonce.String(), "onchain", onChainNonce.String())
	return new(big.Int).Set(cachedNonce), nil
}

// IncrementNonce records that currentNonce was accepted by the bundler.
func (nm *NonceManager) IncrementNonce(sender common.Address, currentNonce *big.Int) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nm.pendingNonces[sender] = new(big.Int).Add(currentNonce, big.NewInt(1))
}

// ResetNonce forgets the cached nonce so the next call reads the chain.
func (nm *NonceManager) ResetNonce(sender common.Address) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	delete(nm.pendingNonces, sender)
}
