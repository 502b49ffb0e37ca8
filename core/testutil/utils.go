// Package testutil holds fixtures shared by the package tests.
package testutil

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ethuo/core/chainio/aa"
	"github.com/AvaProtocol/ethuo/core/chainio/signer"
	"github.com/AvaProtocol/ethuo/pkg/logger"
	"github.com/AvaProtocol/ethuo/storage"
)

// TestMustDB opens a badger store in a temp dir that is closed with the test.
func TestMustDB(t *testing.T) storage.Storage {
	t.Helper()
	db, err := storage.NewWithPath(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// GetLogger is a development zap logger, or a no-op one when LOG_LEVEL=silent.
func GetLogger() logger.Logger {
	if os.Getenv("LOG_LEVEL") == "silent" {
		return logger.NewNoOpLogger()
	}
	lgr, err := logger.New("development")
	if err != nil {
		panic(err)
	}
	return lgr
}

func GetDefaultCache(t *testing.T) *bigcache.BigCache {
	t.Helper()
	config := bigcache.DefaultConfig(10 * time.Minute)
	// keep allocation small, tests only store a handful of receipts
	config.Shards = 16
	config.MaxEntriesInWindow = 1000
	config.MaxEntrySize = 500

	cache, err := bigcache.New(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

// DevnetWallet is the first account of the test mnemonic on the devnet chain.
func DevnetWallet(t *testing.T) *signer.Wallet {
	t.Helper()
	w, err := signer.FromPhrase(signer.TestMnemonic, big.NewInt(aa.DevnetChainID), false)
	require.NoError(t, err)
	return w
}
