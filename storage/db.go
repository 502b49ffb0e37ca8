package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

const maxPendingWrites = 16

// ErrNotFound is returned by GetKey and Move when the key does not exist.
var ErrNotFound = badger.ErrKeyNotFound

type Config struct {
	Path string
	// InMemory keeps everything in RAM. Path is ignored.
	InMemory bool
}

type Sequence interface {
	Next() (uint64, error)
	Release() error
}

type Storage interface {
	Close() error

	GetSequence(prefix []byte, inflightItem uint64) (Sequence, error)

	GetKey(key []byte) ([]byte, error)
	GetByPrefix(prefix []byte) ([]*KeyValueItem, error)
	FirstKVHasPrefix(prefix []byte) ([]byte, []byte, error)

	// A key only operation that returns key that has a prefix
	ListKeys(prefix string) ([]string, error)

	// A key only counting keys that has a prefix, very efficient because only operating on lsm tree
	CountKeysByPrefix(prefix []byte) (int64, error)

	BatchWrite(updates map[string][]byte) error
	BatchDelete(keys [][]byte) error
	Move(src, dest []byte) error
	Set(key, value []byte) error
	Delete(key []byte) error
	DropPrefix(prefix []byte) error

	// Vacuum reclaims value log space, a no-op in memory.
	Vacuum() error

	// Backup streams every version newer than since and returns the new watermark.
	Backup(ctx context.Context, w io.Writer, since uint64) (uint64, error)
	Load(ctx context.Context, r io.Reader) error
}

type KeyValueItem struct {
	Key   []byte
	Value []byte
}

type BadgerStorage struct {
	config *Config
	db     *badger.DB
	seqs   []*badger.Sequence
}

// Create storage pool at the particular path
func NewWithPath(path string) (Storage, error) {
	return New(&Config{
		Path: path,
	})
}

// NewInMemory opens a throwaway store, used by tests and `bundler test`.
func NewInMemory() (Storage, error) {
	return New(&Config{InMemory: true})
}

// Create storage pool with the given config
func New(c *Config) (Storage, error) {
	opts := badger.DefaultOptions(c.Path).WithLogger(nil)
	if c.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	} else {
		if err := os.MkdirAll(c.Path, 0o700); err != nil {
			return nil, fmt.Errorf("cannot create data dir %s: %w", c.Path, err)
		}
		opts = opts.WithSyncWrites(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerStorage{
		config: c,
		db:     db,

		seqs: make([]*badger.Sequence, 0),
	}, nil
}

func (s *BadgerStorage) Close() error {
	for _, seq := range s.seqs {
		if err := seq.Release(); err != nil {
			return err
		}
	}
	return s.db.Close()
}

// BatchWrite applies all updates, splitting into several transactions when one grows too big.
func (s *BadgerStorage) BatchWrite(updates map[string][]byte) error {
	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for k, v := range updates {
		err := txn.Set([]byte(k), v)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return err
			}
			txn = s.db.NewTransaction(true)
			err = txn.Set([]byte(k), v)
		}
		if err != nil {
			return err
		}
	}
	return txn.Commit()
}

func (s *BadgerStorage) BatchDelete(keys [][]byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStorage) Set(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *BadgerStorage) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *BadgerStorage) DropPrefix(prefix []byte) error {
	return s.db.DropPrefix(prefix)
}

// GetByPrefix return a list of key/value item whoser key prefix matches
func (s *BadgerStorage) GetByPrefix(prefix []byte) ([]*KeyValueItem, error) {
	var result []*KeyValueItem

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 30
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result = append(result, &KeyValueItem{
				Key:   item.KeyCopy(nil),
				Value: v,
			})
		}
		return nil
	})

	return result, err
}

// CountKeysByPrefix return total key under a specfic prefix
func (s *BadgerStorage) CountKeysByPrefix(prefix []byte) (int64, error) {
	total := int64(0)

	if len(prefix) == 0 {
		return 0, fmt.Errorf("cannot count prefix with length 0")
	}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			total += 1
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return total, nil
}

func (s *BadgerStorage) GetKey(key []byte) ([]byte, error) {
	var value []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})

	return value, err
}

// Wrap badgerdb sequence
func (s *BadgerStorage) GetSequence(prefix []byte, inflightItem uint64) (Sequence, error) {
	seq, e := s.db.GetSequence(prefix, inflightItem)
	if e != nil {
		return nil, e
	}

	s.seqs = append(s.seqs, seq)
	return seq, nil
}

// FirstKVHasPrefix returns the smallest key under prefix and its value, or nil, nil when none.
func (s *BadgerStorage) FirstKVHasPrefix(prefix []byte) ([]byte, []byte, error) {
	var k []byte
	var v []byte

	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.PrefetchSize = 1
		it := txn.NewIterator(itOpts)
		defer it.Close()

		// go to smallest key after prefix
		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return nil
		}

		item := it.Item()
		k = item.KeyCopy(nil)

		var err error
		v, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return k, v, nil
}

// Move deletes src and writes its value under dest in one transaction.
func (s *BadgerStorage) Move(src []byte, dest []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(src)
		if err != nil {
			return err
		}

		b, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		if err := txn.Delete(src); err != nil {
			return err
		}
		return txn.Set(dest, b)
	})
}

// ListKeys accepts an exact prefix, "prefix*" or "*" for everything.
func (s *BadgerStorage) ListKeys(prefix string) ([]string, error) {
	var keys []string

	if prefix == "*" {
		prefix = ""
	} else {
		prefix = strings.TrimSuffix(prefix, "*")
	}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return keys, nil
}

func (s *BadgerStorage) Vacuum() error {
	if s.config.InMemory {
		return nil
	}
	err := s.db.RunValueLogGC(0.7)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func (s *BadgerStorage) Backup(ctx context.Context, w io.Writer, since uint64) (uint64, error) {
	return s.db.Backup(w, since)
}

func (s *BadgerStorage) Load(ctx context.Context, r io.Reader) error {
	return s.db.Load(r, maxPendingWrites)
}
