// Package backup snapshots the bundler store into timestamped directories.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AvaProtocol/ethuo/pkg/logger"
	"github.com/AvaProtocol/ethuo/storage"
)

const (
	snapshotFile    = "uopool.bak"
	timestampLayout = "06-01-02-15-04-05"
)

var ErrAlreadyRunning = errors.New("periodic backup is already running")

type Service struct {
	db     storage.Storage
	dir    string
	logger logger.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewService(db storage.Storage, dir string, lgr logger.Logger) *Service {
	return &Service{
		db:     db,
		dir:    dir,
		logger: logger.EnsureLogger(lgr),
	}
}

func (s *Service) Dir() string { return s.dir }

// Start snapshots the store every interval until Stop.
func (s *Service) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("backup interval must be positive, got %s", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return ErrAlreadyRunning
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("cannot create backup dir %s: %w", s.dir, err)
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(interval, s.stop, s.done)

	s.logger.Info("started periodic backup", "interval", interval, "dir", s.dir)
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	s.logger.Info("stopped periodic backup")
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

func (s *Service) loop(interval time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Snapshot(context.Background()); err != nil {
				s.logger.Error("periodic backup failed", "error", err)
			}
		case <-stop:
			return
		}
	}
}

// Snapshot writes a full backup and returns the file path.
func (s *Service) Snapshot(ctx context.Context) (string, error) {
	path := filepath.Join(s.dir, time.Now().UTC().Format(timestampLayout))
	if err := os.MkdirAll(path, 0o700); err != nil {
		return "", fmt.Errorf("cannot create backup dir %s: %w", path, err)
	}

	file := filepath.Join(path, snapshotFile)
	f, err := os.Create(file)
	if err != nil {
		return "", fmt.Errorf("cannot create backup file: %w", err)
	}
	defer f.Close()

	if _, err := s.db.Backup(ctx, f, 0); err != nil {
		return "", fmt.Errorf("backup failed: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", err
	}

	s.logger.Info("backup completed", "file", file)
	return file, nil
}

// Restore loads a snapshot written by Snapshot into the store.
func (s *Service) Restore(ctx context.Context, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("cannot open backup: %w", err)
	}
	defer f.Close()

	if err := s.db.Load(ctx, f); err != nil {
		return fmt.Errorf("cannot restore %s: %w", file, err)
	}
	s.logger.Info("backup restored", "file", file)
	return nil
}
