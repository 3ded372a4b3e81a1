package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/AIAleph/mvp_ledger_mirror/internal/logging"
)

// Badger is a KV backed by an embedded badger database.
type Badger struct {
	db     *badger.DB
	closed atomic.Bool
}

// OpenBadger opens (or creates) the database in dir. An empty dir opens an
// in-memory database that is lost on Close.
func OpenBadger(dir string) (*Badger, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(slogBadger{l: logging.Logger().With("component", "store.badger")})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger at %q: %w", dir, err)
	}
	return &Badger{db: db}, nil
}

func (s *Badger) Get(_ context.Context, key string) (string, bool, error) {
	if s.closed.Load() {
		return "", false, ErrClosed
	}
	var val string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			val = string(v)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %q: %w", key, err)
	}
	return val, true, nil
}

func (s *Badger) Set(_ context.Context, key, value string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("store: set %q: %w", key, err)
	}
	return nil
}

// Close flushes and closes the database. Further calls return ErrClosed.
func (s *Badger) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// slogBadger routes badger's printf-style logging into slog.
type slogBadger struct {
	l *slog.Logger
}

func (b slogBadger) Errorf(f string, v ...interface{})   { b.l.Error(fmt.Sprintf(f, v...)) }
func (b slogBadger) Warningf(f string, v ...interface{}) { b.l.Warn(fmt.Sprintf(f, v...)) }
func (b slogBadger) Infof(f string, v ...interface{})    { b.l.Debug(fmt.Sprintf(f, v...)) }
func (b slogBadger) Debugf(f string, v ...interface{})   { b.l.Debug(fmt.Sprintf(f, v...)) }
