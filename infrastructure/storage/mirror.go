package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/sirupsen/logrus"

	"spectra/domain/interfaces"
)

// ErrMirrorMiss is returned when a key is absent from the mirror.
var ErrMirrorMiss = errors.New("mirror miss")

// BadgerMirror is a fast key-value cache in front of the SQL store.
// Session reloads hit the mirror first and fall back to SQLite.
type BadgerMirror struct {
	db     *badger.DB
	logger *logrus.Logger
}

// NewBadgerMirror opens the mirror database under dir.
func NewBadgerMirror(dir string, logger *logrus.Logger) (*BadgerMirror, error) {
	opts := badger.DefaultOptions(filepath.Join(dir, "mirror"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror database: %w", err)
	}
	return &BadgerMirror{db: db, logger: logger}, nil
}

// Put stores a value with the given TTL. A zero TTL stores forever.
func (m *BadgerMirror) Put(key string, value []byte, ttl time.Duration) error {
	return m.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Get returns the value for key or ErrMirrorMiss.
func (m *BadgerMirror) Get(key string) ([]byte, error) {
	var value []byte
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrMirrorMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror key %s: %w", key, err)
	}
	return value, nil
}

// Delete removes a key. Missing keys are not an error.
func (m *BadgerMirror) Delete(key string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Close flushes and closes the mirror.
func (m *BadgerMirror) Close() error {
	return m.db.Close()
}

// Ensure BadgerMirror implements SessionMirror interface
var _ interfaces.SessionMirror = (*BadgerMirror)(nil)
