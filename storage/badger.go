package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	badger "github.com/dgraph-io/badger/v4"
)

var _ Store = (*BadgerStore)(nil)

// BadgerStore maps View and Update onto native badger transactions. An
// empty dir opens an in-memory database.
type BadgerStore struct {
	db *badger.DB
}

func NewBadger(dir string) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if _, err := os.Stat(dir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		opts = badger.DefaultOptions(dir)
	}
	// The default INFO logging is a bit verbose
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

type badgerTxn struct {
	tx *badger.Txn
}

func (t *badgerTxn) Get(key []byte) ([]byte, error) {
	item, err := t.tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *badgerTxn) Has(key []byte) (bool, error) {
	_, err := t.tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *badgerTxn) Put(key, value []byte) error {
	if err := t.tx.Set(cloneBytes(key), cloneBytes(value)); err != nil {
		if errors.Is(err, badger.ErrReadOnlyTxn) {
			return ErrReadOnly
		}
		return err
	}
	return nil
}

func (t *badgerTxn) Delete(key []byte) error {
	if err := t.tx.Delete(cloneBytes(key)); err != nil {
		if errors.Is(err, badger.ErrReadOnlyTxn) {
			return ErrReadOnly
		}
		return err
	}
	return nil
}

func (b *BadgerStore) View(_ context.Context, fn func(Txn) error) error {
	return b.db.View(func(tx *badger.Txn) error {
		return fn(&badgerTxn{tx: tx})
	})
}

func (b *BadgerStore) Update(_ context.Context, fn func(Txn) error) error {
	return b.db.Update(func(tx *badger.Txn) error {
		return fn(&badgerTxn{tx: tx})
	})
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
