package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	TypeMemory  = "memory"
	TypeLevelDB = "leveldb"
	TypeBadger  = "badger"
	TypeSqlite  = "sqlite"
)

var (
	ErrNotFound = errors.New("key not found")
	ErrReadOnly = errors.New("write in read-only transaction")
	ErrClosed   = errors.New("storage closed")
)

// Txn is the view of the store inside a single View or Update call.
// Writes made through an Update txn are visible to its own reads and are
// applied all together when the callback returns nil.
type Txn interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error
}

type Store interface {
	View(ctx context.Context, fn func(Txn) error) error
	Update(ctx context.Context, fn func(Txn) error) error
	Close() error
}

// Open opens a store of the given type rooted at dir. Backends that hold a
// file lock are retried, so a CLI invocation can wait out a short-lived
// holder of the same repo.
func Open(typ, dir string, retries uint, logger logrus.FieldLogger) (Store, error) {
	switch typ {
	case TypeMemory, TypeLevelDB, TypeBadger, TypeSqlite:
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
	if retries == 0 {
		retries = 1
	}

	var store Store
	action := func(attempt uint) error {
		var err error
		store, err = open(typ, dir)
		if err != nil {
			logger.Warnf("open %s storage at %s (attempt %d): %s", typ, dir, attempt, err)
		}
		return err
	}
	if err := retry.Retry(action, strategy.Limit(retries), strategy.Backoff(backoff.Fibonacci(500*time.Millisecond))); err != nil {
		return nil, errors.Wrapf(err, "open %s storage", typ)
	}

	logger.Infof("%s storage opened at %s", typ, dir)
	return store, nil
}

func open(typ, dir string) (Store, error) {
	switch typ {
	case TypeLevelDB:
		return NewLevelDB(dir)
	case TypeBadger:
		return NewBadger(dir)
	case TypeSqlite:
		return NewSqlite(dir)
	default:
		return NewMemory(), nil
	}
}
