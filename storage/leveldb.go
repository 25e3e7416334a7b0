package storage

import (
	"context"

	kitstorage "github.com/axiomesh/axiom-kit/storage"
	"github.com/axiomesh/axiom-kit/storage/leveldb"
)

var _ Store = (*LevelDBStore)(nil)

type LevelDBStore struct {
	db kitstorage.Storage
}

func NewLevelDB(dir string) (*LevelDBStore, error) {
	db, err := leveldb.New(dir)
	if err != nil {
		return nil, err
	}
	return &LevelDBStore{db: db}, nil
}

func (l *LevelDBStore) get(key []byte) ([]byte, error) {
	data := l.db.Get(key)
	if data == nil {
		return nil, ErrNotFound
	}
	return data, nil
}

func (l *LevelDBStore) View(_ context.Context, fn func(Txn) error) error {
	return fn(newBufferedTxn(l.get, false))
}

func (l *LevelDBStore) Update(_ context.Context, fn func(Txn) error) error {
	txn := newBufferedTxn(l.get, true)
	if err := fn(txn); err != nil {
		return err
	}
	if len(txn.ops) == 0 {
		return nil
	}

	batch := l.db.NewBatch()
	for k, op := range txn.ops {
		if op.del {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), op.value)
	}
	batch.Commit()
	return nil
}

func (l *LevelDBStore) Close() error {
	return l.db.Close()
}
