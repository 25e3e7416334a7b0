package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const sqliteFileName = "govledger.sqlite"

var (
	_ Store = (*SqliteStore)(nil)

	memorySqliteSeq atomic.Uint64
)

type kvRecord struct {
	K []byte `gorm:"column:k;primaryKey"`
	V []byte `gorm:"column:v;not null"`
}

func (kvRecord) TableName() string {
	return "kv"
}

// SqliteStore keeps the key space in a single kv table. Writes are staged and
// applied inside one gorm transaction on commit.
type SqliteStore struct {
	db *gorm.DB
}

func NewSqlite(dir string) (*SqliteStore, error) {
	var dsn string
	if dir == "" {
		// every in-memory store gets its own named database
		dsn = fmt.Sprintf("file:govledger-%d?mode=memory&cache=shared", memorySqliteSeq.Add(1))
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", filepath.Join(dir, sqliteFileName))
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&kvRecord{}); err != nil {
		return nil, err
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) reader(ctx context.Context) func(key []byte) ([]byte, error) {
	return func(key []byte) ([]byte, error) {
		var rec kvRecord
		res := s.db.WithContext(ctx).Where("k = ?", key).Limit(1).Find(&rec)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrNotFound
		}
		return rec.V, nil
	}
}

func (s *SqliteStore) View(ctx context.Context, fn func(Txn) error) error {
	return fn(newBufferedTxn(s.reader(ctx), false))
}

func (s *SqliteStore) Update(ctx context.Context, fn func(Txn) error) error {
	txn := newBufferedTxn(s.reader(ctx), true)
	if err := fn(txn); err != nil {
		return err
	}
	if len(txn.ops) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for k, op := range txn.ops {
			if op.del {
				if err := tx.Where("k = ?", []byte(k)).Delete(&kvRecord{}).Error; err != nil {
					return err
				}
				continue
			}
			rec := kvRecord{K: []byte(k), V: op.value}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SqliteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
