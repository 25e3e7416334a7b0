package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/axiomesh/govledger/storage"
)

var (
	_ Clock = (*ManualClock)(nil)
	_ Clock = WallClock{}
	_ Clock = (*BlockClock)(nil)
)

type ManualClock struct {
	now atomic.Uint64
}

func NewManualClock(now uint64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(now)
	return c
}

func (c *ManualClock) Now() uint64 {
	return c.now.Load()
}

func (c *ManualClock) Set(now uint64) {
	c.now.Store(now)
}

// WallClock reports unix seconds.
type WallClock struct{}

func (WallClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

// BlockClock is a block height kept in the store, so every process opening
// the same repo agrees on the current time.
type BlockClock struct {
	db     storage.Store
	height atomic.Uint64
}

func NewBlockClock(ctx context.Context, db storage.Store) (*BlockClock, error) {
	c := &BlockClock{db: db}
	err := db.View(ctx, func(txn storage.Txn) error {
		data, err := txn.Get(blockHeightKey)
		if err == storage.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		c.height.Store(decodeUint64(data))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *BlockClock) Now() uint64 {
	return c.height.Load()
}

// Advance moves the height forward by n blocks and persists it.
func (c *BlockClock) Advance(ctx context.Context, n uint64) (uint64, error) {
	height := c.height.Load() + n
	if height < n {
		return 0, ErrOverflow
	}
	err := c.db.Update(ctx, func(txn storage.Txn) error {
		return txn.Put(blockHeightKey, encodeUint64(height))
	})
	if err != nil {
		return 0, err
	}
	c.height.Store(height)
	return height, nil
}
