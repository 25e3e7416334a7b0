package balances

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/govledger/core"
	"github.com/axiomesh/govledger/storage"
)

const prefixBalance byte = 0x10

var _ core.Currency = (*Ledger)(nil)

// Account is the persisted balance record of one account.
type Account struct {
	Free     uint64
	Reserved uint64
}

// Ledger keeps free and reserved balances in the shared store.
type Ledger struct {
	mu     sync.Mutex
	db     storage.Store
	logger logrus.FieldLogger
}

func New(db storage.Store, logger logrus.FieldLogger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

func balanceKey(who core.AccountID) []byte {
	return append([]byte{prefixBalance}, who.Bytes()...)
}

func load(txn storage.Txn, who core.AccountID) (*Account, error) {
	acc := &Account{}
	data, err := txn.Get(balanceKey(who))
	if err == storage.ErrNotFound {
		return acc, nil
	}
	if err != nil {
		return nil, err
	}
	if err := rlp.DecodeBytes(data, acc); err != nil {
		return nil, errors.Wrapf(err, "decode balance of %s", who)
	}
	return acc, nil
}

func save(txn storage.Txn, who core.AccountID, acc *Account) error {
	data, err := rlp.EncodeToBytes(acc)
	if err != nil {
		return err
	}
	return txn.Put(balanceKey(who), data)
}

func (l *Ledger) Account(ctx context.Context, who core.AccountID) (*Account, error) {
	var acc *Account
	err := l.db.View(ctx, func(txn storage.Txn) (err error) {
		acc, err = load(txn, who)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (l *Ledger) Free(ctx context.Context, who core.AccountID) (core.Balance, error) {
	acc, err := l.Account(ctx, who)
	if err != nil {
		return 0, err
	}
	return acc.Free, nil
}

func (l *Ledger) Reserved(ctx context.Context, who core.AccountID) (core.Balance, error) {
	acc, err := l.Account(ctx, who)
	if err != nil {
		return 0, err
	}
	return acc.Reserved, nil
}

// SetBalance overwrites the free balance of who. Reserved funds are kept.
func (l *Ledger) SetBalance(ctx context.Context, who core.AccountID, free core.Balance) error {
	return l.modify(ctx, who, func(acc *Account) error {
		acc.Free = free
		return nil
	})
}

// Reserve moves amount from free to reserved.
func (l *Ledger) Reserve(ctx context.Context, who core.AccountID, amount core.Balance) error {
	return l.modify(ctx, who, func(acc *Account) error {
		if acc.Free < amount {
			return core.ErrInsufficientBalance
		}
		if acc.Reserved+amount < acc.Reserved {
			return core.ErrOverflow
		}
		acc.Free -= amount
		acc.Reserved += amount
		return nil
	})
}

// Unreserve moves up to amount from reserved back to free and returns the
// part that could not be released.
func (l *Ledger) Unreserve(ctx context.Context, who core.AccountID, amount core.Balance) core.Balance {
	left := amount
	err := l.modify(ctx, who, func(acc *Account) error {
		actual := min(amount, acc.Reserved)
		if acc.Free+actual < acc.Free {
			return core.ErrOverflow
		}
		acc.Reserved -= actual
		acc.Free += actual
		left = amount - actual
		return nil
	})
	if err != nil {
		l.logger.WithFields(logrus.Fields{"who": who, "amount": amount}).Errorf("unreserve: %s", err)
		return amount
	}
	return left
}

func (l *Ledger) modify(ctx context.Context, who core.AccountID, fn func(acc *Account) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.db.Update(ctx, func(txn storage.Txn) error {
		acc, err := load(txn, who)
		if err != nil {
			return err
		}
		if err := fn(acc); err != nil {
			return err
		}
		return save(txn, who, acc)
	})
}
