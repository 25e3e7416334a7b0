package core

import (
	"github.com/axiomesh/govledger/storage"
)

// registry is the voter registry as seen from one transaction.
type registry struct {
	txn storage.Txn
}

func (r registry) contains(who AccountID) (bool, error) {
	return r.txn.Has(voterKey(who))
}

func (r registry) count() (uint32, error) {
	data, err := r.txn.Get(voterCountKey)
	if err == storage.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeUint32(data), nil
}

// insert adds who and bumps the member count, saturating at the u32 limit.
func (r registry) insert(who AccountID, count uint32) error {
	if err := r.txn.Put(voterKey(who), []byte{1}); err != nil {
		return err
	}
	if count < ^uint32(0) {
		count++
	}
	return r.txn.Put(voterCountKey, encodeUint32(count))
}

// ensureRegistered fails with ErrVoterIsNotRegistered for unknown accounts.
func (r registry) ensureRegistered(who AccountID) error {
	ok, err := r.contains(who)
	if err != nil {
		return err
	}
	if !ok {
		return ErrVoterIsNotRegistered
	}
	return nil
}
