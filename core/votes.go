package core

import (
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/axiomesh/govledger/storage"
)

// votes is the vote ledger as seen from one transaction, keyed by
// (voter, proposal).
type votes struct {
	txn storage.Txn
}

func (s votes) get(who AccountID, id ProposalID) (*Vote, error) {
	data, err := s.txn.Get(voteKey(who, id))
	if err == storage.ErrNotFound {
		return nil, ErrVoteNotFound
	}
	if err != nil {
		return nil, err
	}
	v := &Vote{}
	if err := rlp.DecodeBytes(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s votes) has(who AccountID, id ProposalID) (bool, error) {
	return s.txn.Has(voteKey(who, id))
}

func (s votes) put(who AccountID, id ProposalID, v *Vote) error {
	data, err := rlp.EncodeToBytes(v)
	if err != nil {
		return err
	}
	return s.txn.Put(voteKey(who, id), data)
}

func (s votes) remove(who AccountID, id ProposalID) error {
	return s.txn.Delete(voteKey(who, id))
}

// checkPoints validates the magnitude of a fresh or updated decision.
// zeroErr differs between casting and updating.
func checkPoints(d Decision, limit uint32, zeroErr error) error {
	if d.Side != Aye && d.Side != Nay {
		return ErrInvalidVoteAmount
	}
	if d.Points == 0 {
		return zeroErr
	}
	if d.Points > limit {
		return ErrVoteAmountLimit
	}
	return nil
}
