package core

import (
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/axiomesh/govledger/storage"
)

// proposals is the proposal store as seen from one transaction.
type proposals struct {
	txn storage.Txn
}

func (s proposals) get(id ProposalID) (*Proposal, error) {
	data, err := s.txn.Get(proposalKey(id))
	if err == storage.ErrNotFound {
		return nil, ErrProposalNotFound
	}
	if err != nil {
		return nil, err
	}
	p := &Proposal{}
	if err := rlp.DecodeBytes(data, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s proposals) exists(id ProposalID) (bool, error) {
	return s.txn.Has(proposalKey(id))
}

func (s proposals) put(p *Proposal) error {
	data, err := rlp.EncodeToBytes(p)
	if err != nil {
		return err
	}
	return s.txn.Put(proposalKey(p.ID), data)
}

func (s proposals) counter() (ProposalID, error) {
	data, err := s.txn.Get(proposalCounterKey)
	if err == storage.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeUint32(data), nil
}

// next allocates the id following the counter. The counter never wraps.
func (s proposals) next() (ProposalID, error) {
	counter, err := s.counter()
	if err != nil {
		return 0, err
	}
	if counter == ^ProposalID(0) {
		return 0, ErrProposalIDTooHigh
	}
	id := counter + 1
	if err := s.txn.Put(proposalCounterKey, encodeUint32(id)); err != nil {
		return 0, err
	}
	return id, nil
}

func (p *Proposal) addPoints(d Decision) error {
	switch d.Side {
	case Aye:
		sum := p.Ayes + d.Points
		if sum < p.Ayes {
			return ErrOverflow
		}
		p.Ayes = sum
	case Nay:
		sum := p.Nays + d.Points
		if sum < p.Nays {
			return ErrOverflow
		}
		p.Nays = sum
	default:
		return ErrInvalidVoteAmount
	}
	return nil
}

// removePoints takes back a live vote's contribution. Running below zero
// means the tally drifted from the vote records, which is reported rather
// than clamped.
func (p *Proposal) removePoints(d Decision) error {
	switch d.Side {
	case Aye:
		if p.Ayes < d.Points {
			return ErrOverflow
		}
		p.Ayes -= d.Points
	case Nay:
		if p.Nays < d.Points {
			return ErrOverflow
		}
		p.Nays -= d.Points
	default:
		return ErrInvalidVoteAmount
	}
	return nil
}
