package core

import (
	"context"

	"github.com/axiomesh/govledger/storage"
)

func (e *Engine) view(ctx context.Context, fn func(txn storage.Txn) error) error {
	return e.db.View(ctx, fn)
}

func (e *Engine) IsRegistered(ctx context.Context, who AccountID) (bool, error) {
	var ok bool
	err := e.view(ctx, func(txn storage.Txn) (err error) {
		ok, err = registry{txn: txn}.contains(who)
		return err
	})
	return ok, err
}

func (e *Engine) VoterCount(ctx context.Context) (uint32, error) {
	var count uint32
	err := e.view(ctx, func(txn storage.Txn) (err error) {
		count, err = registry{txn: txn}.count()
		return err
	})
	return count, err
}

func (e *Engine) ProposalExists(ctx context.Context, id ProposalID) (bool, error) {
	var ok bool
	err := e.view(ctx, func(txn storage.Txn) (err error) {
		ok, err = proposals{txn: txn}.exists(id)
		return err
	})
	return ok, err
}

// ProposalCounter returns the id of the most recently submitted proposal.
func (e *Engine) ProposalCounter(ctx context.Context) (ProposalID, error) {
	var counter ProposalID
	err := e.view(ctx, func(txn storage.Txn) (err error) {
		counter, err = proposals{txn: txn}.counter()
		return err
	})
	return counter, err
}

func (e *Engine) Proposal(ctx context.Context, id ProposalID) (*Proposal, error) {
	var p *Proposal
	err := e.view(ctx, func(txn storage.Txn) (err error) {
		p, err = proposals{txn: txn}.get(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Proposals lists up to limit proposals starting at id from, in id order.
// A zero limit lists everything after from.
func (e *Engine) Proposals(ctx context.Context, from ProposalID, limit int) ([]*Proposal, error) {
	if from == 0 {
		from = 1
	}
	var list []*Proposal
	err := e.view(ctx, func(txn storage.Txn) error {
		store := proposals{txn: txn}
		counter, err := store.counter()
		if err != nil {
			return err
		}
		for id := uint64(from); id <= uint64(counter); id++ {
			if limit > 0 && len(list) >= limit {
				break
			}
			p, err := store.get(ProposalID(id))
			if err == ErrProposalNotFound {
				continue
			}
			if err != nil {
				return err
			}
			list = append(list, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// VoteCasted reports whether who holds a vote on proposal id.
func (e *Engine) VoteCasted(ctx context.Context, who AccountID, id ProposalID) (bool, error) {
	var ok bool
	err := e.view(ctx, func(txn storage.Txn) (err error) {
		ok, err = votes{txn: txn}.has(who, id)
		return err
	})
	return ok, err
}

// VoteInfo returns the vote who holds on proposal id.
func (e *Engine) VoteInfo(ctx context.Context, who AccountID, id ProposalID) (*Vote, error) {
	var v *Vote
	err := e.view(ctx, func(txn storage.Txn) (err error) {
		v, err = votes{txn: txn}.get(who, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// PassedRemovalThreshold reports whether proposal id is inside its removal
// window at the current time.
func (e *Engine) PassedRemovalThreshold(ctx context.Context, id ProposalID) (bool, error) {
	p, err := e.Proposal(ctx, id)
	if err != nil {
		return false, err
	}
	return e.passedThreshold(p.Deadline, e.clock.Now()), nil
}

// Now is the time every operation would read if invoked at this moment.
func (e *Engine) Now() uint64 {
	return e.clock.Now()
}
