package core

import (
	"context"
	"sync"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/govledger/storage"
)

type Config struct {
	// MaxVoters bounds the voter registry
	MaxVoters uint32
	// VoteLimit is the largest number of points a single vote may carry
	VoteLimit uint32
	// VoteRemovalThreshold is the trailing window before a deadline during
	// which votes can no longer be reduced or canceled
	VoteRemovalThreshold uint64
}

// Engine is the entry point of every governance operation. Operations are
// serialized; each one reads the clock once and either applies all of its
// effects or none.
type Engine struct {
	mu sync.Mutex

	db       storage.Store
	currency Currency
	clock    Clock
	events   EventSink
	config   Config
	logger   logrus.FieldLogger
	metrics  *engineMetrics
}

type Option func(*Engine)

func WithEventSink(sink EventSink) Option {
	return func(e *Engine) {
		e.events = sink
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.metrics = newEngineMetrics(reg)
	}
}

func NewEngine(db storage.Store, currency Currency, clock Clock, config Config, opts ...Option) *Engine {
	e := &Engine{
		db:       db,
		currency: currency,
		clock:    clock,
		events:   nopSink{},
		config:   config,
		logger:   log.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config {
	return e.config
}

// Register admits who into the voter registry. Root only.
func (e *Engine) Register(ctx context.Context, origin Origin, who AccountID) error {
	return e.execute(ctx, "register", func(op *operation) error {
		if err := origin.ensureRoot(); err != nil {
			return err
		}
		reg := op.registry()
		ok, err := reg.contains(who)
		if err != nil {
			return err
		}
		if ok {
			return ErrAlreadyRegistered
		}
		count, err := reg.count()
		if err != nil {
			return err
		}
		if count >= e.config.MaxVoters {
			return ErrMaxVotersLimitReached
		}
		if err := reg.insert(who, count); err != nil {
			return err
		}

		op.info(logrus.Fields{"who": who}, "voter registered")
		op.emit(VoterRegistered{Who: who})
		return nil
	})
}

// Propose creates a proposal open until deadline and returns its id.
func (e *Engine) Propose(ctx context.Context, origin Origin, description common.Hash, deadline uint64) (ProposalID, error) {
	var id ProposalID
	err := e.execute(ctx, "propose", func(op *operation) error {
		who, err := origin.ensureSigned()
		if err != nil {
			return err
		}
		if err := op.registry().ensureRegistered(who); err != nil {
			return err
		}
		if deadline <= op.now {
			return ErrTimePeriodTooLow
		}
		props := op.proposals()
		id, err = props.next()
		if err != nil {
			return err
		}
		if err := props.put(NewProposal(id, who, description, deadline)); err != nil {
			return err
		}

		op.info(logrus.Fields{"id": id, "proposer": who, "deadline": deadline}, "proposal submitted")
		op.emit(ProposalSubmitted{ProposalID: id, Who: who, Description: description, Deadline: deadline})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Extend moves the deadline of a proposal further out. Only the proposer may
// extend. The proposal status is not checked.
func (e *Engine) Extend(ctx context.Context, origin Origin, id ProposalID, deadline uint64) error {
	return e.execute(ctx, "extend", func(op *operation) error {
		who, err := origin.ensureSigned()
		if err != nil {
			return err
		}
		if err := op.registry().ensureRegistered(who); err != nil {
			return err
		}
		props := op.proposals()
		p, err := props.get(id)
		if err != nil {
			return err
		}
		if p.Proposer != who {
			return ErrUnauthorized
		}
		if deadline <= p.Deadline || deadline <= op.now {
			return ErrTimePeriodTooLow
		}
		p.Deadline = deadline
		if err := props.put(p); err != nil {
			return err
		}

		op.info(logrus.Fields{"id": id, "deadline": deadline}, "proposal extended")
		op.emit(ProposalUpdated{ProposalID: id, Deadline: deadline})
		return nil
	})
}

// Cancel withdraws an open proposal before its deadline. Votes keep their
// reservations until unlocked.
func (e *Engine) Cancel(ctx context.Context, origin Origin, id ProposalID) error {
	return e.execute(ctx, "cancel", func(op *operation) error {
		who, err := origin.ensureSigned()
		if err != nil {
			return err
		}
		props := op.proposals()
		p, err := props.get(id)
		if err != nil {
			return err
		}
		if p.Proposer != who {
			return ErrUnauthorized
		}
		if p.Status != InProgress {
			return ErrProposalAlreadyEnded
		}
		if p.Deadline <= op.now {
			return ErrTimePeriodTooLow
		}
		p.Status = Canceled
		if err := props.put(p); err != nil {
			return err
		}

		op.info(logrus.Fields{"id": id}, "proposal canceled")
		op.emit(ProposalCanceled{ProposalID: id})
		return nil
	})
}

// Finish settles a proposal whose deadline has passed. Any registered voter
// may call it, once.
func (e *Engine) Finish(ctx context.Context, origin Origin, id ProposalID) error {
	return e.execute(ctx, "finish", func(op *operation) error {
		who, err := origin.ensureSigned()
		if err != nil {
			return err
		}
		if err := op.registry().ensureRegistered(who); err != nil {
			return err
		}
		props := op.proposals()
		p, err := props.get(id)
		if err != nil {
			return err
		}
		if p.Deadline >= op.now || p.Status != InProgress {
			return ErrProposalAlreadyEnded
		}
		p.Status = p.Result()
		if err := props.put(p); err != nil {
			return err
		}

		op.info(logrus.Fields{"id": id, "status": p.Status, "ayes": p.Ayes, "nays": p.Nays}, "proposal ended")
		op.emit(ProposalEnded{ProposalID: id, Status: p.Status, Ayes: p.Ayes, Nays: p.Nays})
		return nil
	})
}

// Vote casts a new vote and locks points² of the voter's balance.
func (e *Engine) Vote(ctx context.Context, origin Origin, id ProposalID, decision Decision) error {
	return e.execute(ctx, "vote", func(op *operation) error {
		who, err := origin.ensureSigned()
		if err != nil {
			return err
		}
		if err := op.registry().ensureRegistered(who); err != nil {
			return err
		}
		props := op.proposals()
		p, err := props.get(id)
		if err != nil {
			return err
		}
		if p.Deadline <= op.now || p.Status != InProgress {
			return ErrProposalAlreadyEnded
		}
		ledger := op.votes()
		cast, err := ledger.has(who, id)
		if err != nil {
			return err
		}
		if cast {
			return ErrVoteAlreadyCasted
		}
		if err := checkPoints(decision, e.config.VoteLimit, ErrInvalidVoteAmount); err != nil {
			return err
		}
		cost, err := decision.Cost()
		if err != nil {
			return err
		}
		if err := p.addPoints(decision); err != nil {
			return err
		}
		if err := op.reserve(who, cost); err != nil {
			return err
		}
		if err := ledger.put(who, id, &Vote{Decision: decision, Locked: true}); err != nil {
			return err
		}
		if err := props.put(p); err != nil {
			return err
		}

		op.info(logrus.Fields{"id": id, "voter": who, "decision": decision}, "vote casted")
		op.emit(VoteCasted{ProposalID: id, Who: who, Decision: decision})
		return nil
	})
}

// UpdateVote replaces an existing vote. Inside the removal window the
// magnitude may grow but not shrink.
func (e *Engine) UpdateVote(ctx context.Context, origin Origin, id ProposalID, decision Decision) error {
	return e.execute(ctx, "update_vote", func(op *operation) error {
		who, err := origin.ensureSigned()
		if err != nil {
			return err
		}
		if err := op.registry().ensureRegistered(who); err != nil {
			return err
		}
		props := op.proposals()
		p, err := props.get(id)
		if err != nil {
			return err
		}
		if p.Deadline <= op.now || p.Status != InProgress {
			return ErrProposalAlreadyEnded
		}
		ledger := op.votes()
		current, err := ledger.get(who, id)
		if err != nil {
			return err
		}
		previous := current.Decision
		if decision.Points < previous.Points && e.passedThreshold(p.Deadline, op.now) {
			return ErrPassedRemovalThreshold
		}
		if err := checkPoints(decision, e.config.VoteLimit, ErrInvalidUpdateAmount); err != nil {
			return err
		}
		oldCost, err := previous.Cost()
		if err != nil {
			return err
		}
		newCost, err := decision.Cost()
		if err != nil {
			return err
		}
		if err := p.removePoints(previous); err != nil {
			return err
		}
		if err := p.addPoints(decision); err != nil {
			return err
		}
		switch {
		case newCost > oldCost:
			if err := op.reserve(who, newCost-oldCost); err != nil {
				return err
			}
		case newCost < oldCost:
			op.unreserve(who, oldCost-newCost)
		}
		if err := ledger.put(who, id, &Vote{Decision: decision, Locked: true}); err != nil {
			return err
		}
		if err := props.put(p); err != nil {
			return err
		}

		op.info(logrus.Fields{"id": id, "voter": who, "previous": previous, "new": decision}, "vote updated")
		op.emit(VoteUpdated{ProposalID: id, Who: who, Previous: previous, New: decision})
		return nil
	})
}

// CancelVote removes a vote and releases its collateral. It is refused once
// the removal window has been entered.
func (e *Engine) CancelVote(ctx context.Context, origin Origin, id ProposalID) error {
	return e.execute(ctx, "cancel_vote", func(op *operation) error {
		who, err := origin.ensureSigned()
		if err != nil {
			return err
		}
		props := op.proposals()
		p, err := props.get(id)
		if err != nil {
			return err
		}
		ledger := op.votes()
		v, err := ledger.get(who, id)
		if err != nil {
			return err
		}
		if p.Deadline < op.now || p.Status != InProgress {
			return ErrProposalAlreadyEnded
		}
		if e.passedThreshold(p.Deadline, op.now) {
			return ErrPassedRemovalThreshold
		}
		cost, err := v.Decision.Cost()
		if err != nil {
			return err
		}
		if err := p.removePoints(v.Decision); err != nil {
			return err
		}
		if err := ledger.remove(who, id); err != nil {
			return err
		}
		if err := props.put(p); err != nil {
			return err
		}
		op.unreserve(who, cost)

		op.info(logrus.Fields{"id": id, "voter": who}, "vote canceled")
		op.emit(VoteCanceled{ProposalID: id, Who: who})
		return nil
	})
}

// UnlockBalance releases the collateral of a vote once its proposal has left
// InProgress. Each vote is unlocked at most once.
func (e *Engine) UnlockBalance(ctx context.Context, origin Origin, id ProposalID) error {
	return e.execute(ctx, "unlock_balance", func(op *operation) error {
		who, err := origin.ensureSigned()
		if err != nil {
			return err
		}
		p, err := op.proposals().get(id)
		if err != nil {
			return err
		}
		if p.Status == InProgress {
			return ErrProposalInProgress
		}
		ledger := op.votes()
		v, err := ledger.get(who, id)
		if err != nil {
			return err
		}
		if !v.Locked {
			return ErrBalanceAlreadyUnlocked
		}
		cost, err := v.Decision.Cost()
		if err != nil {
			return err
		}
		v.Locked = false
		if err := ledger.put(who, id, v); err != nil {
			return err
		}
		op.unreserve(who, cost)

		op.info(logrus.Fields{"id": id, "voter": who, "amount": cost}, "balance unlocked")
		op.emit(BalanceUnlocked{ProposalID: id, Who: who, Amount: cost})
		return nil
	})
}

// passedThreshold reports whether now lies inside the removal window of a
// proposal ending at deadline. A deadline already behind now counts as
// passed.
func (e *Engine) passedThreshold(deadline, now uint64) bool {
	if deadline < now {
		return true
	}
	return deadline-now < e.config.VoteRemovalThreshold
}
