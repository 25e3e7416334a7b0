package core

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/axiomesh/govledger/storage"
)

type logEntry struct {
	fields logrus.Fields
	msg    string
}

type reservation struct {
	who    AccountID
	amount Balance
}

// operation carries one engine call through its transaction. Reservations
// are taken immediately and undone if the transaction does not commit;
// releases, success logs and events wait for the commit.
type operation struct {
	ctx      context.Context
	txn      storage.Txn
	now      uint64
	currency Currency

	reserved []reservation
	releases []reservation
	events   []Event
	logs     []logEntry
}

func (op *operation) registry() registry   { return registry{txn: op.txn} }
func (op *operation) proposals() proposals { return proposals{txn: op.txn} }
func (op *operation) votes() votes         { return votes{txn: op.txn} }

func (op *operation) reserve(who AccountID, amount Balance) error {
	if amount == 0 {
		return nil
	}
	if err := op.currency.Reserve(op.ctx, who, amount); err != nil {
		return err
	}
	op.reserved = append(op.reserved, reservation{who: who, amount: amount})
	return nil
}

func (op *operation) unreserve(who AccountID, amount Balance) {
	if amount == 0 {
		return
	}
	op.releases = append(op.releases, reservation{who: who, amount: amount})
}

func (op *operation) emit(evt Event) {
	op.events = append(op.events, evt)
}

// info queues a success log line, written once the operation commits.
func (op *operation) info(fields logrus.Fields, msg string) {
	op.logs = append(op.logs, logEntry{fields: fields, msg: msg})
}

// execute runs fn as one serialized, all-or-nothing operation.
func (e *Engine) execute(ctx context.Context, name string, fn func(op *operation) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := &operation{
		ctx:      ctx,
		now:      e.clock.Now(),
		currency: e.currency,
	}
	err := e.db.Update(ctx, func(txn storage.Txn) error {
		op.txn = txn
		return fn(op)
	})
	e.metrics.observe(name, err)
	if err != nil {
		for _, r := range op.reserved {
			if left := e.currency.Unreserve(ctx, r.who, r.amount); left != 0 {
				e.logger.WithFields(logrus.Fields{"who": r.who, "amount": left}).
					Error("failed to return reservation of rejected operation")
			}
		}
		e.logger.WithFields(logrus.Fields{"op": name, "now": op.now}).Debugf("operation rejected: %s", err)
		return err
	}

	for _, r := range op.releases {
		if left := e.currency.Unreserve(ctx, r.who, r.amount); left != 0 {
			e.logger.WithFields(logrus.Fields{"who": r.who, "amount": r.amount, "left": left}).
				Warn("collateral only partially released")
		}
	}
	for _, l := range op.logs {
		e.logger.WithFields(l.fields).Info(l.msg)
	}
	for _, evt := range op.events {
		e.events.Emit(evt)
	}
	return nil
}
