package core

import "context"

// Currency is the external balance ledger that locks and releases collateral.
type Currency interface {
	// Reserve moves amount from free to reserved, failing with
	// ErrInsufficientBalance when the free balance is too low.
	Reserve(ctx context.Context, who AccountID, amount Balance) error
	// Unreserve releases up to amount and returns the part that could not be
	// released.
	Unreserve(ctx context.Context, who AccountID, amount Balance) Balance
}

// Clock is the monotonic ordinal time oracle. It is read once per operation.
type Clock interface {
	Now() uint64
}

type EventSink interface {
	Emit(evt Event)
}

type EventSinkFunc func(evt Event)

func (f EventSinkFunc) Emit(evt Event) {
	f(evt)
}

type nopSink struct{}

func (nopSink) Emit(Event) {}
