package event

import (
	"github.com/axiomesh/govledger/core"
)

var _ core.EventSink = (*GovernanceSink)(nil)

// GovernanceTypes lists the event types emitted by the governance engine.
var GovernanceTypes = []EventType{
	core.EventVoterRegistered,
	core.EventProposalSubmitted,
	core.EventProposalUpdated,
	core.EventProposalCanceled,
	core.EventProposalEnded,
	core.EventVoteCasted,
	core.EventVoteUpdated,
	core.EventVoteCanceled,
	core.EventBalanceUnlocked,
}

// GovernanceSink publishes engine events on the bus without blocking the
// engine.
type GovernanceSink struct {
	bus *Bus
}

func NewGovernanceSink(bus *Bus) *GovernanceSink {
	return &GovernanceSink{bus: bus}
}

func (s *GovernanceSink) Emit(evt core.Event) {
	eventType := EventType(evt.EventName())
	s.bus.PublishAsync(eventType, NewEvent(eventType, evt))
}

// SubscribeGovernance registers handler for every governance event type and
// returns a function dropping all of those subscriptions.
func (b *Bus) SubscribeGovernance(handler HandlerFunc) func() {
	ids := make(map[EventType]SubscriberID, len(GovernanceTypes))
	for _, t := range GovernanceTypes {
		ids[t] = b.SubscribeFunc(t, handler)
	}
	return func() {
		for t, id := range ids {
			b.Unsubscribe(t, id)
		}
	}
}
