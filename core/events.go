package core

import "github.com/ethereum/go-ethereum/common"

const (
	EventVoterRegistered   = "governance.voter_registered"
	EventProposalSubmitted = "governance.proposal_submitted"
	EventProposalUpdated   = "governance.proposal_updated"
	EventProposalCanceled  = "governance.proposal_canceled"
	EventProposalEnded     = "governance.proposal_ended"
	EventVoteCasted        = "governance.vote_casted"
	EventVoteUpdated       = "governance.vote_updated"
	EventVoteCanceled      = "governance.vote_canceled"
	EventBalanceUnlocked   = "governance.balance_unlocked"
)

// Event is emitted once per successful mutating operation.
type Event interface {
	EventName() string
}

type VoterRegistered struct {
	Who AccountID
}

type ProposalSubmitted struct {
	ProposalID  ProposalID
	Who         AccountID
	Description common.Hash
	Deadline    uint64
}

type ProposalUpdated struct {
	ProposalID ProposalID
	Deadline   uint64
}

type ProposalCanceled struct {
	ProposalID ProposalID
}

type ProposalEnded struct {
	ProposalID ProposalID
	Status     ProposalStatus
	Ayes       uint32
	Nays       uint32
}

type VoteCasted struct {
	ProposalID ProposalID
	Who        AccountID
	Decision   Decision
}

type VoteUpdated struct {
	ProposalID ProposalID
	Who        AccountID
	Previous   Decision
	New        Decision
}

type VoteCanceled struct {
	ProposalID ProposalID
	Who        AccountID
}

type BalanceUnlocked struct {
	ProposalID ProposalID
	Who        AccountID
	Amount     Balance
}

func (VoterRegistered) EventName() string   { return EventVoterRegistered }
func (ProposalSubmitted) EventName() string { return EventProposalSubmitted }
func (ProposalUpdated) EventName() string   { return EventProposalUpdated }
func (ProposalCanceled) EventName() string  { return EventProposalCanceled }
func (ProposalEnded) EventName() string     { return EventProposalEnded }
func (VoteCasted) EventName() string        { return EventVoteCasted }
func (VoteUpdated) EventName() string       { return EventVoteUpdated }
func (VoteCanceled) EventName() string      { return EventVoteCanceled }
func (BalanceUnlocked) EventName() string   { return EventBalanceUnlocked }
