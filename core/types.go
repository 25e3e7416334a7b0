package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type (
	AccountID  = common.Address
	ProposalID = uint32
	Balance    = uint64
)

type ProposalStatus uint8

const (
	InProgress ProposalStatus = iota
	Canceled
	Passed
	Rejected
	Tied
)

func (s ProposalStatus) String() string {
	switch s {
	case InProgress:
		return "InProgress"
	case Canceled:
		return "Canceled"
	case Passed:
		return "Passed"
	case Rejected:
		return "Rejected"
	case Tied:
		return "Tied"
	default:
		return fmt.Sprintf("ProposalStatus(%d)", uint8(s))
	}
}

// Ended reports whether the status is terminal.
func (s ProposalStatus) Ended() bool {
	return s != InProgress
}

type Proposal struct {
	ID          ProposalID
	Proposer    AccountID
	Description common.Hash
	// Deadline is the last ordinal time value at which the proposal is open
	Deadline uint64
	Status   ProposalStatus
	Ayes     uint32
	Nays     uint32
}

func NewProposal(id ProposalID, proposer AccountID, description common.Hash, deadline uint64) *Proposal {
	return &Proposal{
		ID:          id,
		Proposer:    proposer,
		Description: description,
		Deadline:    deadline,
		Status:      InProgress,
	}
}

// Result settles the outcome from the current tallies.
func (p *Proposal) Result() ProposalStatus {
	switch {
	case p.Ayes > p.Nays:
		return Passed
	case p.Ayes < p.Nays:
		return Rejected
	default:
		return Tied
	}
}

type Side uint8

const (
	Aye Side = iota + 1
	Nay
)

func (s Side) String() string {
	switch s {
	case Aye:
		return "Aye"
	case Nay:
		return "Nay"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

// Decision is the tagged vote variant Aye(n) or Nay(n).
type Decision struct {
	Side   Side
	Points uint32
}

func AyeVote(points uint32) Decision {
	return Decision{Side: Aye, Points: points}
}

func NayVote(points uint32) Decision {
	return Decision{Side: Nay, Points: points}
}

func (d Decision) String() string {
	return fmt.Sprintf("%s(%d)", d.Side, d.Points)
}

// Cost is the collateral locked for holding the decision: points squared.
func (d Decision) Cost() (Balance, error) {
	return quadraticCost(d.Points)
}

type Vote struct {
	Decision Decision
	Locked   bool
}

func quadraticCost(points uint32) (Balance, error) {
	sq := uint64(points) * uint64(points)
	if sq > uint64(^uint32(0)) {
		return 0, ErrOverflow
	}
	return sq, nil
}
