package core

import "fmt"

type ErrorKind uint8

const (
	KindAuthorization ErrorKind = iota + 1
	KindNotFound
	KindRegistration
	KindAmount
	KindTiming
	KindCollateral
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not-found"
	case KindRegistration:
		return "registration"
	case KindAmount:
		return "amount"
	case KindTiming:
		return "timing"
	case KindCollateral:
		return "collateral"
	default:
		return "unknown"
	}
}

// Error is a rejection detected by a precondition check. Every rejection is
// reported before any state is touched.
type Error struct {
	code uint32
	kind ErrorKind
	name string
	msg  string
}

func newError(code uint32, kind ErrorKind, name, msg string) *Error {
	return &Error{code: code, kind: kind, name: name, msg: msg}
}

func (e *Error) Code() uint32    { return e.code }
func (e *Error) Kind() ErrorKind { return e.kind }
func (e *Error) Name() string    { return e.name }

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.name, e.msg)
}

const (
	ErrCodeBadOrigin uint32 = 100 + iota
	ErrCodeUnauthorized
)

const (
	ErrCodeProposalNotFound uint32 = 200 + iota
	ErrCodeVoteNotFound
)

const (
	ErrCodeAlreadyRegistered uint32 = 300 + iota
	ErrCodeVoterIsNotRegistered
	ErrCodeMaxVotersLimitReached
)

const (
	ErrCodeInvalidVoteAmount uint32 = 400 + iota
	ErrCodeInvalidUpdateAmount
	ErrCodeVoteAmountLimit
	ErrCodeOverflow
)

const (
	ErrCodeTimePeriodTooLow uint32 = 500 + iota
	ErrCodeProposalAlreadyEnded
	ErrCodeProposalInProgress
	ErrCodePassedRemovalThreshold
	ErrCodeProposalIDTooHigh
)

const (
	ErrCodeVoteAlreadyCasted uint32 = 600 + iota
	ErrCodeBalanceAlreadyUnlocked
	ErrCodeInsufficientBalance
)

var (
	ErrBadOrigin    = newError(ErrCodeBadOrigin, KindAuthorization, "BadOrigin", "origin is not allowed to dispatch this call")
	ErrUnauthorized = newError(ErrCodeUnauthorized, KindAuthorization, "Unauthorized", "caller lacks permission for this proposal")

	ErrProposalNotFound = newError(ErrCodeProposalNotFound, KindNotFound, "ProposalNotFound", "proposal does not exist")
	ErrVoteNotFound     = newError(ErrCodeVoteNotFound, KindNotFound, "VoteNotFound", "no vote for voter and proposal")

	ErrAlreadyRegistered     = newError(ErrCodeAlreadyRegistered, KindRegistration, "AlreadyRegistered", "voter already registered")
	ErrVoterIsNotRegistered  = newError(ErrCodeVoterIsNotRegistered, KindRegistration, "VoterIsNotRegistered", "voter is not registered")
	ErrMaxVotersLimitReached = newError(ErrCodeMaxVotersLimitReached, KindRegistration, "MaxVotersLimitReached", "maximum registered voters reached")

	ErrInvalidVoteAmount   = newError(ErrCodeInvalidVoteAmount, KindAmount, "InvalidVoteAmount", "vote amount must be greater than zero")
	ErrInvalidUpdateAmount = newError(ErrCodeInvalidUpdateAmount, KindAmount, "InvalidUpdateAmount", "updated vote amount must be greater than zero")
	ErrVoteAmountLimit     = newError(ErrCodeVoteAmountLimit, KindAmount, "VoteAmountLimit", "vote amount exceeds the vote limit")
	ErrOverflow            = newError(ErrCodeOverflow, KindAmount, "Overflow", "arithmetic overflow")

	ErrTimePeriodTooLow       = newError(ErrCodeTimePeriodTooLow, KindTiming, "TimePeriodTooLow", "time period must be later than the current one")
	ErrProposalAlreadyEnded   = newError(ErrCodeProposalAlreadyEnded, KindTiming, "ProposalAlreadyEnded", "proposal has already ended")
	ErrProposalInProgress     = newError(ErrCodeProposalInProgress, KindTiming, "ProposalInProgress", "proposal is still in progress")
	ErrPassedRemovalThreshold = newError(ErrCodePassedRemovalThreshold, KindTiming, "PassedRemovalThreshold", "votes can no longer be reduced or canceled")
	ErrProposalIDTooHigh      = newError(ErrCodeProposalIDTooHigh, KindTiming, "ProposalIdTooHigh", "proposal counter reached its limit")

	ErrVoteAlreadyCasted      = newError(ErrCodeVoteAlreadyCasted, KindCollateral, "VoteAlreadyCasted", "vote already cast for this proposal")
	ErrBalanceAlreadyUnlocked = newError(ErrCodeBalanceAlreadyUnlocked, KindCollateral, "BalanceAlreadyUnlocked", "balance for this vote was already released")
	ErrInsufficientBalance    = newError(ErrCodeInsufficientBalance, KindCollateral, "InsufficientBalance", "free balance too low to reserve")
)
