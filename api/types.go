package api

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/axiomesh/govledger/balances"
	"github.com/axiomesh/govledger/core"
)

// badRequest marks a malformed request detected after the body was read.
type badRequest struct {
	error
}

type errorResponse struct {
	Code  uint32 `json:"code,omitempty"`
	Name  string `json:"name,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error"`
}

type registerRequest struct {
	Address string `json:"address"`
}

type voterResponse struct {
	Address    string `json:"address"`
	Registered bool   `json:"registered"`
}

type proposeRequest struct {
	// DescriptionHash is a 32 byte hex hash; Description is hashed with
	// keccak256 when no hash is given.
	DescriptionHash string `json:"description_hash,omitempty"`
	Description     string `json:"description,omitempty"`
	Deadline        uint64 `json:"deadline"`
}

type proposeResponse struct {
	ID core.ProposalID `json:"id"`
}

type extendRequest struct {
	Deadline uint64 `json:"deadline"`
}

type decisionBody struct {
	Side   string `json:"side"`
	Points uint32 `json:"points"`
}

type proposalResponse struct {
	ID              core.ProposalID `json:"id"`
	Proposer        string          `json:"proposer"`
	DescriptionHash string          `json:"description_hash"`
	Deadline        uint64          `json:"deadline"`
	Status          string          `json:"status"`
	Ayes            uint32          `json:"ayes"`
	Nays            uint32          `json:"nays"`
	// PassedRemovalThreshold is set while the proposal is open
	PassedRemovalThreshold *bool `json:"passed_removal_threshold,omitempty"`
}

type voteResponse struct {
	Voter      string          `json:"voter"`
	ProposalID core.ProposalID `json:"proposal_id"`
	Decision   decisionBody    `json:"decision"`
	Locked     bool            `json:"locked"`
}

type balanceRequest struct {
	Free uint64 `json:"free"`
}

type balanceResponse struct {
	Address  string `json:"address"`
	Free     uint64 `json:"free"`
	Reserved uint64 `json:"reserved"`
}

type statusResponse struct {
	Now             uint64          `json:"now"`
	Voters          uint32          `json:"voters"`
	ProposalCounter core.ProposalID `json:"proposal_counter"`
}

func newProposalResponse(p *core.Proposal) *proposalResponse {
	return &proposalResponse{
		ID:              p.ID,
		Proposer:        p.Proposer.Hex(),
		DescriptionHash: p.Description.Hex(),
		Deadline:        p.Deadline,
		Status:          p.Status.String(),
		Ayes:            p.Ayes,
		Nays:            p.Nays,
	}
}

func newDecisionBody(d core.Decision) decisionBody {
	return decisionBody{Side: strings.ToLower(d.Side.String()), Points: d.Points}
}

func newBalanceResponse(who core.AccountID, acc *balances.Account) *balanceResponse {
	return &balanceResponse{Address: who.Hex(), Free: acc.Free, Reserved: acc.Reserved}
}

func (d decisionBody) decision() (core.Decision, error) {
	switch strings.ToLower(d.Side) {
	case "aye":
		return core.AyeVote(d.Points), nil
	case "nay":
		return core.NayVote(d.Points), nil
	default:
		return core.Decision{}, badRequest{errors.Errorf("unknown side %q, want aye or nay", d.Side)}
	}
}

func parseAddress(s string) (core.AccountID, error) {
	if !common.IsHexAddress(s) {
		return core.AccountID{}, errors.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
