package api

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/axiomesh/govledger/core"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	voters, err := s.engine.VoterCount(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	counter, err := s.engine.ProposalCounter(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &statusResponse{Now: s.engine.Now(), Voters: voters, ProposalCounter: counter})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	origin, err := s.origin(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	who, err := parseAddress(req.Address)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	if err := s.engine.Register(r.Context(), origin, who); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, &voterResponse{Address: who.Hex(), Registered: true})
}

func (s *Server) handleVoter(w http.ResponseWriter, r *http.Request) {
	who, err := addressParam(r)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	ok, err := s.engine.IsRegistered(r.Context(), who)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &voterResponse{Address: who.Hex(), Registered: ok})
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	origin, err := s.origin(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req proposeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	var description common.Hash
	switch {
	case req.DescriptionHash != "":
		raw, err := hexToHash(req.DescriptionHash)
		if err != nil {
			s.writeBadRequest(w, err)
			return
		}
		description = raw
	case req.Description != "":
		description = crypto.Keccak256Hash([]byte(req.Description))
	}

	id, err := s.engine.Propose(r.Context(), origin, description, req.Deadline)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, &proposeResponse{ID: id})
}

func (s *Server) handleProposals(w http.ResponseWriter, r *http.Request) {
	var from, limit uint64
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = strconv.ParseUint(v, 10, 32); err != nil {
			s.writeBadRequest(w, errors.Errorf("invalid from %q", v))
			return
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.ParseUint(v, 10, 16); err != nil {
			s.writeBadRequest(w, errors.Errorf("invalid limit %q", v))
			return
		}
	}
	list, err := s.engine.Proposals(r.Context(), core.ProposalID(from), int(limit))
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := make([]*proposalResponse, 0, len(list))
	for _, p := range list {
		resp = append(resp, newProposalResponse(p))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	id, err := proposalID(r)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	p, err := s.engine.Proposal(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := newProposalResponse(p)
	if p.Status == core.InProgress {
		passed, err := s.engine.PassedRemovalThreshold(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		resp.PassedRemovalThreshold = &passed
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	var req extendRequest
	s.proposalCall(w, r, &req, func(origin core.Origin, id core.ProposalID) error {
		return s.engine.Extend(r.Context(), origin, id, req.Deadline)
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.proposalCall(w, r, nil, func(origin core.Origin, id core.ProposalID) error {
		return s.engine.Cancel(r.Context(), origin, id)
	})
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	s.proposalCall(w, r, nil, func(origin core.Origin, id core.ProposalID) error {
		return s.engine.Finish(r.Context(), origin, id)
	})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	s.proposalCall(w, r, nil, func(origin core.Origin, id core.ProposalID) error {
		return s.engine.UnlockBalance(r.Context(), origin, id)
	})
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req decisionBody
	s.proposalCall(w, r, &req, func(origin core.Origin, id core.ProposalID) error {
		d, err := req.decision()
		if err != nil {
			return err
		}
		return s.engine.Vote(r.Context(), origin, id, d)
	})
}

func (s *Server) handleUpdateVote(w http.ResponseWriter, r *http.Request) {
	var req decisionBody
	s.proposalCall(w, r, &req, func(origin core.Origin, id core.ProposalID) error {
		d, err := req.decision()
		if err != nil {
			return err
		}
		return s.engine.UpdateVote(r.Context(), origin, id, d)
	})
}

func (s *Server) handleCancelVote(w http.ResponseWriter, r *http.Request) {
	s.proposalCall(w, r, nil, func(origin core.Origin, id core.ProposalID) error {
		return s.engine.CancelVote(r.Context(), origin, id)
	})
}

func (s *Server) handleVoteInfo(w http.ResponseWriter, r *http.Request) {
	id, err := proposalID(r)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	who, err := addressParam(r)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	v, err := s.engine.VoteInfo(r.Context(), who, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, &voteResponse{
		Voter:      who.Hex(),
		ProposalID: id,
		Decision:   newDecisionBody(v.Decision),
		Locked:     v.Locked,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	who, err := addressParam(r)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	acc, err := s.ledger.Account(r.Context(), who)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newBalanceResponse(who, acc))
}

// handleSetBalance credits test funds. Root only.
func (s *Server) handleSetBalance(w http.ResponseWriter, r *http.Request) {
	origin, err := s.origin(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !origin.IsRoot() {
		s.writeError(w, core.ErrBadOrigin)
		return
	}
	who, err := addressParam(r)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	var req balanceRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	if err := s.ledger.SetBalance(r.Context(), who, req.Free); err != nil {
		s.writeError(w, err)
		return
	}
	acc, err := s.ledger.Account(r.Context(), who)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newBalanceResponse(who, acc))
}

// proposalCall runs a mutating call on the proposal named in the path. body
// is decoded first when non-nil; a malformed request never reaches the
// engine.
func (s *Server) proposalCall(w http.ResponseWriter, r *http.Request, body any, call func(origin core.Origin, id core.ProposalID) error) {
	origin, err := s.origin(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := proposalID(r)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}
	if body != nil {
		if err := decodeBody(w, r, body); err != nil {
			s.writeBadRequest(w, err)
			return
		}
	}
	if err := call(origin, id); err != nil {
		var invalid badRequest
		if errors.As(err, &invalid) {
			s.writeBadRequest(w, err)
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"id": id, "ok": true})
}

func hexToHash(s string) (common.Hash, error) {
	raw := common.FromHex(s)
	if len(raw) != common.HashLength {
		return common.Hash{}, errors.Errorf("description hash must be %d bytes", common.HashLength)
	}
	return common.BytesToHash(raw), nil
}
