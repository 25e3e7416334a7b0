package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/govledger/balances"
	"github.com/axiomesh/govledger/core"
)

const (
	HeaderAccount = "X-Account"

	maxBodySize = 1 << 16
)

var errBadOrigin = errors.New("missing or invalid credentials")

type Config struct {
	Listen string
	// AdminToken authorizes root calls; root calls are refused when empty
	AdminToken string
}

// Server exposes the governance engine over JSON/HTTP.
type Server struct {
	engine *core.Engine
	ledger *balances.Ledger
	config Config
	logger logrus.FieldLogger

	handler  http.Handler
	srv      *http.Server
	listener net.Listener
}

func NewServer(engine *core.Engine, ledger *balances.Ledger, config Config, gatherer prometheus.Gatherer, logger logrus.FieldLogger) *Server {
	s := &Server{
		engine: engine,
		ledger: ledger,
		config: config,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Route("/voters", func(r chi.Router) {
		r.Post("/", s.handleRegister)
		r.Get("/{addr}", s.handleVoter)
	})
	r.Route("/proposals", func(r chi.Router) {
		r.Get("/", s.handleProposals)
		r.Post("/", s.handlePropose)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleProposal)
			r.Post("/extend", s.handleExtend)
			r.Post("/cancel", s.handleCancel)
			r.Post("/finish", s.handleFinish)
			r.Post("/unlock", s.handleUnlock)
			r.Post("/votes", s.handleVote)
			r.Put("/votes", s.handleUpdateVote)
			r.Delete("/votes", s.handleCancelVote)
			r.Get("/votes/{addr}", s.handleVoteInfo)
		})
	})
	r.Route("/balances/{addr}", func(r chi.Router) {
		r.Get("/", s.handleBalance)
		r.Put("/", s.handleSetBalance)
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.handler = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.config.Listen)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("api server: %s", err)
		}
	}()
	s.logger.Infof("api listening on %s", ln.Addr())
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"elapsed":    time.Since(start),
		}).Debug("api request")
	})
}

// origin resolves the caller: the admin bearer token is root, otherwise the
// X-Account header names the signing account.
func (s *Server) origin(r *http.Request) (core.Origin, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || s.config.AdminToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.config.AdminToken)) != 1 {
			return core.Origin{}, errBadOrigin
		}
		return core.Root(), nil
	}
	who, err := parseAddress(r.Header.Get(HeaderAccount))
	if err != nil {
		return core.Origin{}, errBadOrigin
	}
	return core.Signed(who), nil
}

func proposalID(r *http.Request) (core.ProposalID, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, errors.Errorf("invalid proposal id %q", raw)
	}
	return core.ProposalID(id), nil
}

func addressParam(r *http.Request) (core.AccountID, error) {
	return parseAddress(chi.URLParam(r, "addr"))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warnf("write response: %s", err)
	}
}

func (s *Server) writeBadRequest(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusBadRequest, &errorResponse{Error: err.Error()})
}

// writeError maps engine rejections onto status codes and reports the
// rejection code to the caller.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBadOrigin) {
		s.writeJSON(w, http.StatusUnauthorized, &errorResponse{Error: err.Error()})
		return
	}
	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		s.logger.Errorf("api: %s", err)
		s.writeJSON(w, http.StatusInternalServerError, &errorResponse{Error: "internal error"})
		return
	}

	status := http.StatusConflict
	switch coreErr.Kind() {
	case core.KindAuthorization:
		status = http.StatusForbidden
	case core.KindNotFound:
		status = http.StatusNotFound
	case core.KindAmount:
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, &errorResponse{
		Code:  coreErr.Code(),
		Name:  coreErr.Name(),
		Kind:  coreErr.Kind().String(),
		Error: coreErr.Error(),
	})
}
