package app

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"cosmossdk.io/log"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/paw-chain/poc/reward"
	"github.com/paw-chain/poc/types"
)

// APIServer exposes the node over HTTP.
type APIServer struct {
	node    *Node
	config  APIConfig
	logger  log.Logger
	router  *mux.Router
	handler http.Handler
}

// NewAPIServer builds the router and middleware chain for n.
func NewAPIServer(n *Node, cfg APIConfig, logger log.Logger) *APIServer {
	s := &APIServer{
		node:   n,
		config: cfg,
		logger: logger.With("module", "api"),
		router: mux.NewRouter(),
	}
	s.RegisterRoutes(s.router)
	n.Health().RegisterRoutes(s.router)

	var h http.Handler = s.router
	h = handlers.CustomLoggingHandler(io.Discard, h, s.logRequest)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.logger}))(h)
	h = cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(h)
	s.handler = h
	return s
}

// Handler returns the wrapped router.
func (s *APIServer) Handler() http.Handler { return s.handler }

// Serve listens until ctx ends, then shuts down gracefully.
func (s *APIServer) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "address", s.config.Address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return err
	}
	s.logger.Info("API server stopped")
	return nil
}

// RegisterRoutes registers the contribution, reward, reputation and treasury routes.
func (s *APIServer) RegisterRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/v1").Subrouter()

	// Contributions
	v1.HandleFunc("/contributions", s.handleSubmit).Methods("POST")
	v1.HandleFunc("/contributions/{id}", s.handleGetSubmission).Methods("GET")

	// Rewards
	v1.HandleFunc("/rewards/stats", s.handleRewardStats).Methods("GET")
	v1.HandleFunc("/rewards/epoch/{epoch}", s.handleDistribution).Methods("GET")
	v1.HandleFunc("/rewards/epoch/{epoch}/proof/{id}", s.handleDistributionProof).Methods("GET")
	v1.HandleFunc("/rewards/{id}", s.handleGetReward).Methods("GET")

	// Reputation and balances
	v1.HandleFunc("/reputation", s.handleTopReputation).Methods("GET")
	v1.HandleFunc("/reputation/{address}", s.handleGetReputation).Methods("GET")
	v1.HandleFunc("/balances/{address}", s.handleGetBalance).Methods("GET")

	// Treasury
	v1.HandleFunc("/treasury/stats", s.handleTreasuryStats).Methods("GET")
	v1.HandleFunc("/treasury/proposals", s.handleListProposals).Methods("GET")
	v1.HandleFunc("/treasury/proposals", s.handleDraftProposal).Methods("POST")
	v1.HandleFunc("/treasury/proposals/{id}", s.handleGetProposal).Methods("GET")
	v1.HandleFunc("/treasury/proposals/{id}/curate", s.handleCurate).Methods("POST")
	v1.HandleFunc("/treasury/proposals/{id}/votes", s.handleVote).Methods("POST")
	v1.HandleFunc("/treasury/proposals/{id}/milestones/{index}", s.handleMilestone).Methods("POST")

	// Node
	v1.HandleFunc("/node", s.handleNodeInfo).Methods("GET")
}

// Request/Response types

type VoteRequest struct {
	Voter  types.Address `json:"voter"`
	Option string        `json:"option"`
	Power  float64       `json:"power"`
}

type MilestoneRequest struct {
	Evidence []byte         `json:"evidence"`
	Proof    *types.ZkProof `json:"proof,omitempty"`
}

type DistributionResponse struct {
	Epoch   uint64            `json:"epoch"`
	Root    string            `json:"root"`
	Total   sdkmath.LegacyDec `json:"total"`
	Records int               `json:"records"`
}

type DistributionProofResponse struct {
	Root   string             `json:"root"`
	Record types.RewardRecord `json:"record"`
	Leaf   string             `json:"leaf"`
	Index  uint64             `json:"index"`
	Hashes []string           `json:"hashes"`
}

type NodeInfoResponse struct {
	Version string              `json:"version"`
	Epoch   uint64              `json:"epoch"`
	Schemes []types.ProofScheme `json:"schemes"`
	Network types.NetworkState  `json:"network"`
}

func (s *APIServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var sub types.ContributionSubmission
	if !s.decode(w, r, &sub) {
		return
	}
	// the connection is the only source of the address the sybil graph sees
	sub.Metadata.SourceIP = ""
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		sub.Metadata.SourceIP = host
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		rec, err := s.node.SubmitAsync(r.Context(), sub)
		if err != nil {
			s.writeFailure(w, err, rec)
			return
		}
		s.writeJSON(w, http.StatusAccepted, rec)
		return
	}

	receipt, err := s.node.Submit(r.Context(), sub)
	if err != nil {
		s.writeFailure(w, err, receipt)
		return
	}
	s.writeJSON(w, http.StatusOK, receipt)
}

func (s *APIServer) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	rec, err := s.node.Submission(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *APIServer) handleGetReward(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	rec, err := s.node.Reward(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *APIServer) handleRewardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.node.RewardStats(r.Context())
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *APIServer) distribution(w http.ResponseWriter, r *http.Request) (*reward.Distribution, bool) {
	epoch, err := strconv.ParseUint(mux.Vars(r)["epoch"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid epoch", "")
		return nil, false
	}
	d, err := s.node.Distribution(r.Context(), epoch)
	if err != nil {
		s.writeFailure(w, err, nil)
		return nil, false
	}
	return d, true
}

func (s *APIServer) handleDistribution(w http.ResponseWriter, r *http.Request) {
	d, ok := s.distribution(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, DistributionResponse{
		Epoch:   d.Epoch,
		Root:    hex.EncodeToString(d.Root),
		Total:   d.Total,
		Records: d.Records,
	})
}

func (s *APIServer) handleDistributionProof(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	d, ok := s.distribution(w, r)
	if !ok {
		return
	}
	rec, err := s.node.Reward(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}
	proof, err := d.Proof(id)
	if err != nil {
		s.writeFailure(w, types.ErrNotFound.Wrapf("reward %s in epoch %d: %s", id, d.Epoch, err), nil)
		return
	}

	resp := DistributionProofResponse{
		Root:   hex.EncodeToString(d.Root),
		Record: rec,
		Leaf:   hex.EncodeToString(reward.LeafData(rec)),
		Index:  proof.Index,
		Hashes: make([]string, len(proof.Hashes)),
	}
	for i, h := range proof.Hashes {
		resp.Hashes[i] = hex.EncodeToString(h)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleGetReputation(w http.ResponseWriter, r *http.Request) {
	addr := types.Address(mux.Vars(r)["address"])
	if err := addr.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	score, err := s.node.Reputation(r.Context(), addr)
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, score)
}

func (s *APIServer) handleTopReputation(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "top must be between 1 and 1000", "")
			return
		}
		limit = n
	}
	scores, err := s.node.TopContributors(r.Context(), limit)
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, scores)
}

func (s *APIServer) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr := types.Address(mux.Vars(r)["address"])
	if err := addr.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	balance, err := s.node.Balance(r.Context(), addr)
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": addr,
		"balance": balance,
	})
}

func (s *APIServer) handleTreasuryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.node.Treasury().Stats(r.Context())
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *APIServer) handleListProposals(w http.ResponseWriter, r *http.Request) {
	status := types.ProposalStatus(r.URL.Query().Get("status"))
	proposals, err := s.node.Treasury().List(r.Context(), status)
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, proposals)
}

func (s *APIServer) handleDraftProposal(w http.ResponseWriter, r *http.Request) {
	var p types.TreasuryProposal
	if !s.decode(w, r, &p) {
		return
	}
	drafted, err := s.node.Treasury().Draft(r.Context(), p)
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusCreated, drafted)
}

func (s *APIServer) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	p, err := s.node.Treasury().Get(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *APIServer) handleCurate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	p, err := s.node.Treasury().Curate(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err, proposalState(p))
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *APIServer) handleVote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req VoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	option, err := types.ParseVoteOption(req.Option)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	p, err := s.node.Treasury().Vote(r.Context(), id, req.Voter, option, req.Power)
	if err != nil {
		s.writeFailure(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *APIServer) handleMilestone(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil || index < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid milestone index", "")
		return
	}
	var req MilestoneRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.node.Treasury().SubmitMilestoneEvidence(r.Context(), id, index, req.Evidence, req.Proof)
	if err != nil {
		s.writeFailure(w, err, proposalState(p))
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *APIServer) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NodeInfoResponse{
		Version: Version,
		Epoch:   s.node.Epoch(),
		Schemes: s.node.Schemes(),
		Network: s.node.NetworkState(),
	})
}

// proposalState is the proposal returned alongside a failure, if any.
func proposalState(p types.TreasuryProposal) interface{} {
	if p.ID == uuid.Nil {
		return nil
	}
	return p
}

func (s *APIServer) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: %v", name, err), "")
		return uuid.Nil, false
	}
	return id, true
}

func (s *APIServer) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxRequestBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "")
		return false
	}
	return true
}

// StatusFor maps a domain error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrProposalNotFound),
		errors.Is(err, types.ErrMilestoneNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidSubmission),
		errors.Is(err, types.ErrInvalidProposal),
		errors.Is(err, types.ErrSchemeUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrSubmissionInFlight),
		errors.Is(err, types.ErrSubmissionConsumed),
		errors.Is(err, types.ErrAlreadyVoted),
		errors.Is(err, types.ErrInvalidTransition),
		errors.Is(err, types.ErrProposalExpired),
		errors.Is(err, types.ErrTreasuryInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, types.ErrInvalidProof),
		errors.Is(err, types.ErrDuplicateContribution),
		errors.Is(err, types.ErrSybilSuspected),
		errors.Is(err, types.ErrAttestationRejected),
		errors.Is(err, types.ErrRetryLimitExceeded),
		errors.Is(err, types.ErrMilestoneVerification):
		return http.StatusUnprocessableEntity
	case types.IsRetryable(err),
		errors.Is(err, types.ErrLedgerUnavailable),
		errors.Is(err, types.ErrCuratorUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *APIServer) writeError(w http.ResponseWriter, status int, message, recovery string) {
	body := map[string]interface{}{
		"success": false,
		"error":   message,
	}
	if recovery != "" {
		body["recovery"] = recovery
	}
	s.writeJSON(w, status, body)
}

// writeFailure reports err with its recovery suggestion. state, when
// present, is the partial outcome the caller may still act on.
func (s *APIServer) writeFailure(w http.ResponseWriter, err error, state interface{}) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	body := map[string]interface{}{
		"success":  false,
		"error":    err.Error(),
		"recovery": types.GetRecoverySuggestion(err),
	}
	if state != nil {
		body["state"] = state
	}
	s.writeJSON(w, status, body)
}

func (s *APIServer) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	s.logger.Debug("http request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"size", p.Size,
		"duration", time.Since(p.TimeStamp),
	)
}

type recoveryLogger struct {
	logger log.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("API handler panicked", "panic", fmt.Sprint(v...))
}
