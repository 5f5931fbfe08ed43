// Package app wires the contribution pipeline into a standalone node: the
// storage layer, proof verifiers, validator, reputation ledger, reward engine,
// treasury and the HTTP API that fronts them.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cosmossdk.io/log"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/paw-chain/poc/app/health"
	"github.com/paw-chain/poc/app/telemetry"
	"github.com/paw-chain/poc/attestation"
	"github.com/paw-chain/poc/ledger"
	"github.com/paw-chain/poc/network"
	"github.com/paw-chain/poc/novelty"
	"github.com/paw-chain/poc/reputation"
	"github.com/paw-chain/poc/reward"
	"github.com/paw-chain/poc/store"
	"github.com/paw-chain/poc/store/sqlstore"
	"github.com/paw-chain/poc/sybil"
	"github.com/paw-chain/poc/treasury"
	"github.com/paw-chain/poc/types"
	"github.com/paw-chain/poc/validator"
	"github.com/paw-chain/poc/zk"
)

const genesisDepositKey = "treasury/genesis"

// Receipt is the outcome of a synchronous submission.
type Receipt struct {
	Record     types.SubmissionRecord `json:"record"`
	Reward     *types.RewardRecord    `json:"reward,omitempty"`
	Reputation *types.ReputationScore `json:"reputation,omitempty"`
}

// Option overrides a collaborator of the node.
type Option func(*nodeOptions)

type nodeOptions struct {
	network *network.Loopback
	proofs  *zk.Registry
	ledger  ledger.Ledger
	curator types.AICurationModel
	oracle  types.MilestoneOracle
}

// WithNetwork replaces the devnet attester set with l.
func WithNetwork(l *network.Loopback) Option {
	return func(o *nodeOptions) { o.network = l }
}

// WithVerifiers replaces the verifiers loaded from the key directory.
func WithVerifiers(r *zk.Registry) Option {
	return func(o *nodeOptions) { o.proofs = r }
}

// WithLedger replaces the in-process ledger. It is still wrapped in the breaker.
func WithLedger(l ledger.Ledger) Option {
	return func(o *nodeOptions) { o.ledger = l }
}

// WithCurator sets the treasury's AI curation model.
func WithCurator(c types.AICurationModel) Option {
	return func(o *nodeOptions) { o.curator = c }
}

// WithMilestoneOracle sets the oracle consulted for milestones submitted
// without a proof.
func WithMilestoneOracle(m types.MilestoneOracle) Option {
	return func(o *nodeOptions) { o.oracle = m }
}

// Node is a standalone proof-of-contribution node.
type Node struct {
	config Config
	logger log.Logger

	store      *store.KVStore
	rewardDB   *sql.DB
	network    *network.Loopback
	ledger     *ledger.Breaker
	proofs     *zk.Registry
	novelty    *novelty.Scorer
	sybil      *sybil.Analyzer
	attest     *attestation.Collector
	validator  *validator.Validator
	reputation *reputation.Ledger
	rewards    *reward.Engine
	treasury   *treasury.Manager
	health     *health.Checker

	telemetry   *telemetry.Provider
	instruments *NodeInstruments

	intake   *intakeLimiter
	inflight *semaphore.Weighted
	demand   map[types.ContributionType]float64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	now       func() time.Time
}

// NewNode opens storage and wires every component. The returned node owns
// its stores; call Close to release them.
func NewNode(ctx context.Context, cfg Config, logger log.Logger, opts ...Option) (_ *Node, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var o nodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	n := &Node{
		config:   cfg,
		logger:   logger.With("module", "node"),
		intake:   newIntakeLimiter(cfg.Intake),
		inflight: semaphore.NewWeighted(int64(cfg.Intake.MaxInFlight)),
		now:      time.Now,
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	defer func() {
		if err != nil {
			_ = n.Close(context.Background())
		}
	}()

	if n.demand, err = cfg.Demand(); err != nil {
		return nil, err
	}

	if n.telemetry, err = telemetry.NewProvider(cfg.Telemetry); err != nil {
		return nil, fmt.Errorf("failed to start telemetry: %w", err)
	}
	if n.instruments, err = NewNodeInstruments(n.telemetry.Meter()); err != nil {
		return nil, fmt.Errorf("failed to register instruments: %w", err)
	}

	if cfg.Storage.Backend != "memdb" {
		if err := os.MkdirAll(cfg.DataDir(), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	if n.store, err = store.Open("poc", cfg.Storage.Backend, cfg.DataDir(), logger); err != nil {
		return nil, err
	}
	rewardStore, err := n.openRewardStore()
	if err != nil {
		return nil, err
	}

	n.network = o.network
	if n.network == nil {
		if n.network, err = devnet(cfg.Devnet, logger); err != nil {
			return nil, err
		}
	}

	base := o.ledger
	if base == nil {
		base = ledger.NewMemory(logger)
	}
	n.ledger = ledger.NewBreaker(base, cfg.Ledger.Breaker, logger)
	genesis, _ := parseAmount(cfg.Ledger.TreasuryGenesis)
	if genesis.IsPositive() {
		if err := n.ledger.Deposit(ctx, genesis, genesisDepositKey); err != nil {
			return nil, fmt.Errorf("failed to fund treasury: %w", err)
		}
	}

	n.proofs = o.proofs
	if n.proofs == nil {
		if n.proofs, err = loadVerifiers(cfg, logger); err != nil {
			return nil, err
		}
	}

	if n.novelty, err = novelty.NewScorer(cfg.Novelty, logger); err != nil {
		return nil, err
	}
	if n.sybil, err = sybil.NewAnalyzer(cfg.Sybil, logger); err != nil {
		return nil, err
	}
	if n.attest, err = attestation.NewCollector(cfg.Attestation, n.network, logger); err != nil {
		return nil, err
	}
	if n.validator, err = validator.New(cfg.Validator, n.proofs, n.novelty, n.sybil, n.attest, nil, logger); err != nil {
		return nil, err
	}
	if n.reputation, err = reputation.NewLedger(cfg.Reputation, n.store, logger); err != nil {
		return nil, err
	}
	if n.treasury, err = treasury.NewManager(ctx, cfg.Treasury, n.store, n.ledger, o.curator, n.proofs, o.oracle, logger); err != nil {
		return nil, err
	}
	rewardCfg, err := cfg.RewardEngineConfig()
	if err != nil {
		return nil, err
	}
	if n.rewards, err = reward.NewEngine(rewardCfg, rewardStore, n.store, n.ledger, n.treasury, logger); err != nil {
		return nil, err
	}

	hc := health.DefaultConfig()
	hc.Version = Version
	if n.health, err = health.NewChecker(logger, hc, n.probes()...); err != nil {
		return nil, err
	}

	if err := n.recover(ctx); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) openRewardStore() (reward.Store, error) {
	cfg := n.config.Storage
	if cfg.RewardBackend == RewardBackendKV {
		return n.store, nil
	}
	dialect := sqlstore.Dialect(cfg.RewardBackend)
	dsn := cfg.RewardDSN
	if dialect == sqlstore.DialectSQLite && !filepath.IsAbs(dsn) && dsn != ":memory:" {
		dsn = filepath.Join(n.config.DataDir(), dsn)
	}
	db, err := sqlstore.Open(dialect, dsn)
	if err != nil {
		return nil, err
	}
	n.rewardDB = db
	return sqlstore.NewRewardStore(db, dialect)
}

// devnet builds the loopback attester set of a standalone node.
func devnet(cfg DevnetConfig, logger log.Logger) (*network.Loopback, error) {
	l := network.NewLoopback(cfg.Seed, cfg.VoteTimeout, logger)
	for i := 0; i < cfg.Peers; i++ {
		h := types.HashPayload([]byte(fmt.Sprintf("devnet-peer-%d", i)))
		addr, err := types.NewAddress(h[:20])
		if err != nil {
			return nil, err
		}
		l.Join(addr, network.QualityGate(cfg.MinQuality, 1.0))
	}
	return l, nil
}

// loadVerifiers reads the verifying key of every configured scheme, running
// a development setup for missing keys when allowed.
func loadVerifiers(cfg Config, logger log.Logger) (*zk.Registry, error) {
	registry := zk.NewRegistry(logger)
	for _, name := range cfg.ZK.Schemes {
		scheme := types.ProofScheme(name)
		v, err := zk.LoadVerifier(scheme, cfg.ZKDir())
		if errors.Is(err, fs.ErrNotExist) && cfg.ZK.AutoSetup {
			logger.Info("no proving keys found, running development setup", "scheme", scheme, "dir", cfg.ZKDir())
			v, err = setupScheme(scheme, cfg.ZKDir())
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s verifier: %w", scheme, err)
		}
		registry.Register(v)
	}
	return registry, nil
}

func setupScheme(scheme types.ProofScheme, dir string) (zk.Verifier, error) {
	sys, err := zk.Setup(scheme)
	if err != nil {
		return nil, err
	}
	if err := sys.Save(dir); err != nil {
		return nil, err
	}
	return sys.Verifier()
}

// recover restores in-memory state after a restart: the novelty window is
// refilled from accepted submissions, submissions interrupted mid-validation
// become retryable and pending reward reservations are completed.
func (n *Node) recover(ctx context.Context) error {
	var interrupted []uuid.UUID
	warmed := 0
	err := n.store.IterateSubmissions(ctx, func(rec types.SubmissionRecord) bool {
		switch rec.Status {
		case types.SubmissionAccepted:
			n.validator.Record(rec.Submission)
			warmed++
		case types.SubmissionInFlight:
			interrupted = append(interrupted, rec.Submission.ID)
		}
		return false
	})
	if err != nil {
		return fmt.Errorf("failed to scan submissions: %w", err)
	}
	for _, id := range interrupted {
		if err := n.store.FinishValidation(ctx, id, types.SubmissionRetryable, "validation interrupted by restart", nil); err != nil {
			return err
		}
	}
	if _, err := n.rewards.Reconcile(ctx); err != nil {
		n.logger.Error("failed to reconcile pending rewards", "error", err)
	}
	if warmed > 0 || len(interrupted) > 0 {
		n.logger.Info("recovered node state", "novelty_warmed", warmed, "interrupted", len(interrupted), "epoch", n.treasury.Epoch())
	}
	return nil
}

// Submit validates a submission and, when accepted, updates reputation and
// issues its reward before returning. The returned error carries the
// rejection cause; the receipt is populated either way.
func (n *Node) Submit(ctx context.Context, sub types.ContributionSubmission) (Receipt, error) {
	rec, err := n.admit(ctx, sub)
	if err != nil {
		return Receipt{Record: rec}, err
	}
	return n.process(ctx, rec)
}

// SubmitAsync admits a submission and validates it in the background. Poll
// Submission for the outcome.
func (n *Node) SubmitAsync(ctx context.Context, sub types.ContributionSubmission) (types.SubmissionRecord, error) {
	if n.ctx.Err() != nil {
		return types.SubmissionRecord{}, fmt.Errorf("node is shutting down")
	}
	if !n.inflight.TryAcquire(1) {
		return types.SubmissionRecord{}, types.ErrRateLimited.Wrap("validation capacity exhausted")
	}
	rec, err := n.admit(ctx, sub)
	if err != nil {
		n.inflight.Release(1)
		return rec, err
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer n.inflight.Release(1)
		if _, err := n.process(n.ctx, rec); err != nil {
			n.logger.Debug("async submission not accepted", "id", rec.Submission.ID, "error", err)
		}
	}()
	return rec, nil
}

func (n *Node) admit(ctx context.Context, sub types.ContributionSubmission) (types.SubmissionRecord, error) {
	now := n.now().UTC()
	sub.Metadata.ReceivedAt = now
	if err := sub.ValidateBasic(); err != nil {
		return types.SubmissionRecord{}, err
	}
	if skew := n.config.Intake.MaxClockSkew; sub.Timestamp.After(now.Add(skew)) {
		return types.SubmissionRecord{}, types.WithRecovery(
			types.ErrInvalidSubmission.Wrapf("timestamp %s is more than %s ahead of the node clock", sub.Timestamp.Format(time.RFC3339), skew),
			"Sync the submitting host's clock and resubmit. Timestamps may run at most "+skew.String()+" ahead of the node.",
		)
	}
	if !n.intake.Allow(sub.Submitter) {
		return types.SubmissionRecord{}, types.ErrRateLimited.Wrapf("submitter %s", sub.Submitter)
	}
	return n.store.BeginValidation(ctx, sub, n.config.Attestation.MaxAttempts)
}

func (n *Node) process(ctx context.Context, rec types.SubmissionRecord) (receipt Receipt, err error) {
	sub := rec.Submission
	start := n.now()
	ctx, span := telemetry.StartSubmissionSpan(ctx, sub.ID.String(), sub.ContributionType.String(), rec.Attempts)
	defer func() {
		telemetry.RecordError(span, err)
		telemetry.AddSpanAttributes(span, attribute.String("submission.status", string(receipt.Record.Status)))
		span.End()
	}()

	acc, verr := n.validator.Validate(ctx, sub)

	// outcomes are recorded even when the caller has gone away
	ctx = context.WithoutCancel(ctx)
	epoch := n.treasury.Epoch()
	if verr != nil {
		receipt, err = n.reject(ctx, rec, epoch, verr)
	} else {
		receipt, err = n.accept(ctx, rec, acc, epoch)
	}
	n.instruments.RecordSubmission(ctx, sub.ContributionType, receipt.Record.Status, n.now().Sub(start))
	return receipt, err
}

func (n *Node) reject(ctx context.Context, rec types.SubmissionRecord, epoch uint64, cause error) (Receipt, error) {
	sub := rec.Submission
	status := types.SubmissionRejected
	if types.IsRetryable(cause) {
		status = types.SubmissionRetryable
	}
	if err := n.store.FinishValidation(ctx, sub.ID, status, cause.Error(), nil); err != nil {
		return Receipt{Record: rec}, errors.Join(cause, err)
	}
	rec.Status, rec.Reason = status, cause.Error()
	receipt := Receipt{Record: rec}

	if status == types.SubmissionRetryable {
		n.logger.Info("submission left retryable", "id", sub.ID, "attempts", rec.Attempts, "reason", cause)
		return receipt, cause
	}
	if !types.IsPenalized(cause) {
		return receipt, cause
	}

	kind := types.OutcomeRejected
	if types.IsBadFaith(cause) {
		kind = types.OutcomeBadFaith
	}
	score, err := n.reputation.Update(ctx, sub.Submitter, epoch, types.Outcome{Kind: kind, ContributionType: sub.ContributionType})
	if err != nil {
		n.logger.Error("failed to record rejection", "id", sub.ID, "submitter", sub.Submitter, "error", err)
	} else {
		receipt.Reputation = &score
	}
	if errors.Is(cause, types.ErrSybilSuspected) {
		n.capCluster(ctx, sub.Submitter, epoch)
	}
	return receipt, cause
}

func (n *Node) accept(ctx context.Context, rec types.SubmissionRecord, acc types.AcceptedContribution, epoch uint64) (Receipt, error) {
	sub := rec.Submission
	if err := n.store.FinishValidation(ctx, sub.ID, types.SubmissionAccepted, "", &acc); err != nil {
		return Receipt{Record: rec}, err
	}
	rec.Status, rec.Accepted = types.SubmissionAccepted, &acc
	receipt := Receipt{Record: rec}

	// the reward is priced on the reputation held before this contribution
	prior, err := n.reputation.Read(ctx, sub.Submitter, epoch)
	if err != nil {
		n.logger.Error("failed to read reputation, pricing with defaults", "submitter", sub.Submitter, "error", err)
		prior = types.NewReputationScore(sub.Submitter)
	}
	score, err := n.reputation.Update(ctx, sub.Submitter, epoch, types.Outcome{
		Kind:             types.OutcomeAccepted,
		ContributionType: sub.ContributionType,
		Quality:          acc.Quality,
		Agreement:        acc.Agreement,
	})
	if err != nil {
		n.logger.Error("failed to record acceptance", "id", sub.ID, "submitter", sub.Submitter, "error", err)
	} else {
		receipt.Reputation = &score
	}
	if n.sybil.InCluster(sub.Submitter) {
		n.capCluster(ctx, sub.Submitter, epoch)
	}

	issued, err := n.rewards.ComputeAndIssue(ctx, acc, prior, n.NetworkState())
	if err != nil {
		n.logger.Error("reward issuance failed, will retry at epoch rollover", "id", sub.ID, "error", err)
		return receipt, err
	}
	n.instruments.RecordIssued(ctx, issued)
	receipt.Reward = &issued
	return receipt, nil
}

func (n *Node) capCluster(ctx context.Context, addr types.Address, epoch uint64) {
	members := n.sybil.ClusterOf(addr)
	if len(members) == 0 {
		return
	}
	if _, err := n.reputation.CapCluster(ctx, members, epoch); err != nil {
		n.logger.Error("failed to cap sybil cluster", "address", addr, "members", len(members), "error", err)
	}
}

// NetworkState snapshots the economic signals used for pricing.
func (n *Node) NetworkState() types.NetworkState {
	demand := make(map[types.ContributionType]float64, len(n.demand))
	for t, v := range n.demand {
		demand[t] = v
	}
	return types.NetworkState{
		Epoch:   n.treasury.Epoch(),
		Demand:  demand,
		Pricing: n.config.Network.Pricing,
	}
}

// AdvanceEpoch closes the current epoch: treasury votes are tallied and
// stalled disbursements retried, pending and failed reward issuances are
// completed and idle sybil graph entries are pruned.
func (n *Node) AdvanceEpoch(ctx context.Context) (treasury.EpochReport, error) {
	start := n.now()
	ctx, span := telemetry.StartEpochSpan(ctx, n.treasury.Epoch())
	defer span.End()

	var errs []error
	report, err := n.treasury.AdvanceEpoch(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	if _, err := n.rewards.Reconcile(ctx); err != nil {
		errs = append(errs, err)
	}
	reissued, err := n.reissue(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	pruned := n.sybil.Prune(n.now())

	epoch := n.treasury.Epoch()
	n.instruments.RecordEpoch(ctx, epoch, n.now().Sub(start))
	telemetry.AddSpanAttributes(span,
		attribute.Int("treasury.passed", len(report.Passed)),
		attribute.Int("rewards.reissued", reissued),
	)
	n.logger.Info("epoch advanced",
		"epoch", epoch,
		"closed", report.Closed,
		"passed", len(report.Passed),
		"resumed", len(report.Resumed),
		"reissued", reissued,
		"pruned", pruned,
	)

	err = errors.Join(errs...)
	telemetry.RecordError(span, err)
	return report, err
}

// reissue retries the reward of every accepted submission that has none,
// which is the case after a mint failure.
func (n *Node) reissue(ctx context.Context) (int, error) {
	var accepted []types.AcceptedContribution
	err := n.store.IterateSubmissions(ctx, func(rec types.SubmissionRecord) bool {
		if rec.Status == types.SubmissionAccepted && rec.Accepted != nil {
			accepted = append(accepted, *rec.Accepted)
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	var missing []types.AcceptedContribution
	for _, acc := range accepted {
		if _, err := n.rewards.Reward(ctx, acc.Submission.ID); errors.Is(err, types.ErrNotFound) {
			missing = append(missing, acc)
		}
	}

	state := n.NetworkState()
	done := 0
	var errs []error
	for _, acc := range missing {
		sub := acc.Submission
		rep, err := n.reputation.Read(ctx, sub.Submitter, state.Epoch)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		issued, err := n.rewards.ComputeAndIssue(ctx, acc, rep, state)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n.instruments.RecordIssued(ctx, issued)
		done++
	}
	return done, errors.Join(errs...)
}

// Start runs the epoch clock and, when enabled, the API server until ctx ends.
func (n *Node) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.runEpochs(ctx)
	})
	if n.config.API.Enable {
		srv := NewAPIServer(n, n.config.API, n.logger)
		g.Go(func() error {
			return srv.Serve(ctx)
		})
	}
	n.logger.Info("node started", "epoch", n.treasury.Epoch(), "peers", n.network.Peers(), "schemes", n.proofs.Schemes())
	return g.Wait()
}

func (n *Node) runEpochs(ctx context.Context) error {
	ticker := time.NewTicker(n.config.Epoch.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := n.AdvanceEpoch(ctx); err != nil {
				n.logger.Error("epoch rollover finished with errors", "error", err)
			}
		}
	}
}

// Close stops background validations and releases every store.
func (n *Node) Close(ctx context.Context) error {
	var errs []error
	n.closeOnce.Do(func() {
		n.cancel()
		n.wg.Wait()
		if n.network != nil {
			n.network.Wait()
		}
		if n.telemetry != nil {
			errs = append(errs, n.telemetry.Shutdown(ctx))
		}
		if n.rewardDB != nil {
			errs = append(errs, n.rewardDB.Close())
		}
		if n.store != nil {
			errs = append(errs, n.store.Close())
		}
	})
	return errors.Join(errs...)
}

// Submission returns the stored record of a submission.
func (n *Node) Submission(ctx context.Context, id uuid.UUID) (types.SubmissionRecord, error) {
	return n.store.GetSubmission(ctx, id)
}

// Reward returns the reward record of a contribution.
func (n *Node) Reward(ctx context.Context, id uuid.UUID) (types.RewardRecord, error) {
	return n.rewards.Reward(ctx, id)
}

// Distribution returns the merkle commitment over an epoch's rewards.
func (n *Node) Distribution(ctx context.Context, epoch uint64) (*reward.Distribution, error) {
	return n.rewards.EpochDistribution(ctx, epoch)
}

// RewardStats aggregates issued rewards.
func (n *Node) RewardStats(ctx context.Context) (reward.Stats, error) {
	return n.rewards.Stats(ctx)
}

// Reputation returns the decayed reputation of addr at the current epoch.
func (n *Node) Reputation(ctx context.Context, addr types.Address) (types.ReputationScore, error) {
	return n.reputation.Read(ctx, addr, n.treasury.Epoch())
}

// TopContributors returns the n highest reputations at the current epoch.
func (n *Node) TopContributors(ctx context.Context, limit int) ([]types.ReputationScore, error) {
	return n.reputation.Top(ctx, limit, n.treasury.Epoch())
}

// Balance returns the token balance of addr.
func (n *Node) Balance(ctx context.Context, addr types.Address) (sdkmath.LegacyDec, error) {
	return n.ledger.Balance(ctx, addr)
}

// Treasury returns the treasury manager.
func (n *Node) Treasury() *treasury.Manager { return n.treasury }

// Health returns the node health checker.
func (n *Node) Health() *health.Checker { return n.health }

// Epoch returns the current epoch.
func (n *Node) Epoch() uint64 { return n.treasury.Epoch() }

// Schemes lists the proof schemes the node verifies.
func (n *Node) Schemes() []types.ProofScheme { return n.proofs.Schemes() }

func (n *Node) probes() []health.Probe {
	return []health.Probe{
		{
			Name: "store",
			Check: func(ctx context.Context) health.Result {
				start := time.Now()
				epoch, err := n.store.GetEpoch(ctx)
				elapsed := time.Since(start)
				if err != nil {
					return health.Unhealthy(fmt.Sprintf("store read failed: %v", err), nil)
				}
				metrics := map[string]interface{}{"query_time_ms": elapsed.Milliseconds(), "epoch": epoch}
				if elapsed > time.Second {
					return health.Degraded("store response time is degraded", metrics)
				}
				return health.Healthy("store is responsive", metrics)
			},
		},
		{
			Name: "ledger",
			Check: func(ctx context.Context) health.Result {
				state := n.ledger.State()
				metrics := map[string]interface{}{"breaker": state}
				switch state {
				case "open":
					return health.Unhealthy("ledger breaker is open", metrics)
				case "half-open":
					return health.Degraded("ledger breaker is probing", metrics)
				}
				balance, err := n.ledger.TreasuryBalance(ctx)
				if err != nil {
					return health.Degraded(fmt.Sprintf("treasury balance unavailable: %v", err), metrics)
				}
				metrics["treasury_balance"] = balance.String()
				return health.Healthy("ledger is reachable", metrics)
			},
		},
		{
			Name: "peers",
			Check: func(context.Context) health.Result {
				peers := n.network.Peers()
				metrics := map[string]interface{}{
					"peer_count":  peers,
					"sample_size": n.config.Attestation.SampleSize,
					"quorum":      n.config.Attestation.Quorum,
				}
				switch {
				case peers < n.config.Attestation.Quorum:
					return health.Unhealthy(fmt.Sprintf("%d peers cannot reach quorum %d", peers, n.config.Attestation.Quorum), metrics)
				case peers < n.config.Attestation.SampleSize:
					return health.Degraded(fmt.Sprintf("low peer count: %d (sample size %d)", peers, n.config.Attestation.SampleSize), metrics)
				}
				return health.Healthy(fmt.Sprintf("%d attesters available", peers), metrics)
			},
		},
		{
			Name:     "zk",
			Detailed: true,
			Check: func(context.Context) health.Result {
				schemes := n.proofs.Schemes()
				metrics := map[string]interface{}{"schemes": schemes}
				if len(schemes) == 0 {
					return health.Unhealthy("no proof verifiers registered", metrics)
				}
				return health.Healthy(fmt.Sprintf("%d proof schemes registered", len(schemes)), metrics)
			},
		},
		{
			Name:     "treasury",
			Detailed: true,
			Check: func(ctx context.Context) health.Result {
				stats, err := n.treasury.Stats(ctx)
				if err != nil {
					return health.Unhealthy(fmt.Sprintf("treasury stats failed: %v", err), nil)
				}
				metrics := map[string]interface{}{
					"epoch":     stats.Epoch,
					"balance":   stats.Balance.String(),
					"proposals": stats.Proposals,
				}
				if stats.Proposals[types.ProposalStalled] > 0 {
					return health.Degraded(fmt.Sprintf("%d proposals stalled", stats.Proposals[types.ProposalStalled]), metrics)
				}
				return health.Healthy("treasury operational", metrics)
			},
		},
		{
			Name:     "telemetry",
			Detailed: true,
			Check: func(context.Context) health.Result {
				if err := n.telemetry.Check(); err != nil {
					return health.Degraded(err.Error(), nil)
				}
				return health.Healthy("telemetry initialized", map[string]interface{}{"tracing": n.config.Telemetry.Enabled})
			},
		},
	}
}
