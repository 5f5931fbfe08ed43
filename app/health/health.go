// Package health folds component probes of a node into liveness, readiness
// and detailed reports served under /health.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Status is the state of one component or of the whole node.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity orders statuses; the node reports its worst component.
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Result is the outcome of one probe.
type Result struct {
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	CheckedAt time.Time              `json:"checked_at"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

func Healthy(message string, details map[string]interface{}) Result {
	return Result{Status: StatusHealthy, Message: message, Details: details}
}

func Degraded(message string, details map[string]interface{}) Result {
	return Result{Status: StatusDegraded, Message: message, Details: details}
}

func Unhealthy(message string, details map[string]interface{}) Result {
	return Result{Status: StatusUnhealthy, Message: message, Details: details}
}

// Report aggregates probe results.
type Report struct {
	Status     Status            `json:"status"`
	Version    string            `json:"version,omitempty"`
	CheckedAt  time.Time         `json:"checked_at"`
	Components map[string]Result `json:"components"`
}

// Probe checks one component. Detailed probes only run for detailed reports.
type Probe struct {
	Name     string
	Detailed bool
	Check    func(ctx context.Context) Result
}

// Config bounds probe execution.
type Config struct {
	// ProbeTimeout bounds each probe; an overrunning probe is unhealthy.
	ProbeTimeout time.Duration
	// CacheDuration is how long a readiness report is reused.
	CacheDuration time.Duration
	Version       string
}

func DefaultConfig() Config {
	return Config{
		ProbeTimeout:  5 * time.Second,
		CacheDuration: 5 * time.Second,
	}
}

// Checker runs probes in parallel. Concurrent requests for the same kind of
// report share one run.
type Checker struct {
	logger log.Logger
	config Config
	probes []Probe
	group  singleflight.Group
	now    func() time.Time

	mu     sync.Mutex
	cached *Report
}

// NewChecker validates the probe set.
func NewChecker(logger log.Logger, cfg Config, probes ...Probe) (*Checker, error) {
	if cfg.ProbeTimeout <= 0 {
		return nil, fmt.Errorf("probe timeout must be positive")
	}
	seen := make(map[string]bool, len(probes))
	for _, p := range probes {
		if p.Name == "" || p.Check == nil {
			return nil, fmt.Errorf("probe requires a name and a check")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate probe %q", p.Name)
		}
		seen[p.Name] = true
	}
	return &Checker{
		logger: logger.With("module", "health"),
		config: cfg,
		probes: probes,
		now:    time.Now,
	}, nil
}

// Check returns the readiness report, or the detailed report including
// detailed probes. Readiness reports are cached for CacheDuration.
func (c *Checker) Check(ctx context.Context, detailed bool) *Report {
	key := "ready"
	if detailed {
		key = "detailed"
	} else if r := c.fresh(); r != nil {
		return r
	}

	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		r := c.run(ctx, detailed)
		if !detailed {
			c.mu.Lock()
			c.cached = r
			c.mu.Unlock()
		}
		return r, nil
	})
	return v.(*Report)
}

func (c *Checker) fresh() *Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != nil && c.now().Sub(c.cached.CheckedAt) < c.config.CacheDuration {
		return c.cached
	}
	return nil
}

func (c *Checker) run(ctx context.Context, detailed bool) *Report {
	selected := make([]Probe, 0, len(c.probes))
	for _, p := range c.probes {
		if !p.Detailed || detailed {
			selected = append(selected, p)
		}
	}

	results := make([]Result, len(selected))
	var g errgroup.Group
	for i, p := range selected {
		g.Go(func() error {
			results[i] = c.probe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{
		Status:     StatusHealthy,
		Version:    c.config.Version,
		CheckedAt:  c.now(),
		Components: make(map[string]Result, len(selected)),
	}
	for i, p := range selected {
		r := results[i]
		report.Components[p.Name] = r
		if r.Status.severity() > report.Status.severity() {
			report.Status = r.Status
		}
	}
	return report
}

// probe runs one check under the probe timeout, treating panics and
// overruns as unhealthy.
func (c *Checker) probe(ctx context.Context, p Probe) Result {
	ctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Unhealthy(fmt.Sprintf("probe panicked: %v", r), nil)
			}
		}()
		done <- p.Check(ctx)
	}()

	var r Result
	select {
	case r = <-done:
	case <-ctx.Done():
		c.logger.Error("health probe timed out", "probe", p.Name, "timeout", c.config.ProbeTimeout)
		r = Unhealthy(fmt.Sprintf("probe timed out after %s", c.config.ProbeTimeout), nil)
	}
	if r.Status == "" {
		r.Status = StatusUnhealthy
	}
	r.CheckedAt = c.now()
	return r
}

// RegisterRoutes mounts /health (liveness), /health/ready and /health/detailed.
func (c *Checker) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "checked_at": c.now().UTC()})
	}).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", c.handler(false)).Methods(http.MethodGet)
	router.HandleFunc("/health/detailed", c.handler(true)).Methods(http.MethodGet)
}

func (c *Checker) handler(detailed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Check(r.Context(), detailed)
		// degraded still serves traffic
		status := http.StatusOK
		if report.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
