package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

func fixed(name string, status Status) Probe {
	return Probe{
		Name:  name,
		Check: func(context.Context) Result { return Result{Status: status} },
	}
}

func newChecker(t *testing.T, cfg Config, probes ...Probe) *Checker {
	t.Helper()
	c, err := NewChecker(log.NewNopLogger(), cfg, probes...)
	require.NoError(t, err)
	return c
}

func TestNewCheckerRejectsBadProbes(t *testing.T) {
	cases := map[string]struct {
		cfg    Config
		probes []Probe
		msg    string
	}{
		"zero timeout":  {Config{}, nil, "probe timeout"},
		"duplicate":     {DefaultConfig(), []Probe{fixed("store", StatusHealthy), fixed("store", StatusHealthy)}, "duplicate probe"},
		"missing check": {DefaultConfig(), []Probe{{Name: "store"}}, "requires a name"},
		"missing name":  {DefaultConfig(), []Probe{{Check: fixed("x", StatusHealthy).Check}}, "requires a name"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewChecker(log.NewNopLogger(), tc.cfg, tc.probes...)
			require.ErrorContains(t, err, tc.msg)
		})
	}
}

func TestWorstComponentWins(t *testing.T) {
	cases := []struct {
		statuses []Status
		want     Status
	}{
		{nil, StatusHealthy},
		{[]Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{[]Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{[]Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
		{[]Status{""}, StatusUnhealthy},
	}
	for _, tc := range cases {
		probes := make([]Probe, len(tc.statuses))
		for i, s := range tc.statuses {
			probes[i] = fixed(string(rune('a'+i)), s)
		}
		report := newChecker(t, DefaultConfig(), probes...).Check(context.Background(), true)
		require.Equal(t, tc.want, report.Status, tc.statuses)
	}
}

func TestDetailedProbesOnlyInDetailedReport(t *testing.T) {
	var runs atomic.Int32
	c := newChecker(t, DefaultConfig(),
		fixed("store", StatusHealthy),
		Probe{Name: "zk", Detailed: true, Check: func(context.Context) Result {
			runs.Add(1)
			return Degraded("one scheme", map[string]interface{}{"schemes": 1})
		}},
	)

	ready := c.Check(context.Background(), false)
	require.Equal(t, StatusHealthy, ready.Status)
	require.Len(t, ready.Components, 1)
	require.Zero(t, runs.Load())
	require.False(t, ready.Components["store"].CheckedAt.IsZero())

	detailed := c.Check(context.Background(), true)
	require.Equal(t, StatusDegraded, detailed.Status)
	require.Len(t, detailed.Components, 2)
	require.EqualValues(t, 1, runs.Load())
}

func TestOverrunningAndPanickingProbes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProbeTimeout = 20 * time.Millisecond
	c := newChecker(t, cfg,
		Probe{Name: "ledger", Check: func(ctx context.Context) Result {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return Healthy("late", nil)
		}},
		Probe{Name: "store", Check: func(context.Context) Result { panic("boom") }},
	)

	report := c.Check(context.Background(), false)
	require.Equal(t, StatusUnhealthy, report.Status)
	require.Contains(t, report.Components["ledger"].Message, "timed out")
	require.Contains(t, report.Components["store"].Message, "panicked")
}

func TestReadinessIsCached(t *testing.T) {
	var runs atomic.Int32
	cfg := DefaultConfig()
	cfg.CacheDuration = time.Minute
	c := newChecker(t, cfg, Probe{Name: "store", Check: func(context.Context) Result {
		runs.Add(1)
		return Healthy("ok", nil)
	}})
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	c.Check(context.Background(), false)
	c.Check(context.Background(), false)
	require.EqualValues(t, 1, runs.Load())

	c.Check(context.Background(), true)
	require.EqualValues(t, 2, runs.Load(), "detailed reports bypass the cache")

	now = now.Add(2 * time.Minute)
	c.Check(context.Background(), false)
	require.EqualValues(t, 3, runs.Load())
}

func TestConcurrentChecksShareOneRun(t *testing.T) {
	var runs atomic.Int32
	release := make(chan struct{})
	c := newChecker(t, DefaultConfig(), Probe{Name: "store", Check: func(context.Context) Result {
		runs.Add(1)
		<-release
		return Healthy("ok", nil)
	}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Check(context.Background(), true)
		}()
	}
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	require.LessOrEqual(t, runs.Load(), int32(8))
}

func TestRoutes(t *testing.T) {
	cases := []struct {
		status Status
		code   int
	}{
		{StatusHealthy, http.StatusOK},
		{StatusDegraded, http.StatusOK},
		{StatusUnhealthy, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			router := mux.NewRouter()
			newChecker(t, DefaultConfig(), fixed("store", tc.status)).RegisterRoutes(router)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			require.Equal(t, tc.code, w.Code)
			require.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var report Report
			require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
			require.Equal(t, tc.status, report.Status)

			// liveness ignores component state
			w = httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, http.StatusOK, w.Code)
		})
	}
}
