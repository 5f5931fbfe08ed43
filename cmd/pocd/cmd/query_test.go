package cmd

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/paw-chain/poc/app"
	"github.com/paw-chain/poc/testutil"
	"github.com/paw-chain/poc/types"
)

type recorded struct {
	Method string
	Path   string
	Body   []byte
}

// fakeNode records requests and answers every path with a fixed body.
type fakeNode struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recorded
	status   int
	body     string
}

func newFakeNode(t *testing.T) *fakeNode {
	f := &fakeNode{status: http.StatusOK, body: `{"ok":true}`}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, recorded{Method: r.Method, Path: r.URL.RequestURI(), Body: body})
		status, resp := f.status, f.body
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeNode) last(t *testing.T) recorded {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func (f *fakeNode) respond(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.body = status, body
}

func TestQueryPaths(t *testing.T) {
	node := newFakeNode(t)
	id := uuid.New().String()
	addr := string(testutil.Addr(1))

	cases := []struct {
		args []string
		path string
	}{
		{[]string{"submission", id}, "/v1/contributions/" + id},
		{[]string{"reward", id}, "/v1/rewards/" + id},
		{[]string{"distribution", "4"}, "/v1/rewards/epoch/4"},
		{[]string{"reward-proof", "4", id}, "/v1/rewards/epoch/4/proof/" + id},
		{[]string{"reputation", addr}, "/v1/reputation/" + addr},
		{[]string{"balance", addr}, "/v1/balances/" + addr},
		{[]string{"top", "--limit", "3"}, "/v1/reputation?top=3"},
		{[]string{"reward-stats"}, "/v1/rewards/stats"},
		{[]string{"proposal", id}, "/v1/treasury/proposals/" + id},
		{[]string{"proposals", "--status", "passed"}, "/v1/treasury/proposals?status=passed"},
		{[]string{"treasury"}, "/v1/treasury/stats"},
		{[]string{"node"}, "/v1/node"},
		{[]string{"health"}, "/health/detailed"},
	}
	for _, tc := range cases {
		t.Run(tc.args[0], func(t *testing.T) {
			args := append([]string{"query", "--node", node.URL}, tc.args...)
			out, err := execute(t, args...)
			require.NoError(t, err)
			require.JSONEq(t, `{"ok":true}`, out)

			req := node.last(t)
			require.Equal(t, http.MethodGet, req.Method)
			require.Equal(t, tc.path, req.Path)
		})
	}
}

func TestQueryRejectsBadArguments(t *testing.T) {
	node := newFakeNode(t)
	for _, args := range [][]string{
		{"submission", "not-a-uuid"},
		{"distribution", "-1"},
		{"reputation", "cosmos1invalid"},
		{"top", "--limit", "0"},
		{"reward-proof", "x", uuid.New().String()},
	} {
		_, err := execute(t, append([]string{"q", "--node", node.URL}, args...)...)
		require.Error(t, err, args)
	}
	node.mu.Lock()
	defer node.mu.Unlock()
	require.Empty(t, node.requests)
}

func TestQueryReportsNodeError(t *testing.T) {
	node := newFakeNode(t)
	node.respond(http.StatusNotFound, `{"error":"submission not found"}`)

	_, err := execute(t, "query", "--node", node.URL, "submission", uuid.New().String())
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, "submission not found", apiErr.Message)
}

func TestQueryNodeUnreachable(t *testing.T) {
	node := newFakeNode(t)
	url := node.URL
	node.Close()

	_, err := execute(t, "query", "--node", url, "node")
	require.ErrorContains(t, err, "node unreachable")
}

func TestTxSubmit(t *testing.T) {
	node := newFakeNode(t)
	sub := testutil.Submission(t, testutil.Addr(1), testutil.Payload(1, 64))
	bz, err := json.Marshal(sub)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "sub.json")
	require.NoError(t, os.WriteFile(path, bz, 0o600))

	_, err = execute(t, "tx", "--node", node.URL, "submit", path)
	require.NoError(t, err)
	req := node.last(t)
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, "/v1/contributions", req.Path)

	var sent types.ContributionSubmission
	require.NoError(t, json.Unmarshal(req.Body, &sent))
	require.Equal(t, sub.ID, sent.ID)
	require.Equal(t, sub.PayloadFingerprint, sent.PayloadFingerprint)

	_, err = execute(t, "tx", "--node", node.URL, "submit", path, "--async")
	require.NoError(t, err)
	require.Equal(t, "/v1/contributions?async=true", node.last(t).Path)
}

func TestTxSubmitPrintsRejectedOutcome(t *testing.T) {
	node := newFakeNode(t)
	node.respond(http.StatusConflict, `{"success":false,"error":"duplicate contribution","recovery":"resubmit new work"}`)
	sub := testutil.Submission(t, testutil.Addr(2), testutil.Payload(2, 64))
	bz, err := json.Marshal(sub)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "sub.json")
	require.NoError(t, os.WriteFile(path, bz, 0o600))

	out, err := execute(t, "tx", "--node", node.URL, "submit", path)
	require.ErrorContains(t, err, "duplicate contribution")
	require.ErrorContains(t, err, "resubmit new work")
	require.Contains(t, out, `"success": false`)
}

func TestTxSubmitRejectsInvalidFile(t *testing.T) {
	node := newFakeNode(t)
	path := filepath.Join(t.TempDir(), "sub.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"`+uuid.New().String()+`"}`), 0o600))

	_, err := execute(t, "tx", "--node", node.URL, "submit", path)
	require.ErrorIs(t, err, types.ErrInvalidSubmission)

	_, err = execute(t, "tx", "--node", node.URL, "submit", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestTxTreasury(t *testing.T) {
	node := newFakeNode(t)
	id := uuid.New().String()
	voter := string(testutil.Addr(3))

	_, err := execute(t, "tx", "--node", node.URL, "curate", id)
	require.NoError(t, err)
	require.Equal(t, "/v1/treasury/proposals/"+id+"/curate", node.last(t).Path)

	_, err = execute(t, "tx", "--node", node.URL, "vote", id, "yes", "--voter", voter, "--power", "2.5")
	require.NoError(t, err)
	req := node.last(t)
	require.Equal(t, "/v1/treasury/proposals/"+id+"/votes", req.Path)
	var vote app.VoteRequest
	require.NoError(t, json.Unmarshal(req.Body, &vote))
	require.Equal(t, app.VoteRequest{Voter: types.Address(voter), Option: "yes", Power: 2.5}, vote)

	_, err = execute(t, "tx", "--node", node.URL, "vote", id, "maybe", "--voter", voter)
	require.Error(t, err)

	evidence := filepath.Join(t.TempDir(), "evidence.json")
	require.NoError(t, os.WriteFile(evidence, []byte(`{"evidence":"ZG9uZQ=="}`), 0o600))
	_, err = execute(t, "tx", "--node", node.URL, "milestone", id, "1", evidence)
	require.NoError(t, err)
	req = node.last(t)
	require.Equal(t, "/v1/treasury/proposals/"+id+"/milestones/1", req.Path)
	var ms app.MilestoneRequest
	require.NoError(t, json.Unmarshal(req.Body, &ms))
	require.Equal(t, []byte("done"), ms.Evidence)
	require.Nil(t, ms.Proof)
}
