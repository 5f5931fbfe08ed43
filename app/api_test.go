package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/paw-chain/poc/ledger"
	"github.com/paw-chain/poc/network"
	"github.com/paw-chain/poc/testutil"
	"github.com/paw-chain/poc/types"
)

type APITestSuite struct {
	suite.Suite
	net     *network.Loopback
	node    *Node
	handler http.Handler
}

func (s *APITestSuite) SetupTest() {
	cfg := testConfig(s.T())
	s.net = network.NewLoopback(5, time.Second, log.NewNopLogger())
	testutil.Attesters(s.net, 7, network.Accepting(1))

	var err error
	s.node, err = NewNode(s.T().Context(), cfg, log.NewNopLogger(),
		WithNetwork(s.net),
		WithVerifiers(testutil.Registry(s.T())),
		WithLedger(ledger.NewMemory(log.NewNopLogger())),
	)
	s.Require().NoError(err)
	s.handler = NewAPIServer(s.node, cfg.API, log.NewNopLogger()).Handler()
}

func (s *APITestSuite) TearDownTest() {
	s.Require().NoError(s.node.Close(s.T().Context()))
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}

func (s *APITestSuite) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			s.Require().NoError(json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *APITestSuite) decode(w *httptest.ResponseRecorder, v interface{}) {
	s.Require().NoError(json.NewDecoder(w.Body).Decode(v), w.Body.String())
}

func (s *APITestSuite) TestSubmitAndQuery() {
	sub := testutil.Submission(s.T(), testutil.Addr(1), testutil.Payload(1, 256))
	sub.Metadata.SourceIP = "203.0.113.77"

	w := s.do("POST", "/v1/contributions", sub)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var receipt Receipt
	s.decode(w, &receipt)
	s.Require().Equal(types.SubmissionAccepted, receipt.Record.Status)
	s.Require().NotNil(receipt.Reward)
	s.Require().Equal("192.0.2.1", receipt.Record.Submission.Metadata.SourceIP, "source ip taken from the connection")

	w = s.do("GET", "/v1/contributions/"+sub.ID.String(), nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var rec types.SubmissionRecord
	s.decode(w, &rec)
	s.Require().Equal(sub.ID, rec.Submission.ID)
	s.Require().Equal("192.0.2.1", rec.Submission.Metadata.SourceIP, "body value never stored")

	w = s.do("GET", "/v1/rewards/"+sub.ID.String(), nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var reward types.RewardRecord
	s.decode(w, &reward)
	s.Require().True(receipt.Reward.Amount.Equal(reward.Amount))

	w = s.do("GET", "/v1/balances/"+string(sub.Submitter), nil)
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.do("GET", "/v1/reputation/"+string(sub.Submitter), nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var score types.ReputationScore
	s.decode(w, &score)
	s.Require().EqualValues(1, score.Contributions)

	w = s.do("GET", "/v1/reputation?top=5", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var top []types.ReputationScore
	s.decode(w, &top)
	s.Require().Len(top, 1)

	w = s.do("GET", "/v1/rewards/stats", nil)
	s.Require().Equal(http.StatusOK, w.Code)
}

func (s *APITestSuite) TestDistributionProof() {
	var ids []uuid.UUID
	for i := byte(1); i <= 3; i++ {
		sub := testutil.Submission(s.T(), testutil.Addr(i), testutil.Payload(uint64(10+i), 256))
		_, err := s.node.Submit(s.T().Context(), sub)
		s.Require().NoError(err)
		ids = append(ids, sub.ID)
	}

	w := s.do("GET", "/v1/rewards/epoch/0", nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var dist DistributionResponse
	s.decode(w, &dist)
	s.Require().Equal(3, dist.Records)
	s.Require().NotEmpty(dist.Root)

	w = s.do("GET", fmt.Sprintf("/v1/rewards/epoch/0/proof/%s", ids[1]), nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var proof DistributionProofResponse
	s.decode(w, &proof)
	s.Require().Equal(dist.Root, proof.Root)
	s.Require().Equal(ids[1], proof.Record.ContributionID)
	s.Require().NotEmpty(proof.Hashes)

	w = s.do("GET", fmt.Sprintf("/v1/rewards/epoch/0/proof/%s", uuid.New()), nil)
	s.Require().Equal(http.StatusNotFound, w.Code)
}

func (s *APITestSuite) TestSubmitAsync() {
	sub := testutil.Submission(s.T(), testutil.Addr(2), testutil.Payload(2, 256))
	w := s.do("POST", "/v1/contributions?async=true", sub)
	s.Require().Equal(http.StatusAccepted, w.Code, w.Body.String())

	s.Require().Eventually(func() bool {
		w := s.do("GET", "/v1/contributions/"+sub.ID.String(), nil)
		var rec types.SubmissionRecord
		return w.Code == http.StatusOK &&
			json.NewDecoder(w.Body).Decode(&rec) == nil &&
			rec.Status == types.SubmissionAccepted
	}, 5*time.Second, 20*time.Millisecond)
}

func (s *APITestSuite) TestSubmitFailures() {
	sub := testutil.Submission(s.T(), testutil.Addr(3), testutil.Payload(3, 256))
	w := s.do("POST", "/v1/contributions", sub)
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.do("POST", "/v1/contributions", sub)
	s.Require().Equal(http.StatusConflict, w.Code)
	var body map[string]interface{}
	s.decode(w, &body)
	s.Require().Equal(false, body["success"])
	s.Require().NotEmpty(body["recovery"])
	s.Require().NotNil(body["state"])

	tampered := testutil.Submission(s.T(), testutil.Addr(3), testutil.Payload(4, 256))
	tampered.DeclaredQuality = 0.9
	w = s.do("POST", "/v1/contributions", tampered)
	s.Require().Equal(http.StatusUnprocessableEntity, w.Code, w.Body.String())

	ahead := testutil.Submission(s.T(), testutil.Addr(3), testutil.Payload(5, 256),
		testutil.WithTimestamp(time.Now().Add(24*time.Hour)))
	w = s.do("POST", "/v1/contributions", ahead)
	s.Require().Equal(http.StatusBadRequest, w.Code, w.Body.String())
	body = nil
	s.decode(w, &body)
	s.Require().Contains(body["recovery"], "clock")

	w = s.do("POST", "/v1/contributions", `{"id": "not-a-uuid"}`)
	s.Require().Equal(http.StatusBadRequest, w.Code)

	w = s.do("POST", "/v1/contributions", `{"unexpected": true}`)
	s.Require().Equal(http.StatusBadRequest, w.Code)
}

func (s *APITestSuite) TestNotFound() {
	for _, path := range []string{
		"/v1/contributions/" + uuid.NewString(),
		"/v1/rewards/" + uuid.NewString(),
		"/v1/treasury/proposals/" + uuid.NewString(),
	} {
		w := s.do("GET", path, nil)
		s.Require().Equal(http.StatusNotFound, w.Code, path)
	}

	w := s.do("GET", "/v1/contributions/123", nil)
	s.Require().Equal(http.StatusBadRequest, w.Code)
	w = s.do("GET", "/v1/rewards/epoch/abc", nil)
	s.Require().Equal(http.StatusBadRequest, w.Code)
	w = s.do("GET", "/v1/reputation?top=0", nil)
	s.Require().Equal(http.StatusBadRequest, w.Code)
}

func (s *APITestSuite) TestTreasuryLifecycle() {
	proposer := testutil.Addr(9)
	draft := map[string]interface{}{
		"proposer":         proposer,
		"title":            "light client audit",
		"category":         types.CategorySecurity,
		"requested_amount": "500",
		"milestones": []map[string]interface{}{
			{"description": "report", "amount": "500"},
		},
	}
	w := s.do("POST", "/v1/treasury/proposals", draft)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var p types.TreasuryProposal
	s.decode(w, &p)
	s.Require().Equal(types.ProposalDrafted, p.Status)

	base := "/v1/treasury/proposals/" + p.ID.String()
	w = s.do("POST", base+"/votes", VoteRequest{Voter: testutil.Addr(10), Option: "yes", Power: 10})
	s.Require().Equal(http.StatusConflict, w.Code, "votes are refused before curation")

	w = s.do("POST", base+"/curate", nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.decode(w, &p)
	s.Require().Equal(types.ProposalOpenForVoting, p.Status)

	w = s.do("POST", base+"/votes", VoteRequest{Voter: testutil.Addr(10), Option: "yes", Power: 10})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	w = s.do("POST", base+"/votes", VoteRequest{Voter: testutil.Addr(10), Option: "no", Power: 10})
	s.Require().Equal(http.StatusConflict, w.Code)
	w = s.do("POST", base+"/votes", VoteRequest{Voter: testutil.Addr(11), Option: "maybe", Power: 1})
	s.Require().Equal(http.StatusBadRequest, w.Code)

	w = s.do("GET", "/v1/treasury/proposals?status=open_for_voting", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var listed []types.TreasuryProposal
	s.decode(w, &listed)
	s.Require().Len(listed, 1)

	w = s.do("POST", base+"/milestones/x", MilestoneRequest{Evidence: []byte("report")})
	s.Require().Equal(http.StatusBadRequest, w.Code)

	w = s.do("GET", "/v1/treasury/stats", nil)
	s.Require().Equal(http.StatusOK, w.Code)
}

func (s *APITestSuite) TestInvalidProposal() {
	w := s.do("POST", "/v1/treasury/proposals", map[string]interface{}{
		"proposer":         testutil.Addr(9),
		"category":         types.CategoryResearch,
		"requested_amount": "10",
	})
	s.Require().Equal(http.StatusBadRequest, w.Code, w.Body.String())
}

func (s *APITestSuite) TestNodeInfoAndHealth() {
	w := s.do("GET", "/v1/node", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var info NodeInfoResponse
	s.decode(w, &info)
	s.Require().Equal(Version, info.Version)
	s.Require().Contains(info.Schemes, types.SchemeGroth16)
	s.Require().NotEmpty(info.Network.Demand)

	for _, path := range []string{"/health", "/health/ready", "/health/detailed"} {
		w := s.do("GET", path, nil)
		s.Require().Equal(http.StatusOK, w.Code, path)
	}
}

func (s *APITestSuite) TestCORSPreflight() {
	req := httptest.NewRequest("OPTIONS", "/v1/node", nil)
	req.Header.Set("Origin", "https://explorer.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	s.Require().Equal("*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{types.ErrRateLimited.Wrap("x"), http.StatusTooManyRequests},
		{types.ErrNotFound.Wrap("x"), http.StatusNotFound},
		{types.ErrProposalNotFound, http.StatusNotFound},
		{types.ErrInvalidSubmission.Wrap("x"), http.StatusBadRequest},
		{types.ErrSubmissionConsumed, http.StatusConflict},
		{types.ErrTreasuryInsufficientFunds, http.StatusConflict},
		{types.ErrInvalidProof.Wrap("x"), http.StatusUnprocessableEntity},
		{types.ErrSybilSuspected, http.StatusUnprocessableEntity},
		{types.ErrQuorumNotReached, http.StatusServiceUnavailable},
		{types.ErrLedgerUnavailable, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.code, StatusFor(tt.err), tt.err.Error())
	}
}
