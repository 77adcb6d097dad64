package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailpilot/internal/model"
)

func testCandidates() []CandidateRule {
	return []CandidateRule{
		{ID: 1, Name: "cold email", Instructions: "unsolicited sales outreach"},
		{ID: 2, Name: "receipts", Instructions: "order confirmations and receipts"},
	}
}

func testMsg() *model.Message {
	return &model.Message{
		ID:      "m1",
		From:    "sales@randomco.io",
		Subject: "Quick question",
		Body:    "Hi, do you have 15 minutes this week?",
	}
}

func newTestClient(url string) *Client {
	return NewClient(url, 2*time.Second, 2000, zap.NewNop())
}

func TestClassifyPicksCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/classify", r.URL.Path)
		assert.Len(t, req.Rules, 2)

		json.NewEncoder(w).Encode(map[string]any{
			"rule_id":   1,
			"rationale": "unsolicited outreach from unknown sender",
		})
	}))
	defer srv.Close()

	v := newTestClient(srv.URL).Classify(context.Background(), testMsg(), testCandidates())
	require.NotNil(t, v.RuleID)
	assert.Equal(t, int64(1), *v.RuleID)
	assert.Equal(t, "unsolicited outreach from unknown sender", v.Rationale)
}

func TestClassifyAbstains(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"rule_id": nil})
	}))
	defer srv.Close()

	v := newTestClient(srv.URL).Classify(context.Background(), testMsg(), testCandidates())
	assert.Nil(t, v.RuleID)
}

func TestClassifyUnknownRuleTreatedAsAbstain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"rule_id": 999})
	}))
	defer srv.Close()

	v := newTestClient(srv.URL).Classify(context.Background(), testMsg(), testCandidates())
	assert.Nil(t, v.RuleID)
}

func TestClassifyServerErrorTreatedAsAbstain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	v := newTestClient(srv.URL).Classify(context.Background(), testMsg(), testCandidates())
	assert.Nil(t, v.RuleID)
}

func TestClassifyMalformedResponseTreatedAsAbstain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	v := newTestClient(srv.URL).Classify(context.Background(), testMsg(), testCandidates())
	assert.Nil(t, v.RuleID)
}

func TestClassifyTimeoutTreatedAsAbstain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{"rule_id": 1})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 50*time.Millisecond, 2000, zap.NewNop())
	v := c.Classify(context.Background(), testMsg(), testCandidates())
	assert.Nil(t, v.RuleID)
}

func TestClassifyNoCandidatesSkipsCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	v := newTestClient(srv.URL).Classify(context.Background(), testMsg(), nil)
	assert.Nil(t, v.RuleID)
	assert.False(t, called)
}

func TestClassifyTruncatesBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotBody = req.Body
		json.NewEncoder(w).Encode(map[string]any{"rule_id": nil})
	}))
	defer srv.Close()

	msg := testMsg()
	msg.Body = strings.Repeat("x", 5000)

	c := NewClient(srv.URL, time.Second, 100, zap.NewNop())
	c.Classify(context.Background(), msg, testCandidates())
	assert.Len(t, gotBody, 100)
}
