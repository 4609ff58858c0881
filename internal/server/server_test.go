package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/teller/internal/flow"
	"github.com/dativo-io/teller/internal/llm"
	"github.com/dativo-io/teller/internal/session"
	"github.com/dativo-io/teller/internal/store"
	"github.com/dativo-io/teller/internal/testutil"
	"github.com/dativo-io/teller/internal/tools"
)

func newTestServer(t *testing.T, provider llm.Provider, apiKeys map[string]string, opts ...Option) (*Server, *Manager) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "accounts.db"), testutil.TestSealKey)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Seed(context.Background()))

	toolReg := tools.NewRegistry()
	tools.RegisterBankTools(toolReg, st, 3)

	engine := session.NewEngine(session.Config{
		Provider:   provider,
		Flows:      flow.NewRegistry(flow.DefaultDocument()),
		Tools:      toolReg,
		Dispatcher: tools.NewDispatcher(toolReg, nil),
		Model:      "gpt-4o",
	})
	manager := NewManager(engine, 10*time.Minute)
	return NewServer(manager, apiKeys, opts...), manager
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeTurn(t *testing.T, rec *httptest.ResponseRecorder) turnResponse {
	t.Helper()
	var out turnResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &testutil.MockProvider{ProviderName: "openai"}, nil)
	h := srv.Routes()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestCreateCall_ReturnsGreeting(t *testing.T) {
	srv, _ := newTestServer(t, &testutil.MockProvider{ProviderName: "openai"}, nil)
	h := srv.Routes()

	rec := postJSON(t, h, "/v1/calls", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	out := decodeTurn(t, rec)
	assert.NotEmpty(t, out.CallID)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, flow.DefaultGreeting, out.Messages[0])
	assert.False(t, out.CallOver)
}

func TestCallMessage_ProcessesTurn(t *testing.T) {
	p := &testutil.ScriptedProvider{
		Responses:      []*llm.Response{{Content: "Happy to help. What do you need?", FinishReason: "stop"}},
		ClassifyResult: "general",
	}
	srv, _ := newTestServer(t, p, nil)
	h := srv.Routes()

	created := decodeTurn(t, postJSON(t, h, "/v1/calls", nil, nil))

	rec := postJSON(t, h, "/v1/calls/"+created.CallID+"/messages", messageRequest{Text: "hello, I have a question about loans today"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeTurn(t, rec)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "Happy to help. What do you need?", out.Messages[0])
	assert.False(t, out.CallOver)
}

func TestCallMessage_EmptyUtteranceGetsPardon(t *testing.T) {
	// Provider fails, so the deterministic pardon fallback is returned.
	srv, _ := newTestServer(t, &testutil.MockProvider{ProviderName: "openai", Err: context.DeadlineExceeded}, nil)
	h := srv.Routes()

	created := decodeTurn(t, postJSON(t, h, "/v1/calls", nil, nil))

	rec := postJSON(t, h, "/v1/calls/"+created.CallID+"/messages", messageRequest{Text: "   "}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeTurn(t, rec)
	require.Len(t, out.Messages, 1)
	assert.Contains(t, out.Messages[0], "didn't catch that")
	assert.False(t, out.CallOver)
}

func TestCallMessage_SanitizesHTML(t *testing.T) {
	p := &testutil.ScriptedProvider{
		Responses: []*llm.Response{{Content: "Understood.", FinishReason: "stop"}},
	}
	srv, manager := newTestServer(t, p, nil)
	h := srv.Routes()

	created := decodeTurn(t, postJSON(t, h, "/v1/calls", nil, nil))
	rec := postJSON(t, h, "/v1/calls/"+created.CallID+"/messages",
		messageRequest{Text: "<script>alert(1)</script>hello there my friend how are you doing"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	sess, ok := manager.Get(created.CallID)
	require.True(t, ok)
	for _, turn := range sess.Transcript() {
		assert.NotContains(t, turn.Text, "<script>")
	}
}

func TestCallMessage_UnknownCall(t *testing.T) {
	srv, _ := newTestServer(t, &testutil.MockProvider{ProviderName: "openai"}, nil)
	h := srv.Routes()

	rec := postJSON(t, h, "/v1/calls/no-such-id/messages", messageRequest{Text: "hello"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndCall_RemovesSession(t *testing.T) {
	srv, manager := newTestServer(t, &testutil.MockProvider{ProviderName: "openai"}, nil)
	h := srv.Routes()

	created := decodeTurn(t, postJSON(t, h, "/v1/calls", nil, nil))
	require.Equal(t, 1, manager.Count())

	req := httptest.NewRequest(http.MethodDelete, "/v1/calls/"+created.CallID, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, manager.Count())
}

func TestAuth_RequiredWhenKeysConfigured(t *testing.T) {
	keys := map[string]string{"secret-key": "dialer"}
	srv, _ := newTestServer(t, &testutil.MockProvider{ProviderName: "openai"}, keys)
	h := srv.Routes()

	rec := postJSON(t, h, "/v1/calls", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postJSON(t, h, "/v1/calls", nil, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postJSON(t, h, "/v1/calls", nil, map[string]string{"X-API-Key": "secret-key"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, h, "/v1/calls", nil, map[string]string{"Authorization": "Bearer secret-key"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Health stays open.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	hr := httptest.NewRecorder()
	h.ServeHTTP(hr, req)
	assert.Equal(t, http.StatusOK, hr.Code)
}

func TestRateLimit_Returns429(t *testing.T) {
	keys := map[string]string{"secret-key": "dialer"}
	srv, _ := newTestServer(t, &testutil.MockProvider{ProviderName: "openai"}, keys,
		WithRateLimiter(NewRateLimiter(2, 2, keys)))
	h := srv.Routes()
	hdr := map[string]string{"X-API-Key": "secret-key"}

	assert.Equal(t, http.StatusCreated, postJSON(t, h, "/v1/calls", nil, hdr).Code)
	assert.Equal(t, http.StatusCreated, postJSON(t, h, "/v1/calls", nil, hdr).Code)

	rec := postJSON(t, h, "/v1/calls", nil, hdr)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestManager_SweepExpiresIdleSessions(t *testing.T) {
	srv, manager := newTestServer(t, &testutil.MockProvider{ProviderName: "openai"}, nil)
	_ = srv

	_, _ = manager.Create(context.Background())
	require.Equal(t, 1, manager.Count())

	// Idle window of zero: everything is immediately stale.
	manager.idleAfter = 0
	time.Sleep(10 * time.Millisecond)
	manager.sweep()

	assert.Equal(t, 0, manager.Count())
}
