package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ChainGuard-Agent/internal/agent"
	"ChainGuard-Agent/internal/auth"
	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/task"
	"ChainGuard-Agent/internal/web3"
)

type stubAgent struct {
	reply    string
	err      error
	received []string
}

func (s *stubAgent) Execute(_ context.Context, text string, _ ...agent.ExecuteOption) (string, error) {
	s.received = append(s.received, text)
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubAgent) DefaultSession() string { return "default-session" }

func (s *stubAgent) Address(context.Context) (string, error) {
	return "0x71C7656EC7ab88b098defB751B7401B5f6d8976F", nil
}

func (s *stubAgent) NativeBalance(context.Context, web3.NativeBalanceParams) (string, error) {
	return "1.5 S", nil
}

func newTestServer(ag Agent) (*Server, *task.MemoryStore) {
	store := task.NewMemoryStore()
	svc := task.NewService(store, task.NewMemoryQueue(16), 3)
	return NewServer(":0", ag, svc), store
}

func do(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestExecute(t *testing.T) {
	ag := &stubAgent{reply: "The transaction was successful."}
	server, _ := newTestServer(ag)

	rec := do(t, server.Handler(), http.MethodPost, "/api/v1/execute", `{"instruction":"send 1 S to bob"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var resp executeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reply != ag.reply || resp.SessionID != "default-session" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(ag.received) != 1 || ag.received[0] != "send 1 S to bob" {
		t.Fatalf("instruction not forwarded: %v", ag.received)
	}
}

func TestExecuteMapsErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{xerrors.New(xerrors.CodeFirewallBlocked, "", xerrors.WithMetadata(xerrors.MetadataReason, "pattern")), http.StatusForbidden},
		{xerrors.New(xerrors.CodeValidation, "bad amount"), http.StatusBadRequest},
		{xerrors.New(xerrors.CodeInsufficientFunds, ""), http.StatusUnprocessableEntity},
		{xerrors.New(xerrors.CodeTimeout, ""), http.StatusGatewayTimeout},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		server, _ := newTestServer(&stubAgent{err: tc.err})
		rec := do(t, server.Handler(), http.MethodPost, "/api/v1/execute", `{"instruction":"x","session_id":"s"}`)
		if rec.Code != tc.status {
			t.Fatalf("%v: got status %d want %d", tc.err, rec.Code, tc.status)
		}
		var body errorResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if body.Code != xerrors.CodeOf(tc.err) {
			t.Fatalf("unexpected code %s", body.Code)
		}
		if body.Code == xerrors.CodeFirewallBlocked && body.Metadata[xerrors.MetadataReason] != "pattern" {
			t.Fatalf("firewall reason missing: %+v", body)
		}
	}
}

func TestExecuteRejectsMalformedBody(t *testing.T) {
	server, _ := newTestServer(&stubAgent{})
	rec := do(t, server.Handler(), http.MethodPost, "/api/v1/execute", `{"instruction":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	rec = do(t, server.Handler(), http.MethodPost, "/api/v1/execute", `{"instruction":"x","private_key":"abc"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown fields must be rejected, got %d", rec.Code)
	}
}

func TestTaskEndpoints(t *testing.T) {
	server, _ := newTestServer(&stubAgent{})
	handler := server.Handler()

	rec := do(t, handler, http.MethodPost, "/api/v1/tasks", `{"id":"task-1","instruction":"balance","session_id":"s1"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/tasks/task-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var got task.Task
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "task-1" || got.Status != task.StatusPending || got.SessionID != "s1" {
		t.Fatalf("unexpected task: %+v", got)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/tasks/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/tasks?status=pending&session_id=s1&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var list struct {
		Tasks []task.Task     `json:"tasks"`
		Stats task.TaskStats `json:"stats"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Tasks) != 1 || list.Stats.Pending != 1 {
		t.Fatalf("unexpected list: %+v", list)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/tasks?status=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
	rec = do(t, handler, http.MethodPost, "/api/v1/tasks", `{"instruction":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty instruction, got %d", rec.Code)
	}
}

func TestTasksDisabled(t *testing.T) {
	server := NewServer(":0", &stubAgent{}, nil)
	rec := do(t, server.Handler(), http.MethodGet, "/api/v1/tasks/any", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestWalletAndMetrics(t *testing.T) {
	server, _ := newTestServer(&stubAgent{})
	handler := server.Handler()

	rec := do(t, handler, http.MethodGet, "/api/v1/wallet", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var wallet map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&wallet); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if wallet["balance"] != "1.5 S" || !strings.HasPrefix(wallet["address"], "0x") {
		t.Fatalf("unexpected wallet: %v", wallet)
	}

	rec = do(t, handler, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected metrics status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chainguard_http_requests_total") {
		t.Fatalf("http metrics not exported")
	}

	rec = do(t, handler, http.MethodDelete, "/api/v1/wallet", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestTokenAuthentication(t *testing.T) {
	svc, err := auth.NewService([]auth.Token{
		{Name: "ops", Value: "ops-token"},
		{Name: "viewer", Value: "viewer-token", Permissions: []string{auth.PermissionWallet}},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ag := &stubAgent{reply: "ok"}
	handler := NewServer(":0", ag, nil, WithAuth(svc)).Handler()

	send := func(method, path, token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send(http.MethodPost, "/api/v1/execute", "", `{"instruction":"x"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Code != auth.CodeUnauthorized {
		t.Fatalf("unexpected error body: %+v (%v)", body, err)
	}
	if rec := send(http.MethodPost, "/api/v1/execute", "viewer-token", `{"instruction":"x"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", rec.Code)
	}
	if len(ag.received) != 0 {
		t.Fatalf("rejected requests must not reach the agent")
	}
	if rec := send(http.MethodGet, "/api/v1/wallet", "viewer-token", ""); rec.Code != http.StatusOK {
		t.Fatalf("viewer should read the wallet, got %d", rec.Code)
	}
	if rec := send(http.MethodPost, "/api/v1/execute", "ops-token", `{"instruction":"x"}`); rec.Code != http.StatusOK {
		t.Fatalf("ops should execute, got %d", rec.Code)
	}
	if rec := send(http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz must stay public, got %d", rec.Code)
	}
}
