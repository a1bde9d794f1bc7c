package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zyvault/zyvault/internal/account"
	"github.com/zyvault/zyvault/internal/answer"
	"github.com/zyvault/zyvault/internal/ingest"
	"github.com/zyvault/zyvault/internal/retrieval"
	"github.com/zyvault/zyvault/internal/storage"
)

type fakeIngestor struct {
	got ingest.Request
	doc storage.Document
	err error
}

func (f *fakeIngestor) Ingest(ctx context.Context, req ingest.Request) (storage.Document, error) {
	f.got = req
	return f.doc, f.err
}

type fakeRetriever struct {
	evidence []retrieval.Evidence
	err      error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, accountID, question string, topK int) ([]retrieval.Evidence, error) {
	return f.evidence, f.err
}

type fakeAnswerer struct {
	direct answer.Result
	agents answer.Result
}

func (f *fakeAnswerer) Direct(ctx context.Context, q string, ev []retrieval.Evidence) (answer.Result, error) {
	f.direct.Evidence = ev
	return f.direct, nil
}

func (f *fakeAnswerer) Agents(ctx context.Context, q string, ev []retrieval.Evidence) (answer.Result, error) {
	f.agents.Evidence = ev
	return f.agents, nil
}

type testEnv struct {
	store    *storage.Store
	handler  http.Handler
	ingestor *fakeIngestor
	ret      *fakeRetriever
	ans      *fakeAnswerer
	code     string // routing code for uid-1's account
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	mgr := account.NewManager(s, nil)
	ingestor := &fakeIngestor{doc: storage.Document{ID: "doc-1", Status: storage.StatusIndexed}}
	ret := &fakeRetriever{}
	ans := &fakeAnswerer{
		direct: answer.Result{Answer: "direct answer [1]"},
		agents: answer.Result{Answer: "panel answer", Confidence: "medium"},
	}

	h := NewHandler(Deps{
		Store:      s,
		Accounts:   mgr,
		Bridge:     account.NewBridge(mgr, ingestor),
		Ingestor:   ingestor,
		Retriever:  ret,
		Answerer:   ans,
		AdminToken: "admin-secret",
	})

	env := &testEnv{store: s, handler: h, ingestor: ingestor, ret: ret, ans: ans}

	// Bootstrap an account for uid-1.
	res := env.do(t, http.MethodPost, "/account/init", "uid-1", map[string]string{"name": "Fund I"})
	if res.Code != http.StatusOK {
		t.Fatalf("account init: %d %s", res.Code, res.Body.String())
	}
	var initResp map[string]string
	if err := json.Unmarshal(res.Body.Bytes(), &initResp); err != nil {
		t.Fatal(err)
	}
	env.code = initResp["routing_code"]
	return env
}

func (e *testEnv) do(t *testing.T, method, path, uid string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if uid != "" {
		req.Header.Set(userHeader, uid)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func TestAccountMe(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(t, http.MethodGet, "/account/me", "uid-1", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d", res.Code)
	}
	var body map[string]any
	json.Unmarshal(res.Body.Bytes(), &body)
	if body["routing_code"] != env.code || body["wa_bound"] != false {
		t.Errorf("body = %v", body)
	}

	if res := env.do(t, http.MethodGet, "/account/me", "uid-unknown", nil); res.Code != http.StatusNotFound {
		t.Errorf("unknown uid status = %d", res.Code)
	}
	if res := env.do(t, http.MethodGet, "/account/me", "", nil); res.Code != http.StatusBadRequest {
		t.Errorf("missing header status = %d", res.Code)
	}
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(t, http.MethodPost, "/ingest/upload", "uid-1", map[string]string{
		"title":   "Q3 Report",
		"content": "Revenue increased 15%",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", res.Code, res.Body.String())
	}
	if env.ingestor.got.Title != "Q3 Report" || string(env.ingestor.got.Data) != "Revenue increased 15%" {
		t.Errorf("ingest request = %+v", env.ingestor.got)
	}

	// Validation failures come back as 400 with the error envelope.
	res = env.do(t, http.MethodPost, "/ingest/upload", "uid-1", map[string]string{"title": "no content"})
	if res.Code != http.StatusBadRequest {
		t.Errorf("missing content status = %d", res.Code)
	}
	var envlp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	json.Unmarshal(res.Body.Bytes(), &envlp)
	if envlp.Error.Type != "invalid_request_error" {
		t.Errorf("error type = %q", envlp.Error.Type)
	}

	res = env.do(t, http.MethodPost, "/ingest/upload", "uid-1", map[string]string{
		"title": "bad b64", "content_base64": "!!!not-base64!!!",
	})
	if res.Code != http.StatusBadRequest {
		t.Errorf("bad base64 status = %d", res.Code)
	}
}

func TestBridgeEndpoint(t *testing.T) {
	env := newTestEnv(t)

	// Unbound sender posting content is forbidden.
	res := env.do(t, http.MethodPost, "/ingest/whatsapp-bridge", "", map[string]string{
		"sender": "+1555", "text": "hello",
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("unbound status = %d", res.Code)
	}

	// Binding with the routing code.
	res = env.do(t, http.MethodPost, "/ingest/whatsapp-bridge", "", map[string]string{
		"sender": "+1555", "text": env.code,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("bind status = %d: %s", res.Code, res.Body.String())
	}
	var body map[string]string
	json.Unmarshal(res.Body.Bytes(), &body)
	if body["status"] != "bound" {
		t.Errorf("body = %v", body)
	}

	// Now content flows through.
	res = env.do(t, http.MethodPost, "/ingest/whatsapp-bridge", "", map[string]string{
		"sender": "+1555", "text": "founder sent the term sheet",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("ingest status = %d", res.Code)
	}
	json.Unmarshal(res.Body.Bytes(), &body)
	if body["status"] != "ingested" || body["doc_id"] != "doc-1" {
		t.Errorf("body = %v", body)
	}

	// Group messages are acknowledged but ignored.
	res = env.do(t, http.MethodPost, "/ingest/whatsapp-bridge", "", map[string]string{
		"sender": "123@g.us", "text": "noise",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("group status = %d", res.Code)
	}
	json.Unmarshal(res.Body.Bytes(), &body)
	if body["status"] != "ignored" {
		t.Errorf("body = %v", body)
	}
}

func TestChatDirect(t *testing.T) {
	env := newTestEnv(t)
	env.ret.evidence = []retrieval.Evidence{{
		Citation: 1, DocID: "doc-1", Title: "Q3 Report", Page: 2,
		Source: storage.SourceUpload, DocCreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}}

	res := env.do(t, http.MethodPost, "/chat", "uid-1", map[string]any{"question": "Q3 growth?"})
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", res.Code, res.Body.String())
	}
	var body struct {
		Answer    string             `json:"answer"`
		Citations []citationResponse `json:"citations"`
	}
	json.Unmarshal(res.Body.Bytes(), &body)
	if body.Answer != "direct answer [1]" {
		t.Errorf("answer = %q", body.Answer)
	}
	if len(body.Citations) != 1 || body.Citations[0].Title != "Q3 Report" || body.Citations[0].Date != "2025-06-01" {
		t.Errorf("citations = %+v", body.Citations)
	}

	// The query lands in the audit trail.
	entries, err := env.store.ListAudit(accountIDFor(t, env, "uid-1"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != "ask" {
		t.Errorf("audit = %+v", entries)
	}
}

func TestChatAgentsAndEmptyIndex(t *testing.T) {
	env := newTestEnv(t)
	env.ret.evidence = []retrieval.Evidence{{Citation: 1, DocID: "d", Title: "T"}}

	res := env.do(t, http.MethodPost, "/chat/agents", "uid-1", map[string]any{"question": "risks?"})
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d", res.Code)
	}
	var body map[string]any
	json.Unmarshal(res.Body.Bytes(), &body)
	if body["answer"] != "panel answer" || body["confidence"] != "medium" {
		t.Errorf("body = %v", body)
	}

	// No evidence: fixed message, no model calls.
	env.ret.evidence = nil
	res = env.do(t, http.MethodPost, "/chat", "uid-1", map[string]any{"question": "anything?"})
	if res.Code != http.StatusOK {
		t.Fatalf("status = %d", res.Code)
	}
	json.Unmarshal(res.Body.Bytes(), &body)
	if body["answer"] != answer.InsufficientMessage || body["confidence"] != "low" {
		t.Errorf("body = %v", body)
	}

	// Empty question is rejected before retrieval.
	res = env.do(t, http.MethodPost, "/chat", "uid-1", map[string]any{"question": ""})
	if res.Code != http.StatusBadRequest {
		t.Errorf("empty question status = %d", res.Code)
	}
}

func TestAdminResetRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/reset/whatsapp", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/reset/whatsapp", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token status = %d: %s", w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	res := env.do(t, http.MethodGet, "/health", "", nil)
	if res.Code != http.StatusOK {
		t.Errorf("status = %d", res.Code)
	}
}

func accountIDFor(t *testing.T, env *testEnv, uid string) string {
	t.Helper()
	id, err := env.store.AccountForUser(uid)
	if err != nil {
		t.Fatal(err)
	}
	return id
}
