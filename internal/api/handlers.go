// Package api exposes the HTTP surface: account lifecycle, ingestion
// endpoints, the WhatsApp bridge webhook, and the two chat modes.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/zyvault/zyvault/internal/account"
	"github.com/zyvault/zyvault/internal/answer"
	"github.com/zyvault/zyvault/internal/ingest"
	"github.com/zyvault/zyvault/internal/retrieval"
	"github.com/zyvault/zyvault/internal/storage"
)

const maxIngestBodySize = 10 << 20 // 10MB
const maxRequestBodySize = 1 << 20 // 1MB

// userHeader identifies the caller; session handling lives upstream.
const userHeader = "X-User-ID"

// Ingestor runs the document pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, req ingest.Request) (storage.Document, error)
}

// Retriever produces ranked evidence for a question.
type Retriever interface {
	Retrieve(ctx context.Context, accountID, question string, topK int) ([]retrieval.Evidence, error)
}

// Answerer drives the synthesis passes.
type Answerer interface {
	Direct(ctx context.Context, question string, evidence []retrieval.Evidence) (answer.Result, error)
	Agents(ctx context.Context, question string, evidence []retrieval.Evidence) (answer.Result, error)
}

// Deps wires the handlers to the rest of the system.
type Deps struct {
	Store      *storage.Store
	Accounts   *account.Manager
	Bridge     *account.Bridge
	Ingestor   Ingestor
	Retriever  Retriever
	Answerer   Answerer
	AdminToken string
	// DefaultTopK applies when a chat request does not set top_k.
	DefaultTopK int
	Logger      *slog.Logger
}

// NewHandler builds the router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/account/init", handleAccountInit(deps))
	r.Get("/account/me", handleAccountMe(deps))
	r.Post("/ingest/upload", handleUpload(deps))
	r.Post("/ingest/whatsapp-bridge", handleBridge(deps))
	r.Post("/chat", handleChat(deps, false))
	r.Post("/chat/agents", handleChat(deps, true))
	r.Get("/index", handleIndex(deps))
	r.Get("/audit", handleAudit(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.AdminToken))
		r.Post("/admin/reset/whatsapp", handleResetBindings(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// resolveAccount maps the X-User-ID header to an account, writing the error
// response itself on failure.
func resolveAccount(w http.ResponseWriter, r *http.Request, deps Deps) (string, bool) {
	uid := r.Header.Get(userHeader)
	if uid == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s header is required", userHeader)
		return "", false
	}
	accountID, err := deps.Accounts.Resolve(uid)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "no account for this user; call /account/init first")
		return "", false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "resolving account: %v", err)
		return "", false
	}
	return accountID, true
}

type accountInitRequest struct {
	Name string `json:"name"`
}

func (req accountInitRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Name, validation.Required, validation.Length(1, 120)),
	)
}

func handleAccountInit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get(userHeader)
		if uid == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s header is required", userHeader)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req accountInitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := req.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		acct, code, err := deps.Accounts.Init(uid, req.Name)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "creating account: %v", err)
			return
		}
		writeJSON(w, map[string]string{
			"account_id":   acct.ID,
			"name":         acct.Name,
			"routing_code": code,
		})
	}
}

func handleAccountMe(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := resolveAccount(w, r, deps)
		if !ok {
			return
		}
		acct, err := deps.Store.GetAccount(accountID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading account: %v", err)
			return
		}
		binding, err := deps.Accounts.Binding(accountID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading binding: %v", err)
			return
		}
		writeJSON(w, map[string]any{
			"account_id":   acct.ID,
			"name":         acct.Name,
			"routing_code": binding.RoutingCode,
			"wa_bound":     binding.WANumber != "",
		})
	}
}

type uploadRequest struct {
	Title string `json:"title"`
	// Content holds plain text; ContentBase64 holds binary payloads (PDFs).
	Content       string `json:"content"`
	ContentBase64 string `json:"content_base64"`
	Source        string `json:"source"`
}

func (req uploadRequest) Validate() error {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Title, validation.Required, validation.Length(1, 255)),
		validation.Field(&req.Source, validation.In(
			storage.SourceUpload, storage.SourceEmail, storage.SourceWhatsApp, storage.SourceDrive)),
	); err != nil {
		return err
	}
	if req.Content == "" && req.ContentBase64 == "" {
		return errors.New("one of content or content_base64 is required")
	}
	return nil
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := resolveAccount(w, r, deps)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req uploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := req.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		data := []byte(req.Content)
		if req.ContentBase64 != "" {
			decoded, err := base64.StdEncoding.DecodeString(req.ContentBase64)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			data = decoded
		}

		doc, err := deps.Ingestor.Ingest(r.Context(), ingest.Request{
			AccountID: accountID,
			Title:     req.Title,
			Source:    req.Source,
			Who:       r.Header.Get(userHeader),
			Data:      data,
		})
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "ingest_error", "ingestion failed: %v", err)
			return
		}
		writeJSON(w, map[string]string{
			"doc_id": doc.ID,
			"status": doc.Status,
		})
	}
}

type bridgeRequest struct {
	Sender      string `json:"sender"`
	Text        string `json:"text"`
	MediaBase64 string `json:"media_base64"`
	Filename    string `json:"filename"`
}

func handleBridge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req bridgeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Sender == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "sender is required")
			return
		}

		var media []byte
		if req.MediaBase64 != "" {
			decoded, err := base64.StdEncoding.DecodeString(req.MediaBase64)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 media")
				return
			}
			media = decoded
		}

		res, err := deps.Bridge.Handle(r.Context(), account.BridgeMessage{
			Sender:   req.Sender,
			Text:     req.Text,
			Media:    media,
			Filename: req.Filename,
		})
		switch {
		case errors.Is(err, account.ErrIgnored):
			writeJSON(w, map[string]string{"status": "ignored"})
		case errors.Is(err, account.ErrUnbound):
			httpError(w, http.StatusForbidden, "unbound_sender", "send your routing code first to bind this number")
		case err != nil:
			httpError(w, http.StatusUnprocessableEntity, "ingest_error", "%v", err)
		case res.Bound:
			writeJSON(w, map[string]string{"status": "bound"})
		default:
			writeJSON(w, map[string]string{"status": "ingested", "doc_id": res.Doc.ID})
		}
	}
}

type chatRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

func (req chatRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Question, validation.Required, validation.Length(1, 4000)),
		validation.Field(&req.TopK, validation.Min(0), validation.Max(20)),
	)
}

type citationResponse struct {
	Index  int    `json:"index"`
	DocID  string `json:"doc_id"`
	Title  string `json:"title"`
	Page   int    `json:"page"`
	Source string `json:"source"`
	Date   string `json:"date"`
}

func handleChat(deps Deps, agents bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := resolveAccount(w, r, deps)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := req.Validate(); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		topK := req.TopK
		if topK == 0 {
			topK = deps.DefaultTopK
		}
		evidence, err := deps.Retriever.Retrieve(r.Context(), accountID, req.Question, topK)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "retrieval failed: %v", err)
			return
		}

		var result answer.Result
		if len(evidence) == 0 {
			result = answer.Result{Answer: answer.InsufficientMessage, Confidence: "low"}
		} else if agents {
			result, err = deps.Answerer.Agents(r.Context(), req.Question, evidence)
		} else {
			result, err = deps.Answerer.Direct(r.Context(), req.Question, evidence)
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "synthesis failed: %v", err)
			return
		}

		deps.auditAsk(accountID, r.Header.Get(userHeader), req.Question, agents)

		citations := make([]citationResponse, len(result.Evidence))
		for i, e := range result.Evidence {
			citations[i] = citationResponse{
				Index:  e.Citation,
				DocID:  e.DocID,
				Title:  e.Title,
				Page:   e.Page,
				Source: e.Source,
				Date:   e.DocCreatedAt.Format("2006-01-02"),
			}
		}
		writeJSON(w, map[string]any{
			"answer":     result.Answer,
			"confidence": result.Confidence,
			"citations":  citations,
		})
	}
}

// auditAsk records the query best-effort; failures are logged and dropped.
func (deps Deps) auditAsk(accountID, uid, question string, agents bool) {
	action := "ask"
	if agents {
		action = "ask.agents"
	}
	details, _ := json.Marshal(map[string]string{"question": question})
	err := deps.Store.AppendAudit(storage.AuditEntry{
		AccountID: accountID,
		Who:       uid,
		Action:    action,
		Subject:   "chat",
		Details:   string(details),
	})
	if err != nil {
		deps.Logger.Warn("audit write failed", "action", action, "error", err)
	}
}

func handleIndex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := resolveAccount(w, r, deps)
		if !ok {
			return
		}
		docs, err := deps.Store.ListDocuments(accountID, parseIntParam(r, "limit", 50, 200))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing documents: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.Document{}
		}
		writeJSON(w, docs)
	}
}

func handleAudit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := resolveAccount(w, r, deps)
		if !ok {
			return
		}
		entries, err := deps.Store.ListAudit(accountID, parseIntParam(r, "limit", 50, 200))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing audit: %v", err)
			return
		}
		if entries == nil {
			entries = []storage.AuditEntry{}
		}
		writeJSON(w, entries)
	}
}

func handleResetBindings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cleared, err := deps.Accounts.ResetBindings()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "resetting bindings: %v", err)
			return
		}
		removed, err := deps.Accounts.PurgeWhatsAppContent()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "purging whatsapp content: %v", err)
			return
		}
		writeJSON(w, map[string]int{
			"bindings_cleared":  cleared,
			"documents_removed": removed,
		})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
