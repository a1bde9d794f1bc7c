package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCompleteSendsPromptAndReturnsContent(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "the answer"}},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "test-key", ChatModel: "gpt-test"})
	got, err := c.Complete(context.Background(), "gpt-test", "be terse", "what is up", 0.2)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "the answer" {
		t.Errorf("content = %q", got)
	}
	if gotReq.Model != "gpt-test" || len(gotReq.Messages) != 2 {
		t.Errorf("request = %+v", gotReq)
	}
	if gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Role != "user" {
		t.Errorf("message roles = %s, %s", gotReq.Messages[0].Role, gotReq.Messages[1].Role)
	}
}

func TestCompleteProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if _, err := c.Complete(context.Background(), "m", "s", "u", 0); err == nil {
		t.Fatal("expected error on 429")
	}
}

// Vectors come back out of order; EmbedBatch must realign them by index.
func TestEmbedBatchRealignsByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if len(req.Input) != 3 {
			t.Errorf("input len = %d", len(req.Input))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 2, "embedding": []float32{3}},
				{"index": 0, "embedding": []float32{1}},
				{"index": 1, "embedding": []float32{2}},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, EmbedModel: "embed-test"})
	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, want := range []float32{1, 2, 3} {
		if len(vecs[i]) != 1 || vecs[i][0] != want {
			t.Errorf("vecs[%d] = %v, want [%v]", i, vecs[i], want)
		}
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	c := New(Config{BaseURL: "http://unused"})
	vecs, err := c.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v", vecs, err)
	}
}

func TestEmbedBatchCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{1}}},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if _, err := c.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error on vector count mismatch")
	}
}

// Batches over the per-request cap are split; every input must still get a
// vector in order.
func TestEmbedBatchSplitsLargeInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if len(req.Input) > maxEmbedInputs {
			t.Errorf("request input len = %d, exceeds cap", len(req.Input))
		}
		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			// Encode the input's identity so misaligned copies show up.
			data[i] = map[string]any{"index": i, "embedding": []float32{float32(len(text))}}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	texts := make([]string, maxEmbedInputs*2+7)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}

	c := New(Config{BaseURL: srv.URL, EmbedModel: "embed-test"})
	vecs, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors for %d inputs", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != 1 || v[0] != float32(i+1) {
			t.Errorf("vecs[%d] = %v, want [%d]", i, v, i+1)
		}
	}
}

func TestAgentModelFallsBackToChatModel(t *testing.T) {
	c := New(Config{ChatModel: "chat-m"})
	if c.AgentModel() != "chat-m" {
		t.Errorf("AgentModel = %q", c.AgentModel())
	}
	c = New(Config{ChatModel: "chat-m", AgentModel: "agent-m"})
	if c.AgentModel() != "agent-m" {
		t.Errorf("AgentModel = %q", c.AgentModel())
	}
}
