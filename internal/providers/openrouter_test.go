package providers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*OpenRouterClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewOpenRouterClient("test", "test-key", "test/model", 6000, 2, 5, slog.Default(),
		WithOpenRouterBaseURL(server.URL))
	return client, server
}

func chatResponse(content string) string {
	resp := map[string]any{
		"id":    "gen-1",
		"model": "test/model",
		"choices": []map[string]any{
			{
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     12,
			"completion_tokens": 8,
			"total_tokens":      20,
			"cost":              0.0004,
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestOpenRouterChat(t *testing.T) {
	var gotBody []byte
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", auth)
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(chatResponse("hello")))
	})

	result, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if result.Content != "hello" {
		t.Errorf("content = %q, want hello", result.Content)
	}
	if result.Usage.TotalTokens != 20 {
		t.Errorf("total tokens = %d, want 20", result.Usage.TotalTokens)
	}
	if result.Usage.CostUSD != 0.0004 {
		t.Errorf("cost = %v, want 0.0004", result.Usage.CostUSD)
	}

	var req map[string]any
	if err := json.Unmarshal(gotBody, &req); err != nil {
		t.Fatalf("failed to parse request body: %v", err)
	}
	if req["model"] != "test/model" {
		t.Errorf("model = %v", req["model"])
	}
}

func TestOpenRouterWebSearchModelSuffix(t *testing.T) {
	var gotModel string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)
		gotModel, _ = req["model"].(string)
		w.Write([]byte(chatResponse("grounded answer")))
	})

	_, err := client.Chat(context.Background(), &ChatRequest{
		Messages:  []Message{{Role: "user", Content: "recent findings?"}},
		WebSearch: true,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if gotModel != "test/model:online" {
		t.Errorf("model = %q, want test/model:online", gotModel)
	}
}

func TestOpenRouterCitations(t *testing.T) {
	resp := map[string]any{
		"choices": []map[string]any{
			{
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": "answer",
					"annotations": []map[string]any{
						{"type": "url_citation", "url_citation": map[string]any{"url": "https://example.org/a"}},
						{"type": "url_citation", "url_citation": map[string]any{"url": "https://example.org/b"}},
					},
				},
			},
		},
	}
	body, _ := json.Marshal(resp)

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	})

	result, err := client.Chat(context.Background(), &ChatRequest{
		Messages:  []Message{{Role: "user", Content: "q"}},
		WebSearch: true,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if len(result.Citations) != 2 {
		t.Fatalf("citations = %d, want 2", len(result.Citations))
	}
	if result.Citations[0] != "https://example.org/a" {
		t.Errorf("citation[0] = %s", result.Citations[0])
	}
}

func TestOpenRouterRetriesOn500(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(chatResponse("recovered")))
	})

	result, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if result.Content != "recovered" {
		t.Errorf("content = %q", result.Content)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestOpenRouterNoRetryOn400(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 400)", calls.Load())
	}
}

func TestOpenRouterNonceInjectionOnRetry(t *testing.T) {
	var calls atomic.Int32
	var secondBody []byte
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		secondBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(chatResponse("ok")))
	})

	_, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "original prompt"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !strings.Contains(string(secondBody), "[request-id: ") {
		t.Error("retry request missing injected nonce")
	}
	if !strings.Contains(string(secondBody), "original prompt") {
		t.Error("retry request lost original content")
	}
}

func TestInjectNonceReplacesPrevious(t *testing.T) {
	req := &openRouterRequest{
		Messages: []openRouterMessage{{Role: "user", Content: "prompt"}},
	}
	injectNonce(req)
	first := req.Messages[0].Content
	injectNonce(req)
	second := req.Messages[0].Content

	if strings.Count(second, "[request-id: ") != 1 {
		t.Errorf("nonces stacked: %q", second)
	}
	if first == second {
		t.Error("nonce was not refreshed")
	}
}

func TestConvertMessagesVision(t *testing.T) {
	msgs := convertMessages([]Message{
		{Role: "user", Content: "describe this", Images: []ImageData{{Base64: "aGVsbG8=", MimeType: "image/jpeg"}}},
	})
	if len(msgs) != 1 {
		t.Fatalf("messages = %d", len(msgs))
	}
	if len(msgs[0].MultiContent) != 2 {
		t.Fatalf("parts = %d, want 2", len(msgs[0].MultiContent))
	}
	img := msgs[0].MultiContent[1]
	if img.Type != "image_url" || img.ImageURL == nil {
		t.Fatal("missing image part")
	}
	if !strings.HasPrefix(img.ImageURL.URL, "data:image/jpeg;base64,") {
		t.Errorf("image url = %s", img.ImageURL.URL)
	}
}
