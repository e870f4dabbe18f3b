package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(url string) *openAICompatProvider {
	p := NewOpenAICompat(Config{BaseURL: url, Model: "test-model", APIKey: "sk-test"}).(*openAICompatProvider)
	p.base.retries = 2
	p.base.retryDelay = time.Millisecond
	p.base.rateDelay = time.Millisecond
	return p
}

const okBody = `{"model":"test-model","choices":[{"message":{"content":"{\"ok\":true}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`

func TestChatSendsJSONMode(t *testing.T) {
	var got chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).Chat(context.Background(), ChatRequest{
		Messages:       []Message{System("sys"), User("hi")},
		ResponseFormat: FormatJSONObject,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if got.Model != "test-model" {
		t.Errorf("model = %q, want config default", got.Model)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %+v", got.ResponseFormat)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != RoleSystem {
		t.Errorf("messages = %+v", got.Messages)
	}
	if resp.Content != `{"ok":true}` || resp.TotalTokens != 5 || resp.FinishReason != "stop" {
		t.Errorf("response = %+v", resp)
	}
}

func TestChatRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).Chat(context.Background(), ChatRequest{Messages: []Message{User("hi")}}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestChatDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Chat(context.Background(), ChatRequest{Messages: []Message{User("hi")}})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v, want 401", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestChatGivesUpAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Chat(context.Background(), ChatRequest{Messages: []Message{User("hi")}})
	if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
		t.Fatalf("err = %v", err)
	}
}

func TestChatNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Chat(context.Background(), ChatRequest{Messages: []Message{User("hi")}})
	if err == nil || err.Error() != "no choices in response" {
		t.Fatalf("err = %v", err)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"prose around", "Here you go: {\"a\":1} hope it helps", `{"a":1}`, false},
		{"broken stays broken", `{"a":1,}`, `{"a":1,}`, false},
		{"no object", "sorry, I cannot", "", true},
		{"array only", "[1,2]", "", true},
		{"array of objects", `[{"a":1},{"b":2}]`, "", true},
		{"fenced array", "```json\n[{\"a\":1}]\n```", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
