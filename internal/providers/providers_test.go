package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRetryDoStopsOnNonRetryableStatus(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, func() (int, error) {
		calls++
		return 0, &HTTPError{Status: http.StatusUnauthorized, Body: "bad key"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("401 retried: %d calls", calls)
	}
}

func TestRetryDoRetriesRateLimit(t *testing.T) {
	calls := 0
	result, err := RetryDo(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPError{Status: http.StatusTooManyRequests, Body: "slow down"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if result != "ok" || calls != 3 {
		t.Errorf("result=%q calls=%d", result, calls)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := ParseRetryAfter("7"); got != 7*time.Second {
		t.Errorf("got %v", got)
	}
	if got := ParseRetryAfter("Wed, 21 Oct 2026 07:28:00 GMT"); got != 0 {
		t.Errorf("http-date should be ignored, got %v", got)
	}
	if got := ParseRetryAfter(""); got != 0 {
		t.Errorf("got %v", got)
	}
}

func TestAnthropicChatMapsToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("missing version header")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "checking"},
				{"type": "tool_use", "id": "tu_1", "name": "read_file", "input": map[string]interface{}{"path": "a.txt"}},
			},
			"stop_reason": "tool_use",
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 4},
		})
	}))
	defer server.Close()

	p := NewAnthropic("key", "claude-sonnet-4-6")
	p.baseURL = server.URL

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "read_file" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["path"] != "a.txt" {
		t.Errorf("arguments = %v", resp.ToolCalls[0].Arguments)
	}
	if resp.Usage.TotalTokens != 14 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestAnthropicChatSurfacesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"invalid_request_error"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	p := NewAnthropic("key", "claude-sonnet-4-6")
	p.baseURL = server.URL

	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadRequest {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenAICompatibleChatMapsToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer token")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{
				"message": map[string]interface{}{
					"content": "",
					"tool_calls": []map[string]interface{}{{
						"id": "call_1",
						"function": map[string]interface{}{
							"name":      "sessions_spawn",
							"arguments": `{"task":"go"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
			"usage": map[string]int{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
		})
	}))
	defer server.Close()

	p := NewOpenAICompatible("openai", "key", server.URL, "gpt-4o")
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "spawn"}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Arguments["task"] != "go" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewAnthropic("k", "m"))
	if _, err := reg.Get("anthropic"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Get("missing"); err == nil {
		t.Error("unknown provider must error")
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "anthropic" {
		t.Errorf("names = %v", names)
	}
}
