package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 8192
)

// Anthropic implements Provider against the Messages API.
type Anthropic struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	retry        RetryConfig
}

func NewAnthropic(apiKey, defaultModel string) *Anthropic {
	return &Anthropic{
		apiKey:       apiKey,
		baseURL:      anthropicAPIBase,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retry:        DefaultRetryConfig(),
	}
}

func (a *Anthropic) Name() string         { return "anthropic" }
func (a *Anthropic) DefaultModel() string { return a.defaultModel }

func (a *Anthropic) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := a.requestBody(req, false)
	return RetryDo(ctx, a.retry, func() (*ChatResponse, error) {
		respBody, err := a.post(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var resp anthropicResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("anthropic: decode response: %w", err)
		}
		return resp.toChatResponse(), nil
	})
}

// ChatStream consumes the SSE stream. Only the connection phase is retried;
// once events flow, a failure surfaces directly.
func (a *Anthropic) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	body := a.requestBody(req, true)
	respBody, err := RetryDo(ctx, a.retry, func() (io.ReadCloser, error) {
		return a.post(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	result := &ChatResponse{FinishReason: "stop"}
	toolArgs := make(map[int]string)

	var event string
	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if rest, ok := strings.CutPrefix(line, "event: "); ok {
			event = rest
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		switch event {
		case "message_start":
			var ev struct {
				Message struct {
					Usage anthropicUsage `json:"usage"`
				} `json:"message"`
			}
			if json.Unmarshal([]byte(data), &ev) == nil {
				u := ev.Message.Usage
				result.Usage = &Usage{
					PromptTokens:        u.InputTokens,
					CacheCreationTokens: u.CacheCreationInputTokens,
					CacheReadTokens:     u.CacheReadInputTokens,
				}
			}
		case "content_block_start":
			var ev struct {
				ContentBlock anthropicContentBlock `json:"content_block"`
			}
			if json.Unmarshal([]byte(data), &ev) == nil && ev.ContentBlock.Type == "tool_use" {
				result.ToolCalls = append(result.ToolCalls, ToolCall{
					ID:        ev.ContentBlock.ID,
					Name:      ev.ContentBlock.Name,
					Arguments: map[string]interface{}{},
				})
			}
		case "content_block_delta":
			var ev struct {
				Delta struct {
					Type        string `json:"type"`
					Text        string `json:"text"`
					PartialJSON string `json:"partial_json"`
				} `json:"delta"`
			}
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				result.Content += ev.Delta.Text
				if onChunk != nil {
					onChunk(StreamChunk{Content: ev.Delta.Text})
				}
			case "input_json_delta":
				if n := len(result.ToolCalls); n > 0 {
					toolArgs[n-1] += ev.Delta.PartialJSON
				}
			}
		case "message_delta":
			var ev struct {
				Delta struct {
					StopReason string `json:"stop_reason"`
				} `json:"delta"`
				Usage anthropicUsage `json:"usage"`
			}
			if json.Unmarshal([]byte(data), &ev) == nil {
				if ev.Delta.StopReason != "" {
					result.FinishReason = mapStopReason(ev.Delta.StopReason)
				}
				if ev.Usage.OutputTokens > 0 {
					if result.Usage == nil {
						result.Usage = &Usage{}
					}
					result.Usage.CompletionTokens = ev.Usage.OutputTokens
				}
			}
		case "error":
			var ev struct {
				Error struct {
					Type    string `json:"type"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if json.Unmarshal([]byte(data), &ev) == nil {
				return nil, fmt.Errorf("anthropic stream error: %s: %s", ev.Error.Type, ev.Error.Message)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream read: %w", err)
	}

	for i, raw := range toolArgs {
		if raw == "" {
			continue
		}
		args := map[string]interface{}{}
		if json.Unmarshal([]byte(raw), &args) == nil {
			result.ToolCalls[i].Arguments = args
		}
	}
	if result.Usage != nil {
		result.Usage.TotalTokens = result.Usage.PromptTokens + result.Usage.CompletionTokens
	}
	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}
	return result, nil
}

func (a *Anthropic) requestBody(req ChatRequest, stream bool) map[string]interface{} {
	var system []map[string]interface{}
	var messages []map[string]interface{}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = append(system, map[string]interface{}{"type": "text", "text": msg.Content})
		case "user":
			messages = append(messages, map[string]interface{}{
				"role":    "user",
				"content": userBlocks(msg),
			})
		case "assistant":
			var blocks []map[string]interface{}
			if msg.Content != "" {
				blocks = append(blocks, map[string]interface{}{"type": "text", "text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, map[string]interface{}{
					"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": tc.Arguments,
				})
			}
			messages = append(messages, map[string]interface{}{"role": "assistant", "content": blocks})
		case "tool":
			messages = append(messages, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{{
					"type": "tool_result", "tool_use_id": msg.ToolCallID, "content": msg.Content,
				}},
			})
		}
	}

	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	body := map[string]interface{}{
		"model":      model,
		"max_tokens": anthropicMaxTokens,
		"messages":   messages,
	}
	if stream {
		body["stream"] = true
	}
	if len(system) > 0 {
		body["system"] = system
	}
	if len(req.Tools) > 0 {
		var tools []map[string]interface{}
		for _, t := range req.Tools {
			tools = append(tools, map[string]interface{}{
				"name":         t.Function.Name,
				"description":  t.Function.Description,
				"input_schema": t.Function.Parameters,
			})
		}
		body["tools"] = tools
	}
	if v, ok := req.Options["max_tokens"]; ok {
		body["max_tokens"] = v
	}
	if v, ok := req.Options["temperature"]; ok {
		body["temperature"] = v
	}
	return body
}

// userBlocks renders a user message, expanding vision images into base64
// image blocks.
func userBlocks(msg Message) interface{} {
	if len(msg.Images) == 0 {
		return msg.Content
	}
	var blocks []map[string]interface{}
	for _, img := range msg.Images {
		blocks = append(blocks, map[string]interface{}{
			"type": "image",
			"source": map[string]interface{}{
				"type": "base64", "media_type": img.MimeType, "data": img.Data,
			},
		})
	}
	if msg.Content != "" {
		blocks = append(blocks, map[string]interface{}{"type": "text", "text": msg.Content})
	}
	return blocks
}

func (a *Anthropic) post(ctx context.Context, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       "anthropic: " + string(raw),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return "stop"
	}
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

func (r *anthropicResponse) toChatResponse() *ChatResponse {
	out := &ChatResponse{FinishReason: mapStopReason(r.StopReason)}
	for _, block := range r.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			args := map[string]interface{}{}
			_ = json.Unmarshal(block.Input, &args)
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	out.Usage = &Usage{
		PromptTokens:        r.Usage.InputTokens,
		CompletionTokens:    r.Usage.OutputTokens,
		TotalTokens:         r.Usage.InputTokens + r.Usage.OutputTokens,
		CacheCreationTokens: r.Usage.CacheCreationInputTokens,
		CacheReadTokens:     r.Usage.CacheReadInputTokens,
	}
	return out
}
