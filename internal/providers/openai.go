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

// OpenAICompatible implements Provider for chat-completions endpoints
// (OpenAI, OpenRouter, DeepSeek, DashScope, Gemini's OpenAI surface, local
// vLLM). The provider name and base URL come from config.
type OpenAICompatible struct {
	name         string
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	retry        RetryConfig
}

func NewOpenAICompatible(name, apiKey, baseURL, defaultModel string) *OpenAICompatible {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAICompatible{
		name:         name,
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retry:        DefaultRetryConfig(),
	}
}

func (p *OpenAICompatible) Name() string         { return p.name }
func (p *OpenAICompatible) DefaultModel() string { return p.defaultModel }

func (p *OpenAICompatible) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := p.requestBody(req, false)
	return RetryDo(ctx, p.retry, func() (*ChatResponse, error) {
		respBody, err := p.post(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var resp openAIResponse
		if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
		}
		return resp.toChatResponse(), nil
	})
}

func (p *OpenAICompatible) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	body := p.requestBody(req, true)
	respBody, err := RetryDo(ctx, p.retry, func() (io.ReadCloser, error) {
		return p.post(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	result := &ChatResponse{FinishReason: "stop"}
	// tool call fragments accumulate by stream index
	type acc struct {
		id, name, args string
	}
	accs := map[int]*acc{}

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}
		var chunk openAIStreamChunk
		if json.Unmarshal([]byte(data), &chunk) != nil {
			continue
		}
		if chunk.Usage != nil {
			result.Usage = &Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			result.Content += choice.Delta.Content
			if onChunk != nil {
				onChunk(StreamChunk{Content: choice.Delta.Content})
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			a := accs[tc.Index]
			if a == nil {
				a = &acc{}
				accs[tc.Index] = a
			}
			if tc.ID != "" {
				a.id = tc.ID
			}
			if tc.Function.Name != "" {
				a.name = tc.Function.Name
			}
			a.args += tc.Function.Arguments
		}
		if choice.FinishReason != "" {
			result.FinishReason = choice.FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s stream read: %w", p.name, err)
	}

	for i := 0; i < len(accs); i++ {
		a := accs[i]
		if a == nil {
			continue
		}
		args := map[string]interface{}{}
		_ = json.Unmarshal([]byte(a.args), &args)
		result.ToolCalls = append(result.ToolCalls, ToolCall{ID: a.id, Name: a.name, Arguments: args})
	}
	if len(result.ToolCalls) > 0 && result.FinishReason == "stop" {
		result.FinishReason = "tool_calls"
	}
	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}
	return result, nil
}

func (p *OpenAICompatible) requestBody(req ChatRequest, stream bool) map[string]interface{} {
	var messages []map[string]interface{}
	for _, msg := range req.Messages {
		m := map[string]interface{}{"role": msg.Role}
		switch {
		case msg.Role == "user" && len(msg.Images) > 0:
			var parts []map[string]interface{}
			if msg.Content != "" {
				parts = append(parts, map[string]interface{}{"type": "text", "text": msg.Content})
			}
			for _, img := range msg.Images {
				parts = append(parts, map[string]interface{}{
					"type": "image_url",
					"image_url": map[string]interface{}{
						"url": "data:" + img.MimeType + ";base64," + img.Data,
					},
				})
			}
			m["content"] = parts
		case msg.Role == "assistant" && len(msg.ToolCalls) > 0:
			m["content"] = msg.Content
			var calls []map[string]interface{}
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				calls = append(calls, map[string]interface{}{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]interface{}{
						"name": tc.Name, "arguments": string(args),
					},
				})
			}
			m["tool_calls"] = calls
		case msg.Role == "tool":
			m["content"] = msg.Content
			m["tool_call_id"] = msg.ToolCallID
		default:
			m["content"] = msg.Content
		}
		messages = append(messages, m)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := map[string]interface{}{"model": model, "messages": messages}
	if stream {
		body["stream"] = true
		body["stream_options"] = map[string]interface{}{"include_usage": true}
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}
	for _, key := range []string{"max_tokens", "temperature"} {
		if v, ok := req.Options[key]; ok {
			body[key] = v
		}
	}
	return body
}

func (p *OpenAICompatible) post(ctx context.Context, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       p.name + ": " + string(raw),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (r *openAIResponse) toChatResponse() *ChatResponse {
	out := &ChatResponse{FinishReason: "stop"}
	if len(r.Choices) > 0 {
		choice := r.Choices[0]
		out.Content = choice.Message.Content
		for _, tc := range choice.Message.ToolCalls {
			args := map[string]interface{}{}
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
		}
		if choice.FinishReason != "" {
			out.FinishReason = choice.FinishReason
		}
	}
	if r.Usage != nil {
		out.Usage = &Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		}
	}
	return out
}
