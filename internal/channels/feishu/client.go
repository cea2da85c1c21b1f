package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	tokenExpiryBuffer = 3 * time.Minute
	tokenEndpoint     = "/open-apis/auth/v3/tenant_access_token/internal"

	domainFeishu = "https://open.feishu.cn"
	domainLark   = "https://open.larksuite.com"
)

// Message-gone codes: the edit target was withdrawn or never existed. The
// delivery coordinator falls back to a fresh send on these.
const (
	CodeMessageNotFound  = 230011
	CodeMessageWithdrawn = 231003
)

func resolveDomain(domain string) string {
	switch domain {
	case "", "feishu":
		return domainFeishu
	case "lark":
		return domainLark
	default:
		return domain
	}
}

// Client is a lightweight Feishu/Lark API client over net/http with
// tenant_access_token auto-refresh.
type Client struct {
	baseURL    string
	appID      string
	appSecret  string
	httpClient *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewClient creates a Lark HTTP client for the given app credentials.
func NewClient(appID, appSecret, domain string) *Client {
	return &Client{
		baseURL:    resolveDomain(domain),
		appID:      appID,
		appSecret:  appSecret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExp) {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("lark token request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("lark token decode: %w", err)
	}
	if result.Code != 0 {
		return "", fmt.Errorf("lark token error: code=%d msg=%s", result.Code, result.Msg)
	}

	c.token = result.TenantAccessToken
	c.tokenExp = time.Now().Add(time.Duration(result.Expire)*time.Second - tokenExpiryBuffer)
	return c.token, nil
}

func (c *Client) clearToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExp = time.Time{}
	c.mu.Unlock()
}

func isTokenError(code int) bool {
	return code == 99991663 || code == 99991664 || code == 99991671
}

type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// APIError is a non-zero Lark response code.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lark api error: code=%d msg=%s", e.Code, e.Msg)
}

// IsMessageGone reports whether err means the edit target no longer exists.
func IsMessageGone(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == CodeMessageNotFound || apiErr.Code == CodeMessageWithdrawn
}

// doJSON performs an authenticated call, refreshing the token once on a
// token error.
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}) (*apiResponse, error) {
	resp, err := c.doJSONOnce(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if isTokenError(resp.Code) {
		c.clearToken()
		resp, err = c.doJSONOnce(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
	}
	if resp.Code != 0 {
		return nil, &APIError{Code: resp.Code, Msg: resp.Msg}
	}
	return resp, nil
}

func (c *Client) doJSONOnce(ctx context.Context, method, path string, body interface{}) (*apiResponse, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lark api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("lark api decode: %w", err)
	}
	return &result, nil
}

// GetBotInfo returns the bot's open_id.
func (c *Client) GetBotInfo(ctx context.Context) (string, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/open-apis/bot/v3/info", nil)
	if err != nil {
		return "", err
	}
	var data struct {
		Bot struct {
			OpenID string `json:"open_id"`
		} `json:"bot"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("lark bot info decode: %w", err)
	}
	return data.Bot.OpenID, nil
}

// SendText sends a plain text message and returns the new message id.
func (c *Client) SendText(ctx context.Context, receiveIDType, receiveID, text string) (string, error) {
	content, _ := json.Marshal(map[string]string{"text": text})
	resp, err := c.doJSON(ctx, http.MethodPost,
		"/open-apis/im/v1/messages?receive_id_type="+receiveIDType,
		map[string]string{
			"receive_id": receiveID,
			"msg_type":   "text",
			"content":    string(content),
		})
	if err != nil {
		return "", err
	}
	var data struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("lark send decode: %w", err)
	}
	return data.MessageID, nil
}

// EditText replaces the text content of an existing message.
func (c *Client) EditText(ctx context.Context, messageID, text string) error {
	content, _ := json.Marshal(map[string]string{"text": text})
	_, err := c.doJSON(ctx, http.MethodPut,
		"/open-apis/im/v1/messages/"+messageID,
		map[string]string{
			"msg_type": "text",
			"content":  string(content),
		})
	return err
}

// wsEndpoint fetches the event-stream WebSocket URL for this app.
func (c *Client) wsEndpoint(ctx context.Context) (string, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/callback/ws/endpoint", map[string]string{
		"AppID":     c.appID,
		"AppSecret": c.appSecret,
	})
	if err != nil {
		return "", err
	}
	var data struct {
		URL string `json:"URL"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("lark ws endpoint decode: %w", err)
	}
	if data.URL == "" {
		return "", fmt.Errorf("lark ws endpoint missing URL")
	}
	return data.URL, nil
}

func resolveReceiveIDType(chatID string) string {
	switch {
	case len(chatID) > 3 && chatID[:3] == "ou_":
		return "open_id"
	case len(chatID) > 3 && chatID[:3] == "on_":
		return "union_id"
	default:
		return "chat_id"
	}
}
