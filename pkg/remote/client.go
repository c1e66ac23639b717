package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"chatcore/pkg/logger"
	"chatcore/pkg/models"
	"chatcore/pkg/utils"
)

// ClientConfig holds connection settings for the remote document store.
type ClientConfig struct {
	BaseURL string
	RPS     float64
	Burst   int
	Timeout time.Duration
}

// Client talks to the remote document store over HTTP. It implements
// Store; subscriptions are delivered out-of-band (see Memory for the
// in-process variant used by tests and standalone mode).
type Client struct {
	cfg  ClientConfig
	http *fasthttp.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient builds a Client with a per-endpoint outbound rate limiter.
func NewClient(cfg ClientConfig) *Client {
	if cfg.RPS <= 0 {
		cfg.RPS = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 40
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:      cfg,
		http:     &fasthttp.Client{ReadTimeout: cfg.Timeout, WriteTimeout: cfg.Timeout},
		limiters: map[string]*rate.Limiter{},
	}
}

func (c *Client) limiter(endpoint string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[endpoint]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(c.cfg.RPS), c.cfg.Burst)
	c.limiters[endpoint] = l
	return l
}

// do runs one rate-limited HTTP exchange and maps the status code onto
// the package error taxonomy.
func (c *Client) do(ctx context.Context, endpoint, method, uri string, body []byte) ([]byte, error) {
	if err := c.limiter(endpoint).Wait(ctx); err != nil {
		return nil, err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(c.cfg.BaseURL + uri)
	req.Header.Set("X-Request-ID", utils.GenID())
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}
	if err := c.http.DoTimeout(req, resp, c.cfg.Timeout); err != nil {
		logger.Warn("remote_request_failed", "method", method, "uri", uri, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case resp.StatusCode() == fasthttp.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode() >= 500:
		logger.Warn("remote_server_error", "method", method, "uri", uri, "status", resp.StatusCode())
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	case resp.StatusCode() >= 400:
		return nil, fmt.Errorf("remote: status %d for %s %s", resp.StatusCode(), method, uri)
	}
	return append([]byte(nil), resp.Body()...), nil
}

func (c *Client) GetThread(ctx context.Context, chatID string) (*models.ChatThread, error) {
	b, err := c.do(ctx, "threads", fasthttp.MethodGet, "/v1/chats/"+chatID, nil)
	if err != nil {
		return nil, err
	}
	var th models.ChatThread
	if err := json.Unmarshal(b, &th); err != nil {
		return nil, fmt.Errorf("decode thread: %w", err)
	}
	return &th, nil
}

func (c *Client) GetMessage(ctx context.Context, chatID, msgID string) (*models.Message, error) {
	b, err := c.do(ctx, "messages", fasthttp.MethodGet, "/v1/chats/"+chatID+"/messages/"+msgID, nil)
	if err != nil {
		return nil, err
	}
	var m models.Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, msgID string) error {
	_, err := c.do(ctx, "messages", fasthttp.MethodDelete, "/v1/chats/"+chatID+"/messages/"+msgID, nil)
	return err
}

func (c *Client) PatchMessage(ctx context.Context, msg *models.Message) error {
	patch := struct {
		Content   models.Content       `json:"content"`
		Deletion  models.DeletionState `json:"deletion"`
		Edit      models.EditState     `json:"edit"`
		Reactions map[string][]string  `json:"reactions,omitempty"`
	}{Content: msg.Content, Deletion: msg.Deletion, Edit: msg.Edit, Reactions: msg.Reactions}
	b, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode message patch: %w", err)
	}
	_, err = c.do(ctx, "messages", fasthttp.MethodPatch, "/v1/chats/"+msg.ChatID+"/messages/"+msg.ID, b)
	return err
}

func (c *Client) PatchSummary(ctx context.Context, chatID string, last models.LastMessage) error {
	b, err := json.Marshal(last)
	if err != nil {
		return fmt.Errorf("encode summary patch: %w", err)
	}
	_, err = c.do(ctx, "summaries", fasthttp.MethodPatch, "/v1/chats/"+chatID+"/summary", b)
	return err
}

// ListFeed returns summary change events newer than sinceTS (ns) across
// all chats the user participates in, oldest first.
func (c *Client) ListFeed(ctx context.Context, sinceTS int64) ([]models.ChatSummary, error) {
	b, err := c.do(ctx, "feed", fasthttp.MethodGet, fmt.Sprintf("/v1/feed?since=%d", sinceTS), nil)
	if err != nil {
		return nil, err
	}
	var out []models.ChatSummary
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return out, nil
}

func (c *Client) ListActiveMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	b, err := c.do(ctx, "messages", fasthttp.MethodGet, "/v1/chats/"+chatID+"/messages?state=active", nil)
	if err != nil {
		return nil, err
	}
	var out []models.Message
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return out, nil
}
