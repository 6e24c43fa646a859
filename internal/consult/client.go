// Package consult implements the JSON-over-HTTPS consultation client:
// request assembly, dispatch, envelope parsing, and transport error
// categorization.
package consult

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Config holds the consultation client configuration.
type Config struct {
	// BaseURL is the backend base address, e.g. https://api.example.com.
	BaseURL string

	// Endpoint is the consultation path. Defaults to /api/tcm_process.
	Endpoint string

	// ConnectTimeout bounds dialing and TLS handshake.
	ConnectTimeout time.Duration

	// ReadTimeout bounds the whole exchange once dialed. Inference
	// replies are slow, so this is generous by default.
	ReadTimeout time.Duration
}

// defaults sets default values for unset fields.
func (c *Config) defaults() {
	if c.Endpoint == "" {
		c.Endpoint = "/api/tcm_process"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 120 * time.Second
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// validate returns an error if required fields are missing.
func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("consult: base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("consult: base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("consult: base_url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// Outcome is the single result of a Send invocation. Exactly one of
// Response and Err is set.
type Outcome struct {
	Response *Response
	Err      error
}

// Client dispatches consultation requests. One request yields one
// response; there is no streaming. Safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	nextID   uint64
	inflight map[uint64]context.CancelFunc
}

// NewClient creates a consultation client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.ReadTimeout,
			Transport: transport,
		},
		logger:   logger,
		inflight: make(map[uint64]context.CancelFunc),
	}, nil
}

// Send dispatches one consultation request. It returns a buffered
// single-shot channel that yields exactly one Outcome and is then
// closed. When the request is cancelled through CancelAll the channel
// is closed without an outcome: a cancelled request never fires.
//
// The outcome is produced on a worker goroutine but consumed wherever
// the caller receives, so shared state stays confined to the caller's
// goroutine.
func (c *Client) Send(ctx context.Context, req *Request) <-chan Outcome {
	out := make(chan Outcome, 1)

	reqCtx, cancel := context.WithCancel(ctx)
	id := c.track(cancel)

	go func() {
		defer c.untrack(id)

		resp, err := c.do(reqCtx, req)

		// Cancelled via CancelAll (not by the caller's own context):
		// close without delivering.
		if reqCtx.Err() == context.Canceled && ctx.Err() == nil {
			c.logger.Debug("consultation cancelled", "user_id", req.UserID)
			close(out)
			return
		}

		if err != nil {
			out <- Outcome{Err: err}
		} else {
			out <- Outcome{Response: resp}
		}
		close(out)
	}()

	return out
}

// do executes the POST and parses the envelope.
func (c *Client) do(ctx context.Context, req *Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("consult: marshal request: %w", err)
	}

	endpoint := c.cfg.BaseURL + c.cfg.Endpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("consult: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("consult: send request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("consult: read response: %w", err)
	}

	c.logger.Debug("consultation response",
		"status", httpResp.StatusCode,
		"bytes", len(body),
		"elapsed", time.Since(start))

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &StatusError{Code: httpResp.StatusCode}
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ParseError{Err: err}
	}
	if !resp.Success() {
		return nil, &EnvelopeError{Status: resp.Status, Message: resp.Message}
	}
	return &resp, nil
}

// CancelAll cancels every request currently in flight, best-effort.
// Outcomes for cancelled requests never fire.
func (c *Client) CancelAll() {
	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.inflight))
	for _, cancel := range c.inflight {
		cancels = append(cancels, cancel)
	}
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (c *Client) track(cancel context.CancelFunc) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.inflight[id] = cancel
	return id
}

func (c *Client) untrack(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.inflight[id]; ok {
		cancel()
		delete(c.inflight, id)
	}
}
