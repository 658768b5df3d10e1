package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseURL = "https://discord.com/api/v10"
	Version        = "0.1.0"
)

var DefaultUserAgent = fmt.Sprintf("DiscordBot (https://github.com/hendrywilliam/herald, %s)", Version)

type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// OnRetry receives the outcome of a resubmission scheduled after a 429.
	OnRetry func(*Response, error)
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type RESTOptions struct {
	Headers map[string]string
}

// Executor sends REST requests one at a time and honors the rate limit
// state reported by previous responses.
type Executor struct {
	mu         sync.Mutex
	httpClient *http.Client
	baseURL    string
	botToken   string
	userAgent  string
	log        *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	limiter    limiter

	retryMu sync.Mutex
	retries sync.WaitGroup
	timers  map[*time.Timer]struct{}
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
}

type Option func(*Executor)

func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) {
		e.httpClient = c
	}
}

// WithBaseURL sets the prefix for relative request URLs. An empty base
// sends every URL as given.
func WithBaseURL(baseURL string) Option {
	return func(e *Executor) {
		e.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) {
		e.log = log
	}
}

func WithUserAgent(ua string) Option {
	return func(e *Executor) {
		e.userAgent = ua
	}
}

func NewExecutor(botToken string, opts ...Option) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		httpClient: http.DefaultClient,
		baseURL:    DefaultBaseURL,
		botToken:   botToken,
		userAgent:  DefaultUserAgent,
		log:        slog.Default(),
		sleep:      sleepContext,
		timers:     make(map[*time.Timer]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "rest")
	return e
}

func (e *Executor) URL() string {
	return e.baseURL
}

// RateLimit returns the last rate limit headers seen.
func (e *Executor) RateLimit() RateLimit {
	return e.limiter.snapshot()
}

func (e *Executor) Exhausted() bool {
	return e.limiter.isExhausted()
}

// Execute waits out an exhausted rate limit, sends the request and
// inspects the response. A 429 carrying retry_after is resubmitted in
// the background; the caller receives the 429 response. A body with a
// non-zero error code is returned as *APIError along with the response.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	if e.isClosed() {
		return nil, ErrExecutorClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if wait, ok := e.limiter.pending(); ok {
		e.log.Warn("rate limit exhausted, holding request", "wait", wait.String(), "url", req.URL)
		if err := e.sleep(ctx, wait); err != nil {
			return nil, err
		}
		e.limiter.clear()
	}

	res, err := e.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := e.handle(req, res); err != nil {
		return res, err
	}
	return res, nil
}

// ExecuteJSON is Execute followed by decoding the body into v.
func (e *Executor) ExecuteJSON(ctx context.Context, req *Request, v any) (*Response, error) {
	res, err := e.Execute(ctx, req)
	if err != nil {
		return res, err
	}
	if v == nil || len(res.Body) == 0 {
		return res, nil
	}
	if err := json.Unmarshal(res.Body, v); err != nil {
		return res, fmt.Errorf("decode response body: %w", err)
	}
	return res, nil
}

func (e *Executor) resolve(rawURL string) string {
	if e.baseURL == "" {
		return rawURL
	}
	if u, err := url.Parse(rawURL); err == nil && u.IsAbs() {
		return rawURL
	}
	return e.baseURL + "/" + strings.TrimPrefix(rawURL, "/")
}

func (e *Executor) send(ctx context.Context, req *Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, e.resolve(req.URL), body)
	if err != nil {
		return nil, err
	}
	// Mandatory headers.
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bot %s", e.botToken))
	httpReq.Header.Set("User-Agent", e.userAgent)
	for k, values := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	res, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       data,
	}, nil
}

func (e *Executor) handle(req *Request, res *Response) error {
	if rl, ok := parseRateLimit(res.Header); ok {
		e.limiter.observe(rl)
		if rl.Remaining <= 0 {
			e.log.Warn("rate limit bucket is exhausted",
				"bucket", rl.Bucket,
				"reset_after", rl.ResetAfter.String())
			e.limiter.exhaust(rl.ResetAfter)
			return nil
		}
	}

	trimmed := bytes.TrimSpace(res.Body)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] != '{' {
		if !json.Valid(trimmed) {
			e.log.Warn("malformed response body", "status", res.StatusCode, "url", req.URL)
		}
		return nil
	}
	body := responseBody{}
	if err := json.Unmarshal(trimmed, &body); err != nil {
		e.log.Warn("malformed response body", "status", res.StatusCode, "url", req.URL, "error", err)
		return nil
	}

	if res.StatusCode == http.StatusTooManyRequests && body.RetryAfter != nil {
		after := seconds(*body.RetryAfter)
		e.log.Warn("exceeded a rate limit",
			"message", body.Message,
			"global", body.Global,
			"retry_after", after.String())
		e.scheduleRetry(req, after)
	}

	if body.Code != 0 && body.Message != "" {
		e.log.Error("discord api error",
			"code", body.Code,
			"message", body.Message,
			"content", string(res.Body))
		return &APIError{
			StatusCode: res.StatusCode,
			Code:       body.Code,
			Message:    body.Message,
			Body:       res.Body,
		}
	}
	return nil
}

func (e *Executor) scheduleRetry(req *Request, after time.Duration) {
	e.retryMu.Lock()
	defer e.retryMu.Unlock()
	if e.closed {
		return
	}
	e.retries.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(after, func() {
		defer e.retries.Done()
		e.retryMu.Lock()
		delete(e.timers, timer)
		e.retryMu.Unlock()

		res, err := e.Execute(e.ctx, req)
		if err != nil {
			e.log.Error("rate limited request retry failed", "url", req.URL, "error", err)
		}
		if req.OnRetry != nil {
			req.OnRetry(res, err)
		}
	})
	e.timers[timer] = struct{}{}
}

func (e *Executor) isClosed() bool {
	e.retryMu.Lock()
	defer e.retryMu.Unlock()
	return e.closed
}

// Close cancels pending retries and waits for running ones.
func (e *Executor) Close() error {
	e.retryMu.Lock()
	if e.closed {
		e.retryMu.Unlock()
		return nil
	}
	e.closed = true
	for t := range e.timers {
		if t.Stop() {
			e.retries.Done()
		}
	}
	e.timers = nil
	e.retryMu.Unlock()

	e.cancel()
	e.retries.Wait()
	return nil
}

func (e *Executor) do(ctx context.Context, method string, url string, body []byte, options *RESTOptions) (*Response, error) {
	req := &Request{
		Method: method,
		URL:    url,
		Body:   body,
	}
	if options != nil {
		req.Header = make(http.Header, len(options.Headers))
		for k, v := range options.Headers {
			req.Header.Set(k, v)
		}
	}
	return e.Execute(ctx, req)
}

func (e *Executor) Get(ctx context.Context, url string, body []byte, options *RESTOptions) (*Response, error) {
	return e.do(ctx, http.MethodGet, url, body, options)
}

func (e *Executor) Put(ctx context.Context, url string, body []byte, options *RESTOptions) (*Response, error) {
	return e.do(ctx, http.MethodPut, url, body, options)
}

func (e *Executor) Patch(ctx context.Context, url string, body []byte, options *RESTOptions) (*Response, error) {
	return e.do(ctx, http.MethodPatch, url, body, options)
}

func (e *Executor) Delete(ctx context.Context, url string, body []byte, options *RESTOptions) (*Response, error) {
	return e.do(ctx, http.MethodDelete, url, body, options)
}

func (e *Executor) Post(ctx context.Context, url string, body []byte, options *RESTOptions) (*Response, error) {
	return e.do(ctx, http.MethodPost, url, body, options)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
