package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

func newTestExecutor(t *testing.T, srv *httptest.Server, opts ...Option) *Executor {
	t.Helper()
	base := []Option{
		WithBaseURL(srv.URL + "/api/v10"),
		WithHTTPClient(srv.Client()),
		WithLogger(slog.New(slog.DiscardHandler)),
	}
	e := NewExecutor("secret", append(base, opts...)...)
	t.Cleanup(func() { e.Close() })
	return e
}

type sleepRecorder struct {
	mu     sync.Mutex
	events []string
	waits  []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "sleep")
	s.waits = append(s.waits, d)
	return nil
}

func (s *sleepRecorder) record(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func TestExecuteAppliesBaseURLAndDefaultHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v10/gateway/bot", r.URL.Path)
		assert.Equal(t, "Bot secret", r.Header.Get("Authorization"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"url":"wss://gateway.discord.gg","shards":1}`))
	}))
	defer srv.Close()
	e := newTestExecutor(t, srv)

	res, err := e.Get(context.Background(), "/gateway/bot", nil, &RESTOptions{
		Headers: map[string]string{"Content-Type": "text/plain"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"url":"wss://gateway.discord.gg","shards":1}`, string(res.Body))
}

func TestExecuteUsesLiteralURLWithoutBase(t *testing.T) {
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
	}))
	defer srv.Close()
	e := newTestExecutor(t, srv, WithBaseURL(""))

	_, err := e.Execute(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/literal"})
	require.NoError(t, err)
	assert.Equal(t, "/literal", path.Load())
}

func TestExecuteKeepsAbsoluteURL(t *testing.T) {
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
	}))
	defer srv.Close()
	e := newTestExecutor(t, srv)

	_, err := e.Execute(context.Background(), &Request{URL: srv.URL + "/elsewhere"})
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere", path.Load())
}

func TestExhaustedBucketBlocksNextCall(t *testing.T) {
	rec := &sleepRecorder{}
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record("hit")
		if hits.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Limit", "5")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset-After", "3")
			w.Header().Set("X-RateLimit-Bucket", "abcd1234")
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	e := newTestExecutor(t, srv)
	e.sleep = rec.sleep

	_, err := e.Get(context.Background(), "/channels/1", nil, nil)
	require.NoError(t, err)
	assert.True(t, e.Exhausted())
	assert.Equal(t, "abcd1234", e.RateLimit().Bucket)
	assert.True(t, e.RateLimit().Exhausted)

	_, err = e.Get(context.Background(), "/channels/1", nil, nil)
	require.NoError(t, err)
	assert.False(t, e.Exhausted())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []time.Duration{4 * time.Second}, rec.waits)
	assert.Equal(t, []string{"hit", "sleep", "hit"}, rec.events)
}

func TestExhaustedWaitFloorsFractionalReset(t *testing.T) {
	rec := &sleepRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ratelimit-remaining", "0")
		w.Header().Set("x-ratelimit-reset-after", "2.7")
	}))
	defer srv.Close()
	e := newTestExecutor(t, srv)
	e.sleep = rec.sleep

	_, err := e.Get(context.Background(), "/a", nil, nil)
	require.NoError(t, err)
	_, err = e.Get(context.Background(), "/a", nil, nil)
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.waits)
	assert.Equal(t, 3*time.Second, rec.waits[0])
}

func TestExhaustedWaitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be sent while the context is cancelled")
	}))
	defer srv.Close()
	e := newTestExecutor(t, srv)
	e.limiter.exhaust(3 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Get(ctx, "/a", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, e.Exhausted())
}

func TestTooManyRequestsRetriesInBackground(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"message":"You are being rate limited.","retry_after":0.5,"global":true}`))
			return
		}
		w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()
	e := newTestExecutor(t, srv)

	retried := make(chan *Response, 1)
	start := time.Now()
	res, err := e.Execute(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    "/channels/1/messages",
		Body:   []byte(`{"content":"hi"}`),
		OnRetry: func(r *Response, err error) {
			assert.NoError(t, err)
			retried <- r
		},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())

	select {
	case r := <-retried:
		assert.Equal(t, http.StatusOK, r.StatusCode)
		assert.GreaterOrEqual(t, time.Since(start), 450*time.Millisecond)
	case <-time.After(3 * time.Second):
		t.Fatal("request was not retried")
	}
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(2), hits.Load())
}

func TestAPIErrorIsReturnedAndNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":10003,"message":"Unknown Channel"}`))
	}))
	defer srv.Close()
	e := newTestExecutor(t, srv)

	res, err := e.Get(context.Background(), "/channels/404", nil, nil)
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 10003, apiErr.Code)
	assert.Equal(t, "Unknown Channel", apiErr.Message)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())
}

func TestMalformedBodyIsNotAnError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`<html>bad gateway</html>`))
			return
		}
		w.Write([]byte(`[{"id":"1"}]`))
	}))
	defer srv.Close()
	e := newTestExecutor(t, srv)

	res, err := e.Get(context.Background(), "/a", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)

	var list []map[string]string
	_, err = e.ExecuteJSON(context.Background(), &Request{URL: "/a"}, &list)
	require.NoError(t, err)
	assert.Equal(t, "1", list[0]["id"])
}

func TestExecuteJSONReportsDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"url": 12}`))
	}))
	defer srv.Close()
	e := newTestExecutor(t, srv)

	var out struct {
		URL string `json:"url"`
	}
	res, err := e.ExecuteJSON(context.Background(), &Request{URL: "/gateway/bot"}, &out)
	require.Error(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestExecuteRunsOneRequestAtATime(t *testing.T) {
	var inflight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}))
	defer srv.Close()
	e := newTestExecutor(t, srv)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Get(context.Background(), fmt.Sprintf("/r/%d", i), nil, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestCloseCancelsPendingRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"slow down","retry_after":10,"global":false}`))
	}))
	defer srv.Close()
	e := newTestExecutor(t, srv)

	_, err := e.Get(context.Background(), "/a", nil, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		e.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close waited for a pending retry")
	}
	assert.Equal(t, int32(1), hits.Load())

	_, err = e.Get(context.Background(), "/a", nil, nil)
	assert.ErrorIs(t, err, ErrExecutorClosed)
	assert.NoError(t, e.Close())
}

func TestExecuteRejectsNilRequest(t *testing.T) {
	e := NewExecutor("secret", WithLogger(slog.New(slog.DiscardHandler)))
	defer e.Close()
	_, err := e.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilRequest)
}

func TestNewHTTPClient(t *testing.T) {
	c, err := NewHTTPClient(true, 5*time.Second)
	require.NoError(t, err)
	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
	assert.Contains(t, tr.TLSNextProto, http2.NextProtoTLS)
	assert.NotNil(t, tr.Proxy)
	assert.Equal(t, 5*time.Second, c.Timeout)
}

func TestHTTPClientNegotiatesProtocol(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.Proto)
	})
	h1 := httptest.NewTLSServer(handler)
	defer h1.Close()
	h2 := httptest.NewUnstartedServer(handler)
	h2.EnableHTTP2 = true
	h2.StartTLS()
	defer h2.Close()

	c, err := NewHTTPClient(true, 5*time.Second)
	require.NoError(t, err)

	tests := []struct {
		name  string
		url   string
		major int
	}{
		{"http/1.1 only", h1.URL, 1},
		{"http/2", h2.URL, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Get(tt.url)
			require.NoError(t, err)
			defer res.Body.Close()
			assert.Equal(t, http.StatusOK, res.StatusCode)
			assert.Equal(t, tt.major, res.ProtoMajor)
		})
	}
}
