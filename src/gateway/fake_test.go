package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hendrywilliam/herald/src/structs"
)

const (
	testGatewayURL = "wss://gateway.test"
	testResumeURL  = "wss://resume.test"
)

type inbound struct {
	data        []byte
	pong        []byte
	close       bool
	closeCode   int
	closeReason string
}

type closeCall struct {
	code   int
	reason string
}

// fakeTransport replays frames pushed by the test on its own read
// goroutine, like a websocket read loop.
type fakeTransport struct {
	srv     *fakeServer
	index   int
	address string

	mu     sync.Mutex
	h      TransportHandler
	sent   [][]byte
	pings  [][]byte
	closes []closeCall

	frames    chan inbound
	done      chan struct{}
	closeOnce sync.Once
}

func (ft *fakeTransport) Connect(ctx context.Context, address string, h TransportHandler) error {
	ft.mu.Lock()
	ft.address = address
	ft.h = h
	ft.mu.Unlock()
	if err := ft.srv.dial(ft); err != nil {
		close(ft.done)
		return err
	}
	if ft.srv.autoHello {
		ft.push(inbound{data: helloFrame(ft.srv.helloInterval)})
	}
	h.OnOpen()
	go ft.loop(h)
	return nil
}

func (ft *fakeTransport) loop(h TransportHandler) {
	defer close(ft.done)
	for f := range ft.frames {
		switch {
		case f.close:
			h.OnClose(f.closeCode, f.closeReason)
			return
		case f.pong != nil:
			h.OnPong(f.pong)
		default:
			h.OnMessage(f.data)
		}
	}
}

func (ft *fakeTransport) push(f inbound) {
	select {
	case ft.frames <- f:
	case <-ft.done:
	}
}

func (ft *fakeTransport) Send(data []byte) error {
	ft.mu.Lock()
	ft.sent = append(ft.sent, append([]byte(nil), data...))
	ft.mu.Unlock()
	ft.srv.onSend(ft, data)
	return nil
}

func (ft *fakeTransport) Ping(payload []byte) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.pings = append(ft.pings, append([]byte(nil), payload...))
	return nil
}

func (ft *fakeTransport) Close(code int, reason string) error {
	ft.mu.Lock()
	ft.closes = append(ft.closes, closeCall{code: code, reason: reason})
	ft.mu.Unlock()
	ft.closeOnce.Do(func() {
		ft.push(inbound{close: true, closeCode: code, closeReason: reason})
	})
	return nil
}

func (ft *fakeTransport) Done() <-chan struct{} {
	return ft.done
}

// serverClose simulates the server dropping the connection.
func (ft *fakeTransport) serverClose(code int, reason string) {
	ft.closeOnce.Do(func() {
		ft.push(inbound{close: true, closeCode: code, closeReason: reason})
	})
}

func (ft *fakeTransport) sentEvents() []structs.RawEvent {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	events := make([]structs.RawEvent, 0, len(ft.sent))
	for _, data := range ft.sent {
		var e structs.RawEvent
		if err := json.Unmarshal(data, &e); err == nil {
			events = append(events, e)
		}
	}
	return events
}

func (ft *fakeTransport) sentOps() []int {
	var ops []int
	for _, e := range ft.sentEvents() {
		ops = append(ops, e.Op)
	}
	return ops
}

func (ft *fakeTransport) countOp(op int) int {
	n := 0
	for _, e := range ft.sentEvents() {
		if e.Op == op {
			n++
		}
	}
	return n
}

func (ft *fakeTransport) firstOp(op int) (structs.RawEvent, bool) {
	for _, e := range ft.sentEvents() {
		if e.Op == op {
			return e, true
		}
	}
	return structs.RawEvent{}, false
}

func (ft *fakeTransport) lastOp(op int) (structs.RawEvent, bool) {
	events := ft.sentEvents()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Op == op {
			return events[i], true
		}
	}
	return structs.RawEvent{}, false
}

func (ft *fakeTransport) pingCount() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.pings)
}

func (ft *fakeTransport) lastPing() []byte {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.pings) == 0 {
		return nil
	}
	return ft.pings[len(ft.pings)-1]
}

func (ft *fakeTransport) closeCalls() []closeCall {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]closeCall(nil), ft.closes...)
}

func (ft *fakeTransport) addr() string {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.address
}

// fakeServer scripts the gateway side of every fake transport.
type fakeServer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	dialErrs   map[int]error
	onDial     func(index int)

	autoHello     bool
	helloInterval int64
	autoReady     bool
	autoResumed   bool
	rejectResume  bool
	identifyClose int
	sessions      atomic.Int32

	// invalidResumes answers that many resumes with a resumable op 9.
	invalidResumes atomic.Int32
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		dialErrs:      make(map[int]error),
		autoHello:     true,
		helloInterval: 41250,
		autoReady:     true,
		autoResumed:   true,
	}
}

func (s *fakeServer) factory() TransportFactory {
	return func() Transport {
		s.mu.Lock()
		defer s.mu.Unlock()
		ft := &fakeTransport{
			srv:    s,
			index:  len(s.transports),
			frames: make(chan inbound, 256),
			done:   make(chan struct{}),
		}
		s.transports = append(s.transports, ft)
		return ft
	}
}

func (s *fakeServer) dial(ft *fakeTransport) error {
	s.mu.Lock()
	err := s.dialErrs[ft.index]
	hook := s.onDial
	s.mu.Unlock()
	if hook != nil {
		hook(ft.index)
	}
	return err
}

func (s *fakeServer) onSend(ft *fakeTransport, data []byte) {
	var e structs.RawEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return
	}
	s.mu.Lock()
	autoReady, autoResumed, rejectResume, identifyClose := s.autoReady, s.autoResumed, s.rejectResume, s.identifyClose
	s.mu.Unlock()

	switch e.Op {
	case OpcodeIdentify:
		if identifyClose != 0 {
			ft.serverClose(identifyClose, "closed on identify")
			return
		}
		if autoReady {
			n := s.sessions.Add(1)
			ft.push(inbound{data: dispatchFrame(1, structs.EventNameReady, fmt.Sprintf(
				`{"v":10,"session_id":"session-%d","resume_gateway_url":%q,"user":{"id":"1","username":"herald"}}`,
				n, testResumeURL))})
		}
	case OpcodeResume:
		if rejectResume {
			ft.push(inbound{data: []byte(`{"op":9,"s":null,"t":null,"d":false}`)})
			return
		}
		if s.invalidResumes.Add(-1) >= 0 {
			ft.push(inbound{data: []byte(`{"op":9,"s":null,"t":null,"d":true}`)})
			return
		}
		s.invalidResumes.Store(0)
		if autoResumed {
			var resume structs.ResumeEvent
			json.Unmarshal(e.D, &resume)
			ft.push(inbound{data: dispatchFrame(resume.Seq+1, structs.EventNameResumed, `{}`)})
		}
	}
}

func (s *fakeServer) transport(i int) *fakeTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.transports) {
		return nil
	}
	return s.transports[i]
}

func (s *fakeServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transports)
}

func (s *fakeServer) shutdownCloses() int {
	s.mu.Lock()
	transports := append([]*fakeTransport(nil), s.transports...)
	s.mu.Unlock()
	n := 0
	for _, ft := range transports {
		for _, c := range ft.closeCalls() {
			if c.reason == ShutdownReason {
				n++
			}
		}
	}
	return n
}

type fakeBootstrap struct {
	url    string
	shards int
	err    error
	calls  atomic.Int32
}

func (b *fakeBootstrap) GetGatewayBot(ctx context.Context) (*structs.GatewayBot, error) {
	b.calls.Add(1)
	if b.err != nil {
		return nil, b.err
	}
	return &structs.GatewayBot{URL: b.url, Shards: b.shards}, nil
}

// rawRecorder signals every raw event it receives.
type rawRecorder struct {
	mu     sync.Mutex
	events []*structs.RawEvent
	ready  []*structs.ReadyEvent
	hellos int
	marks  chan string
}

func newRawRecorder() *rawRecorder {
	return &rawRecorder{marks: make(chan string, 64)}
}

func (r *rawRecorder) OnRaw(e *structs.RawEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	if e.T != "" {
		r.marks <- e.T
	}
}

func (r *rawRecorder) OnReady(e *structs.ReadyEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = append(r.ready, e)
}

func (r *rawRecorder) OnHello(*structs.HelloEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hellos++
}

func (r *rawRecorder) waitMark(t *testing.T, name string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-r.marks:
			if got == name {
				return
			}
		case <-deadline:
			t.Fatalf("event %s was not dispatched", name)
		}
	}
}

func helloFrame(intervalMs int64) []byte {
	return []byte(fmt.Sprintf(`{"op":10,"s":null,"t":null,"d":{"heartbeat_interval":%d}}`, intervalMs))
}

func dispatchFrame(seq uint64, name string, d string) []byte {
	return []byte(fmt.Sprintf(`{"op":0,"s":%d,"t":%q,"d":%s}`, seq, name, d))
}

func testConfig() Config {
	return Config{
		Token:                "token",
		Intents:              []structs.Intent{structs.GuildsIntent, structs.GuildMessagesIntent},
		HandshakeTimeout:     2 * time.Second,
		MaxReconnectAttempts: 2,
	}
}

func newTestGateway(t *testing.T, srv *fakeServer, cfg Config, opts ...Option) (*Gateway, *fakeBootstrap) {
	t.Helper()
	boot := &fakeBootstrap{url: testGatewayURL, shards: 3}
	base := []Option{
		WithTransport(srv.factory()),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	}
	g := NewGateway(cfg, boot, append(base, opts...)...)
	t.Cleanup(func() { g.Close() })
	return g, boot
}

var errDialRefused = errors.New("connection refused")
