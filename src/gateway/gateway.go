package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/hendrywilliam/herald/src/checkpoint"
	"github.com/hendrywilliam/herald/src/dispatcher"
	"github.com/hendrywilliam/herald/src/structs"
)

const (
	APIVersion              = 10
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultReconnectRetries = 5

	// resumeCloseCode keeps the session resumable on the server side.
	resumeCloseCode = websocket.CloseServiceRestart
	checkpointWait  = 2 * time.Second
)

// Bootstrapper returns the gateway address and recommended shard count.
type Bootstrapper interface {
	GetGatewayBot(ctx context.Context) (*structs.GatewayBot, error)
}

type Config struct {
	Token          string
	Intents        []structs.Intent
	ShardID        int
	ShardCount     int // 0 uses the recommended count
	Sharding       bool
	Compress       bool
	LargeThreshold int
	Presence       *structs.Presence
	Debug          bool

	HandshakeTimeout     time.Duration
	HeartbeatMargin      time.Duration
	MaxReconnectAttempts uint64
	CheckpointKey        string
}

type Gateway struct {
	cfg          Config
	intents      structs.Intent
	bootstrap    Bootstrapper
	newTransport TransportFactory
	dispatcher   *dispatcher.Dispatcher
	store        checkpoint.Store
	session      *Session
	heartbeat    *Heartbeater
	newBackOff   func() backoff.BackOff
	log          *slog.Logger

	// lifecycle serializes Open, Close and reconnects.
	lifecycle sync.Mutex
	// beat ties the heartbeat schedule to the connection that started it.
	beat      sync.Mutex

	rwlock     sync.RWMutex
	conn       *connection
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	err        error
	gatewayURL string
	shards     int
}

type Option func(*Gateway)

func WithTransport(factory TransportFactory) Option {
	return func(g *Gateway) {
		g.newTransport = factory
	}
}

func WithDispatcher(d *dispatcher.Dispatcher) Option {
	return func(g *Gateway) {
		g.dispatcher = d
	}
}

func WithCheckpointStore(store checkpoint.Store) Option {
	return func(g *Gateway) {
		g.store = store
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) {
		g.log = log
	}
}

func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(g *Gateway) {
		g.newBackOff = newBackOff
	}
}

func NewGateway(cfg Config, bootstrap Bootstrapper, opts ...Option) *Gateway {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.HeartbeatMargin <= 0 {
		cfg.HeartbeatMargin = DefaultHeartbeatMargin
	}
	if cfg.CheckpointKey == "" {
		cfg.CheckpointKey = checkpoint.Key(cfg.ShardID)
	}

	g := &Gateway{
		cfg:       cfg,
		intents:   structs.SumIntents(cfg.Intents...),
		bootstrap: bootstrap,
		session:   NewSession(),
		done:      make(chan struct{}),
		log:       slog.Default(),
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With("component", "gateway", "shard", cfg.ShardID)
	if g.dispatcher == nil {
		g.dispatcher = dispatcher.New(g.log)
	}
	if g.newTransport == nil {
		g.newTransport = func() Transport {
			return NewWebsocketTransport(websocket.DefaultDialer, g.cfg.Compress, g.log)
		}
	}
	g.heartbeat = NewHeartbeater(g.sendHeartbeat, cfg.HeartbeatMargin, g.log)
	close(g.done)
	return g
}

func (g *Gateway) AddListener(listener any) {
	g.dispatcher.Register(listener)
}

func (g *Gateway) Session() *Session {
	return g.session
}

func (g *Gateway) Snapshot() Snapshot {
	return g.session.Snapshot()
}

func (g *Gateway) Latency() time.Duration {
	return g.session.Latency()
}

func (g *Gateway) Sequence() uint64 {
	return g.session.Sequence()
}

func (g *Gateway) SessionID() string {
	return g.session.SessionID()
}

func (g *Gateway) State() ConnectionState {
	return g.session.State()
}

// Done is closed when the current run ends, either through Close or
// because the gateway stopped itself. It is closed before the first Open.
func (g *Gateway) Done() <-chan struct{} {
	g.rwlock.RLock()
	defer g.rwlock.RUnlock()
	return g.done
}

// Err returns why the last run ended. It is nil while running and after
// Close; a self-initiated stop requires a manual restart.
func (g *Gateway) Err() error {
	g.rwlock.RLock()
	defer g.rwlock.RUnlock()
	return g.err
}

// Open bootstraps the gateway address and connects. A stored checkpoint
// is resumed when possible, otherwise a new session is identified. ctx
// bounds the handshake only; the session outlives it until Close.
func (g *Gateway) Open(ctx context.Context) error {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()

	if g.runContext() != nil {
		return ErrGatewayIsAlreadyOpen
	}
	runCtx, cancel := context.WithCancel(context.Background())
	g.setRunContext(runCtx, cancel)

	// Close cancels the handshake as well as the run.
	openCtx, cancelOpen := context.WithCancel(ctx)
	defer cancelOpen()
	stop := context.AfterFunc(runCtx, cancelOpen)
	defer stop()

	g.log.Info("connecting to discord...")
	if err := g.start(openCtx, true); err != nil {
		cause := err
		if runCtx.Err() != nil {
			cause = nil
		}
		g.teardown()
		g.clearRunContext(cause)
		return err
	}
	return nil
}

// Close stops the heartbeat, closes the connection with ShutdownReason
// and returns once both are done. Calling Close on a closed gateway is a
// no-op.
func (g *Gateway) Close() error {
	g.rwlock.RLock()
	cancel := g.cancel
	g.rwlock.RUnlock()
	if cancel != nil {
		cancel()
	}
	return g.shutdown(nil, nil)
}

// shutdown ends the run and records cause as the result of Err. A
// non-nil from limits it to runs still served by that connection.
func (g *Gateway) shutdown(cause error, from *connection) error {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	if g.runContext() == nil {
		return nil
	}
	if from != nil && g.current() != from {
		return nil
	}
	g.teardown()
	g.clearRunContext(cause)
	g.log.Info("gateway closed")
	return nil
}

// Reconnect resumes the current session on a new connection, or when
// fresh is set, closes it and identifies a new one.
func (g *Gateway) Reconnect(fresh bool) error {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	ctx := g.runContext()
	if ctx == nil {
		return ErrNotConnected
	}
	return g.reconnect(ctx, fresh)
}

// UpdatePresence sends a presence update on the current connection.
func (g *Gateway) UpdatePresence(presence structs.Presence) error {
	c := g.current()
	if c == nil {
		return ErrNotConnected
	}
	if presence.Activities == nil {
		presence.Activities = []structs.Activity{}
	}
	return g.sendEvent(c.transport, structs.Event{
		Op: OpcodePresenceUpdate,
		D:  presence,
	})
}

func (g *Gateway) start(ctx context.Context, restore bool) error {
	base, err := g.gatewayAddress(ctx)
	if err != nil {
		return err
	}
	if restore && g.resumeFromCheckpoint(ctx) {
		return nil
	}
	return g.retry(ctx, func() error {
		g.session.Reset()
		return g.connect(ctx, base)
	})
}

func (g *Gateway) resumeFromCheckpoint(ctx context.Context) bool {
	if g.store == nil {
		return false
	}
	cp, err := g.store.Load(ctx, g.cfg.CheckpointKey)
	if err != nil {
		g.log.Warn("failed to load session checkpoint", "error", err)
		return false
	}
	if !cp.Resumable() {
		return false
	}
	g.log.Info("resuming session from checkpoint",
		"session_id", cp.SessionID,
		"sequence", cp.Sequence,
		"updated_at", cp.UpdatedAt)
	g.session.Restore(*cp)
	g.session.SetReconnecting(true)
	if err := g.connect(ctx, cp.ResumeGatewayURL); err != nil {
		g.log.Warn("resume from checkpoint failed, identifying instead", "error", err)
		g.deleteCheckpoint()
		return false
	}
	return true
}

func (g *Gateway) reconnect(ctx context.Context, fresh bool) error {
	if fresh {
		return g.restart(ctx)
	}
	sessionID, resumeURL := g.session.Identity()
	if sessionID == "" || resumeURL == "" {
		g.log.Warn("no session to resume, starting a new one")
		return g.restart(ctx)
	}

	g.log.Info("resuming gateway session", "session_id", sessionID, "sequence", g.session.Sequence())
	g.session.SetReconnecting(true)
	old := g.swapConn(nil)
	if old != nil {
		old.retire()
	}
	g.stopHeartbeat()
	if old != nil {
		if err := old.transport.Close(resumeCloseCode, "resume"); err != nil {
			g.log.Debug("failed to close previous connection", "error", err, "connection_id", old.id)
		}
	}
	err := g.retry(ctx, func() error {
		err := g.connect(ctx, resumeURL)
		if err != nil && !errors.Is(err, errResumableInvalidSession) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		g.log.Warn("resume failed, starting a new session", "error", err)
		return g.restart(ctx)
	}
	return nil
}

func (g *Gateway) restart(ctx context.Context) error {
	g.log.Info("restarting gateway session")
	g.teardown()
	g.session.Reset()
	return g.start(ctx, false)
}

// teardown closes the current connection with the shutdown marker and
// clears the stored checkpoint.
func (g *Gateway) teardown() {
	c := g.swapConn(nil)
	g.session.SetState(StateClosing)
	if c != nil {
		c.retire()
	}
	g.stopHeartbeat()
	if c != nil {
		if err := c.transport.Close(websocket.CloseGoingAway, ShutdownReason); err != nil {
			g.log.Debug("failed to close connection", "error", err, "connection_id", c.id)
		}
		select {
		case <-c.transport.Done():
		case <-time.After(2 * closeTimeout):
			g.log.Warn("connection did not shut down in time", "connection_id", c.id)
		}
	}
	g.session.SetState(StateDisconnected)
	g.deleteCheckpoint()
}

func (g *Gateway) retry(ctx context.Context, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(g.newBackOff(), g.cfg.MaxReconnectAttempts), ctx)
	return backoff.RetryNotify(func() error {
		err := fn()
		var permanent *backoff.PermanentError
		if err != nil && !errors.As(err, &permanent) && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		g.log.Warn("gateway connection failed, retrying", "error", err, "wait", wait.String())
	})
}

// connect opens one connection and waits until the session is ready or
// resumed.
func (g *Gateway) connect(ctx context.Context, base string) error {
	address, err := transportAddress(base, g.cfg.Compress)
	if err != nil {
		return err
	}
	c := newConnection(g, g.newTransport())
	g.swapConn(c)
	g.session.SetState(StateConnecting)
	g.log.Debug("dialing gateway", "address", address, "connection_id", c.id)

	if err := c.transport.Connect(ctx, address, c); err != nil {
		g.abandon(c)
		return fmt.Errorf("dial gateway: %w", err)
	}

	timer := time.NewTimer(g.cfg.HandshakeTimeout)
	defer timer.Stop()
	select {
	case <-c.ready:
		return nil
	case <-c.failed:
		g.abandon(c)
		return c.err
	case <-timer.C:
		g.abandon(c)
		return ErrHandshakeTimeout
	case <-ctx.Done():
		select {
		case <-c.ready:
			return nil
		default:
		}
		g.abandon(c)
		return ctx.Err()
	}
}

// abandon drops a connection whose handshake failed. The session stays
// resumable.
func (g *Gateway) abandon(c *connection) {
	c.retire()
	g.rwlock.Lock()
	if g.conn == c {
		g.conn = nil
	}
	g.rwlock.Unlock()
	g.stopHeartbeat()
	c.transport.Close(resumeCloseCode, "handshake failed")
	g.session.SetState(StateDisconnected)
}

func (g *Gateway) gatewayAddress(ctx context.Context) (string, error) {
	g.rwlock.RLock()
	cached := g.gatewayURL
	g.rwlock.RUnlock()
	if cached != "" {
		return cached, nil
	}
	if g.bootstrap == nil {
		return "", errors.New("no gateway bootstrapper configured")
	}
	bot, err := g.bootstrap.GetGatewayBot(ctx)
	if err != nil {
		return "", fmt.Errorf("bootstrap gateway: %w", err)
	}
	if bot.URL == "" {
		return "", errors.New("bootstrap gateway: empty url")
	}
	g.log.Info("gateway bootstrapped",
		"url", bot.URL,
		"recommended_shards", bot.Shards,
		"session_starts_remaining", bot.SessionStartLimit.Remaining)

	g.rwlock.Lock()
	g.gatewayURL = bot.URL
	g.shards = bot.Shards
	g.rwlock.Unlock()
	return bot.URL, nil
}

func transportAddress(base string, compress bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(APIVersion))
	q.Set("encoding", "json")
	if compress {
		q.Set("compress", "zlib-stream")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (g *Gateway) onOpen(c *connection) {
	if c.retired.Load() {
		return
	}
	g.session.SetState(StateAwaitingHello)
	if g.session.Reconnecting() {
		if err := g.sendResume(c.transport); err != nil {
			g.log.Error("failed to send resume", "error", err, "connection_id", c.id)
		}
	}
}

func (g *Gateway) onMessage(c *connection, data []byte) {
	if c.retired.Load() {
		return
	}
	g.probe(c)

	event := &structs.RawEvent{}
	if err := json.Unmarshal(data, event); err != nil {
		g.log.Error("dropping malformed gateway payload", "error", err, "connection_id", c.id)
		return
	}
	if seq, ok := event.Sequence(); ok {
		if !g.session.AdvanceSequence(seq) {
			g.log.Warn("sequence went backwards, ignoring",
				"sequence", seq,
				"current", g.session.Sequence(),
				"event_name", event.T)
		}
	}
	if g.cfg.Debug {
		g.log.Debug("gateway event received", "event", event, "connection_id", c.id)
	}

	switch event.Op {
	case OpcodeDispatch:
		g.onDispatch(c, event)
	case OpcodeHello:
		g.onHello(c, event)
	case OpcodeReconnect:
		g.log.Info("gateway requested reconnect", "connection_id", c.id)
		g.dispatcher.Dispatch(dispatcher.KindReconnect, event)
		if c.retire() {
			go g.reconnectFrom(c, false)
		}
	case OpcodeInvalidSession:
		g.onInvalidSession(c, event)
	case OpcodeHeartbeat:
		if err := g.sendHeartbeat(); err != nil {
			g.log.Error("failed to answer heartbeat request", "error", err)
		}
		g.dispatcher.Dispatch(dispatcher.KindRaw, event)
	case OpcodeHeartbeatAck:
		g.session.HeartbeatAcknowledged(time.Now())
		g.dispatcher.Dispatch(dispatcher.KindRaw, event)
	default:
		g.dispatcher.Dispatch(dispatcher.KindRaw, event)
	}
}

func (g *Gateway) onDispatch(c *connection, event *structs.RawEvent) {
	switch event.T {
	case structs.EventNameReady:
		ready := &structs.ReadyEvent{}
		if err := json.Unmarshal(event.D, ready); err != nil {
			g.log.Error("dropping malformed ready event", "error", err)
			return
		}
		g.session.SetIdentity(ready.SessionID, ready.ResumeGatewayURL)
		g.session.SetReconnecting(false)
		g.session.SetState(StateConnected)
		g.log.Info("gateway is ready",
			"session_id", ready.SessionID,
			"user", ready.User.Username,
			"connection_id", c.id)
		g.saveCheckpoint()
		c.establish()
		g.dispatcher.Dispatch(dispatcher.KindReady, ready)
	case structs.EventNameResumed:
		g.session.SetReconnecting(false)
		g.session.SetState(StateConnected)
		g.log.Info("gateway session resumed",
			"session_id", g.session.SessionID(),
			"sequence", g.session.Sequence(),
			"connection_id", c.id)
		g.saveCheckpoint()
		c.establish()
		g.dispatcher.Dispatch(dispatcher.KindResumed, event)
	default:
		g.dispatcher.Dispatch(dispatcher.KindRaw, event)
	}
}

func (g *Gateway) onHello(c *connection, event *structs.RawEvent) {
	hello := &structs.HelloEvent{}
	if err := json.Unmarshal(event.D, hello); err != nil || hello.HeartbeatInterval <= 0 {
		g.log.Error("dropping malformed hello event", "error", err, "data", string(event.D))
		return
	}
	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	if !g.startHeartbeat(c, interval) {
		g.log.Debug("ignoring hello from a replaced connection", "connection_id", c.id)
		return
	}

	if g.session.Reconnecting() {
		g.session.SetState(StateResuming)
	} else {
		g.session.SetState(StateIdentifying)
		if err := g.sendIdentify(c.transport); err != nil {
			g.log.Error("failed to send identify", "error", err, "connection_id", c.id)
		}
	}
	g.dispatcher.Dispatch(dispatcher.KindHello, hello)
}

func (g *Gateway) onInvalidSession(c *connection, event *structs.RawEvent) {
	var resumable bool
	if err := json.Unmarshal(event.D, &resumable); err != nil {
		g.log.Warn("invalid session payload is not a boolean", "data", string(event.D))
	}
	reconnecting := g.session.Reconnecting()
	g.log.Warn("session invalidated", "resumable", resumable, "reconnecting", reconnecting, "connection_id", c.id)
	g.dispatcher.Dispatch(dispatcher.KindInvalidSession, resumable)

	if !c.established.Load() {
		// Handshake still pending; the waiting caller decides.
		if resumable {
			c.fail(errResumableInvalidSession)
		} else if reconnecting {
			c.fail(fmt.Errorf("resume rejected: %w", ErrConnectionClosed))
		} else {
			c.fail(ErrSessionInvalidated)
		}
		return
	}
	if !c.retire() {
		return
	}
	switch {
	case resumable:
		go g.reconnectFrom(c, false)
	case reconnecting:
		go g.reconnectFrom(c, true)
	default:
		g.log.Error("session cannot be resumed, gateway stopped. manual restart required")
		go g.closeFrom(c)
	}
}

func (g *Gateway) onClose(c *connection, code int, reason string) {
	g.log.Info("gateway connection closed", "code", code, "reason", reason, "connection_id", c.id)
	if c.retired.Load() || reason == ShutdownReason {
		c.fail(ErrConnectionClosed)
		return
	}
	if !c.established.Load() {
		c.fail(closeError(code, reason))
		return
	}
	g.dispatcher.Dispatch(dispatcher.KindDisconnect, dispatcher.Disconnect{Code: code, Reason: reason})
	if c.retire() {
		go g.reconnectFrom(c, true)
	}
}

func (g *Gateway) onPong(c *connection, payload []byte) {
	if c.retired.Load() {
		return
	}
	nonce, err := strconv.ParseUint(string(payload), 10, 64)
	if err != nil {
		return
	}
	if latency, ok := g.session.ProbeAcked(nonce, time.Now()); ok && g.cfg.Debug {
		g.log.Debug("gateway latency", "latency", latency.String())
	}
}

// probe sends a websocket ping carrying a fresh nonce.
func (g *Gateway) probe(c *connection) {
	nonce := g.session.ProbeSent(time.Now())
	if err := c.transport.Ping([]byte(strconv.FormatUint(nonce, 10))); err != nil {
		g.log.Debug("failed to send ping", "error", err, "connection_id", c.id)
	}
}

// reconnectFrom runs a reconnect requested by connection c. It is
// dropped when the gateway moved on to another connection meanwhile.
func (g *Gateway) reconnectFrom(c *connection, fresh bool) {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	if g.current() != c {
		return
	}
	ctx := g.runContext()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if err := g.reconnect(ctx, fresh); err != nil {
		if ctx.Err() != nil {
			return
		}
		g.log.Error("gateway reconnect failed, gateway stopped", "error", err)
		g.teardown()
		g.clearRunContext(fmt.Errorf("reconnect failed: %w", err))
	}
}

func (g *Gateway) closeFrom(c *connection) {
	g.shutdown(fmt.Errorf("%w: manual restart required", ErrSessionInvalidated), c)
}

// startHeartbeat starts the schedule for c unless c was replaced.
// Retiring a connection happens before stopHeartbeat, so a late hello
// cannot take over a newer connection's schedule.
func (g *Gateway) startHeartbeat(c *connection, interval time.Duration) bool {
	g.beat.Lock()
	defer g.beat.Unlock()
	if c.retired.Load() {
		return false
	}
	g.heartbeat.Start(interval)
	return true
}

func (g *Gateway) stopHeartbeat() {
	g.beat.Lock()
	defer g.beat.Unlock()
	g.heartbeat.Stop()
}

func (g *Gateway) sendEvent(t Transport, event structs.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return t.Send(data)
}

func (g *Gateway) sendHeartbeat() error {
	c := g.current()
	if c == nil {
		return ErrNotConnected
	}
	var d any
	if seq := g.session.Sequence(); seq > 0 {
		d = seq
	}
	if err := g.sendEvent(c.transport, structs.Event{Op: OpcodeHeartbeat, D: d}); err != nil {
		return err
	}
	g.session.HeartbeatSent(time.Now())
	g.saveCheckpoint()
	return nil
}

func (g *Gateway) sendIdentify(t Transport) error {
	err := g.sendEvent(t, structs.Event{
		Op: OpcodeIdentify,
		D:  g.identifyPayload(),
	})
	if err != nil {
		return err
	}
	g.log.Info("identify event sent")
	return nil
}

func (g *Gateway) identifyPayload() structs.IdentifyEvent {
	shard := [2]int{0, 1}
	if g.cfg.Sharding {
		count := g.cfg.ShardCount
		if count == 0 {
			g.rwlock.RLock()
			count = g.shards
			g.rwlock.RUnlock()
		}
		if count < 1 {
			count = 1
		}
		shard = [2]int{g.cfg.ShardID, count}
	}
	return structs.IdentifyEvent{
		Token: g.cfg.Token,
		Properties: structs.IdentifyEventProperties{
			Os:      runtime.GOOS,
			Browser: "herald",
			Device:  "herald",
		},
		Intents:        g.intents,
		Compress:       g.cfg.Compress,
		LargeThreshold: g.cfg.LargeThreshold,
		Shard:          shard,
		Presence:       g.cfg.Presence,
	}
}

func (g *Gateway) sendResume(t Transport) error {
	sessionID, _ := g.session.Identity()
	err := g.sendEvent(t, structs.Event{
		Op: OpcodeResume,
		D: structs.ResumeEvent{
			Token:     g.cfg.Token,
			SessionID: sessionID,
			Seq:       g.session.Sequence(),
		},
	})
	if err != nil {
		return err
	}
	g.log.Info("resume event sent", "session_id", sessionID)
	return nil
}

func (g *Gateway) saveCheckpoint() {
	if g.store == nil {
		return
	}
	cp := g.session.Checkpoint()
	if !cp.Resumable() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkpointWait)
	defer cancel()
	if err := g.store.Save(ctx, g.cfg.CheckpointKey, cp); err != nil {
		g.log.Warn("failed to save session checkpoint", "error", err)
	}
}

func (g *Gateway) deleteCheckpoint() {
	if g.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkpointWait)
	defer cancel()
	if err := g.store.Delete(ctx, g.cfg.CheckpointKey); err != nil {
		g.log.Warn("failed to delete session checkpoint", "error", err)
	}
}

func (g *Gateway) current() *connection {
	g.rwlock.RLock()
	defer g.rwlock.RUnlock()
	return g.conn
}

func (g *Gateway) swapConn(c *connection) *connection {
	g.rwlock.Lock()
	defer g.rwlock.Unlock()
	old := g.conn
	g.conn = c
	return old
}

func (g *Gateway) runContext() context.Context {
	g.rwlock.RLock()
	defer g.rwlock.RUnlock()
	return g.ctx
}

func (g *Gateway) setRunContext(ctx context.Context, cancel context.CancelFunc) {
	g.rwlock.Lock()
	defer g.rwlock.Unlock()
	g.ctx = ctx
	g.cancel = cancel
	g.done = make(chan struct{})
	g.err = nil
}

// clearRunContext ends the current run with cause.
func (g *Gateway) clearRunContext(cause error) {
	g.rwlock.Lock()
	defer g.rwlock.Unlock()
	if g.cancel != nil {
		g.cancel()
	}
	if g.ctx != nil {
		g.err = cause
		close(g.done)
	}
	g.ctx = nil
	g.cancel = nil
}
