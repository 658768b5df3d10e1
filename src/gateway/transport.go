package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// TransportHandler receives the events of one transport connection.
// OnMessage and OnPong are never called after OnClose.
type TransportHandler interface {
	OnOpen()
	OnMessage(data []byte)
	OnClose(code int, reason string)
	OnPong(payload []byte)
}

type Transport interface {
	// Connect dials address, calls OnOpen and starts delivering frames.
	Connect(ctx context.Context, address string, h TransportHandler) error
	Send(data []byte) error
	Ping(payload []byte) error
	// Close sends a close frame. The handler observes code and reason.
	Close(code int, reason string) error
	// Done is closed once the read loop exited and OnClose returned.
	Done() <-chan struct{}
}

type TransportFactory func() Transport

const (
	writeTimeout = 10 * time.Second
	closeTimeout = 2 * time.Second
)

type WebsocketTransport struct {
	dialer   *websocket.Dialer
	compress bool
	log      *slog.Logger

	writeMu sync.Mutex
	conn    atomic.Pointer[websocket.Conn]
	done    chan struct{}

	closeMu     sync.Mutex
	closing     bool
	closeCode   int
	closeReason string
}

func NewWebsocketTransport(dialer *websocket.Dialer, compress bool, log *slog.Logger) *WebsocketTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if log == nil {
		log = slog.Default()
	}
	return &WebsocketTransport{
		dialer:   dialer,
		compress: compress,
		log:      log,
		done:     make(chan struct{}),
	}
}

func (t *WebsocketTransport) Connect(ctx context.Context, address string, h TransportHandler) error {
	conn, _, err := t.dialer.DialContext(ctx, address, nil)
	if err != nil {
		close(t.done)
		return err
	}
	t.conn.Store(conn)

	conn.SetPongHandler(func(appData string) error {
		h.OnPong([]byte(appData))
		return nil
	})
	h.OnOpen()
	go t.readLoop(conn, h)
	return nil
}

func (t *WebsocketTransport) readLoop(conn *websocket.Conn, h TransportHandler) {
	defer close(t.done)

	var in *inflater
	if t.compress {
		in = newInflater(h.OnMessage, t.log)
	}
	code, reason := t.read(conn, h, in)
	if in != nil {
		in.Close()
	}
	conn.Close()

	t.closeMu.Lock()
	if t.closing {
		code, reason = t.closeCode, t.closeReason
	}
	t.closeMu.Unlock()
	h.OnClose(code, reason)
}

func (t *WebsocketTransport) read(conn *websocket.Conn, h TransportHandler, in *inflater) (int, string) {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return closeErr.Code, closeErr.Text
			}
			return websocket.CloseAbnormalClosure, err.Error()
		}
		if in != nil && messageType == websocket.BinaryMessage {
			if err := in.Write(message); err != nil {
				return websocket.CloseAbnormalClosure, err.Error()
			}
			continue
		}
		h.OnMessage(message)
	}
}

func (t *WebsocketTransport) Send(data []byte) error {
	conn := t.conn.Load()
	if conn == nil {
		return ErrNotConnected
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WebsocketTransport) Ping(payload []byte) error {
	conn := t.conn.Load()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteControl(websocket.PingMessage, payload, time.Now().Add(writeTimeout))
}

func (t *WebsocketTransport) Close(code int, reason string) error {
	conn := t.conn.Load()
	if conn == nil {
		return ErrNotConnected
	}
	t.closeMu.Lock()
	if t.closing {
		t.closeMu.Unlock()
		return nil
	}
	t.closing = true
	t.closeCode = code
	t.closeReason = reason
	t.closeMu.Unlock()

	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(closeTimeout))
	// Unblock the read loop if the server never answers the close frame.
	conn.SetReadDeadline(time.Now().Add(closeTimeout))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		conn.Close()
		return err
	}
	return nil
}

func (t *WebsocketTransport) Done() <-chan struct{} {
	return t.done
}
