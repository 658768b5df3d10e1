package dispatcher

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hendrywilliam/herald/src/structs"
)

type EventKind int

const (
	KindHello EventKind = iota
	KindReady
	KindResumed
	KindReconnect
	KindInvalidSession
	KindDisconnect
	KindRaw
)

func (k EventKind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindReady:
		return "ready"
	case KindResumed:
		return "resumed"
	case KindReconnect:
		return "reconnect"
	case KindInvalidSession:
		return "invalid_session"
	case KindDisconnect:
		return "disconnect"
	case KindRaw:
		return "raw"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Listeners implement any subset of the interfaces below.
type (
	HelloListener interface {
		OnHello(hello *structs.HelloEvent)
	}
	ReadyListener interface {
		OnReady(ready *structs.ReadyEvent)
	}
	ResumedListener interface {
		OnResumed(event *structs.RawEvent)
	}
	ReconnectListener interface {
		OnReconnect(event *structs.RawEvent)
	}
	InvalidSessionListener interface {
		OnInvalidSession(resumable bool)
	}
	DisconnectListener interface {
		OnDisconnect(code int, reason string)
	}
	// RawListener receives every dispatch that is not interpreted by the
	// gateway and every opcode the gateway does not handle itself.
	RawListener interface {
		OnRaw(event *structs.RawEvent)
	}
)

// Disconnect is the payload of KindDisconnect.
type Disconnect struct {
	Code   int
	Reason string
}

type Dispatcher struct {
	mu        sync.RWMutex
	listeners []any
	log       *slog.Logger
}

func New(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		log: log.With("component", "dispatcher"),
	}
}

func (d *Dispatcher) Register(listener any) {
	if listener == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, listener)
}

func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners)
}

// Dispatch delivers payload to every listener implementing the method
// for kind, in registration order, on the calling goroutine.
func (d *Dispatcher) Dispatch(kind EventKind, payload any) {
	d.mu.RLock()
	listeners := make([]any, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for i, l := range listeners {
		d.deliver(i, l, kind, payload)
	}
}

func (d *Dispatcher) deliver(index int, listener any, kind EventKind, payload any) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("listener panicked",
				"listener", index,
				"listener_type", fmt.Sprintf("%T", listener),
				"kind", kind.String(),
				"panic", fmt.Sprint(r))
		}
	}()

	switch kind {
	case KindHello:
		if l, ok := listener.(HelloListener); ok {
			if p, ok := payload.(*structs.HelloEvent); ok {
				l.OnHello(p)
			}
		}
	case KindReady:
		if l, ok := listener.(ReadyListener); ok {
			if p, ok := payload.(*structs.ReadyEvent); ok {
				l.OnReady(p)
			}
		}
	case KindResumed:
		if l, ok := listener.(ResumedListener); ok {
			if p, ok := payload.(*structs.RawEvent); ok {
				l.OnResumed(p)
			}
		}
	case KindReconnect:
		if l, ok := listener.(ReconnectListener); ok {
			if p, ok := payload.(*structs.RawEvent); ok {
				l.OnReconnect(p)
			}
		}
	case KindInvalidSession:
		if l, ok := listener.(InvalidSessionListener); ok {
			if p, ok := payload.(bool); ok {
				l.OnInvalidSession(p)
			}
		}
	case KindDisconnect:
		if l, ok := listener.(DisconnectListener); ok {
			if p, ok := payload.(Disconnect); ok {
				l.OnDisconnect(p.Code, p.Reason)
			}
		}
	case KindRaw:
		if l, ok := listener.(RawListener); ok {
			if p, ok := payload.(*structs.RawEvent); ok {
				l.OnRaw(p)
			}
		}
	default:
		d.log.Warn("unknown event kind", "kind", kind.String())
	}
}
