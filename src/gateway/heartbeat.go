package gateway

import (
	"log/slog"
	"sync"
	"time"
)

const DefaultHeartbeatMargin = 2 * time.Second

// Heartbeater calls beat once on Start and then on a fixed period
// derived from the interval announced in hello.
type Heartbeater struct {
	mu     sync.Mutex
	beat   func() error
	margin time.Duration
	log    *slog.Logger

	period time.Duration
	stop   chan struct{}
	done   chan struct{}
}

func NewHeartbeater(beat func() error, margin time.Duration, log *slog.Logger) *Heartbeater {
	if log == nil {
		log = slog.Default()
	}
	return &Heartbeater{
		beat:   beat,
		margin: margin,
		log:    log,
	}
}

// Period is interval minus the safety margin. Intervals too short to
// absorb the margin use half the interval instead.
func (h *Heartbeater) Period(interval time.Duration) time.Duration {
	if h.margin <= 0 {
		return interval
	}
	if interval <= 2*h.margin {
		return interval / 2
	}
	return interval - h.margin
}

// Start sends the first heartbeat before returning and schedules the
// rest. A running schedule is replaced.
func (h *Heartbeater) Start(interval time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()

	period := h.Period(interval)
	if period <= 0 {
		h.log.Error("refusing to start heartbeat with non-positive period", "interval", interval.String())
		return
	}
	h.period = period
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	h.fire()
	go h.run(period, h.stop, h.done)
	h.log.Debug("heartbeat started", "interval", interval.String(), "period", period.String())
}

func (h *Heartbeater) run(period time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			h.fire()
		}
	}
}

func (h *Heartbeater) fire() {
	if err := h.beat(); err != nil {
		h.log.Error("failed to send heartbeat", "error", err)
	}
}

// Stop cancels the schedule and waits for an in-flight beat. It is safe
// to call when the heartbeater never started or already stopped.
func (h *Heartbeater) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

func (h *Heartbeater) stopLocked() {
	if h.stop == nil {
		return
	}
	close(h.stop)
	<-h.done
	h.stop = nil
	h.done = nil
	h.period = 0
	h.log.Debug("heartbeat stopped")
}

func (h *Heartbeater) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stop != nil
}

func (h *Heartbeater) CurrentPeriod() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.period
}
