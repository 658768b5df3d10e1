package gateway

import (
	"sync"
	"time"

	"github.com/hendrywilliam/herald/src/checkpoint"
)

type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateResuming
	StateConnected
	StateClosing
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingHello:
		return "AWAITING_HELLO"
	case StateIdentifying:
		return "IDENTIFYING"
	case StateResuming:
		return "RESUMING"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	}
	return "UNKNOWN"
}

// Session holds the mutable facts of the current gateway session. It is
// written by the read loop and the heartbeat goroutine and read by callers.
type Session struct {
	rwlock sync.RWMutex

	sequence         uint64
	sessionID        string
	resumeGatewayURL string
	state            ConnectionState
	reconnecting     bool

	latency     time.Duration
	probeNonce  uint64
	probeSentAt time.Time

	lastHeartbeatSent        time.Time // utc
	lastHeartbeatAcknowledge time.Time // utc
}

func NewSession() *Session {
	return &Session{}
}

func (s *Session) Sequence() uint64 {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return s.sequence
}

// AdvanceSequence moves the cursor forward. It returns false and keeps
// the current value when seq is lower than the cursor.
func (s *Session) AdvanceSequence(seq uint64) bool {
	s.rwlock.Lock()
	defer s.rwlock.Unlock()
	if seq < s.sequence {
		return false
	}
	s.sequence = seq
	return true
}

// SetIdentity stores the session id and resume address issued by READY.
func (s *Session) SetIdentity(sessionID, resumeGatewayURL string) {
	s.rwlock.Lock()
	defer s.rwlock.Unlock()
	s.sessionID = sessionID
	s.resumeGatewayURL = resumeGatewayURL
}

func (s *Session) Identity() (sessionID string, resumeGatewayURL string) {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return s.sessionID, s.resumeGatewayURL
}

func (s *Session) SessionID() string {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return s.sessionID
}

func (s *Session) ResumeGatewayURL() string {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return s.resumeGatewayURL
}

func (s *Session) State() ConnectionState {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return s.state
}

func (s *Session) SetState(state ConnectionState) {
	s.rwlock.Lock()
	defer s.rwlock.Unlock()
	s.state = state
}

func (s *Session) Reconnecting() bool {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return s.reconnecting
}

func (s *Session) SetReconnecting(reconnecting bool) {
	s.rwlock.Lock()
	defer s.rwlock.Unlock()
	s.reconnecting = reconnecting
}

// ProbeSent records a new liveness probe and returns its nonce.
func (s *Session) ProbeSent(now time.Time) uint64 {
	s.rwlock.Lock()
	defer s.rwlock.Unlock()
	s.probeNonce++
	s.probeSentAt = now
	return s.probeNonce
}

// ProbeAcked updates the latency when nonce belongs to the newest probe
// and the session is connected. Pongs for older probes are ignored.
func (s *Session) ProbeAcked(nonce uint64, now time.Time) (time.Duration, bool) {
	s.rwlock.Lock()
	defer s.rwlock.Unlock()
	if nonce == 0 || nonce != s.probeNonce || s.state != StateConnected {
		return 0, false
	}
	s.latency = now.Sub(s.probeSentAt)
	return s.latency, true
}

func (s *Session) Latency() time.Duration {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return s.latency
}

func (s *Session) HeartbeatSent(now time.Time) {
	s.rwlock.Lock()
	defer s.rwlock.Unlock()
	s.lastHeartbeatSent = now.UTC()
}

func (s *Session) HeartbeatAcknowledged(now time.Time) {
	s.rwlock.Lock()
	defer s.rwlock.Unlock()
	s.lastHeartbeatAcknowledge = now.UTC()
}

// Reset discards everything tied to the previous session.
func (s *Session) Reset() {
	s.rwlock.Lock()
	defer s.rwlock.Unlock()
	s.sequence = 0
	s.sessionID = ""
	s.resumeGatewayURL = ""
	s.reconnecting = false
	s.latency = 0
	s.probeSentAt = time.Time{}
	s.lastHeartbeatSent = time.Time{}
	s.lastHeartbeatAcknowledge = time.Time{}
}

// Restore loads a stored checkpoint so the next connection can resume.
func (s *Session) Restore(cp checkpoint.Checkpoint) {
	s.rwlock.Lock()
	defer s.rwlock.Unlock()
	s.sessionID = cp.SessionID
	s.resumeGatewayURL = cp.ResumeGatewayURL
	s.sequence = cp.Sequence
}

func (s *Session) Checkpoint() checkpoint.Checkpoint {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return checkpoint.Checkpoint{
		SessionID:        s.sessionID,
		ResumeGatewayURL: s.resumeGatewayURL,
		Sequence:         s.sequence,
		UpdatedAt:        time.Now(),
	}
}

type Snapshot struct {
	State                    string        `json:"state"`
	Sequence                 uint64        `json:"sequence"`
	SessionID                string        `json:"session_id,omitempty"`
	ResumeGatewayURL         string        `json:"resume_gateway_url,omitempty"`
	Reconnecting             bool          `json:"reconnecting"`
	Latency                  time.Duration `json:"-"`
	LatencyMs                int64         `json:"latency_ms"`
	LastHeartbeatSent        time.Time     `json:"last_heartbeat_sent"`
	LastHeartbeatAcknowledge time.Time     `json:"last_heartbeat_ack"`
}

func (s *Session) Snapshot() Snapshot {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return Snapshot{
		State:                    s.state.String(),
		Sequence:                 s.sequence,
		SessionID:                s.sessionID,
		ResumeGatewayURL:         s.resumeGatewayURL,
		Reconnecting:             s.reconnecting,
		Latency:                  s.latency,
		LatencyMs:                s.latency.Milliseconds(),
		LastHeartbeatSent:        s.lastHeartbeatSent,
		LastHeartbeatAcknowledge: s.lastHeartbeatAcknowledge,
	}
}
