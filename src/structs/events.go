package structs

import (
	"encoding/json"
	"log/slog"
)

type EventName = string
type EventOpcode = int

const (
	EventNameReady         EventName = "READY"
	EventNameResumed       EventName = "RESUMED"
	EventNameMessageCreate EventName = "MESSAGE_CREATE"
)

// RawEvent is the inbound envelope. D stays raw until the opcode is known.
type RawEvent struct {
	Op EventOpcode     `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *uint64         `json:"s"`
	T  EventName       `json:"t"`
}

// Sequence reports the sequence number and whether the frame carried one.
func (re *RawEvent) Sequence() (uint64, bool) {
	if re.S == nil {
		return 0, false
	}
	return *re.S, true
}

func (re *RawEvent) LogValue() slog.Value {
	seq, _ := re.Sequence()
	return slog.GroupValue(slog.Int("op_code", re.Op),
		slog.Int("event_size", len(re.D)),
		slog.Uint64("sequence", seq),
		slog.String("event_name", re.T))
}

// Event is the outbound envelope. D is never omitted so a heartbeat
// without a sequence serializes as "d": null.
type Event struct {
	Op EventOpcode `json:"op"`
	D  any         `json:"d"`
}

func (e *Event) LogValue() slog.Value {
	return slog.GroupValue(slog.Int("op_code", e.Op))
}

type ReadyEvent struct {
	V                int             `json:"v"`
	User             User            `json:"user"`
	Guilds           json.RawMessage `json:"guilds"`
	SessionID        string          `json:"session_id"`
	ResumeGatewayURL string          `json:"resume_gateway_url"`
	Shard            []int           `json:"shard,omitempty"`
	Application      json.RawMessage `json:"application"`
}

type IdentifyEvent struct {
	Token          string                  `json:"token"`
	Properties     IdentifyEventProperties `json:"properties"`
	Intents        Intent                  `json:"intents"`
	Compress       bool                    `json:"compress"`
	LargeThreshold int                     `json:"large_threshold,omitempty"`
	Shard          [2]int                  `json:"shard"`
	Presence       *Presence               `json:"presence,omitempty"`
}

type IdentifyEventProperties struct {
	Os      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type HelloEvent struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type ResumeEvent struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       uint64 `json:"seq"`
}
