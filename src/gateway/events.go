package gateway

import (
	"errors"
	"fmt"

	"github.com/hendrywilliam/herald/src/structs"
)

type GatewayOpcode = structs.EventOpcode

const (
	OpcodeDispatch                GatewayOpcode = 0
	OpcodeHeartbeat               GatewayOpcode = 1
	OpcodeIdentify                GatewayOpcode = 2
	OpcodePresenceUpdate          GatewayOpcode = 3
	OpcodeVoiceStateUpdate        GatewayOpcode = 4
	OpcodeResume                  GatewayOpcode = 6
	OpcodeReconnect               GatewayOpcode = 7
	OpcodeRequestGuildMember      GatewayOpcode = 8
	OpcodeInvalidSession          GatewayOpcode = 9
	OpcodeHello                   GatewayOpcode = 10
	OpcodeHeartbeatAck            GatewayOpcode = 11
	OpcodeRequestSoundboardSounds GatewayOpcode = 31
)

// https://discord.com/developers/docs/topics/opcodes-and-status-codes#gateway-gateway-close-event-codes
type GatewayCloseEventCode = int

const (
	UnknownError         GatewayCloseEventCode = 4000
	UnknownOpcode        GatewayCloseEventCode = 4001
	DecodeError          GatewayCloseEventCode = 4002
	NotAuthenticated     GatewayCloseEventCode = 4003
	AuthenticationFailed GatewayCloseEventCode = 4004
	AlreadyAuthenticated GatewayCloseEventCode = 4005
	InvalidSeq           GatewayCloseEventCode = 4007
	RateLimited          GatewayCloseEventCode = 4008
	SessionTimedOut      GatewayCloseEventCode = 4009
	InvalidShard         GatewayCloseEventCode = 4010
	ShardingRequired     GatewayCloseEventCode = 4011
	InvalidAPIVersion    GatewayCloseEventCode = 4012
	InvalidIntents       GatewayCloseEventCode = 4013
	DisallowedIntents    GatewayCloseEventCode = 4014
)

// ShutdownReason marks a close initiated by Close. A close carrying any
// other reason is treated as abnormal.
const ShutdownReason = "shutdown"

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrDecode               = errors.New("invalid payload")
	ErrGatewayIsAlreadyOpen = errors.New("gateway is already open")
	ErrNotConnected         = errors.New("gateway is not connected")
	ErrUnknown              = errors.New("unknown error")
	ErrInvalidSeq           = errors.New("invalid sequence sent when resuming")
	ErrRateLimited          = errors.New("gateway payloads sent too quickly")
	ErrSessionTimedOut      = errors.New("session timed out")
	ErrInvalidShard         = errors.New("invalid shard")
	ErrShardingRequired     = errors.New("sharding is required for this bot")
	ErrInvalidAPIVersion    = errors.New("invalid gateway api version")
	ErrInvalidIntents       = errors.New("invalid intents")
	ErrDisallowedIntents    = errors.New("disallowed intent. you may have tried to specify an intent that you have not enabled")
	ErrHandshakeTimeout     = errors.New("gateway handshake timed out")
	ErrSessionInvalidated   = errors.New("session invalidated")
	ErrConnectionClosed     = errors.New("gateway connection closed")

	errResumableInvalidSession = errors.New("session invalidated during handshake, resumable")
)

var closeCodeErrors = map[GatewayCloseEventCode]error{
	UnknownError:         ErrUnknown,
	DecodeError:          ErrDecode,
	NotAuthenticated:     ErrNotAuthenticated,
	AuthenticationFailed: ErrAuthenticationFailed,
	InvalidSeq:           ErrInvalidSeq,
	RateLimited:          ErrRateLimited,
	SessionTimedOut:      ErrSessionTimedOut,
	InvalidShard:         ErrInvalidShard,
	ShardingRequired:     ErrShardingRequired,
	InvalidAPIVersion:    ErrInvalidAPIVersion,
	InvalidIntents:       ErrInvalidIntents,
	DisallowedIntents:    ErrDisallowedIntents,
}

// CloseError is returned when the server closes the connection before
// the handshake completes.
type CloseError struct {
	Code   int
	Reason string
	err    error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("gateway closed with code %d: %s", e.Code, e.Reason)
}

func (e *CloseError) Unwrap() error {
	return e.err
}

func closeError(code int, reason string) error {
	err, ok := closeCodeErrors[code]
	if !ok {
		err = ErrConnectionClosed
	}
	return &CloseError{Code: code, Reason: reason, err: err}
}

// isPermanent reports errors that another connection attempt cannot fix.
func isPermanent(err error) bool {
	switch {
	case errors.Is(err, ErrAuthenticationFailed),
		errors.Is(err, ErrInvalidShard),
		errors.Is(err, ErrShardingRequired),
		errors.Is(err, ErrInvalidAPIVersion),
		errors.Is(err, ErrInvalidIntents),
		errors.Is(err, ErrDisallowedIntents),
		errors.Is(err, ErrSessionInvalidated):
		return true
	}
	return false
}
