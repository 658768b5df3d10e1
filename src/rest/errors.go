package rest

import (
	"errors"
	"fmt"
)

var (
	ErrNilRequest     = errors.New("nil request")
	ErrExecutorClosed = errors.New("executor is closed")
)

// APIError is a response body carrying a non-zero Discord error code.
// https://discord.com/developers/docs/topics/opcodes-and-status-codes#json
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord api error %d: %s (status %d)", e.Code, e.Message, e.StatusCode)
}

// responseBody holds the fields of both the generic error body and the 429 body.
type responseBody struct {
	Code       int      `json:"code"`
	Message    string   `json:"message"`
	RetryAfter *float64 `json:"retry_after"`
	Global     bool     `json:"global"`
}
