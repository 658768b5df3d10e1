// Package checkpoint persists the data needed to resume a gateway session
// after the process restarts.
package checkpoint

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var (
	ErrInvalidStoreType = errors.New("invalid checkpoint store type")
	ErrInvalidConfig    = errors.New("invalid checkpoint store config")
	ErrInvalidKey       = errors.New("checkpoint key must not be empty")
)

type Checkpoint struct {
	SessionID        string    `json:"session_id"`
	ResumeGatewayURL string    `json:"resume_gateway_url"`
	Sequence         uint64    `json:"sequence"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Resumable reports whether the checkpoint holds enough to send a resume.
func (c *Checkpoint) Resumable() bool {
	return c != nil && c.SessionID != "" && c.ResumeGatewayURL != ""
}

type Store interface {
	// Save stores cp under key, replacing any previous value.
	Save(ctx context.Context, key string, cp Checkpoint) error

	// Load returns nil when nothing is stored under key.
	Load(ctx context.Context, key string) (*Checkpoint, error)

	Delete(ctx context.Context, key string) error

	Close() error
}

// Key returns the key under which a shard stores its checkpoint.
func Key(shardID int) string {
	return "gateway:shard:" + strconv.Itoa(shardID)
}
