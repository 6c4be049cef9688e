package ports

import (
	"context"
	"errors"
	"time"
)

var ErrRequestInProgress = errors.New("duplicate request currently processing")

// IdempotencyStore remembers responses to unsafe requests keyed by a client provided key.
type IdempotencyStore interface {
	// Reserve returns false if the key is already taken.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Get returns nil without error for unknown keys and ErrRequestInProgress for reserved ones.
	Get(ctx context.Context, key string) (*StoredResponse, error)
	Store(ctx context.Context, key string, resp StoredResponse, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	Close()
}

type StoredResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}
