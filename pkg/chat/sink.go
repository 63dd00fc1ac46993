package chat

import (
	"context"
)

// Health states reported by Sink.Health.
const (
	HealthDisabled = "disabled"
	HealthOK       = "ok"
	HealthError    = "error"
)

// HealthStatus is the result of a sink connectivity probe.
type HealthStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Sink is durable, queryable storage for chat messages. A disabled sink
// (Enabled() == false) turns every operation into a safe no-op so the whole
// persistence path can be switched off without special-casing call sites.
//
// InsertMessages returns the number of documents actually written and never
// returns an error: write failures are logged at the sink boundary and
// surface as a count lower than the input length.
type Sink interface {
	Enabled() bool
	EnsureIndexes(ctx context.Context) error
	InsertMessages(ctx context.Context, msgs []Message) int
	InsertMessage(ctx context.Context, msg Message) bool
	FetchRecent(ctx context.Context, sessionID string, limit int) ([]Message, error)
	Health(ctx context.Context) HealthStatus
	Close() error
}
