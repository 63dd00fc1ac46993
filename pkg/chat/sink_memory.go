package chat

import (
	"context"
	"sort"
	"sync"
)

// MemorySink is an in-memory Sink implementation. It mirrors the ordering
// semantics of the durable sinks so tests and storage-less deployments
// behave the same way.
type MemorySink struct {
	mu      sync.Mutex
	enabled bool
	ttlDays int
	msgs    map[string][]Message
}

var _ Sink = &MemorySink{}

func NewMemorySink(ttlDays int) *MemorySink {
	return &MemorySink{
		enabled: true,
		ttlDays: ttlDays,
		msgs:    map[string][]Message{},
	}
}

// NewDisabledSink returns a sink whose every operation is a no-op.
func NewDisabledSink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Enabled() bool {
	return s != nil && s.enabled
}

func (s *MemorySink) EnsureIndexes(_ context.Context) error {
	return nil
}

func (s *MemorySink) InsertMessages(_ context.Context, msgs []Message) int {
	if !s.Enabled() || len(msgs) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range msgs {
		msg = normalizeMessage(msg, s.ttlDays)
		s.msgs[msg.SessionID] = append(s.msgs[msg.SessionID], msg)
	}
	return len(msgs)
}

func (s *MemorySink) InsertMessage(ctx context.Context, msg Message) bool {
	return s.InsertMessages(ctx, []Message{msg}) == 1
}

func (s *MemorySink) FetchRecent(_ context.Context, sessionID string, limit int) ([]Message, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.msgs[sessionID]
	out := make([]Message, len(stored))
	copy(out, stored)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemorySink) Health(_ context.Context) HealthStatus {
	if !s.Enabled() {
		return HealthStatus{Status: HealthDisabled}
	}
	return HealthStatus{Status: HealthOK}
}

func (s *MemorySink) Close() error {
	return nil
}

// Count reports how many messages are stored for a session. Diagnostic
// helper used by tests.
func (s *MemorySink) Count(sessionID string) int {
	if !s.Enabled() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs[sessionID])
}
