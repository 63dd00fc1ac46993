package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of the conversation produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// DefaultSessionID groups messages that arrive without a session.
const DefaultSessionID = "default"

// defaultTTLDays applies when a sink is configured with a zero or negative
// retention window; messages still get an expiry rather than living forever.
const defaultTTLDays = 365

// Message is one turn in a conversation. CreatedAt and ExpiresAt are real
// timestamps so the Mongo TTL index can act on them; JSON encoding renders
// them as RFC 3339 strings.
type Message struct {
	ID        string         `json:"id,omitempty" bson:"id,omitempty"`
	SessionID string         `json:"session_id" bson:"session_id"`
	Role      Role           `json:"role" bson:"role"`
	Text      string         `json:"text" bson:"text"`
	Metadata  map[string]any `json:"metadata" bson:"metadata"`
	VectorIDs []string       `json:"vector_ids" bson:"vector_ids"`
	CreatedAt time.Time      `json:"created_at" bson:"created_at"`
	ExpiresAt time.Time      `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
}

// normalizeMessage fills the defaults a durable write requires: a message
// ID, a session, creation and expiry timestamps, and non-nil metadata and
// vector-ID containers.
func normalizeMessage(msg Message, ttlDays int) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SessionID == "" {
		msg.SessionID = DefaultSessionID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if ttlDays <= 0 {
		ttlDays = defaultTTLDays
	}
	if msg.ExpiresAt.IsZero() {
		msg.ExpiresAt = msg.CreatedAt.AddDate(0, 0, ttlDays)
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	if msg.VectorIDs == nil {
		msg.VectorIDs = []string{}
	}
	return msg
}
