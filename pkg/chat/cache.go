package chat

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CacheOptions configures a Cache. Zero values for the numeric and string
// fields fall back to the defaults below; FlushEnabled must be set
// explicitly (DefaultCacheOptions turns it on).
type CacheOptions struct {
	MaxMessagesPerSession int
	DiskPath              string
	FlushEnabled          bool
}

func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		MaxMessagesPerSession: 75,
		DiskPath:              filepath.Join("data", "cache", "chat_sessions"),
		FlushEnabled:          true,
	}
}

// Cache keeps a bounded ring of recent messages per session plus one shared
// FIFO queue of messages awaiting durable persistence. All mutation happens
// under a single mutex, so appends may come from any number of concurrent
// request handlers while exactly one flush consumer drains the queue.
type Cache struct {
	mu           sync.Mutex
	sessions     map[string][]Message
	pending      []Message
	maxPerSess   int
	diskPath     string
	flushEnabled bool
}

// CacheInfo is a read-only diagnostic snapshot for health endpoints.
type CacheInfo struct {
	MaxMessagesPerSession int    `json:"max_messages_per_session"`
	DiskPath              string `json:"disk_path"`
	FlushEnabled          bool   `json:"flush_enabled"`
	Sessions              int    `json:"sessions"`
	PendingFlush          int    `json:"pending_flush"`
}

func NewCache(opts CacheOptions) *Cache {
	defaults := DefaultCacheOptions()
	if opts.MaxMessagesPerSession <= 0 {
		opts.MaxMessagesPerSession = defaults.MaxMessagesPerSession
	}
	if opts.DiskPath == "" {
		opts.DiskPath = defaults.DiskPath
	}
	return &Cache{
		sessions:     map[string][]Message{},
		maxPerSess:   opts.MaxMessagesPerSession,
		diskPath:     opts.DiskPath,
		flushEnabled: opts.FlushEnabled,
	}
}

// Append records a message in its session buffer, evicting the oldest entry
// once the buffer is full, and copies it onto the pending-flush queue when
// flushing is enabled. When persistToDisk is set the message is also
// appended to the session's .jsonl recovery log; that write is best effort
// and never fails the caller.
func (c *Cache) Append(msg Message, persistToDisk bool) {
	if c == nil {
		return
	}
	if msg.SessionID == "" {
		msg.SessionID = DefaultSessionID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	c.mu.Lock()
	buf := append(c.sessions[msg.SessionID], msg)
	if len(buf) > c.maxPerSess {
		buf = buf[len(buf)-c.maxPerSess:]
	}
	c.sessions[msg.SessionID] = buf
	if c.flushEnabled {
		c.pending = append(c.pending, msg)
	}
	c.mu.Unlock()

	if persistToDisk {
		c.appendDiskLog(msg)
	}
}

// ListRecent returns up to limit most recent messages for a session in
// chronological order. Unknown sessions yield an empty slice. A
// non-positive limit defaults to 20.
func (c *Cache) ListRecent(sessionID string, limit int) []Message {
	if c == nil {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	buf := c.sessions[sessionID]
	if len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	out := make([]Message, len(buf))
	copy(out, buf)
	return out
}

// PopFlushBatch atomically removes and returns up to batchSize messages
// from the front of the pending queue. It returns nil without doing any
// work when flushing is disabled. A non-positive batchSize defaults to 50.
func (c *Cache) PopFlushBatch(batchSize int) []Message {
	if c == nil || !c.flushEnabled {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return nil
	}
	if batchSize > len(c.pending) {
		batchSize = len(c.pending)
	}
	batch := make([]Message, batchSize)
	copy(batch, c.pending[:batchSize])
	c.pending = c.pending[batchSize:]
	return batch
}

func (c *Cache) Describe() CacheInfo {
	if c == nil {
		return CacheInfo{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheInfo{
		MaxMessagesPerSession: c.maxPerSess,
		DiskPath:              c.diskPath,
		FlushEnabled:          c.flushEnabled,
		Sessions:              len(c.sessions),
		PendingFlush:          len(c.pending),
	}
}

// appendDiskLog writes the message as one JSON line to the per-session
// recovery log. Failures are logged at debug level and swallowed: the
// in-memory path must stay available even when the filesystem is not.
func (c *Cache) appendDiskLog(msg Message) {
	if err := c.writeDiskLine(msg); err != nil {
		log.Debug().
			Err(err).
			Str("session_id", msg.SessionID).
			Str("disk_path", c.diskPath).
			Msg("chat cache disk log append failed")
	}
}

func (c *Cache) writeDiskLine(msg Message) error {
	if err := os.MkdirAll(c.diskPath, 0o755); err != nil {
		return err
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	path := filepath.Join(c.diskPath, msg.SessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.Write(append(line, '\n'))
	return err
}
