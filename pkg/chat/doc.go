// Package chat implements the conversation persistence pipeline: a
// thread-safe in-memory cache of recent turns per session, a background
// flush worker, and durable sinks (MongoDB, SQLite, in-memory).
//
// Producers append to the Cache and never block on storage; the FlushWorker
// drains the cache's pending queue into a Sink in batches, either on a
// notify signal or on its flush interval. Persistence is best effort: a
// sink outage drops the affected batch and is logged, but producers are
// unaffected.
package chat
