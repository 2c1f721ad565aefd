// Package ids provides identifier generation and clock utilities shared
// across the streaming runtime: opaque IDs for conversations, streams, and
// bubbles, plus the monotonic per-stream sequence counter that backs the
// gap-free seq invariant on emitted frames.
package ids

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// New returns a fresh opaque identifier suitable for a conversation, stream,
// or bubble. IDs are random UUIDv4 strings: unique and unguessable, but
// carrying no ordering information of their own (ordering is the sequence
// counter's job, not the ID's).
func New() string {
	return uuid.NewString()
}

// NowMillis returns the current time as a Unix millisecond timestamp, the
// format used for ConversationIndex.Entry.UpdatedAt.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NowISO8601 returns the current time formatted as an ISO-8601 string, the
// format used for Bubble.CreatedAt on the wire.
func NowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// SeqCounter produces the strictly increasing, gap-free seq values stamped
// on every frame emitted by a single stream sink. A counter is scoped to
// exactly one sink; it must never be shared across streams.
type SeqCounter struct {
	next atomic.Int64
}

// Next returns the next seq value, starting at 0 for the first call.
func (c *SeqCounter) Next() int64 {
	return c.next.Add(1) - 1
}
