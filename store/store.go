// Package store implements the session-ownership hierarchy of spec.md §4.4:
// a SessionStore that gets-or-creates one session per conversation, and a
// ConversationIndex mapping normalized user IDs to handler-maintained
// conversation summaries. The two are deliberately independent: streaming
// never updates the index, only handlers do (spec.md §5 "Conversation
// index consistency").
package store

import (
	"context"
	"strings"
	"sync"

	"github.com/Chomosuke9/Bubblekit/bkerrors"
	"github.com/Chomosuke9/Bubblekit/session"
)

// Index is implemented by both ConversationIndex (in-memory) and
// RedisConversationIndex (persistent), so httpapi.Server can be handed
// either one interchangeably depending on config.Redis.Addr.
type Index interface {
	Set(ctx context.Context, userID string, entries []Entry) error
	Get(ctx context.Context, userID string) ([]Entry, error)
}

// anonymousUser is the normalized userID used for requests that carry no
// User-Id header, or an empty/whitespace one.
const anonymousUser = "anonymous"

// NormalizeUserID maps an empty or whitespace-only user ID to the
// anonymous bucket, per spec.md §4.4/§6.1.
func NormalizeUserID(userID string) string {
	if strings.TrimSpace(userID) == "" {
		return anonymousUser
	}
	return strings.TrimSpace(userID)
}

// SessionStore owns every live session, keyed by conversation ID, and
// creates one lazily on first access. It never removes a session on its
// own; session lifetime is the process lifetime (spec.md §9: no eviction
// policy is specified).
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

// New constructs an empty SessionStore.
func New() *SessionStore {
	return &SessionStore{sessions: make(map[string]*session.Session)}
}

// GetOrCreate returns the session for conversationID, creating one if this
// is the first time the conversation is seen. Locking is per-call, not
// per-conversation: a single mutex guards the map, which is adequate since
// the critical section is O(1) map access, not I/O.
func (s *SessionStore) GetOrCreate(conversationID string) *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[conversationID]
	if ok {
		return sess
	}
	sess = session.New(conversationID)
	s.sessions[conversationID] = sess
	return sess
}

// Get returns the session for conversationID if it already exists,
// without creating one.
func (s *SessionStore) Get(conversationID string) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	return sess, ok
}

// Entry is one conversation summary as maintained by handler code via
// set_conversation_list (spec.md §6.3), not by the runtime itself.
type Entry struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt int64  `json:"updatedAt"`
}

func validateEntry(e Entry) error {
	if e.ID == "" {
		return bkerrors.New("store", "ValidateEntry", nil).
			WithKind(bkerrors.KindInvalidConfig).
			WithDetails(map[string]any{"reason": "entry.id must be non-empty"})
	}
	if e.Title == "" {
		return bkerrors.New("store", "ValidateEntry", nil).
			WithKind(bkerrors.KindInvalidConfig).
			WithDetails(map[string]any{"reason": "entry.title must be non-empty"})
	}
	return nil
}

// ConversationIndex tracks, per normalized user ID, the ordered list of
// conversation summaries the handler has published. set takes an exclusive
// lock; get takes a shared lock and returns a snapshot (spec.md §5).
type ConversationIndex struct {
	mu     sync.RWMutex
	byUser map[string][]Entry
}

var _ Index = (*ConversationIndex)(nil)

// NewConversationIndex constructs an empty index.
func NewConversationIndex() *ConversationIndex {
	return &ConversationIndex{byUser: make(map[string][]Entry)}
}

// Set validates every entry and stores a defensive copy of entries at
// normalize(userID), replacing whatever was there before. ctx is accepted
// only to satisfy Index; the in-memory index never blocks on it.
func (c *ConversationIndex) Set(ctx context.Context, userID string, entries []Entry) error {
	for _, e := range entries {
		if err := validateEntry(e); err != nil {
			return err
		}
	}
	cp := make([]Entry, len(entries))
	copy(cp, entries)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byUser[NormalizeUserID(userID)] = cp
	return nil
}

// Get returns a defensive copy of normalize(userID)'s entries, or an empty
// slice if none have been set. Never returns a non-nil error; it takes one
// only to satisfy Index alongside RedisConversationIndex.
func (c *ConversationIndex) Get(ctx context.Context, userID string) ([]Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := c.byUser[NormalizeUserID(userID)]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}
