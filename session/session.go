// Package session implements the bubble-ordering and sink-attachment rules
// of spec.md §3/§4.3: an ordered collection of bubbles for one
// conversation, with at most one attached stream sink at a time.
package session

import (
	"sync"

	"github.com/Chomosuke9/Bubblekit/bkerrors"
	"github.com/Chomosuke9/Bubblekit/bubble"
	"github.com/Chomosuke9/Bubblekit/logging"
	"github.com/Chomosuke9/Bubblekit/metrics"
	"github.com/Chomosuke9/Bubblekit/sink"
)

// Session is the ordered collection of bubbles for one conversation, plus
// at most one attached stream sink.
type Session struct {
	mu sync.Mutex

	conversationID string
	order          []string
	byID           map[string]*bubble.Bubble
	attached       *sink.Sink
}

// New creates an empty Session for the given conversation ID.
func New(conversationID string) *Session {
	return &Session{
		conversationID: conversationID,
		byID:           make(map[string]*bubble.Bubble),
	}
}

// ConversationID returns the session's conversation ID.
func (s *Session) ConversationID() string {
	return s.conversationID
}

// Append adds a newly bound bubble to the ordered history. Used only from
// the send() path in the activectx package.
func (s *Session) Append(b *bubble.Bubble) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[b.ID()]; exists {
		return
	}
	s.order = append(s.order, b.ID())
	s.byID[b.ID()] = b
}

// Get looks up a bubble by ID, failing with a KindBubbleNotFound error if
// absent.
func (s *Session) Get(id string) (*bubble.Bubble, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[id]
	if !ok {
		return nil, bkerrors.New("session", "Get", nil).
			WithKind(bkerrors.KindBubbleNotFound).
			WithDetails(map[string]any{"bubbleId": id})
	}
	return b, nil
}

// AttachStream binds sink as the session's single active stream sink.
// Fails with KindStreamAlreadyAttached if one is already attached.
func (s *Session) AttachStream(sk *sink.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached != nil {
		return bkerrors.New("session", "AttachStream", nil).
			WithKind(bkerrors.KindStreamAlreadyAttached).
			WithStatusCode(409).
			WithDetails(map[string]any{"conversationId": s.conversationID})
	}
	s.attached = sk
	return nil
}

// Sink returns the currently attached sink, or nil if none.
func (s *Session) Sink() *sink.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// DetachStream clears the attached sink reference. Idempotent.
func (s *Session) DetachStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = nil
}

// FinalizePending emits a done frame for every bubble still open and marks
// it done, per the auto-finalize rule in spec.md §4.3/§8. Returns the
// number of bubbles it finalized, for the controller's bookkeeping and
// metrics. A diagnostic is logged for each auto-finalized bubble.
func (s *Session) FinalizePending() int {
	s.mu.Lock()
	order := append([]string(nil), s.order...)
	sk := s.attached
	s.mu.Unlock()

	log := logging.For("session")
	count := 0
	for _, id := range order {
		s.mu.Lock()
		b, ok := s.byID[id]
		s.mu.Unlock()
		if !ok || b.Done() {
			continue
		}
		frame, already := b.Finalize()
		if already {
			continue
		}
		count++
		metrics.BubblesTotal.WithLabelValues("auto").Inc()
		log.Info("auto-finalized dangling bubble", "conversation_id", s.conversationID, "bubble_id", id)
		if sk != nil {
			sk.Emit(frame)
		}
	}
	return count
}

// ExportMessages returns the ordered list of bubbles as plain records, for
// the history endpoint's fallback behavior.
func (s *Session) ExportMessages() []bubble.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bubble.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Snapshot())
	}
	return out
}

// Clear drops all bubbles and order. The attached sink, if any, remains
// attached and keeps emitting — clearing does not cancel the stream. Get on
// the ID of a pre-clear bubble now fails with KindBubbleNotFound. A
// reference to a pre-clear bubble that the caller still holds is not
// invalidated: the bubble still accepts Set/Stream/UpdateConfig/Finalize
// and returns frames for them, but it is no longer part of the session, so
// ExportMessages and FinalizePending no longer see it.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.byID = make(map[string]*bubble.Bubble)
}

// Len reports how many bubbles the session currently holds, for tests and
// diagnostics.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
