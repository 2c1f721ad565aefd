// Package activectx implements the per-request ambient binding of spec.md
// §4.5: handler code calls Send/AccessBubble/ClearConversation without
// threading a session argument. The binding travels on a context.Context
// (not process-global state), so concurrent streams in one process never
// interfere with each other, and it is removed automatically when the
// bound function returns — mirroring the contextKey + context.WithValue
// idiom the logging package uses for its own per-request fields.
package activectx

import (
	"context"

	"github.com/Chomosuke9/Bubblekit/bkerrors"
	"github.com/Chomosuke9/Bubblekit/bubble"
	"github.com/Chomosuke9/Bubblekit/metrics"
	"github.com/Chomosuke9/Bubblekit/session"
	"github.com/Chomosuke9/Bubblekit/sink"
	"github.com/Chomosuke9/Bubblekit/store"
)

type contextKey string

const activeContextKey contextKey = "bubblekit_active_context"

// binding is the per-request state the context carries. sink is nil for
// the history path, which runs a handler with a session but no attached
// stream.
type binding struct {
	session *session.Session
	sink    *sink.Sink
}

// WithActiveContext runs fn with (sess, sk) bound for its entire dynamic
// extent, including anything fn awaits on the same context. sk may be nil
// (the history path). The binding cannot leak to another goroutine unless
// that goroutine is explicitly handed the same context.
func WithActiveContext(ctx context.Context, sess *session.Session, sk *sink.Sink, fn func(context.Context) error) error {
	inner := context.WithValue(ctx, activeContextKey, &binding{session: sess, sink: sk})
	return fn(inner)
}

func from(ctx context.Context) (*binding, error) {
	b, ok := ctx.Value(activeContextKey).(*binding)
	if !ok || b == nil {
		return nil, bkerrors.New("activectx", "lookup", nil).
			WithKind(bkerrors.KindNoActiveContext).
			WithStatusCode(400)
	}
	return b, nil
}

// Send binds tmpl into the active session, assigning an id if none was
// requested, applying its initial config patch, and setting its initial
// content. If a sink is attached, it emits the resulting config/set frames;
// if not (the history path), the bubble is bound silently and marked done
// immediately, per spec.md §4.2.
func Send(ctx context.Context, tmpl bubble.Template) (*bubble.Bubble, error) {
	b, err := from(ctx)
	if err != nil {
		return nil, err
	}

	bound := bubble.Bind(tmpl.ID(), tmpl.Role(), tmpl.Kind())
	b.session.Append(bound)
	metrics.BubblesTotal.WithLabelValues("bound").Inc()

	configFrame := bound.ApplyInitialConfig(tmpl.Patch())

	if b.sink == nil {
		if tmpl.Content() != "" {
			bound.Set(tmpl.Content())
		}
		bound.Finalize()
		return bound, nil
	}

	b.sink.Emit(configFrame)
	if tmpl.Content() != "" {
		if setFrame, ok := bound.Set(tmpl.Content()); ok {
			b.sink.Emit(setFrame)
		}
	}
	return bound, nil
}

// AccessBubble looks up an existing bubble by id. Requires an active
// context with an attached sink (spec.md §6.3).
func AccessBubble(ctx context.Context, id string) (*bubble.Bubble, error) {
	b, err := from(ctx)
	if err != nil {
		return nil, err
	}
	if b.sink == nil {
		return nil, bkerrors.New("activectx", "AccessBubble", nil).
			WithKind(bkerrors.KindNoActiveContext).
			WithStatusCode(400).
			WithDetails(map[string]any{"reason": "no stream sink attached to active context"})
	}
	return b.session.Get(id)
}

// Emit forwards an arbitrary frame to the active context's attached sink,
// if any. Handler code that mutates a *bubble.Bubble (Set, Stream,
// UpdateConfig, Finalize) passes the returned frame here to deliver it; a
// nil frame or a missing sink makes it a no-op.
func Emit(ctx context.Context, frame *bubble.Frame) error {
	b, err := from(ctx)
	if err != nil {
		return err
	}
	if b.sink != nil && frame != nil {
		b.sink.Emit(frame)
	}
	return nil
}

// ClearConversation drops the bubbles of either the active session (when
// conversationID is empty) or the named session looked up through st
// (when not). The active session's sink, if any, remains attached and
// keeps emitting (spec.md §9 Open Question 3).
func ClearConversation(ctx context.Context, st *store.SessionStore, conversationID string) error {
	if conversationID == "" {
		b, err := from(ctx)
		if err != nil {
			return err
		}
		b.session.Clear()
		return nil
	}
	if sess, ok := st.Get(conversationID); ok {
		sess.Clear()
	}
	return nil
}
