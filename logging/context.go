package logging

import "context"

// contextKey is a private type for context keys to avoid collisions with
// keys set by other packages.
type contextKey string

// Context keys for fields that should be attached to every log record
// emitted while handling one stream.
const (
	ContextKeyStreamID       contextKey = "stream_id"
	ContextKeyConversationID contextKey = "conversation_id"
	ContextKeyBubbleID       contextKey = "bubble_id"
	ContextKeyUserID         contextKey = "user_id"
)

// allContextKeys lists every key the handler extracts for logging.
var allContextKeys = []contextKey{
	ContextKeyStreamID,
	ContextKeyConversationID,
	ContextKeyBubbleID,
	ContextKeyUserID,
}

// WithStreamID returns a context carrying the given stream ID.
func WithStreamID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyStreamID, id)
}

// WithConversationID returns a context carrying the given conversation ID.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyConversationID, id)
}

// WithBubbleID returns a context carrying the given bubble ID.
func WithBubbleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyBubbleID, id)
}

// WithUserID returns a context carrying the given normalized user ID.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyUserID, id)
}
