// Package handlers implements the handler registry of spec.md §4.6: three
// optional user-supplied callbacks, each invoked through a signature
// adapter that accepts either calling convention named in the spec without
// forcing callers into one shape.
package handlers

import (
	"context"

	"github.com/Chomosuke9/Bubblekit/bubble"
)

// MessageContext is the single calling shape for onMessage.
type MessageContext struct {
	ConversationID string
	UserID         string
	Message        string
}

// NewChatContext is the struct calling shape for onNewChat.
type NewChatContext struct {
	ConversationID string
	UserID         string
}

// HistoryContext is the struct calling shape for onHistory.
type HistoryContext struct {
	ConversationID string
	UserID         string
}

// MessageHandler handles an incoming user message.
type MessageHandler func(ctx context.Context, mc MessageContext) error

// NewChatHandlerPositional is the two-positional-argument calling
// convention for onNewChat.
type NewChatHandlerPositional func(ctx context.Context, conversationID, userID string) error

// NewChatHandlerStruct is the single-struct calling convention for
// onNewChat.
type NewChatHandlerStruct func(ctx context.Context, nc NewChatContext) error

// HistoryHandlerPositional is the two-positional-argument calling
// convention for onHistory. It may return plain records directly.
type HistoryHandlerPositional func(ctx context.Context, conversationID, userID string) ([]bubble.Record, error)

// HistoryHandlerStruct is the single-struct calling convention for
// onHistory.
type HistoryHandlerStruct func(ctx context.Context, hc HistoryContext) ([]bubble.Record, error)

// Registry holds the three optional handler slots. Registration is
// idempotent: calling an On* method again simply overwrites the
// previous slot (last registration wins).
type Registry struct {
	onMessage MessageHandler

	onNewChatPositional NewChatHandlerPositional
	onNewChatStruct     NewChatHandlerStruct

	onHistoryPositional HistoryHandlerPositional
	onHistoryStruct     HistoryHandlerStruct
}

// New constructs an empty Registry; every slot is a no-op until
// registered.
func New() *Registry {
	return &Registry{}
}

// OnMessage registers the message handler.
func (r *Registry) OnMessage(h MessageHandler) {
	r.onMessage = h
}

// OnNewChatPositional registers a two-positional-argument new-chat
// handler, clearing any previously registered struct-form handler.
func (r *Registry) OnNewChatPositional(h NewChatHandlerPositional) {
	r.onNewChatPositional = h
	r.onNewChatStruct = nil
}

// OnNewChatStruct registers a single-struct new-chat handler, clearing any
// previously registered positional-form handler.
func (r *Registry) OnNewChatStruct(h NewChatHandlerStruct) {
	r.onNewChatStruct = h
	r.onNewChatPositional = nil
}

// OnHistoryPositional registers a two-positional-argument history
// handler, clearing any previously registered struct-form handler.
func (r *Registry) OnHistoryPositional(h HistoryHandlerPositional) {
	r.onHistoryPositional = h
	r.onHistoryStruct = nil
}

// OnHistoryStruct registers a single-struct history handler, clearing any
// previously registered positional-form handler.
func (r *Registry) OnHistoryStruct(h HistoryHandlerStruct) {
	r.onHistoryStruct = h
	r.onHistoryPositional = nil
}

// HasNewChat reports whether a new-chat handler is registered.
func (r *Registry) HasNewChat() bool {
	return r.onNewChatPositional != nil || r.onNewChatStruct != nil
}

// HasMessage reports whether a message handler is registered.
func (r *Registry) HasMessage() bool {
	return r.onMessage != nil
}

// HasHistory reports whether a history handler is registered.
func (r *Registry) HasHistory() bool {
	return r.onHistoryPositional != nil || r.onHistoryStruct != nil
}

// InvokeNewChat calls whichever onNewChat form is registered. A no-op
// (nil error) if none is registered, per spec.md §4.6.
func (r *Registry) InvokeNewChat(ctx context.Context, conversationID, userID string) error {
	switch {
	case r.onNewChatStruct != nil:
		return r.onNewChatStruct(ctx, NewChatContext{ConversationID: conversationID, UserID: userID})
	case r.onNewChatPositional != nil:
		return r.onNewChatPositional(ctx, conversationID, userID)
	default:
		return nil
	}
}

// InvokeMessage calls the registered onMessage handler, if any.
func (r *Registry) InvokeMessage(ctx context.Context, mc MessageContext) error {
	if r.onMessage == nil {
		return nil
	}
	return r.onMessage(ctx, mc)
}

// InvokeHistory calls whichever onHistory form is registered. Returns
// (nil, nil) if none is registered, signaling the caller to fall back to
// session export per spec.md §4.6/§6.1.
func (r *Registry) InvokeHistory(ctx context.Context, conversationID, userID string) ([]bubble.Record, error) {
	switch {
	case r.onHistoryStruct != nil:
		return r.onHistoryStruct(ctx, HistoryContext{ConversationID: conversationID, UserID: userID})
	case r.onHistoryPositional != nil:
		return r.onHistoryPositional(ctx, conversationID, userID)
	default:
		return nil, nil
	}
}
