// Package controller implements the stream controller of spec.md §4.7: it
// drives one streaming request end to end through the Opening → Started →
// Running → Finalizing/Interrupting state machine, enforces the
// first-event/idle timeouts, emits heartbeats, honors cancellation, and
// guarantees exactly one terminal frame before the sink closes.
package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Chomosuke9/Bubblekit/activectx"
	"github.com/Chomosuke9/Bubblekit/bubble"
	"github.com/Chomosuke9/Bubblekit/config"
	"github.com/Chomosuke9/Bubblekit/handlers"
	"github.com/Chomosuke9/Bubblekit/ids"
	"github.com/Chomosuke9/Bubblekit/logging"
	"github.com/Chomosuke9/Bubblekit/metrics"
	"github.com/Chomosuke9/Bubblekit/sink"
	"github.com/Chomosuke9/Bubblekit/store"
)

// errClientCancel and errDisconnect are the two cancellation causes the
// controller distinguishes at terminal-frame time; both arrive via the
// run context's context.Cause, so they must be comparable sentinel errors.
var (
	errClientCancel = errors.New("client cancelled stream")
	errDisconnect   = errors.New("client disconnected")
)

// StreamRequest is the normalized body of POST /api/conversations/stream.
type StreamRequest struct {
	ConversationID string
	UserID         string
	Message        string
}

// Controller drives streaming requests against a shared handler registry
// and session store.
type Controller struct {
	handlers   *handlers.Registry
	store      *store.SessionStore
	timeouts   config.Timeouts
	bufferSize int
	log        *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
}

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithTimeouts overrides the spec-mandated default timer durations.
func WithTimeouts(t config.Timeouts) Option {
	return func(c *Controller) { c.timeouts = t }
}

// WithSinkBufferSize overrides the default 256-frame sink buffer.
func WithSinkBufferSize(n int) Option {
	return func(c *Controller) { c.bufferSize = n }
}

// New constructs a Controller over reg and st.
func New(reg *handlers.Registry, st *store.SessionStore, opts ...Option) *Controller {
	c := &Controller{
		handlers:   reg,
		store:      st,
		timeouts:   config.DefaultTimeouts(),
		bufferSize: 256,
		cancels:    make(map[string]context.CancelCauseFunc),
		log:        logging.For("controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cancel signals the stream identified by streamID to stop, if it is
// still running. Returns true if a stream was found. Idempotent and
// best-effort: a stream that has already finished is simply not found.
func (c *Controller) Cancel(streamID string) bool {
	c.mu.Lock()
	cancel, ok := c.cancels[streamID]
	c.mu.Unlock()
	if ok {
		cancel(errClientCancel)
	}
	return ok
}

func (c *Controller) registerCancel(streamID string, cancel context.CancelCauseFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels[streamID] = cancel
}

func (c *Controller) unregisterCancel(streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancels, streamID)
}

// HandleStream drives one streaming request, writing NDJSON frames to w
// until the stream's terminal frame has been emitted and the sink closed.
// It returns an error only for failures that occur before any bytes are
// written (currently: StreamAlreadyAttached), so the HTTP adapter can
// still answer with a normal status code in that case.
func (c *Controller) HandleStream(ctx context.Context, w io.Writer, req StreamRequest) error {
	conversationID := req.ConversationID
	minted := conversationID == ""
	if minted {
		conversationID = ids.New()
	}
	streamID := ids.New()
	sess := c.store.GetOrCreate(conversationID)

	// WithoutCancel detaches runCtx from ctx's own cancellation: ctx is
	// r.Context() at the httpapi layer, which net/http cancels on its own
	// the moment the client connection drops — racing ahead of the sink's
	// write-failure detection below and winning most of the time, which
	// would make context.Cause(runCtx) report context.Canceled instead of
	// errDisconnect. Values still propagate; only auto-cancellation doesn't.
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))

	activity := make(chan string, 32)
	sk := sink.New(streamID, w,
		sink.WithBufferSize(c.bufferSize),
		sink.WithOnFrame(func(frameType string) {
			metrics.FramesTotal.WithLabelValues(frameType).Inc()
			select {
			case activity <- frameType:
			default:
			}
		}),
		sink.WithOnWriteError(func(error) {
			cancel(errDisconnect)
		}),
	)

	if err := sess.AttachStream(sk); err != nil {
		cancel(nil)
		sk.Close()
		return err
	}

	c.registerCancel(streamID, cancel)
	defer c.unregisterCancel(streamID)

	metrics.StreamsActive.Inc()
	start := time.Now()

	startedFrame := &StartedFrame{Type: "started"}
	if !minted {
		startedFrame.ConversationID = conversationID
	}
	sk.Emit(startedFrame)

	handlerErr := c.race(runCtx, cancel, sk, activity, conversationID, minted, req)

	finalized := sess.FinalizePending()
	if finalized > 0 {
		c.log.Info("auto-finalized dangling bubbles on stream end", "stream_id", streamID, "count", finalized)
	}

	reason, terminal := c.classifyTerminal(runCtx, sk, handlerErr)
	switch terminal {
	case "done":
		sk.Emit(&DoneTerminalFrame{Type: "done", Reason: reason})
	case "interrupted":
		sk.Emit(&InterruptedFrame{Type: "interrupted", Reason: reason})
	case "error":
		sk.Emit(&ErrorFrame{Type: "error", Reason: reason, Message: handlerErr.Error()})
	}

	sess.DetachStream()
	sk.Close()

	metrics.StreamsActive.Dec()
	metrics.StreamDuration.WithLabelValues(reason).Observe(time.Since(start).Seconds())

	return nil
}

// race runs the handler invocation and the timer coordinator concurrently
// and returns as soon as either finishes. Whichever side loses keeps
// running (or keeps firing) silently: the sink is closed shortly after
// this returns, so any of its later emissions are no-ops, and the timer
// goroutine exits on its own once runCtx is cancelled.
func (c *Controller) race(runCtx context.Context, cancel context.CancelCauseFunc, sk *sink.Sink, activity <-chan string, conversationID string, minted bool, req StreamRequest) error {
	var handlerErr error
	var timeoutFired bool
	var timeoutReason string

	g, gctx := errgroup.WithContext(runCtx)

	handlerResult := make(chan error, 1)
	go func() {
		handlerResult <- c.invokeHandler(runCtx, sk, conversationID, minted, req)
	}()

	g.Go(func() error {
		select {
		case err := <-handlerResult:
			handlerErr = err
			cancel(nil)
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		reason, timedOut := runTimers(gctx, sk, activity, c.timeouts.FirstEvent, c.timeouts.Idle, c.timeouts.Heartbeat)
		if timedOut {
			timeoutReason = reason
			timeoutFired = true
			cancel(nil)
		}
		return nil
	})

	_ = g.Wait()

	if timeoutFired {
		return timeoutError{reason: timeoutReason}
	}
	return handlerErr
}

// timeoutError carries a timer-expiry reason through the same error
// channel the handler's own failure would use; classifyTerminal unwraps
// it back into an "interrupted" terminal instead of an "error" one.
type timeoutError struct{ reason string }

func (e timeoutError) Error() string { return "timeout: " + e.reason }

func (c *Controller) classifyTerminal(runCtx context.Context, sk *sink.Sink, handlerErr error) (reason, terminal string) {
	var te timeoutError
	if errors.As(handlerErr, &te) {
		return te.reason, "interrupted"
	}

	// sk.Err() is authoritative for a write failure: it is set by the sink
	// itself the instant a write fails, independent of whatever raced it
	// to cancel runCtx first.
	if sk.Err() != nil {
		return "disconnect", "interrupted"
	}

	cause := context.Cause(runCtx)
	switch {
	case errors.Is(cause, errClientCancel):
		return "client_cancel", "interrupted"
	case errors.Is(cause, errDisconnect):
		return "disconnect", "interrupted"
	case handlerErr != nil:
		return "handler_error", "error"
	default:
		return "normal", "done"
	}
}

func (c *Controller) invokeHandler(ctx context.Context, sk *sink.Sink, conversationID string, minted bool, req StreamRequest) error {
	sess, _ := c.store.Get(conversationID)
	return activectx.WithActiveContext(ctx, sess, sk, func(actx context.Context) error {
		if minted {
			sk.Emit(&MetaFrame{Type: "meta", ConversationID: conversationID})
			if err := c.handlers.InvokeNewChat(actx, conversationID, req.UserID); err != nil {
				metrics.HandlerErrorsTotal.WithLabelValues("new_chat").Inc()
				return err
			}
		}
		if strings.TrimSpace(req.Message) != "" {
			sk.Emit(&ProgressFrame{Type: "progress", Stage: "processing"})
			mc := handlers.MessageContext{ConversationID: conversationID, UserID: req.UserID, Message: req.Message}
			if err := c.handlers.InvokeMessage(actx, mc); err != nil {
				metrics.HandlerErrorsTotal.WithLabelValues("message").Inc()
				return err
			}
		}
		return nil
	})
}

// HandleHistory runs the history handler (if any) inside an active
// context with no sink attached, per spec.md §4.8, falling back to the
// session's current bubbles when the handler returns nothing.
func (c *Controller) HandleHistory(ctx context.Context, conversationID, userID string) ([]bubble.Record, error) {
	sess := c.store.GetOrCreate(conversationID)

	var records []bubble.Record
	err := activectx.WithActiveContext(ctx, sess, nil, func(actx context.Context) error {
		recs, herr := c.handlers.InvokeHistory(actx, conversationID, userID)
		if herr != nil {
			metrics.HandlerErrorsTotal.WithLabelValues("history").Inc()
			return herr
		}
		if recs == nil {
			records = sess.ExportMessages()
		} else {
			records = recs
		}
		return nil
	})
	return records, err
}
