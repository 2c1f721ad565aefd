package controller_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chomosuke9/Bubblekit/bubble"
	"github.com/Chomosuke9/Bubblekit/config"
	"github.com/Chomosuke9/Bubblekit/controller"
	"github.com/Chomosuke9/Bubblekit/handlers"
	"github.com/Chomosuke9/Bubblekit/metrics"
	"github.com/Chomosuke9/Bubblekit/store"
)

func fastTimeouts() config.Timeouts {
	return config.Timeouts{
		FirstEvent: 150 * time.Millisecond,
		Idle:       150 * time.Millisecond,
		Heartbeat:  time.Hour,
	}
}

func decodeFrames(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var frames []map[string]any
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		frames = append(frames, m)
	}
	return frames
}

func frameTypes(frames []map[string]any) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f["type"].(string))
	}
	return out
}

func TestHandleStream_NewConversationEmitsMetaAndDone(t *testing.T) {
	t.Parallel()

	reg := handlers.New()
	reg.OnNewChatPositional(func(ctx context.Context, conversationID, userID string) error {
		return nil
	})

	c := controller.New(reg, store.New(), controller.WithTimeouts(fastTimeouts()))

	var buf bytes.Buffer
	err := c.HandleStream(context.Background(), &buf, controller.StreamRequest{UserID: "u1"})
	require.NoError(t, err)

	frames := decodeFrames(t, &buf)
	types := frameTypes(frames)
	require.Contains(t, types, "started")
	require.Contains(t, types, "meta")
	require.Contains(t, types, "done")
	assert.Equal(t, "done", frames[len(frames)-1]["type"])
	assert.Equal(t, "normal", frames[len(frames)-1]["reason"])
}

func TestHandleStream_ResumeSkipsMetaFrame(t *testing.T) {
	t.Parallel()

	reg := handlers.New()
	st := store.New()
	st.GetOrCreate("conv-1")

	c := controller.New(reg, st, controller.WithTimeouts(fastTimeouts()))

	var buf bytes.Buffer
	err := c.HandleStream(context.Background(), &buf, controller.StreamRequest{ConversationID: "conv-1", UserID: "u1"})
	require.NoError(t, err)

	types := frameTypes(decodeFrames(t, &buf))
	assert.NotContains(t, types, "meta")
	assert.Contains(t, types, "started")
	assert.Contains(t, types, "done")
}

func TestHandleStream_MessageHandlerRunsAndEmitsProgress(t *testing.T) {
	t.Parallel()

	reg := handlers.New()
	var received string
	reg.OnMessage(func(ctx context.Context, mc handlers.MessageContext) error {
		received = mc.Message
		return nil
	})

	c := controller.New(reg, store.New(), controller.WithTimeouts(fastTimeouts()))

	var buf bytes.Buffer
	req := controller.StreamRequest{UserID: "u1", Message: "hello"}
	require.NoError(t, c.HandleStream(context.Background(), &buf, req))

	assert.Equal(t, "hello", received)
	assert.Contains(t, frameTypes(decodeFrames(t, &buf)), "progress")
}

func TestHandleStream_HandlerErrorProducesErrorTerminal(t *testing.T) {
	t.Parallel()

	reg := handlers.New()
	reg.OnMessage(func(ctx context.Context, mc handlers.MessageContext) error {
		return errors.New("boom")
	})

	c := controller.New(reg, store.New(), controller.WithTimeouts(fastTimeouts()))

	var buf bytes.Buffer
	req := controller.StreamRequest{UserID: "u1", Message: "hi"}
	require.NoError(t, c.HandleStream(context.Background(), &buf, req))

	frames := decodeFrames(t, &buf)
	last := frames[len(frames)-1]
	assert.Equal(t, "error", last["type"])
	assert.Equal(t, "handler_error", last["reason"])
	assert.Equal(t, "boom", last["message"])
}

func TestHandleStream_FirstEventTimeoutInterruptsStream(t *testing.T) {
	t.Parallel()

	reg := handlers.New()
	done := make(chan struct{})
	reg.OnMessage(func(ctx context.Context, mc handlers.MessageContext) error {
		<-ctx.Done()
		close(done)
		return ctx.Err()
	})

	c := controller.New(reg, store.New(), controller.WithTimeouts(fastTimeouts()))

	var buf bytes.Buffer
	req := controller.StreamRequest{UserID: "u1", Message: "hi"}
	require.NoError(t, c.HandleStream(context.Background(), &buf, req))

	frames := decodeFrames(t, &buf)
	last := frames[len(frames)-1]
	assert.Equal(t, "interrupted", last["type"])
	assert.Equal(t, "first_event_timeout", last["reason"])

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler goroutine never observed cancellation")
	}
}

func TestHandleStream_SeqIsContiguousFromZero(t *testing.T) {
	t.Parallel()

	reg := handlers.New()
	reg.OnMessage(func(ctx context.Context, mc handlers.MessageContext) error { return nil })

	c := controller.New(reg, store.New(), controller.WithTimeouts(fastTimeouts()))

	var buf bytes.Buffer
	req := controller.StreamRequest{UserID: "u1", Message: "hi"}
	require.NoError(t, c.HandleStream(context.Background(), &buf, req))

	frames := decodeFrames(t, &buf)
	require.NotEmpty(t, frames)
	for i, f := range frames {
		assert.Equal(t, float64(i), f["seq"])
		assert.NotEmpty(t, f["streamId"])
	}
}

func TestHandleStream_SecondAttachWhileRunningIsRejected(t *testing.T) {
	t.Parallel()

	reg := handlers.New()
	st := store.New()
	release := make(chan struct{})
	reg.OnMessage(func(ctx context.Context, mc handlers.MessageContext) error {
		<-release
		return nil
	})

	c := controller.New(reg, st, controller.WithTimeouts(config.Timeouts{
		FirstEvent: time.Minute,
		Idle:       time.Minute,
		Heartbeat:  time.Hour,
	}))

	streamDone := make(chan error, 1)
	var buf1 bytes.Buffer
	go func() {
		streamDone <- c.HandleStream(context.Background(), &buf1, controller.StreamRequest{
			ConversationID: "conv-x", UserID: "u1", Message: "hi",
		})
	}()

	require.Eventually(t, func() bool {
		sess, ok := st.Get("conv-x")
		return ok && sess.Sink() != nil
	}, time.Second, 5*time.Millisecond)

	var buf2 bytes.Buffer
	err := c.HandleStream(context.Background(), &buf2, controller.StreamRequest{
		ConversationID: "conv-x", UserID: "u1",
	})
	require.Error(t, err)
	assert.Empty(t, buf2.String())

	close(release)
	require.NoError(t, <-streamDone)
}

func TestHandleHistory_FallsBackToSessionExportWhenUnset(t *testing.T) {
	t.Parallel()

	reg := handlers.New()
	st := store.New()
	st.GetOrCreate("conv-hist")

	c := controller.New(reg, st, controller.WithTimeouts(fastTimeouts()))

	recs, err := c.HandleHistory(context.Background(), "conv-hist", "u1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestHandleHistory_UsesRegisteredHandlerWhenPresent(t *testing.T) {
	t.Parallel()

	reg := handlers.New()
	want := []bubble.Record{{ID: "b1", Role: "assistant", Type: "text", Content: "hi"}}
	reg.OnHistoryStruct(func(ctx context.Context, hc handlers.HistoryContext) ([]bubble.Record, error) {
		return want, nil
	})

	c := controller.New(reg, store.New(), controller.WithTimeouts(fastTimeouts()))

	recs, err := c.HandleHistory(context.Background(), "conv-hist-2", "u1")
	require.NoError(t, err)
	assert.Equal(t, want, recs)
}

// syncBuffer wraps a bytes.Buffer with a mutex: the sink's drain goroutine
// writes concurrently with the test reading the buffer's contents.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestController_CancelInterruptsRunningStream(t *testing.T) {
	t.Parallel()

	reg := handlers.New()
	ctxDone := make(chan struct{})
	reg.OnMessage(func(ctx context.Context, mc handlers.MessageContext) error {
		<-ctx.Done()
		close(ctxDone)
		return ctx.Err()
	})

	st := store.New()
	c := controller.New(reg, st, controller.WithTimeouts(config.Timeouts{
		FirstEvent: time.Minute,
		Idle:       time.Minute,
		Heartbeat:  time.Hour,
	}))

	buf := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- c.HandleStream(context.Background(), buf, controller.StreamRequest{
			ConversationID: "conv-cancel", UserID: "u1", Message: "hi",
		})
	}()

	var streamID string
	require.Eventually(t, func() bool {
		line := firstLine(buf.String())
		if line == "" {
			return false
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return false
		}
		id, ok := m["streamId"].(string)
		if !ok || id == "" {
			return false
		}
		streamID = id
		return true
	}, time.Second, 5*time.Millisecond)

	require.True(t, c.Cancel(streamID))

	select {
	case <-ctxDone:
	case <-time.After(time.Second):
		t.Fatal("handler goroutine never observed cancellation")
	}

	require.NoError(t, <-done)
	finalFrames := decodeFrames(t, bytes.NewBuffer([]byte(buf.String())))
	last := finalFrames[len(finalFrames)-1]
	assert.Equal(t, "interrupted", last["type"])
	assert.Equal(t, "client_cancel", last["reason"])
}

// failingWriter succeeds its first succeedFirstN writes, then fails every
// subsequent one, simulating a client that disconnects mid-stream.
type failingWriter struct {
	succeedFirstN int

	mu sync.Mutex
	n  int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.n++
	if w.n > w.succeedFirstN {
		return 0, errors.New("broken pipe")
	}
	return len(p), nil
}

func TestHandleStream_WriteFailureClassifiesAsDisconnect(t *testing.T) {
	t.Parallel()

	reg := handlers.New()
	cancelled := make(chan struct{})
	reg.OnMessage(func(ctx context.Context, mc handlers.MessageContext) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	c := controller.New(reg, store.New(), controller.WithTimeouts(config.Timeouts{
		FirstEvent: time.Minute,
		Idle:       time.Minute,
		Heartbeat:  time.Hour,
	}))

	// Only the "started" frame succeeds; the "meta" frame that follows
	// (this is a minted conversation) fails, which must self-close the
	// sink and cancel the handler's context as a disconnect, not leave it
	// racing against the request context's own (here: never-firing)
	// cancellation.
	w := &failingWriter{succeedFirstN: 1}
	req := controller.StreamRequest{UserID: "u1", Message: "hi"}
	require.NoError(t, c.HandleStream(context.Background(), w, req))

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("handler goroutine never observed disconnect cancellation")
	}

	reg2 := metrics.NewRegistry()
	rec := httptest.NewRecorder()
	metrics.Handler(reg2).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `terminal_reason="disconnect"`)
}

func firstLine(s string) string {
	idx := strings.IndexByte(s, '\n')
	if idx == -1 {
		return ""
	}
	return strings.TrimSpace(s[:idx])
}
