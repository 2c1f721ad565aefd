// Package sink implements the stream sink (spec.md §4.1): an ordered,
// thread-safe NDJSON frame emitter bound to one HTTP response body. Every
// emitted frame is stamped with the sink's streamId and a strictly
// increasing, gap-free seq.
package sink

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/Chomosuke9/Bubblekit/ids"
	"github.com/Chomosuke9/Bubblekit/logging"
)

// defaultBufferedFrames is the bounded write-buffer size described in
// spec.md §5 ("the sink uses a bounded write buffer, default 256 pending
// frames").
const defaultBufferedFrames = 256

// typed is implemented by frame values that want to participate in the
// onFrame activity hook (e.g. the controller's timer bookkeeping).
// bubble.Frame and the controller's own control-frame structs satisfy it.
type typed interface {
	FrameType() string
}

// Sink is an ordered, thread-safe NDJSON frame emitter for exactly one
// stream. It is safe to call Emit from any goroutine; frames are
// serialized through an internal worker so writes to the underlying
// io.Writer are never interleaved.
type Sink struct {
	streamID   string
	seq        ids.SeqCounter
	log        *slog.Logger
	onFrame    func(frameType string)
	onWriteErr func(error)

	// emitMu serializes Emit so seq order equals queue (and write) order.
	emitMu sync.Mutex

	mu       sync.Mutex
	w        *bufio.Writer
	closed   bool
	closeErr error

	queue   chan []byte
	stopCh  chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// Option configures a Sink at construction time.
type Option func(*Sink)

// WithBufferSize overrides the default 256-frame bounded queue.
func WithBufferSize(n int) Option {
	return func(s *Sink) { s.queue = make(chan []byte, n) }
}

// WithOnFrame registers a callback invoked synchronously, after a frame is
// accepted for writing, with that frame's type string. Used by the
// controller to drive its first-event/idle timers without the sink
// needing to know anything about timers.
func WithOnFrame(fn func(frameType string)) Option {
	return func(s *Sink) { s.onFrame = fn }
}

// WithOnWriteError registers a callback invoked (outside any lock) the
// moment a write to the underlying io.Writer fails and self-closes the
// sink. Used by the controller to distinguish a client disconnect from an
// explicit cancel or a handler's own completion.
func WithOnWriteError(fn func(error)) Option {
	return func(s *Sink) { s.onWriteErr = fn }
}

// New constructs a Sink writing NDJSON frames to w, stamped with streamID.
// The returned Sink owns a background goroutine draining its bounded
// queue; callers must eventually call Close.
func New(streamID string, w io.Writer, opts ...Option) *Sink {
	s := &Sink{
		streamID: streamID,
		w:        bufio.NewWriter(w),
		queue:    make(chan []byte, defaultBufferedFrames),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
		log:      logging.For("sink"),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.drain()
	return s
}

func (s *Sink) drain() {
	defer close(s.stopped)
	for {
		select {
		case line := <-s.queue:
			s.write(line)
		case <-s.stopCh:
			// Drain whatever is already buffered before exiting so frames
			// queued just before Close still reach the writer.
			for {
				select {
				case line := <-s.queue:
					s.write(line)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) write(line []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	_, err := s.w.Write(line)
	if err == nil {
		err = s.w.Flush()
	}
	if err != nil {
		s.closed = true
		s.closeErr = err
		s.log.Warn("sink write failed, closing", "stream_id", s.streamID, "error", err)
	}
	s.mu.Unlock()

	if err != nil && s.onWriteErr != nil {
		s.onWriteErr(err)
	}
}

// Emit serializes event (any JSON-marshalable value, normally one of the
// frame structs in bubble/controller) to a single line, stamping streamId
// and the next seq atomically with serialization order. If the sink is
// already closed, Emit is a silent no-op, per spec.md §4.1 rule 1 (late
// writes from finalize paths must be tolerated). Emit blocks the caller
// when the bounded buffer is full, transparently throttling a handler
// racing ahead of a slow client (spec.md §5 backpressure).
func (s *Sink) Emit(event any) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	seq := s.seq.Next()
	line, err := encode(event, s.streamID, seq)
	if err != nil {
		return
	}

	select {
	case s.queue <- line:
		if s.onFrame != nil {
			if t, ok := event.(typed); ok {
				s.onFrame(t.FrameType())
			}
		}
	case <-s.stopCh:
	}
}

func encode(event any, streamID string, seq int64) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["streamId"] = streamID
	fields["seq"] = seq

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// Closed reports whether the sink has stopped accepting frames, either
// because Close was called or because the underlying writer failed.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Err returns the cause of a write failure, if the sink closed because of
// one. Returns nil for an explicit Close or an unclosed sink.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Close marks the sink closed and stops its drain goroutine. Close emits
// nothing itself and is idempotent.
func (s *Sink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stopCh)
	})
	<-s.stopped
}

// StreamID returns the sink's stream identifier.
func (s *Sink) StreamID() string {
	return s.streamID
}
