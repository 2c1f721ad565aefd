// Package httpapi is the thin HTTP adapter of spec.md §6: it exposes the
// four streaming-runtime endpoints plus an ambient /metrics endpoint,
// translating between wire JSON and the controller/store packages without
// holding any state of its own, grounded on server/a2a/server.go's
// Handler()/ListenAndServe()/Shutdown()/Option pattern.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Chomosuke9/Bubblekit/bkerrors"
	"github.com/Chomosuke9/Bubblekit/controller"
	"github.com/Chomosuke9/Bubblekit/metrics"
	"github.com/Chomosuke9/Bubblekit/store"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultReadTimeout       = 30 * time.Second
	defaultWriteTimeout      = 0 // streaming responses must not be write-deadlined
	defaultIdleTimeout       = 120 * time.Second
	defaultMaxBodySize       int64 = 1 << 20
)

// Option configures a Server.
type Option func(*Server)

// WithPort sets the TCP port for ListenAndServe.
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithReadTimeout overrides the default 30s request read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.readTimeout = d }
}

// WithMaxBodySize overrides the default 1 MiB request body cap.
func WithMaxBodySize(n int64) Option {
	return func(s *Server) { s.maxBodySize = n }
}

// Server is the thin HTTP adapter over a Controller and ConversationIndex.
type Server struct {
	ctrl  *controller.Controller
	index store.Index

	port        int
	readTimeout time.Duration
	maxBodySize int64

	httpSrvMu sync.Mutex
	httpSrv   *http.Server
}

// New constructs a Server. index may be nil, in which case
// GET /api/conversations always returns an empty list (no handler has
// published a conversation index yet). index is a store.Index so either
// the in-memory store.ConversationIndex or a store.RedisConversationIndex
// can be handed in, per config.Redis.Addr.
func New(ctrl *controller.Controller, index store.Index, opts ...Option) *Server {
	s := &Server{
		ctrl:        ctrl,
		index:       index,
		port:        8080,
		readTimeout: defaultReadTimeout,
		maxBodySize: defaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the http.Handler implementing the streaming runtime's
// HTTP surface, wrapped in otelhttp for request tracing.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleHistory)
	mux.HandleFunc("POST /api/conversations/stream", s.handleStream)
	mux.HandleFunc("POST /api/streams/{streamId}/cancel", s.handleCancel)
	mux.Handle("GET /metrics", metrics.Handler(metrics.NewRegistry()))
	return otelhttp.NewHandler(mux, "bubblekit-server")
}

// ListenAndServe starts the HTTP server on the configured port.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       s.readTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	s.httpSrvMu.Lock()
	s.httpSrv = srv
	s.httpSrvMu.Unlock()
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the underlying HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpSrvMu.Lock()
	srv := s.httpSrv
	s.httpSrvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func userID(r *http.Request) string {
	return store.NormalizeUserID(r.Header.Get("User-Id"))
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	entries := []store.Entry{}
	if s.index != nil {
		var err error
		entries, err = s.index.Get(r.Context(), userID(r))
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": entries})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation id is required")
		return
	}
	records, err := s.ctrl.HandleHistory(r.Context(), conversationID, userID(r))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": records})
}

type streamRequestBody struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)

	var body streamRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")

	flusher, _ := w.(http.Flusher)
	fw := &flushWriter{w: w, flusher: flusher}

	err := s.ctrl.HandleStream(r.Context(), fw, controller.StreamRequest{
		ConversationID: body.ConversationID,
		UserID:         userID(r),
		Message:        body.Message,
	})
	if err != nil {
		// Nothing has been written yet at this point (HandleStream only
		// returns an error before the first byte), so a normal status
		// code is still possible.
		writeError(w, statusFor(err), err.Error())
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("streamId")
	if s.ctrl.Cancel(streamID) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "unknown"})
}

// flushWriter flushes after every write so NDJSON frames reach the client
// as they are produced instead of waiting for a full buffer.
type flushWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil && fw.flusher != nil {
		fw.flusher.Flush()
	}
	return n, err
}

func statusFor(err error) int {
	var bkErr *bkerrors.Error
	if errors.As(err, &bkErr) && bkErr.StatusCode != 0 {
		return bkErr.StatusCode
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
