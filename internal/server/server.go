package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/life-stream-dev/life-stream-go-padlink/internal/database"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/logger"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/mailbox"
)

const DefaultMaxBodyBytes = 1 << 20

type Options struct {
	MaxBodyBytes int64
	// History serves GET /session/{id}/history; nil disables the route.
	History HistoryReader
}

type HistoryReader interface {
	History(ctx context.Context, sessionID string) ([]database.SessionEvent, error)
}

// Server exposes a mailbox.Store over HTTP.
type Server struct {
	store   *mailbox.Store
	opts    Options
	handler http.Handler
	http    *http.Server
}

func New(store *mailbox.Store, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{store: store, opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /offer", s.handlePublishOffer)
	mux.HandleFunc("POST /answer", s.handlePublishAnswer)
	mux.HandleFunc("GET /offer/{sessionId}", s.handleFetch(mailbox.Offer))
	mux.HandleFunc("GET /answer/{sessionId}", s.handleFetch(mailbox.Answer))
	mux.HandleFunc("DELETE /session/{sessionId}", s.handleCloseSession)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if opts.History != nil {
		mux.HandleFunc("GET /session/{sessionId}/history", s.handleHistory)
	}
	s.handler = logRequests(mux)
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	logger.InfoF("Rendezvous server listening on %s", ln.Addr().String())
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rendezvous server start error: %w", err)
	}
	return s.Serve(ln)
}

// Invoke shuts the HTTP server down. The store is closed alongside so
// pending long polls answer 503 instead of holding Shutdown until their
// fetch timeout.
func (s *Server) Invoke(ctx context.Context) error {
	logger.Info("Shutting down rendezvous server")
	go s.store.Close()
	return s.http.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}
