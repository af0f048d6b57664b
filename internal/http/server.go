// Package http serves the memory surface over REST and WebSocket:
// snapshot reads, event ingestion and a live feed of store changes.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"

	"github.com/nextlevelbuilder/recall/internal/bus"
	"github.com/nextlevelbuilder/recall/internal/store"
	"github.com/nextlevelbuilder/recall/pkg/protocol"
)

// dedupeTTL is how long received event ids are remembered.
const dedupeTTL = 20 * time.Minute

// Options configures a Server.
type Options struct {
	Addr      string
	Token     string
	MaxConns  int
	DataDir   string
	Store     store.Store
	Feed      *bus.Feed
	Broadcast bus.Broadcaster
	RateRPS   int
	RateBurst int
}

// Server is the serve-mode HTTP surface.
type Server struct {
	addr     string
	token    string
	maxConns int
	dataDir  string

	store   store.Store
	feed    *bus.Feed
	cast    bus.Broadcaster
	dedupe  *bus.DedupeCache
	limiter *RateLimiter

	mux *http.ServeMux
	srv *http.Server
	seq atomic.Int64
}

// New assembles the server and its routes.
func New(opts Options) *Server {
	s := &Server{
		addr:     opts.Addr,
		token:    opts.Token,
		maxConns: opts.MaxConns,
		dataDir:  opts.DataDir,
		store:    opts.Store,
		feed:     opts.Feed,
		cast:     opts.Broadcast,
		dedupe:   bus.NewDedupeCache(dedupeTTL, 5000),
		limiter:  NewRateLimiter(opts.RateRPS, opts.RateBurst),
	}
	if s.cast == nil {
		s.cast = opts.Feed
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /v1/context/{session}", s.guard(s.handleContextGet))
	mux.HandleFunc("POST /v1/events", s.guard(s.handleEventsPost))
	mux.HandleFunc("GET /v1/stats", s.guard(s.handleStatsGet))
	mux.HandleFunc("GET /ws", s.handleWS)
	s.mux = mux
	return s
}

// Handler exposes the route mux so extra listeners (tailscale) can
// share it.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run listens until ctx is cancelled, then shuts down gracefully. The
// store writer drains the ingest queue for as long as the server runs.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}

	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	writerCtx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()
	go s.writerLoop(writerCtx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	slog.Info("http: listening", "addr", ln.Addr().String(), "auth", s.token != "", "max_conns", s.maxConns)

	select {
	case <-ctx.Done():
		s.cast.Broadcast(bus.Event{Name: protocol.EventShutdown})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http: shutdown", "error", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// writerLoop persists ingested events and announces them on the feed.
func (s *Server) writerLoop(ctx context.Context) {
	for {
		ev, ok := s.feed.Consume(ctx)
		if !ok {
			return
		}
		if err := s.store.RecordEvent(ctx, ev); err != nil {
			slog.Error("http: event write failed", "event", ev.ID, "type", ev.EventType, "error", err)
			continue
		}
		s.cast.Broadcast(bus.Event{Name: protocol.EventRecorded, Payload: ev})
	}
}

// nextSeq numbers outgoing event frames per server instance.
func (s *Server) nextSeq() int64 {
	return s.seq.Add(1)
}
