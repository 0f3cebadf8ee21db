package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"yuim/internal/auth"
	"yuim/internal/hub"
	"yuim/internal/relay"
	"yuim/pkg/envelope"
	redisstore "yuim/pkg/store/redis"
)

// Submitter is the ingest pipeline.
type Submitter interface {
	Submit(ctx context.Context, uid string, req relay.Request) (*envelope.Envelope, error)
}

// Backfill reads a room's durable log.
type Backfill interface {
	RangeRoom(ctx context.Context, room, after string, limit int64) ([]redisstore.StreamEntry, error)
}

type Options struct {
	// InternalToken guards /internal/broadcast; empty disables the endpoint.
	InternalToken string

	WSQueue        int
	WSWriteTimeout time.Duration
	WSPingInterval time.Duration

	BackfillDefault int64
	BackfillMax     int64

	// MaxBody caps submission bodies.
	MaxBody int64
}

type Deps struct {
	Relay    Submitter
	Hub      *hub.Hub
	Backfill Backfill
	Auth     auth.Config
	Authn    auth.Authenticator
	// Health, when set, is checked by /healthz.
	Health func(ctx context.Context) error
}

type Server struct {
	d    Deps
	opts Options
	log  *zap.Logger

	upgrader websocket.Upgrader
}

func NewServer(d Deps, opts Options, log *zap.Logger) *Server {
	if opts.WSQueue <= 0 {
		opts.WSQueue = 256
	}
	if opts.WSWriteTimeout <= 0 {
		opts.WSWriteTimeout = 5 * time.Second
	}
	if opts.BackfillDefault <= 0 {
		opts.BackfillDefault = 50
	}
	if opts.BackfillMax <= 0 {
		opts.BackfillMax = 500
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = 64 << 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	if d.Auth.Deny == nil {
		d.Auth.Deny = func(w http.ResponseWriter, _ *http.Request, _ error) {
			writeError(w, relay.ErrUnauthorized)
		}
	}
	return &Server{
		d:    d,
		opts: opts,
		log:  log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/internal/broadcast", s.broadcast)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/v1/messages", s.submit)
		r.Get("/v1/rooms/{room_id}/events", s.events)
		r.Get("/ws", s.ws)
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	if !s.d.Auth.Enabled {
		// dev mode: trust ?uid= like the demo websocket endpoint did
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := r.Header.Get("X-Uid")
			if uid == "" {
				uid = r.URL.Query().Get("uid")
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUID(r.Context(), uid)))
		})
	}
	return auth.Wrap(s.d.Auth, s.d.Authn, next)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.d.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := s.d.Health(ctx); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ok"))
}
