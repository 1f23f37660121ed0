package gateway

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/gobutler/internal/agent"
	"github.com/nextlevelbuilder/gobutler/internal/config"
	"github.com/nextlevelbuilder/gobutler/internal/store"
	"github.com/nextlevelbuilder/gobutler/internal/webhook"
)

// TurnRunner runs conversation turns in the three chat modalities.
// Implemented by agent.Service.
type TurnRunner interface {
	Chat(ctx context.Context, req agent.TurnRequest) (string, error)
	ChatStream(ctx context.Context, req agent.TurnRequest, onDelta func(string)) (string, error)
	ChatEvents(ctx context.Context, req agent.TurnRequest, emit func(agent.Event)) (string, error)
}

// Server is the HTTP boundary: chat in three modalities, webhook
// ingestion, and user administration.
type Server struct {
	cfg      *config.Config
	turns    TurnRunner
	hooks    *webhook.Service
	users    store.UserStore
	audit    store.AuditStore
	limiter  *ClientLimiter
	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux
}

func NewServer(cfg *config.Config, turns TurnRunner, hooks *webhook.Service, users store.UserStore, audit store.AuditStore) *Server {
	s := &Server{
		cfg:     cfg,
		turns:   turns,
		hooks:   hooks,
		users:   users,
		audit:   audit,
		limiter: NewClientLimiter(cfg.Server.RateLimitRPM),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// The PWA and the server share an origin behind the reverse proxy;
		// non-browser clients send no Origin at all.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// BuildMux registers all routes. Cached so tests can drive the handler
// without a listener.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.Handle("POST /api/chat", s.protected(s.handleChat))
	mux.Handle("POST /api/chat/stream", s.protected(s.handleChatStream))
	mux.Handle("GET /ws/chat", s.protected(s.handleWS))

	// Webhooks authenticate with their own shared secret, not the bearer.
	mux.HandleFunc("POST /api/webhooks/{source}", s.handleWebhook)

	mux.Handle("GET /api/users", s.protected(s.handleListUsers))
	mux.Handle("PUT /api/users/{id}/soul", s.protected(s.handleUpdateSoul))
	mux.Handle("PUT /api/users/{id}/prefs", s.protected(s.handleUpdatePrefs))
	mux.Handle("GET /api/users/{id}/audit", s.protected(s.handleUserAudit))
	mux.Handle("POST /api/invites", s.protected(s.handleCreateInvite))
	mux.HandleFunc("POST /api/register", s.handleRegister)

	s.mux = mux
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway starting", "addr", addr)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// protected wraps a handler with bearer auth and the per-client rate limit.
func (s *Server) protected(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !s.limiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	})
}

func (s *Server) authorize(r *http.Request) bool {
	token := s.cfg.Server.AuthToken
	if token == "" {
		// No token configured: only loopback callers get in.
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return false
		}
		ip := net.ParseIP(host)
		return ip != nil && ip.IsLoopback()
	}

	header := r.Header.Get("Authorization")
	got, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		// Browsers cannot set headers on websocket upgrades.
		got = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StartTestServer listens on a random loopback port; used by tests.
func StartTestServer(ctx context.Context, s *Server) (addr string, start func(), err error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}
	s.httpServer = &http.Server{Handler: s.BuildMux()}
	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}
	return ln.Addr().String(), start, nil
}
