// Package health поднимает служебный HTTP-сервер:
// /healthz — жива ли база, /stats — сессии плеера и состояние шлюза.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

const pingTimeout = 3 * time.Second

// Pinger проверяет соединение с базой. В проде это *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Gateway — состояние подключения к Discord. В проде это *bot.Bot.
type Gateway interface {
	Connected() bool
	GuildCount() int
}

// Sessions — число живых сессий плеера. В проде это *music.Registry.
type Sessions interface {
	Len() int
}

// Stats — ответ /stats.
type Stats struct {
	Gateway  string `json:"gateway"`
	Guilds   int    `json:"guilds"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

// Server — health-сервер.
type Server struct {
	db       Pinger
	gateway  Gateway
	sessions Sessions
	started  time.Time
	srv      *http.Server
}

// New создаёт сервер на addr.
func New(addr string, db Pinger, gateway Gateway, sessions Sessions) *Server {
	s := &Server{db: db, gateway: gateway, sessions: sessions, started: time.Now()}
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s
}

// Router возвращает маршруты сервера.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.healthz)
	r.Get("/stats", s.stats)
	return r
}

// Run слушает addr до отмены ctx.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.srv.Addr).Info("Health-сервер запущен")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("health-сервер: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("остановка health-сервера: %w", err)
	}
	log.Info("Health-сервер остановлен")
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		log.WithError(err).Warn("Health: база недоступна")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	st := Stats{
		Gateway: "disconnected",
		Uptime:  time.Since(s.started).Truncate(time.Second).String(),
	}
	if s.gateway != nil {
		if s.gateway.Connected() {
			st.Gateway = "connected"
		}
		st.Guilds = s.gateway.GuildCount()
	}
	if s.sessions != nil {
		st.Sessions = s.sessions.Len()
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
