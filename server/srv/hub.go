package srv

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/PLUTOX-DEV/Tree-miniapp/server/account"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/auth"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/balance"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/leaderboard"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/metrics"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/progression"
)

type HubConfig struct {
	Progression *progression.Service
	Store       account.Store
	Leaderboard *leaderboard.Service
	Metrics     *metrics.Recorder
	Log         zerolog.Logger

	SaveDebounce   time.Duration
	AutoTick       time.Duration
	ActionRate     rate.Limit
	ActionBurst    int
	AllowedOrigins []string
}

// Hub accepts realtime connections and runs one Session per connection.
type Hub struct {
	cfg      HubConfig
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*Session]context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.SaveDebounce <= 0 {
		cfg.SaveDebounce = balance.SaveDebounce
	}
	if cfg.AutoTick <= 0 {
		cfg.AutoTick = balance.AutoTickInterval
	}
	if cfg.ActionRate <= 0 {
		cfg.ActionRate = 30
	}
	if cfg.ActionBurst <= 0 {
		cfg.ActionBurst = 60
	}
	h := &Hub{
		cfg:      cfg,
		log:      cfg.Log.With().Str("component", "hub").Logger(),
		sessions: make(map[*Session]context.CancelFunc),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(strings.TrimSpace(o), origin) {
			return true
		}
	}
	return false
}

// HandleWS upgrades an authenticated request. It must sit behind
// auth.RequireAuth so the wallet is in the request context.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wallet, ok := auth.WalletFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade")
		return
	}
	h.ServeConn(r.Context(), conn, wallet)
}

// ServeConn runs a session on conn until the client leaves, the context ends,
// or the hub shuts down. It closes conn.
func (h *Hub) ServeConn(ctx context.Context, conn *websocket.Conn, wallet string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := newSession(ctx, h, conn, wallet)
	if err != nil {
		h.log.Error().Err(err).Str("wallet", wallet).Msg("open session")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "could not load profile"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.teardown()
		return
	}
	h.sessions[s] = cancel
	h.wg.Add(1)
	h.mu.Unlock()

	h.cfg.Metrics.SessionOpened(ctx)
	defer func() {
		h.mu.Lock()
		delete(h.sessions, s)
		h.mu.Unlock()
		h.cfg.Metrics.SessionClosed(context.WithoutCancel(ctx))
		h.wg.Done()
	}()

	s.run(ctx)
}

// ActiveSessions is the number of connected sessions.
func (h *Hub) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown ends every session and waits for their final saves.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for _, cancel := range h.sessions {
		cancel()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
