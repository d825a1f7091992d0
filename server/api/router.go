// Package api implements the REST surface and mounts the realtime endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/PLUTOX-DEV/Tree-miniapp/server/account"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/auth"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/leaderboard"
)

type Deps struct {
	Store          account.Store
	Leaderboard    *leaderboard.Service
	Auth           *auth.Auth
	WS             http.Handler
	AllowedOrigins []string
	Log            zerolog.Logger
	Version        string
}

// NewRouter builds the HTTP handler tree.
func NewRouter(d Deps) http.Handler {
	h := &Handler{
		store:   d.Store,
		board:   d.Leaderboard,
		log:     d.Log.With().Str("component", "api").Logger(),
		version: d.Version,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(h.log))
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:       d.AllowedOrigins,
		AllowedMethods:       []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:       []string{"Authorization", "Content-Type"},
		MaxAge:               300,
		OptionsSuccessStatus: http.StatusNoContent,
	}))

	r.Get("/", h.Banner)
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", d.Auth.HandleLogin)
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Get("/users/{wallet}", h.GetUser)
		r.With(d.Auth.RequireAuth).Put("/users/{wallet}", h.PutUser)
	})

	if d.WS != nil {
		r.With(d.Auth.RequireAuth).Get("/ws", d.WS.ServeHTTP)
	}
	return r
}

func accessLog(r *http.Request, status, size int, elapsed time.Duration) {
	hlog.FromRequest(r).Debug().
		Str("request_id", chimw.GetReqID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("elapsed", elapsed).
		Msg("request")
}
