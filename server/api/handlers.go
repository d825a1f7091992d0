package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/PLUTOX-DEV/Tree-miniapp/server/account"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/auth"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/leaderboard"
)

type Handler struct {
	store   account.Store
	board   *leaderboard.Service
	log     zerolog.Logger
	version string
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Error writes a JSON error body.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]any{"error": message})
}

func (h *Handler) Banner(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Tap to Grow API " + h.version + "\n"))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// GetUser returns the profile for the wallet in the path, creating it with
// defaults on first sight.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	wallet, err := auth.NormalizeWallet(chi.URLParam(r, "wallet"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.store.GetOrCreate(r.Context(), wallet)
	if err != nil {
		h.log.Error().Err(err).Str("wallet", wallet).Msg("get user")
		Error(w, http.StatusInternalServerError, "could not load profile")
		return
	}
	JSON(w, http.StatusOK, account.ToWire(p))
}

// PutUser merges the body into the caller's own profile.
func (h *Handler) PutUser(w http.ResponseWriter, r *http.Request) {
	wallet, err := auth.NormalizeWallet(chi.URLParam(r, "wallet"))
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if caller, _ := auth.WalletFromContext(r.Context()); caller != wallet {
		Error(w, http.StatusForbidden, "token does not match wallet")
		return
	}
	var patch account.Patch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&patch); err != nil {
		Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	p, err := h.store.Upsert(r.Context(), wallet, patch)
	switch {
	case errors.Is(err, account.ErrInvalidPatch):
		Error(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Error().Err(err).Str("wallet", wallet).Msg("put user")
		Error(w, http.StatusInternalServerError, "could not save profile")
		return
	}
	JSON(w, http.StatusOK, account.ToWire(p))
}

func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			Error(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		limit = n
	}
	lb, err := h.board.Top(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("leaderboard")
		Error(w, http.StatusInternalServerError, "could not load leaderboard")
		return
	}
	JSON(w, http.StatusOK, lb)
}
