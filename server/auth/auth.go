// server/auth/auth.go
package auth

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const minKeyLen = 32

type Auth struct {
	jwtKey  []byte
	issuer  string
	ttl     time.Duration
	now     func() time.Time
	log     zerolog.Logger
	onLogin func(ctx context.Context, wallet string) error
}

type Option func(*Auth)

// WithLoginHook runs fn for every successful login before the token is
// issued, e.g. to create the player's profile. An error fails the login.
func WithLoginHook(fn func(ctx context.Context, wallet string) error) Option {
	return func(a *Auth) { a.onLogin = fn }
}

func WithClock(now func() time.Time) Option {
	return func(a *Auth) { a.now = now }
}

// NewAuth uses secret as the signing key when set; otherwise it reads, or
// creates, jwt.key in dataDir.
func NewAuth(dataDir, secret string, ttl time.Duration, log zerolog.Logger, opts ...Option) (*Auth, error) {
	key := []byte(secret)
	if len(key) == 0 {
		var err error
		if key, err = loadOrCreateKey(filepath.Join(dataDir, "jwt.key")); err != nil {
			return nil, err
		}
	}
	if len(key) < minKeyLen {
		return nil, fmt.Errorf("jwt key must be at least %d bytes", minKeyLen)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	a := &Auth{
		jwtKey: key,
		issuer: "TapToGrow",
		ttl:    ttl,
		now:    time.Now,
		log:    log.With().Str("component", "auth").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil && len(key) >= minKeyLen {
		return key, nil
	}
	key = make([]byte, minKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate jwt key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write jwt key: %w", err)
	}
	return key, nil
}

// Issue signs a session token for an already normalized wallet.
func (a *Auth) Issue(wallet string) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   wallet,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// ParseToken verifies tok and returns the wallet it was issued to.
func (a *Auth) ParseToken(tok string) (string, error) {
	if tok == "" {
		return "", ErrMissingToken
	}
	var claims jwt.RegisteredClaims
	t, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.jwtKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !t.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

type LoginReq struct {
	Wallet string `json:"wallet"`
	FID    uint64 `json:"fid,omitempty"`
}

type LoginResp struct {
	Token     string    `json:"token"`
	Wallet    string    `json:"wallet"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleLogin exchanges a wallet (or Farcaster fid) for a session token.
func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	raw := req.Wallet
	if raw == "" && req.FID > 0 {
		raw = fmt.Sprintf("%s%d", farcasterPrefix, req.FID)
	}
	wallet, err := NormalizeWallet(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if a.onLogin != nil {
		if err := a.onLogin(r.Context(), wallet); err != nil {
			a.log.Error().Err(err).Str("wallet", wallet).Msg("login hook failed")
			http.Error(w, "login failed", http.StatusInternalServerError)
			return
		}
	}
	tok, exp, err := a.Issue(wallet)
	if err != nil {
		a.log.Error().Err(err).Msg("issue token")
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}
	a.log.Info().Str("wallet", wallet).Msg("login")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(LoginResp{Token: tok, Wallet: wallet, ExpiresAt: exp.UTC()})
}

type ctxKey struct{}

// WithWallet stores the authenticated wallet in ctx.
func WithWallet(ctx context.Context, wallet string) context.Context {
	return context.WithValue(ctx, ctxKey{}, wallet)
}

// WalletFromContext returns the wallet set by RequireAuth.
func WalletFromContext(ctx context.Context) (string, bool) {
	w, ok := ctx.Value(ctxKey{}).(string)
	return w, ok && w != ""
}

// TokenFromRequest reads a bearer token, falling back to ?token= for websocket
// clients that cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// RequireAuth rejects requests without a valid token and puts the wallet in
// the request context.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet, err := a.ParseToken(TokenFromRequest(r))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithWallet(r.Context(), wallet)))
	})
}
