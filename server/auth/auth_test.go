package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestAuth(t *testing.T, opts ...Option) *Auth {
	t.Helper()
	a, err := NewAuth(t.TempDir(), testSecret, time.Hour, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return a
}

func TestNormalizeWallet(t *testing.T) {
	cases := []struct {
		in, want string
		ok       bool
	}{
		{"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", true},
		{"  0X5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED ", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", true},
		{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", true},
		{"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359", "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359", true},
		{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD", "", false}, // checksum broken
		{"0x123", "", false},
		{"0xzzzzb6053f3e94c9b9a09f33669435e7ef1beaed", "", false},
		{"5aaeb6053f3e94c9b9a09f33669435e7ef1beaed00", "", false},
		{"fc:12345", "fc:12345", true},
		{"FC:00042", "fc:42", true},
		{"fc:0", "", false},
		{"fc:abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeWallet(tc.in)
		if !tc.ok {
			assert.ErrorIs(t, err, ErrInvalidWallet, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestChecksumAddress(t *testing.T) {
	for _, want := range []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	} {
		assert.Equal(t, want, ChecksumAddress(strings.ToLower(want)))
	}
}

func TestIssueAndParse(t *testing.T) {
	a := newTestAuth(t)
	tok, exp, err := a.Issue("0xabc")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	wallet, err := a.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", wallet)
}

func TestParseTokenRejects(t *testing.T) {
	a := newTestAuth(t)

	_, err := a.ParseToken("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = a.ParseToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewAuth(t.TempDir(), strings.Repeat("x", 32), time.Hour, zerolog.Nop())
	require.NoError(t, err)
	foreign, _, err := other.Issue("0xabc")
	require.NoError(t, err)
	_, err = a.ParseToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong key")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: "0xabc", Issuer: "TapToGrow", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.ParseToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")

	past := time.Now().Add(-2 * time.Hour)
	expired := newTestAuth(t, WithClock(func() time.Time { return past }))
	old, _, err := expired.Issue("0xabc")
	require.NoError(t, err)
	_, err = a.ParseToken(old)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")
}

func TestKeyFileCreatedAndReused(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAuth(dir, "", time.Hour, zerolog.Nop())
	require.NoError(t, err)
	key, err := os.ReadFile(filepath.Join(dir, "jwt.key"))
	require.NoError(t, err)
	assert.Len(t, key, 32)

	tok, _, err := a.Issue("0xabc")
	require.NoError(t, err)
	b, err := NewAuth(dir, "", time.Hour, zerolog.Nop())
	require.NoError(t, err)
	_, err = b.ParseToken(tok)
	assert.NoError(t, err)
}

func TestShortSecretRejected(t *testing.T) {
	_, err := NewAuth(t.TempDir(), "short", time.Hour, zerolog.Nop())
	assert.Error(t, err)
}

func TestHandleLogin(t *testing.T) {
	var hooked []string
	a := newTestAuth(t, WithLoginHook(func(ctx context.Context, wallet string) error {
		hooked = append(hooked, wallet)
		return nil
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"wallet":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"}`))
	a.HandleLogin(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResp
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", resp.Wallet)
	assert.Equal(t, []string{resp.Wallet}, hooked)
	wallet, err := a.ParseToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.Wallet, wallet)

	rec = httptest.NewRecorder()
	a.HandleLogin(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"fid":99}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "fc:99", resp.Wallet)

	rec = httptest.NewRecorder()
	a.HandleLogin(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"wallet":"bob"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	a.HandleLogin(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLoginHookFailure(t *testing.T) {
	a := newTestAuth(t, WithLoginHook(func(context.Context, string) error { return errors.New("db down") }))
	rec := httptest.NewRecorder()
	a.HandleLogin(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"fid":1}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequireAuth(t *testing.T) {
	a := newTestAuth(t)
	var seen string
	h := a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = WalletFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, _, err := a.Issue("0xabc")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xabc", seen)

	seen = ""
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xabc", seen)
}
