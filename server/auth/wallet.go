package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"
)

var ErrInvalidWallet = errors.New("invalid wallet identifier")

const farcasterPrefix = "fc:"

// NormalizeWallet validates a player identifier and returns its canonical
// lowercase form. Two shapes are accepted:
//
//	0x + 40 hex digits   an EVM address; mixed case must be a valid EIP-55 checksum
//	fc:<fid>             a Farcaster id
//
// Ownership is not verified here.
func NormalizeWallet(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if len(s) >= len(farcasterPrefix) && strings.EqualFold(s[:len(farcasterPrefix)], farcasterPrefix) {
		fid, err := strconv.ParseUint(s[len(farcasterPrefix):], 10, 64)
		if err != nil || fid == 0 {
			return "", fmt.Errorf("%w: bad farcaster id %q", ErrInvalidWallet, raw)
		}
		return farcasterPrefix + strconv.FormatUint(fid, 10), nil
	}

	if len(s) != 42 || (s[:2] != "0x" && s[:2] != "0X") {
		return "", fmt.Errorf("%w: %q", ErrInvalidWallet, raw)
	}
	body := s[2:]
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("%w: %q is not hex", ErrInvalidWallet, raw)
	}
	lower := strings.ToLower(body)
	if body != lower && body != strings.ToUpper(body) {
		if ChecksumAddress(lower)[2:] != body {
			return "", fmt.Errorf("%w: bad checksum for %q", ErrInvalidWallet, raw)
		}
	}
	return "0x" + lower, nil
}

// ChecksumAddress renders a 40 digit hex address (with or without 0x) in
// EIP-55 mixed case.
func ChecksumAddress(addr string) string {
	addr = strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X"))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(addr))
	sum := h.Sum(nil)

	out := []byte(addr)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return "0x" + string(out)
}
