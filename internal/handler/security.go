package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

// HeaderAPIKey is the primary credential header. Authorization: Bearer is
// accepted as well.
const HeaderAPIKey = "api_key"

// Security authenticates requests by HMAC-SHA256 hashed API keys.
type Security struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurity creates a Security with the given API key repository and HMAC
// pepper.
func NewSecurity(apikeys auth.Repository, pepper []byte) *Security {
	return &Security{apikeys: apikeys, pepper: pepper}
}

// Authenticate resolves a raw API key to its user.
func (s *Security) Authenticate(ctx context.Context, key string) (auth.User, error) {
	if key == "" {
		return auth.User{}, auth.ErrUnauthenticated
	}
	hexHash := auth.HashKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(ctx, hexHash)
	switch {
	case errors.Is(err, auth.ErrKeyNotFound):
		return auth.User{}, auth.ErrUnauthenticated
	case err != nil:
		return auth.User{}, errors.Wrap(err, "find api key")
	}

	// The lookup matched on the hash; compare in constant time anyway so a
	// repository returning the wrong row cannot authenticate.
	want, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return auth.User{}, auth.ErrUnauthenticated
	}
	got, _ := hex.DecodeString(hexHash)
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return auth.User{}, auth.ErrUnauthenticated
	}
	return info.User, nil
}

func credential(r *http.Request) string {
	if k := r.Header.Get(HeaderAPIKey); k != "" {
		return k
	}
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
