// Package auth authenticates admin API callers against static admin keys.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	sinksocket "github.com/eugener/sinksocket/internal"
)

// AdminKeyAuth accepts "Authorization: Bearer <key>" for any configured key.
// Only SHA-256 hashes of the keys are held in memory.
type AdminKeyAuth struct {
	hashes []string
}

var (
	_ sinksocket.Authenticator = (*AdminKeyAuth)(nil)
	_ sinksocket.Authenticator = Open{}
)

// NewAdminKeyAuth returns an authenticator for keys. Empty keys are ignored.
func NewAdminKeyAuth(keys ...string) *AdminKeyAuth {
	a := &AdminKeyAuth{}
	for _, k := range keys {
		if k != "" {
			a.hashes = append(a.hashes, sinksocket.HashKey(k))
		}
	}
	return a
}

// Enabled reports whether at least one key is configured.
func (a *AdminKeyAuth) Enabled() bool { return len(a.hashes) > 0 }

// Authenticate validates the bearer token. Every configured hash is compared
// so the time taken does not depend on which key matched.
func (a *AdminKeyAuth) Authenticate(_ context.Context, r *http.Request) (*sinksocket.Identity, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, sinksocket.ErrUnauthorized
	}

	hash := sinksocket.HashKey(raw)
	match := 0
	for _, h := range a.hashes {
		match |= subtle.ConstantTimeCompare([]byte(h), []byte(hash))
	}
	if match != 1 {
		return nil, sinksocket.ErrUnauthorized
	}
	return &sinksocket.Identity{Subject: "admin:" + hash[:8], AuthMethod: "admin_key"}, nil
}

// Open lets every request through as an anonymous caller. It is used when no
// admin key is configured.
type Open struct{}

// Authenticate always succeeds.
func (Open) Authenticate(context.Context, *http.Request) (*sinksocket.Identity, error) {
	return &sinksocket.Identity{Subject: "anonymous", AuthMethod: "none"}, nil
}
