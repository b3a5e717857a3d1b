package testutil

import (
	"context"
	"net/http"

	sinksocket "github.com/eugener/sinksocket/internal"
)

// FakeAuth always authenticates successfully.
type FakeAuth struct{}

// Authenticate returns a test admin identity.
func (FakeAuth) Authenticate(context.Context, *http.Request) (*sinksocket.Identity, error) {
	return &sinksocket.Identity{Subject: "test", AuthMethod: "admin_key"}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*sinksocket.Identity, error) {
	return nil, sinksocket.ErrUnauthorized
}
