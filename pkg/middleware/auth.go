package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcpkit/mcpkit/pkg/jsonrpc"
)

// ErrUnauthorized is returned by Authenticators when a credential is
// missing or invalid.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator validates the credential a transport extracted for a
// request. Implementations are plug-in points; the core ships only a
// static-token validator.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) error
}

// Auth short-circuits requests whose credential the authenticator rejects.
func Auth(auth Authenticator) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) jsonrpc.Response {
			if err := auth.Authenticate(ctx, req.Credential); err != nil {
				return jsonrpc.NewErrorResponse(req.Req.ID, jsonrpc.Unauthorized, "")
			}
			return next(ctx, req)
		}
	}
}

// StaticTokenAuthenticator accepts a single bearer token, configured either
// in the clear or as a bcrypt hash (so config files need not hold the raw
// secret).
type StaticTokenAuthenticator struct {
	// Token is the expected credential in the clear.
	Token string
	// BcryptHash, when set, takes precedence over Token.
	BcryptHash string
}

// Authenticate compares the presented credential. A "Bearer " prefix on
// the credential is tolerated and stripped.
func (a *StaticTokenAuthenticator) Authenticate(_ context.Context, credential string) error {
	credential = strings.TrimPrefix(credential, "Bearer ")
	if credential == "" {
		return ErrUnauthorized
	}
	if a.BcryptHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(a.BcryptHash), []byte(credential)) != nil {
			return ErrUnauthorized
		}
		return nil
	}
	if a.Token == "" || subtle.ConstantTimeCompare([]byte(a.Token), []byte(credential)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
