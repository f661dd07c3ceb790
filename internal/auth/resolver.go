// ABOUTME: Identity resolution from presented credentials to a principal
// ABOUTME: Tries the bearer header first, then the access token cookie

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/huddle/internal/store"
)

// Authentication failure reasons. The error text is the wire reason.
var (
	ErrMissingCredential = errors.New("missing_credential")
	ErrInvalidCredential = errors.New("invalid_credential")
	ErrUnknownSubject    = errors.New("unknown_subject")
)

// DefaultCookieName holds the access token for browser clients.
const DefaultCookieName = "access_token"

// UserLookup finds the account a token subject names.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// Credential is what a client presented: a bearer secret from the
// Authorization header (or token query parameter) and a cookie value.
type Credential struct {
	Bearer string
	Cookie string
}

// CredentialFromRequest collects both credential forms from r.
func CredentialFromRequest(r *http.Request, cookieName string) Credential {
	var cred Credential
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		cred.Bearer = token
	} else if q := r.URL.Query().Get("token"); q != "" {
		cred.Bearer = q
	}
	if c, err := r.Cookie(cookieName); err == nil {
		cred.Cookie = c.Value
	}
	return cred
}

// bearerToken extracts the secret from "Bearer <token>". Any other shape is
// treated as absent.
func bearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

// Resolver maps credentials to principals.
type Resolver struct {
	verifier TokenVerifier
	users    UserLookup
	logger   *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(verifier TokenVerifier, users UserLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		verifier: verifier,
		users:    users,
		logger:   logger.With("component", "auth"),
	}
}

// Authenticate resolves cred to a principal. The bearer secret wins when
// present; the cookie is only consulted without one.
func (r *Resolver) Authenticate(ctx context.Context, cred Credential) (Principal, error) {
	secret := cred.Bearer
	if secret == "" {
		secret = cred.Cookie
	}
	if secret == "" {
		return Principal{}, ErrMissingCredential
	}

	subject, err := r.verifier.Verify(secret)
	if err != nil {
		r.logger.Debug("credential rejected", "error", err)
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	user, err := r.users.GetUser(ctx, subject)
	if errors.Is(err, store.ErrNotFound) {
		return Principal{}, ErrUnknownSubject
	}
	if err != nil {
		return Principal{}, fmt.Errorf("looking up subject: %w", err)
	}

	return Principal{ID: user.ID, DisplayName: user.Username}, nil
}

// Reason returns the wire reason for an authentication error.
func Reason(err error) string {
	for _, sentinel := range []error{ErrMissingCredential, ErrInvalidCredential, ErrUnknownSubject} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal_error"
}
