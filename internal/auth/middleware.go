package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"unievent-ticketing/internal/logger"
	"unievent-ticketing/internal/models"
	"unievent-ticketing/internal/utils"
)

type contextKey string

const actorKey contextKey = "actor"

// Headers trusted in header mode. Only for local development and tests.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role models.Role
}

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (Actor, error)
}

// OIDCAuthenticator verifies bearer tokens against an OpenID Connect issuer.
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCAuthenticator(ctx context.Context, issuer string) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return &OIDCAuthenticator{
		verifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true}),
	}, nil
}

func (a *OIDCAuthenticator) Authenticate(r *http.Request) (Actor, error) {
	raw, err := ExtractTokenFromRequest(r)
	if err != nil {
		return Actor{}, err
	}

	idToken, err := a.verifier.Verify(r.Context(), raw)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return Actor{}, fmt.Errorf("%w: failed to parse claims", ErrUnauthenticated)
	}
	return claims.Actor()
}

// HeaderAuthenticator trusts the X-User-ID and X-User-Role headers.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (Actor, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return Actor{}, fmt.Errorf("%w: missing %s header", ErrUnauthenticated, HeaderUserID)
	}
	role := models.Role(strings.ToLower(r.Header.Get(HeaderUserRole)))
	if role == "" {
		role = models.RoleStudent
	}
	return Actor{ID: id, Role: role}, nil
}

// Middleware rejects unauthenticated requests and stores the actor in the
// request context.
func Middleware(authn Authenticator, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := authn.Authenticate(r)
			if err != nil {
				log.LogSecurity("AUTH_FAILED", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Authentication required", err.Error()))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom returns the actor stored by Middleware.
func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok && actor.ID != ""
}

// UserID is a shorthand for handlers that only need the caller id.
func UserID(ctx context.Context) string {
	actor, _ := ActorFrom(ctx)
	return actor.ID
}
