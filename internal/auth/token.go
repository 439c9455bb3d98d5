package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"unievent-ticketing/internal/models"
)

// Claims are the token claims the service reads. Roles come either from a
// plain "role" claim or from Keycloak's realm_access.roles.
type Claims struct {
	jwt.RegisteredClaims
	Role        string `json:"role,omitempty"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// Actor maps the claims onto an actor. The highest known role wins.
func (c Claims) Actor() (Actor, error) {
	if c.Subject == "" {
		return Actor{}, fmt.Errorf("%w: subject claim not found in token", ErrUnauthenticated)
	}

	roles := append([]string{c.Role}, c.RealmAccess.Roles...)
	role := models.RoleStudent
	for _, r := range roles {
		switch models.Role(strings.ToLower(r)) {
		case models.RoleAdmin:
			role = models.RoleAdmin
		case models.RoleOrganizer:
			if role != models.RoleAdmin {
				role = models.RoleOrganizer
			}
		}
	}
	return Actor{ID: c.Subject, Role: role}, nil
}

// ExtractTokenFromRequest extracts a JWT token from an HTTP request's Authorization header
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("%w: authorization header is missing", ErrUnauthenticated)
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", fmt.Errorf("%w: authorization header format must be 'Bearer {token}'", ErrUnauthenticated)
	}
	return parts[1], nil
}

// JWTAuthenticator verifies HMAC-signed tokens with a shared secret. It is
// meant for service-to-service calls and local setups without an issuer.
type JWTAuthenticator struct {
	Secret []byte
}

func NewJWTAuthenticator(secret string) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWTAuthenticator{Secret: []byte(secret)}, nil
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (Actor, error) {
	raw, err := ExtractTokenFromRequest(r)
	if err != nil {
		return Actor{}, err
	}

	var claims Claims
	_, err = jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return claims.Actor()
}

// SignToken issues an HS256 token for subject and role.
func SignToken(secret []byte, subject string, role models.Role, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: claims, Role: string(role)})
	return token.SignedString(secret)
}
