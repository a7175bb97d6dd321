package authz

import (
	"log/slog"

	"github.com/boogy/permission-warden/pkg/utils"
	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier verifies a raw token and returns its claims
type TokenVerifier interface {
	Validate(token string) (jwt.MapClaims, error)
}

// Authorizer chains header extraction, token verification and the permission check.
type Authorizer struct {
	Verifier TokenVerifier
}

func NewAuthorizer(verifier TokenVerifier) *Authorizer {
	return &Authorizer{Verifier: verifier}
}

// Authorize returns the verified claims when header carries a valid token granting permission.
// The first failing step's *types.AuthError is returned unchanged.
func (a *Authorizer) Authorize(header, permission string) (jwt.MapClaims, error) {
	token, err := ExtractToken(header)
	if err != nil {
		return nil, err
	}

	claims, err := a.Verifier.Validate(token)
	if err != nil {
		slog.Debug("Token verification failed",
			slog.String("token", utils.RedactToken(token, 10, 10)),
			slog.String("error", err.Error()))
		return nil, err
	}

	if err := CheckPermission(permission, claims); err != nil {
		return nil, err
	}

	return claims, nil
}

// Require guards op with permission. op only runs once the header has been authorized.
func Require[T any](a *Authorizer, permission string, op func(claims jwt.MapClaims) (T, error)) func(header string) (T, error) {
	return func(header string) (T, error) {
		claims, err := a.Authorize(header, permission)
		if err != nil {
			var zero T
			return zero, err
		}
		return op(claims)
	}
}
