package authz

import (
	"net/http"
	"strings"

	"github.com/boogy/permission-warden/pkg/types"
)

// ExtractToken returns the token carried by an "Authorization: Bearer <token>" header value.
// An empty value means the header was absent.
func ExtractToken(header string) (string, error) {
	if header == "" {
		return "", types.NewAuthError(types.CodeMissingHeader, "Authorization header is expected", http.StatusUnauthorized, nil)
	}

	parts := strings.Fields(header)
	switch {
	case len(parts) == 0 || !strings.EqualFold(parts[0], "bearer"):
		return "", types.NewAuthError(types.CodeInvalidHeader, "Authorization header must start with Bearer", http.StatusUnauthorized, nil)
	case len(parts) == 1:
		return "", types.NewAuthError(types.CodeInvalidHeader, "Token not found", http.StatusUnauthorized, nil)
	case len(parts) > 2:
		return "", types.NewAuthError(types.CodeInvalidHeader, "Authorization header must be Bearer token", http.StatusUnauthorized, nil)
	}

	return parts[1], nil
}
