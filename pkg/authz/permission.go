package authz

import (
	"errors"
	"net/http"
	"slices"

	"github.com/boogy/permission-warden/pkg/types"
	"github.com/golang-jwt/jwt/v5"
)

// PermissionsClaim is the claim holding the caller's granted permissions
const PermissionsClaim = "permissions"

var errMalformedPermissions = errors.New("permissions claim is not an array of strings")

// Permissions returns the permissions claim. ok is false when the claim is absent.
func Permissions(claims jwt.MapClaims) (permissions []string, ok bool, err error) {
	raw, ok := claims[PermissionsClaim]
	if !ok {
		return nil, false, nil
	}

	switch v := raw.(type) {
	case []string:
		return v, true, nil
	case []any:
		permissions = make([]string, 0, len(v))
		for _, p := range v {
			s, isString := p.(string)
			if !isString {
				return nil, true, errMalformedPermissions
			}
			permissions = append(permissions, s)
		}
		return permissions, true, nil
	default:
		return nil, true, errMalformedPermissions
	}
}

// CheckPermission checks that the verified claims grant permission.
// An empty permission only requires the permissions claim to be present.
func CheckPermission(permission string, claims jwt.MapClaims) error {
	granted, ok, err := Permissions(claims)
	if !ok {
		return types.NewAuthError(types.CodeInvalidClaims, "Permissions not included in JWT.", http.StatusBadRequest, nil)
	}
	if err != nil {
		return types.NewAuthError(types.CodeInvalidClaims, "Permissions claim is malformed.", http.StatusBadRequest, err)
	}

	if permission != "" && !slices.Contains(granted, permission) {
		return types.NewAuthError(types.CodeUnauthorized, "Permission not found.", http.StatusForbidden, nil)
	}

	return nil
}
