package types

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried on the wire
const (
	CodeMissingHeader = "authorization_header_missing"
	CodeInvalidHeader = "invalid_header"
	CodeTokenExpired  = "token_expired"
	CodeInvalidClaims = "invalid_claims"
	CodeUnauthorized  = "unauthorized"
)

// Kinds of authorization failure. Every AuthError matches exactly one of them with errors.Is.
var (
	ErrMissingHeader = errors.New("authorization header missing")
	ErrInvalidHeader = errors.New("invalid header")
	ErrTokenExpired  = errors.New("token expired")
	ErrInvalidClaims = errors.New("invalid claims")
	ErrUnauthorized  = errors.New("unauthorized")
)

var kindByCode = map[string]error{
	CodeMissingHeader: ErrMissingHeader,
	CodeInvalidHeader: ErrInvalidHeader,
	CodeTokenExpired:  ErrTokenExpired,
	CodeInvalidClaims: ErrInvalidClaims,
	CodeUnauthorized:  ErrUnauthorized,
}

// ErrorBody is the structured error object returned to callers
type ErrorBody struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// AuthError is the single error type raised by the authorization flow.
type AuthError struct {
	Code        string
	Description string
	StatusCode  int
	Err         error // underlying cause, may be nil
}

// NewAuthError builds an AuthError. cause is kept for errors.Is/As and logging only.
func NewAuthError(code, description string, statusCode int, cause error) *AuthError {
	return &AuthError{
		Code:        code,
		Description: description,
		StatusCode:  statusCode,
		Err:         cause,
	}
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Code, e.StatusCode, e.Description, e.Err)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Description)
}

// Unwrap exposes both the failure kind and the cause.
func (e *AuthError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if kind, ok := kindByCode[e.Code]; ok {
		errs = append(errs, kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Body returns the wire representation of the error
func (e *AuthError) Body() ErrorBody {
	return ErrorBody{Code: e.Code, Description: e.Description}
}

// Status returns the HTTP status, defaulting to 401 when unset.
func (e *AuthError) Status() int {
	if e.StatusCode == 0 {
		return http.StatusUnauthorized
	}
	return e.StatusCode
}

// AsAuthError unwraps err into an *AuthError if it carries one.
func AsAuthError(err error) (*AuthError, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}
