package validator

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/boogy/permission-warden/pkg/config"
	"github.com/boogy/permission-warden/pkg/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	descHeaderDecode  = "Error decoding token headers: "
	descParse         = "Unable to parse authentication token: "
	descKeyNotFound   = "Unable to find appropriate key"
	descTokenExpired  = "Token expired."
	descInvalidClaims = "Incorrect claims. Please, check the audience and issuer."
)

var errHeaderNotObject = errors.New("token header is not a JSON object")

// KeySource provides the current key set snapshot
type KeySource interface {
	Keys() *types.JWKS
}

type TokenValidatorInterface interface {
	ResolveKey(token string) (*types.JSONWebKey, error)
	Validate(token string) (jwt.MapClaims, error)
}

// TokenValidator verifies bearer tokens against a key set. Every error it returns is a *types.AuthError.
type TokenValidator struct {
	ExpectedIssuer   string
	ExpectedAudience string
	Algorithms       []string
	Leeway           time.Duration
	Keys             KeySource

	now func() time.Time
}

// Option configures a TokenValidator
type Option func(*TokenValidator)

// WithClock replaces time.Now when checking exp and nbf
func WithClock(now func() time.Time) Option {
	return func(t *TokenValidator) {
		t.now = now
	}
}

func NewTokenValidator(cfg *config.Config, keys KeySource, opts ...Option) *TokenValidator {
	algorithms := cfg.Algorithms
	if len(algorithms) == 0 {
		algorithms = []string{jwt.SigningMethodRS256.Name}
	}

	t := &TokenValidator{
		ExpectedIssuer:   cfg.Issuer,
		ExpectedAudience: cfg.Audience,
		Algorithms:       algorithms,
		Leeway:           cfg.Leeway,
		Keys:             keys,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ResolveKey decodes the unverified token header and returns the key whose kid it names.
func (t *TokenValidator) ResolveKey(token string) (*types.JSONWebKey, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, types.NewAuthError(types.CodeInvalidHeader,
			descHeaderDecode+"token contains an invalid number of segments",
			http.StatusUnauthorized, jwt.ErrTokenMalformed)
	}

	raw, err := jwt.NewParser().DecodeSegment(parts[0])
	if err != nil {
		return nil, types.NewAuthError(types.CodeInvalidHeader, descHeaderDecode+err.Error(), http.StatusUnauthorized, err)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, types.NewAuthError(types.CodeInvalidHeader, descHeaderDecode+err.Error(), http.StatusUnauthorized, err)
	}

	header, ok := decoded.(map[string]any)
	if !ok {
		return nil, types.NewAuthError(types.CodeInvalidHeader, descParse+errHeaderNotObject.Error(), http.StatusBadRequest, errHeaderNotObject)
	}

	kid, _ := header["kid"].(string)
	keys := t.Keys.Keys()
	key, found := keys.Find(kid)
	if !found {
		slog.Debug("No key matches token kid", "kid", kid, "available", keys.KeyIDs())
		return nil, types.NewAuthError(types.CodeInvalidHeader, descKeyNotFound, http.StatusBadRequest, nil)
	}

	return key, nil
}

// Validate verifies the signature and the registered claims and returns the decoded payload.
// An expired token reports TokenExpired even when other claims are wrong too.
func (t *TokenValidator) Validate(token string) (jwt.MapClaims, error) {
	key, err := t.ResolveKey(token)
	if err != nil {
		return nil, err
	}

	publicKey, err := PublicKey(key)
	if err != nil {
		return nil, types.NewAuthError(types.CodeInvalidHeader, descParse+err.Error(), http.StatusBadRequest, err)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(t.Algorithms),
		jwt.WithAudience(t.ExpectedAudience),
		jwt.WithIssuer(t.ExpectedIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(t.Leeway),
		jwt.WithTimeFunc(t.now),
	)

	claims := jwt.MapClaims{}
	_, err = parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return publicKey, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return types.NewAuthError(types.CodeTokenExpired, descTokenExpired, http.StatusUnauthorized, err)
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		return types.NewAuthError(types.CodeInvalidClaims, descInvalidClaims, http.StatusUnauthorized, err)
	default:
		return types.NewAuthError(types.CodeInvalidHeader, descParse+err.Error(), http.StatusBadRequest, err)
	}
}

// PublicKey converts a JWK record into the crypto public key used for verification.
func PublicKey(key *types.JSONWebKey) (any, error) {
	raw, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode key %s: %w", key.KeyID, err)
	}

	parsed, err := jwk.ParseKey(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key %s: %w", key.KeyID, err)
	}

	switch parsed.KeyType() {
	case jwa.RSA:
		var pub rsa.PublicKey
		if err := parsed.Raw(&pub); err != nil {
			return nil, fmt.Errorf("failed to decode RSA key %s: %w", key.KeyID, err)
		}
		return &pub, nil
	case jwa.EC:
		var pub ecdsa.PublicKey
		if err := parsed.Raw(&pub); err != nil {
			return nil, fmt.Errorf("failed to decode EC key %s: %w", key.KeyID, err)
		}
		return &pub, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q for key %s", parsed.KeyType(), key.KeyID)
	}
}
