package types

// JSONWebKey is a JSON web key as specified by RFC 7517.
type JSONWebKey struct {
	Algorithm string   `json:"alg,omitempty"`
	KeyID     string   `json:"kid,omitempty"`
	KeyType   string   `json:"kty,omitempty"`
	Use       string   `json:"use,omitempty"`
	N         string   `json:"n,omitempty"`   // RSA modulus
	E         string   `json:"e,omitempty"`   // RSA public exponent
	X         string   `json:"x,omitempty"`   // EC x coordinate
	Y         string   `json:"y,omitempty"`   // EC y coordinate
	Crv       string   `json:"crv,omitempty"` // EC curve
	X5c       []string `json:"x5c,omitempty"` // X.509 certificate chain
}

// JWKS represents a set of JSON Web Keys retrieved from a JWKS endpoint
type JWKS struct {
	Keys []JSONWebKey `json:"keys"`
}

// Find returns the key whose key id equals kid.
func (s *JWKS) Find(kid string) (*JSONWebKey, bool) {
	if s == nil || kid == "" {
		return nil, false
	}
	for i := range s.Keys {
		if s.Keys[i].KeyID == kid {
			return &s.Keys[i], true
		}
	}
	return nil, false
}

// KeyIDs lists the key ids in the set, in order.
func (s *JWKS) KeyIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Keys))
	for _, k := range s.Keys {
		ids = append(ids, k.KeyID)
	}
	return ids
}
