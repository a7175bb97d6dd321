package config

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	once = sync.Once{}
	viper.Reset()
	t.Setenv("PW_DOMAIN", "tenant.example.com")

	cfg, err := NewConfig()
	assert.NoError(t, err)
	assert.NotNil(t, cfg)

	// Test singleton behavior
	cfg2, err := NewConfig()
	assert.NoError(t, err)
	assert.Equal(t, cfg, cfg2, "Expected NewConfig to return the same instance")
}

func TestLoadConfigFromFile(t *testing.T) {
	viper.Reset()

	dir := t.TempDir()
	configContent := `domain: "udacity-cofshp.us.auth0.com"
audience: "coffee"
algorithms: ["rs256"]
jwks_timeout: "2s"
leeway: "30s"
route_permissions:
  - method: "get"
    path: "/drinks-detail"
    permission: "get:drinks-detail"
  - path: "/health"
    public: true
cache:
  type: "memory"
  ttl: "15m"
`
	require.NoError(t, os.WriteFile(dir+"/config.yaml", []byte(configContent), 0o600))

	t.Setenv("CONFIG_PATH", dir)
	t.Setenv("CONFIG_NAME", "config")

	cfg := &Config{}
	require.NoError(t, cfg.LoadConfig())

	assert.Equal(t, "udacity-cofshp.us.auth0.com", cfg.Domain)
	assert.Equal(t, "https://udacity-cofshp.us.auth0.com/", cfg.Issuer)
	assert.Equal(t, "https://udacity-cofshp.us.auth0.com/.well-known/jwks.json", cfg.JWKSURL)
	assert.Equal(t, "coffee", cfg.Audience)
	assert.Equal(t, []string{"RS256"}, cfg.Algorithms)
	assert.Equal(t, 2*time.Second, cfg.JWKSTimeout)
	assert.Equal(t, 30*time.Second, cfg.Leeway)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
	require.Len(t, cfg.RoutePermissions, 2)
	assert.Equal(t, "GET", cfg.RoutePermissions[0].Method)
	assert.Equal(t, "*", cfg.RoutePermissions[1].Method)
}

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Setenv("CONFIG_PATH", t.TempDir())
	t.Setenv("PW_DOMAIN", "tenant.example.com")

	cfg := &Config{}
	err := cfg.LoadConfig()
	assert.NoError(t, err)

	assert.Equal(t, "https://tenant.example.com/", cfg.Issuer)
	assert.Equal(t, "dev", cfg.Audience)
	assert.Equal(t, []string{"RS256"}, cfg.Algorithms)
	assert.Equal(t, 5*time.Second, cfg.JWKSTimeout)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Len(t, cfg.RoutePermissions, len(DefaultRoutePermissions))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing domain",
			cfg:     Config{Audience: "dev"},
			wantErr: "domain is required",
		},
		{
			name: "issuer and jwks url without domain",
			cfg: Config{
				Issuer:   "https://issuer.example.com/",
				JWKSURL:  "https://issuer.example.com/keys",
				Audience: "dev",
			},
		},
		{
			name:    "missing audience",
			cfg:     Config{Domain: "tenant.example.com"},
			wantErr: "audience is required",
		},
		{
			name:    "symmetric algorithm rejected",
			cfg:     Config{Domain: "tenant.example.com", Audience: "dev", Algorithms: []string{"HS256"}},
			wantErr: "not allowed",
		},
		{
			name:    "none algorithm rejected",
			cfg:     Config{Domain: "tenant.example.com", Audience: "dev", Algorithms: []string{"none"}},
			wantErr: "not allowed",
		},
		{
			name:    "invalid jwks url",
			cfg:     Config{Domain: "tenant.example.com", Audience: "dev", JWKSURL: "not a url"},
			wantErr: "invalid jwks_url",
		},
		{
			name:    "negative leeway",
			cfg:     Config{Domain: "tenant.example.com", Audience: "dev", Leeway: -time.Second},
			wantErr: "leeway",
		},
		{
			name:    "audit without bucket",
			cfg:     Config{Domain: "tenant.example.com", Audience: "dev", AuditToS3: true},
			wantErr: "audit_bucket",
		},
		{
			name: "invalid route pattern",
			cfg: Config{
				Domain:           "tenant.example.com",
				Audience:         "dev",
				RoutePermissions: []RoutePermission{{Path: "/drinks/[0-9"}},
			},
			wantErr: "invalid route pattern",
		},
		{
			name: "route without path",
			cfg: Config{
				Domain:           "tenant.example.com",
				Audience:         "dev",
				RoutePermissions: []RoutePermission{{Method: "GET"}},
			},
			wantErr: "path is required",
		},
		{
			name: "domain with scheme and slash is normalized",
			cfg:  Config{Domain: "https://tenant.example.com/", Audience: "dev"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, cfg.Issuer)
			assert.NotEmpty(t, cfg.JWKSURL)
			assert.NotNil(t, cfg.Cache)
		})
	}
}

func TestValidateNormalizesDomain(t *testing.T) {
	cfg := &Config{Domain: "https://tenant.example.com/", Audience: "dev"}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "tenant.example.com", cfg.Domain)
	assert.Equal(t, "https://tenant.example.com/", cfg.Issuer)
	assert.Equal(t, "https://tenant.example.com/.well-known/jwks.json", cfg.JWKSURL)
}

func TestValidateRederivesAfterDomainChange(t *testing.T) {
	cfg := &Config{Domain: "coffee.us.auth0.com", Audience: "dev", JWKSURL: "https://keys.example.com/jwks.json"}
	require.NoError(t, cfg.Validate())

	cfg.Domain = "tea.eu.auth0.com"
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://tea.eu.auth0.com/", cfg.Issuer)
	assert.Equal(t, "https://keys.example.com/jwks.json", cfg.JWKSURL, "explicit jwks_url is kept")
}

func TestMatchRoute(t *testing.T) {
	cfg := &Config{Domain: "tenant.example.com", Audience: "dev"}
	require.NoError(t, cfg.Validate())

	tests := []struct {
		method     string
		path       string
		found      bool
		public     bool
		permission string
	}{
		{method: "GET", path: "/drinks", found: true, public: true},
		{method: "get", path: "/drinks/", found: true, public: true},
		{method: "GET", path: "/drinks-detail", found: true, permission: "get:drinks-detail"},
		{method: "POST", path: "/drinks", found: true, permission: "post:drinks"},
		{method: "PATCH", path: "/drinks/12", found: true, permission: "patch:drinks"},
		{method: "DELETE", path: "/drinks/7", found: true, permission: "delete:drinks"},
		{method: "DELETE", path: "/drinks/abc", found: false},
		{method: "PUT", path: "/drinks", found: false},
		{method: "GET", path: "/drinks/1/extra", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			route, ok := cfg.MatchRoute(tt.method, tt.path)
			assert.Equal(t, tt.found, ok)
			if !tt.found {
				assert.Nil(t, route)
				return
			}
			assert.Equal(t, tt.public, route.Public)
			assert.Equal(t, tt.permission, route.Permission)
		})
	}
}

func TestMatchRouteWildcardMethod(t *testing.T) {
	cfg := &Config{
		Domain:   "tenant.example.com",
		Audience: "dev",
		RoutePermissions: []RoutePermission{
			{Path: "/admin/.*", Permission: "admin"},
		},
	}
	require.NoError(t, cfg.Validate())

	for _, method := range []string{"GET", "POST", "DELETE"} {
		route, ok := cfg.MatchRoute(method, "/admin/keys")
		require.True(t, ok, method)
		assert.Equal(t, "admin", route.Permission)
	}
}
