package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/boogy/permission-warden/pkg/utils"
	"github.com/spf13/viper"
)

var (
	once              sync.Once
	instance          *Config
	audience          = "dev"     // Default API audience
	algorithm         = "RS256"   // Default (and only) signing algorithm
	jwksTimeout       = "5s"      // Default timeout for fetching the key set
	cacheType         = "memory"  // Default cache type
	cacheTTL          = "1h"      // Default cache TTL
	cacheMaxLocalSize = 10        // Default max local size for memory cache
	anyMethod         = "*"       // Route method wildcard
	jwksPath          = "/.well-known/jwks.json"
)

// DefaultRoutePermissions is the coffee shop route table used when none is configured
var DefaultRoutePermissions = []RoutePermission{
	{Method: "GET", Path: "/drinks", Public: true},
	{Method: "GET", Path: "/drinks-detail", Permission: "get:drinks-detail"},
	{Method: "POST", Path: "/drinks", Permission: "post:drinks"},
	{Method: "PATCH", Path: "/drinks/[0-9]+", Permission: "patch:drinks"},
	{Method: "DELETE", Path: "/drinks/[0-9]+", Permission: "delete:drinks"},
}

// RoutePermission binds an HTTP method and path pattern to the permission it requires
type RoutePermission struct {
	Method     string `mapstructure:"method" json:"method"`         // HTTP method, "*" or empty for any
	Path       string `mapstructure:"path" json:"path"`             // Path regex, anchored (e.g. "/drinks/[0-9]+")
	Permission string `mapstructure:"permission" json:"permission"` // Required permission (e.g. "post:drinks"), may be empty
	Public     bool   `mapstructure:"public" json:"public"`         // No token required at all

	// Cached compiled pattern (not serialized)
	compiledPattern *regexp.Regexp `mapstructure:"-"`
}

type Cache struct {
	Type          string        `mapstructure:"type" json:"type"`                     // Cache type ("memory", "s3", "dynamodb", "redis")
	TTL           time.Duration `mapstructure:"ttl" json:"ttl"`                       // Cache TTL duration (ex: "5m", "1h")
	MaxLocalSize  int           `mapstructure:"max_local_size" json:"max_local_size"` // Maximum size of local cache
	DynamoDBTable string        `mapstructure:"dynamodb_table" json:"dynamodb_table"` // DynamoDB table name (if using DynamoDB cache)
	S3Bucket      string        `mapstructure:"s3_bucket" json:"s3_bucket"`           // S3 bucket name (if using S3 cache)
	S3Prefix      string        `mapstructure:"s3_prefix" json:"s3_prefix"`           // S3 prefix (if using S3 cache)
	RedisAddr     string        `mapstructure:"redis_addr" json:"redis_addr"`         // host:port (if using redis cache)
	RedisPassword string        `mapstructure:"redis_password" json:"redis_password"` // redis AUTH password
	RedisDB       int           `mapstructure:"redis_db" json:"redis_db"`             // redis logical database
}

type Config struct {
	Domain      string        `mapstructure:"domain" json:"domain"`             // Domain is the identity provider tenant (e.g. "tenant.us.auth0.com")
	Issuer      string        `mapstructure:"issuer" json:"issuer"`             // Issuer is the expected iss claim, defaults to https://<domain>/
	Audience    string        `mapstructure:"audience" json:"audience"`         // Audience is the expected aud claim
	Algorithms  []string      `mapstructure:"algorithms" json:"algorithms"`     // Algorithms allowed to sign tokens
	JWKSURL     string        `mapstructure:"jwks_url" json:"jwks_url"`         // JWKSURL defaults to https://<domain>/.well-known/jwks.json
	JWKSTimeout time.Duration `mapstructure:"jwks_timeout" json:"jwks_timeout"` // JWKSTimeout bounds the key set fetch
	Leeway      time.Duration `mapstructure:"leeway" json:"leeway"`             // Leeway tolerated on exp/nbf

	RoutePermissions []RoutePermission `mapstructure:"route_permissions" json:"route_permissions"` // Route to permission table for the request authorizer

	S3ConfigBucket string `mapstructure:"s3_config_bucket" json:"s3_config_bucket"` // S3ConfigBucket is the S3 bucket where the configuration file is stored
	S3ConfigPath   string `mapstructure:"s3_config_path" json:"s3_config_path"`     // S3ConfigPath is the path to the configuration file in the S3 bucket

	// Authorization decision audit shipped to S3
	AuditToS3   bool   `mapstructure:"audit_to_s3" json:"audit_to_s3"`
	AuditBucket string `mapstructure:"audit_bucket" json:"audit_bucket"`
	AuditPrefix string `mapstructure:"audit_prefix" json:"audit_prefix"`

	Cache *Cache `mapstructure:"cache" json:"cache"` // Cache is the key set cache configuration

	// Values Validate filled in from Domain, refilled when Domain changes
	derivedIssuer  string `mapstructure:"-"`
	derivedJWKSURL string `mapstructure:"-"`
}

// NewConfig initializes and returns the configuration. It ensures that the config is loaded only once.
func NewConfig() (*Config, error) {
	var err error
	once.Do(func() {
		instance = &Config{}
		err = instance.LoadConfig()
	})
	return instance, err
}

// LoadConfig attempts to load configuration from a file or uses default values if not found.
func (c *Config) LoadConfig() error {
	configName := utils.GetEnv("CONFIG_NAME", "config") // Configuration file name without extension
	configPath := utils.GetEnv("CONFIG_PATH", ".")      // Configuration file path, default to current directory

	viper.SetEnvPrefix("pw") // ex: "PW_DOMAIN"
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.AddConfigPath("/etc/permission-warden/")
	viper.AddConfigPath(configPath)
	viper.SetConfigName(configName)

	viper.SetDefault("audience", audience)
	viper.SetDefault("algorithms", []string{algorithm})
	viper.SetDefault("jwks_timeout", jwksTimeout)
	viper.SetDefault("leeway", "0s")
	viper.SetDefault("cache.type", cacheType)
	viper.SetDefault("cache.ttl", cacheTTL)
	viper.SetDefault("cache.max_local_size", cacheMaxLocalSize)

	// Token verification
	_ = viper.BindEnv("domain")       // PW_DOMAIN
	_ = viper.BindEnv("issuer")       // PW_ISSUER
	_ = viper.BindEnv("audience")     // PW_AUDIENCE
	_ = viper.BindEnv("algorithms")   // PW_ALGORITHMS
	_ = viper.BindEnv("jwks_url")     // PW_JWKS_URL
	_ = viper.BindEnv("jwks_timeout") // PW_JWKS_TIMEOUT
	_ = viper.BindEnv("leeway")       // PW_LEEWAY

	// Remote configuration and audit
	_ = viper.BindEnv("s3_config_bucket") // PW_S3_CONFIG_BUCKET
	_ = viper.BindEnv("s3_config_path")   // PW_S3_CONFIG_PATH
	_ = viper.BindEnv("audit_to_s3")      // PW_AUDIT_TO_S3
	_ = viper.BindEnv("audit_bucket")     // PW_AUDIT_BUCKET
	_ = viper.BindEnv("audit_prefix")     // PW_AUDIT_PREFIX

	// Cache settings
	_ = viper.BindEnv("cache.type")           // PW_CACHE_TYPE
	_ = viper.BindEnv("cache.ttl")            // PW_CACHE_TTL
	_ = viper.BindEnv("cache.max_local_size") // PW_CACHE_MAX_LOCAL_SIZE
	_ = viper.BindEnv("cache.dynamodb_table") // PW_CACHE_DYNAMODB_TABLE
	_ = viper.BindEnv("cache.s3_bucket")      // PW_CACHE_S3_BUCKET
	_ = viper.BindEnv("cache.s3_prefix")      // PW_CACHE_S3_PREFIX
	_ = viper.BindEnv("cache.redis_addr")     // PW_CACHE_REDIS_ADDR
	_ = viper.BindEnv("cache.redis_password") // PW_CACHE_REDIS_PASSWORD
	_ = viper.BindEnv("cache.redis_db")       // PW_CACHE_REDIS_DB

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; rely on defaults
		} else {
			return fmt.Errorf("problem reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return c.Validate()
}

// Validate checks if the configuration is valid and fills in derived values.
func (c *Config) Validate() error {
	c.Domain = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(c.Domain), "https://"), "/")

	// Values derived on a previous pass follow the current domain
	if c.Issuer == c.derivedIssuer {
		c.Issuer = ""
	}
	if c.JWKSURL == c.derivedJWKSURL {
		c.JWKSURL = ""
	}
	c.derivedIssuer, c.derivedJWKSURL = "", ""

	if c.Domain == "" && (c.Issuer == "" || c.JWKSURL == "") {
		return errors.New("domain is required unless both issuer and jwks_url are set")
	}

	if c.Issuer == "" {
		c.Issuer = "https://" + c.Domain + "/"
		c.derivedIssuer = c.Issuer
	}

	if c.JWKSURL == "" {
		c.JWKSURL = "https://" + c.Domain + jwksPath
		c.derivedJWKSURL = c.JWKSURL
	}

	if u, err := url.Parse(c.JWKSURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid jwks_url '%s'", c.JWKSURL)
	}

	if c.Audience == "" {
		return errors.New("audience is required")
	}

	if len(c.Algorithms) == 0 {
		c.Algorithms = []string{algorithm}
	}
	for i, alg := range c.Algorithms {
		c.Algorithms[i] = strings.ToUpper(strings.TrimSpace(alg))
		if c.Algorithms[i] == "" || c.Algorithms[i] == "NONE" || strings.HasPrefix(c.Algorithms[i], "HS") {
			return fmt.Errorf("signing algorithm '%s' is not allowed", alg)
		}
	}

	if c.JWKSTimeout <= 0 {
		c.JWKSTimeout = 5 * time.Second
	}

	if c.Leeway < 0 {
		return errors.New("leeway cannot be negative")
	}

	if c.Cache == nil {
		c.Cache = &Cache{Type: cacheType, MaxLocalSize: cacheMaxLocalSize}
	}

	if c.AuditToS3 && c.AuditBucket == "" {
		return errors.New("audit_bucket is required when audit_to_s3 is enabled")
	}

	if len(c.RoutePermissions) == 0 {
		c.RoutePermissions = make([]RoutePermission, len(DefaultRoutePermissions))
		copy(c.RoutePermissions, DefaultRoutePermissions)
	}

	for i := range c.RoutePermissions {
		route := &c.RoutePermissions[i]
		if route.Path == "" {
			return errors.New("path is required for each route permission")
		}

		route.Method = strings.ToUpper(strings.TrimSpace(route.Method))
		if route.Method == "" {
			route.Method = anyMethod
		}

		// Precompile the regex pattern for this route
		var err error
		route.compiledPattern, err = regexp.Compile("^(?:" + route.Path + ")$")
		if err != nil {
			return fmt.Errorf("invalid route pattern '%s': %w", route.Path, err)
		}
	}

	return nil
}

// MatchRoute returns the first route permission matching the method and path.
func (c *Config) MatchRoute(method, path string) (*RoutePermission, bool) {
	method = strings.ToUpper(method)
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	for i := range c.RoutePermissions {
		route := &c.RoutePermissions[i]
		// Skip if the pattern wasn't compiled properly
		if route.compiledPattern == nil {
			continue
		}

		if route.Method != anyMethod && route.Method != method {
			continue
		}

		if route.compiledPattern.MatchString(path) {
			return route, true
		}
	}
	return nil, false
}
