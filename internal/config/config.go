// Package config loads service settings from MEDGATE_* environment
// variables, an optional config file and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "MEDGATE"

// Keys shared by viper, the config file and cobra flag bindings.
const (
	KeyHTTPAddr     = "http_addr"
	KeyGRPCAddr     = "grpc_addr"
	KeyDatabaseURL  = "pg_dsn"
	KeyAuthSecret   = "auth_secret"
	KeyAuthIssuer   = "auth_issuer"
	KeyAccessTTL    = "access_ttl"
	KeyStoreTimeout = "store_timeout"
	KeyCORSOrigins  = "cors_origins"
	KeyTrustedProxy = "trusted_proxies"
	KeySignInRate   = "signin_rate"
	KeySignInBurst  = "signin_burst"
	KeyMaxBodyBytes = "max_body_bytes"
	KeyDebug        = "debug"
	KeyDemoSeed     = "demo_seed"
	KeyDemoPassword = "demo_password"
)

// Config holds the application configuration.
type Config struct {
	HTTPAddr string
	// Empty disables the gRPC health listener.
	GRPCAddr string
	// Empty selects the in-memory store.
	DatabaseURL string

	Auth AuthConfig

	// StoreTimeout bounds every store call.
	StoreTimeout time.Duration

	CORSOrigins []string
	// TrustedProxies may set X-Forwarded-For / X-Real-IP. Empty means the
	// socket peer is always the client.
	TrustedProxies []netip.Prefix
	SignIn         RateConfig

	MaxBodyBytes int64
	Debug        bool

	// DemoSeed provisions the demo principals into the in-memory store.
	DemoSeed     bool
	DemoPassword string
}

// AuthConfig configures session tokens.
type AuthConfig struct {
	Secret    string
	Issuer    string
	AccessTTL time.Duration
}

// RateConfig is a token bucket per client IP.
type RateConfig struct {
	PerSecond float64
	Burst     int
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyHTTPAddr, ":8080")
	v.SetDefault(KeyGRPCAddr, ":9090")
	v.SetDefault(KeyDatabaseURL, "")
	v.SetDefault(KeyAuthSecret, "")
	v.SetDefault(KeyAuthIssuer, "medgate")
	v.SetDefault(KeyAccessTTL, 15*time.Minute)
	v.SetDefault(KeyStoreTimeout, 5*time.Second)
	v.SetDefault(KeyCORSOrigins, "")
	v.SetDefault(KeyTrustedProxy, "")
	v.SetDefault(KeySignInRate, 1.0)
	v.SetDefault(KeySignInBurst, 5)
	v.SetDefault(KeyMaxBodyBytes, 64<<10)
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyDemoSeed, false)
	v.SetDefault(KeyDemoPassword, "")
	return v
}

// Load reads configuration from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = New()
	}
	cfg := &Config{
		HTTPAddr:    strings.TrimSpace(v.GetString(KeyHTTPAddr)),
		GRPCAddr:    strings.TrimSpace(v.GetString(KeyGRPCAddr)),
		DatabaseURL: strings.TrimSpace(v.GetString(KeyDatabaseURL)),
		Auth: AuthConfig{
			Secret:    v.GetString(KeyAuthSecret),
			Issuer:    strings.TrimSpace(v.GetString(KeyAuthIssuer)),
			AccessTTL: v.GetDuration(KeyAccessTTL),
		},
		StoreTimeout: v.GetDuration(KeyStoreTimeout),
		CORSOrigins:  splitList(v.GetStringSlice(KeyCORSOrigins)),
		SignIn: RateConfig{
			PerSecond: v.GetFloat64(KeySignInRate),
			Burst:     v.GetInt(KeySignInBurst),
		},
		MaxBodyBytes: v.GetInt64(KeyMaxBodyBytes),
		Debug:        v.GetBool(KeyDebug),
		DemoSeed:     v.GetBool(KeyDemoSeed),
		DemoPassword: v.GetString(KeyDemoPassword),
	}
	proxies, err := parsePrefixes(splitList(v.GetStringSlice(KeyTrustedProxy)))
	if err != nil {
		return nil, err
	}
	cfg.TrustedProxies = proxies
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("MEDGATE_HTTP_ADDR is required"))
	}
	if len(strings.TrimSpace(c.Auth.Secret)) < 16 {
		errs = append(errs, errors.New("MEDGATE_AUTH_SECRET must be at least 16 bytes"))
	}
	if c.Auth.AccessTTL <= 0 {
		errs = append(errs, fmt.Errorf("MEDGATE_ACCESS_TTL must be positive, got %s", c.Auth.AccessTTL))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("MEDGATE_STORE_TIMEOUT must be positive, got %s", c.StoreTimeout))
	}
	if c.SignIn.PerSecond <= 0 || c.SignIn.Burst <= 0 {
		errs = append(errs, errors.New("MEDGATE_SIGNIN_RATE and MEDGATE_SIGNIN_BURST must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MEDGATE_MAX_BODY_BYTES must be positive"))
	}
	if c.DemoSeed && c.DatabaseURL != "" {
		errs = append(errs, errors.New("MEDGATE_DEMO_SEED only applies to the in-memory store"))
	}
	if c.DemoSeed && c.DemoPassword == "" {
		errs = append(errs, errors.New("MEDGATE_DEMO_PASSWORD is required with MEDGATE_DEMO_SEED"))
	}
	return errors.Join(errs...)
}

// UsesMemoryStore reports whether no database was configured.
func (c *Config) UsesMemoryStore() bool {
	return c.DatabaseURL == ""
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parsePrefixes accepts CIDRs and bare addresses.
func parsePrefixes(values []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range values {
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("MEDGATE_TRUSTED_PROXIES: invalid address or CIDR %q", raw)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
