// Package config loads cloudphotos configuration with viper.
//
// Precedence, highest first: runtime overrides, environment variables,
// config file, defaults.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppIdentity names the application for config files and env vars.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the identity Load installs on first use.
var DefaultIdentity = AppIdentity{
	BinaryName: "cloudphotos",
	EnvPrefix:  "CLOUDPHOTOS",
	ConfigName: "cloudphotos",
}

// EnvVarSpec maps one environment variable to a config key.
type EnvVarSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config
	configFile  string
)

// SetConfigFile forces Load to read path instead of searching for a file.
// An empty path restores the search.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Identity returns the active identity, installing the default if needed.
func Identity() AppIdentity {
	configMu.Lock()
	defer configMu.Unlock()
	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}
	return *appIdentity
}

// Load builds the configuration and stores it for GetConfig.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	Identity()

	v := viper.New()
	setDefaults(v)

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the last loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Upload.MaxBytes <= 0 {
		return errors.New("upload.max_bytes must be > 0")
	}
	if c.Registry.MaxEntries < 0 {
		return errors.New("registry.max_entries must be >= 0")
	}
	for _, t := range c.Auth.Tokens {
		if strings.TrimSpace(t.Token) == "" || strings.TrimSpace(t.User) == "" {
			return errors.New("auth.tokens entries need a token and a user id")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("amazon.request_timeout", "30s")
	v.SetDefault("amazon.discovery_timeout", "10s")
	v.SetDefault("amazon.view_box", 600)
	v.SetDefault("amazon.requests_per_second", 0)
	v.SetDefault("amazon.burst", 1)

	v.SetDefault("registry.max_entries", 256)
	v.SetDefault("registry.ttl", "30m")

	v.SetDefault("credentials.dir", "")
	v.SetDefault("credentials.key", "")

	v.SetDefault("upload.max_bytes", 50<<20)

	v.SetDefault("health.enabled", true)
}

func readConfigFile(v *viper.Viper) error {
	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()
	if explicit == "" {
		explicit = os.Getenv(Identity().EnvPrefix + "_CONFIG")
	}

	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	for _, path := range getUserConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// getUserConfigPaths lists candidate config files, most specific first.
func getUserConfigPaths() []string {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []string{}
	}

	name := id.ConfigName + ".yaml"
	paths := []string{name}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, id.ConfigName, name))
	}
	return paths
}

// getEnvSpecs returns the explicit environment variable mappings.
func getEnvSpecs() []EnvVarSpec {
	configMu.RLock()
	id := appIdentity
	configMu.RUnlock()
	if id == nil {
		return []EnvVarSpec{}
	}

	p := id.EnvPrefix + "_"
	return []EnvVarSpec{
		{Name: p + "HOST", Path: "server.host"},
		{Name: p + "PORT", Path: "server.port"},
		{Name: p + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: p + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: p + "IDLE_TIMEOUT", Path: "server.idle_timeout"},
		{Name: p + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},
		{Name: p + "CORS_ORIGINS", Path: "server.cors_origins"},
		{Name: p + "LOG_LEVEL", Path: "logging.level"},
		{Name: p + "LOG_PROFILE", Path: "logging.profile"},
		{Name: p + "DISCOVERY_URL", Path: "amazon.discovery_url"},
		{Name: p + "CONTENT_URL", Path: "amazon.content_url"},
		{Name: p + "METADATA_URL", Path: "amazon.metadata_url"},
		{Name: p + "THUMBNAIL_URL", Path: "amazon.thumbnail_url"},
		{Name: p + "THUMBNAIL_STRATEGIES", Path: "amazon.thumbnail_strategies"},
		{Name: p + "REQUEST_TIMEOUT", Path: "amazon.request_timeout"},
		{Name: p + "DISCOVERY_TIMEOUT", Path: "amazon.discovery_timeout"},
		{Name: p + "REQUESTS_PER_SECOND", Path: "amazon.requests_per_second"},
		{Name: p + "TEMP_LINK_HOSTS", Path: "amazon.temp_link_hosts"},
		{Name: p + "REGISTRY_MAX_ENTRIES", Path: "registry.max_entries"},
		{Name: p + "REGISTRY_TTL", Path: "registry.ttl"},
		{Name: p + "CREDENTIALS_DIR", Path: "credentials.dir"},
		{Name: p + "COOKIE_KEY", Path: "credentials.key"},
		{Name: p + "UPLOAD_MAX_BYTES", Path: "upload.max_bytes"},
		{Name: p + "HEALTH_ENABLED", Path: "health.enabled"},
	}
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
