package config

import "time"

// Config is the application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Amazon      AmazonConfig      `mapstructure:"amazon"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Upload      UploadConfig      `mapstructure:"upload"`
	Health      HealthConfig      `mapstructure:"health"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// CORSOrigins lists browser origins allowed to call the API.
	// "*" allows any origin.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// AmazonConfig holds upstream adapter settings. Empty URLs fall back to
// the adapter's built-in defaults.
type AmazonConfig struct {
	DiscoveryURL        string        `mapstructure:"discovery_url"`
	ContentURL          string        `mapstructure:"content_url"`
	MetadataURL         string        `mapstructure:"metadata_url"`
	ThumbnailURL        string        `mapstructure:"thumbnail_url"`
	ThumbnailStrategies []string      `mapstructure:"thumbnail_strategies"`
	ViewBox             int           `mapstructure:"view_box"`
	UserAgent           string        `mapstructure:"user_agent"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	DiscoveryTimeout    time.Duration `mapstructure:"discovery_timeout"`
	RequestsPerSecond   float64       `mapstructure:"requests_per_second"`
	Burst               int           `mapstructure:"burst"`

	// TempLinkHosts are the host suffixes the server fetches tempLink
	// URLs from. Empty uses the Amazon and CloudFront defaults.
	TempLinkHosts []string `mapstructure:"temp_link_hosts"`
}

// RegistryConfig bounds the per-user service cache.
type RegistryConfig struct {
	MaxEntries int           `mapstructure:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl"`
}

// CredentialsConfig locates the encrypted cookie store.
type CredentialsConfig struct {
	// Dir holds one encrypted file per user. Empty uses the app data dir.
	Dir string `mapstructure:"dir"`

	// Key is the secret the file encryption key is derived from.
	Key string `mapstructure:"key"`
}

// AuthConfig configures bearer-token authentication for the API.
type AuthConfig struct {
	// Tokens lists accepted bearer tokens. A list rather than a map because
	// viper lower-cases map keys.
	Tokens []TokenConfig `mapstructure:"tokens"`
}

// TokenConfig binds one bearer token to a user id.
type TokenConfig struct {
	Token string `mapstructure:"token"`
	User  string `mapstructure:"user"`
}

// TokenMap returns the tokens keyed by token value.
func (a AuthConfig) TokenMap() map[string]string {
	out := make(map[string]string, len(a.Tokens))
	for _, t := range a.Tokens {
		out[t.Token] = t.User
	}
	return out
}

// UploadConfig limits uploads accepted by the API.
type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
