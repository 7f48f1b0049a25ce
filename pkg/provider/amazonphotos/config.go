// Package amazonphotos implements provider.PhotoService for Amazon Photos.
//
// Amazon publishes no API for Photos. This adapter speaks the private REST
// surface used by the web client, authenticated with cookies exported from a
// logged-in browser session. The surface is unstable: endpoints are
// discovered per account and several historical URL shapes are tried when
// fetching thumbnails.
package amazonphotos

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Default upstream locations.
const (
	DefaultDiscoveryURL   = "https://www.amazon.com/drive/v1/account/endpoint"
	DefaultContentURL     = "https://content-na.drive.amazonaws.com/cdproxy"
	DefaultMetadataURL    = "https://cdws.us-east-1.amazonaws.com/drive/v1"
	DefaultThumbnailURL   = "https://thumbnails-photos.amazon.com"
	DefaultUserAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultRequestTimeout = 30 * time.Second
	DefaultViewBox        = 600
)

// Search defaults.
const (
	DefaultQuery       = "type:(PHOTOS)"
	DefaultSort        = "['createdDate DESC']"
	DefaultSearchLimit = 50
)

// Config configures an Amazon Photos provider.
//
// Only Credentials is required. Every URL can be overridden, which is how
// tests point the adapter at a local fake.
type Config struct {
	// Credentials is the browser session (required).
	Credentials Credentials

	// DiscoveryURL returns the account's content/metadata base URLs.
	DiscoveryURL string

	// DefaultContentURL and DefaultMetadataURL are used when discovery fails.
	DefaultContentURL  string
	DefaultMetadataURL string

	// ThumbnailURL is the base of the dedicated thumbnail service.
	ThumbnailURL string

	// ThumbnailStrategies orders the thumbnail URL patterns to try.
	// Empty uses DefaultThumbnailStrategies.
	ThumbnailStrategies []StrategyKind

	// ViewBox is the scaled edge length requested for thumbnails.
	ViewBox int

	// UserAgent is sent on every request.
	UserAgent string

	// RequestTimeout bounds each upstream call, body read included.
	RequestTimeout time.Duration

	// DiscoveryTimeout bounds endpoint discovery. Zero uses RequestTimeout.
	DiscoveryTimeout time.Duration

	// RequestsPerSecond limits outbound calls. Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Zero means 1.
	Burst int

	// HTTPClient overrides the transport. Nil uses a fresh client.
	HTTPClient *http.Client

	// Logger receives diagnostics. Nil discards them.
	Logger *zap.Logger
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Credentials.IsZero() {
		return &ConfigError{Field: "Credentials", Message: "session cookies are required"}
	}
	if c.ViewBox < 0 {
		return &ConfigError{Field: "ViewBox", Message: "must be >= 0"}
	}
	if c.RequestsPerSecond < 0 {
		return &ConfigError{Field: "RequestsPerSecond", Message: "must be >= 0"}
	}
	for _, k := range c.ThumbnailStrategies {
		if !k.Valid() {
			return &ConfigError{Field: "ThumbnailStrategies", Message: "unknown strategy " + string(k)}
		}
	}
	return nil
}

// withDefaults returns a copy with zero values replaced.
func (c Config) withDefaults() Config {
	if c.DiscoveryURL == "" {
		c.DiscoveryURL = DefaultDiscoveryURL
	}
	if c.DefaultContentURL == "" {
		c.DefaultContentURL = DefaultContentURL
	}
	if c.DefaultMetadataURL == "" {
		c.DefaultMetadataURL = DefaultMetadataURL
	}
	if c.ThumbnailURL == "" {
		c.ThumbnailURL = DefaultThumbnailURL
	}
	c.DefaultContentURL = trimSlash(c.DefaultContentURL)
	c.DefaultMetadataURL = trimSlash(c.DefaultMetadataURL)
	c.ThumbnailURL = trimSlash(c.ThumbnailURL)
	if len(c.ThumbnailStrategies) == 0 {
		c.ThumbnailStrategies = DefaultThumbnailStrategies()
	}
	if c.ViewBox == 0 {
		c.ViewBox = DefaultViewBox
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = c.RequestTimeout
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "amazonphotos config: " + e.Field + ": " + e.Message
}

func trimSlash(s string) string {
	return strings.TrimRight(s, "/")
}
