// Package s3 implements sink.Sink for AWS S3 and S3-compatible storage.
package s3

// Config configures an S3 sink.
//
// Authentication follows the AWS SDK v2 default chain unless explicit
// AccessKeyID/SecretAccessKey are set: environment variables, shared
// credentials and config files (optionally with Profile), then instance
// or task roles.
//
// For S3-compatible stores (Wasabi, MinIO, DigitalOcean Spaces), set
// Endpoint and typically ForcePathStyle. No default region is applied
// when Endpoint is set.
type Config struct {
	// Bucket is the destination bucket (required).
	Bucket string

	// Region is the AWS region. AWS S3 defaults to us-east-1 when neither
	// config nor environment provide one.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile selects a shared config profile.
	Profile string

	// AccessKeyID and SecretAccessKey are explicit credentials. Both or
	// neither must be set.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle puts the bucket in the path instead of the host.
	ForcePathStyle bool

	// StorageClass is applied to every object written, e.g. "STANDARD_IA".
	// Empty leaves the bucket default.
	StorageClass string
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 sink config: " + e.Field + ": " + e.Message
}
