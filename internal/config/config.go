package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = "8080"

	// DefaultDatabaseURL is empty; must be provided via flag or environment.
	DefaultDatabaseURL = ""

	// DefaultJWTSecret is used when no secret is configured. Development only.
	DefaultJWTSecret = "dev-jwt-secret-change-in-production"

	// DefaultTokenTTL is the lifetime of issued access tokens.
	DefaultTokenTTL = 7 * 24 * time.Hour

	// DefaultFrontendOrigin is the web client allowed by CORS.
	DefaultFrontendOrigin = "http://localhost:3000"

	// DefaultBaseURL is the public URL of the API.
	DefaultBaseURL = "http://localhost:8080"

	// DefaultWebhookTimeout bounds a single webhook delivery attempt.
	DefaultWebhookTimeout = 5 * time.Second

	// DefaultWebhookMaxRetries is the number of retries after the first attempt.
	DefaultWebhookMaxRetries = 3

	// DefaultWebhookBaseDelay is the first backoff interval between attempts.
	DefaultWebhookBaseDelay = 500 * time.Millisecond
)

// Config holds the process configuration. It is built once at start-up and
// passed to the components that need it.
type Config struct {
	Port              string
	DatabaseURL       string
	LogLevel          string
	JWTSecret         string
	TokenTTL          time.Duration
	FrontendOrigin    string
	BaseURL           string
	WebhookTimeout    time.Duration
	WebhookMaxRetries int
	WebhookBaseDelay  time.Duration
}

// Default returns a Config populated with the default values.
func Default() *Config {
	return &Config{
		Port:              DefaultPort,
		DatabaseURL:       DefaultDatabaseURL,
		LogLevel:          "info",
		JWTSecret:         DefaultJWTSecret,
		TokenTTL:          DefaultTokenTTL,
		FrontendOrigin:    DefaultFrontendOrigin,
		BaseURL:           DefaultBaseURL,
		WebhookTimeout:    DefaultWebhookTimeout,
		WebhookMaxRetries: DefaultWebhookMaxRetries,
		WebhookBaseDelay:  DefaultWebhookBaseDelay,
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive, got %s", c.TokenTTL)
	}
	if c.WebhookTimeout <= 0 {
		return fmt.Errorf("webhook timeout must be positive, got %s", c.WebhookTimeout)
	}
	if c.WebhookMaxRetries < 0 {
		return fmt.Errorf("webhook max retries must not be negative, got %d", c.WebhookMaxRetries)
	}
	if c.WebhookBaseDelay <= 0 {
		return fmt.Errorf("webhook base delay must be positive, got %s", c.WebhookBaseDelay)
	}
	return nil
}

// UsesDefaultSecret reports whether tokens are signed with the development secret.
func (c *Config) UsesDefaultSecret() bool {
	return c.JWTSecret == "" || c.JWTSecret == DefaultJWTSecret
}

// AllowedOrigins returns the origins accepted by CORS.
func (c *Config) AllowedOrigins() []string {
	origins := []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	if c.FrontendOrigin != "" {
		for _, o := range origins {
			if o == c.FrontendOrigin {
				return origins
			}
		}
		origins = append(origins, c.FrontendOrigin)
	}
	return origins
}
