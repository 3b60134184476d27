// Package config loads process-level configuration from the environment.
//
// Values that operators tune at runtime (poll intervals, notification
// channels) live in the app_settings collection instead — see the settings
// package. Everything here is fixed for the lifetime of the process.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Deployment modes recognized for upstream service resolution.
const (
	ModeLocal  = "local"
	ModeDocker = "docker"
)

// Default RDP upstream endpoints per deployment mode.
const (
	defaultRDPLocalURL  = "ws://localhost:8081"
	defaultRDPDockerURL = "ws://rdp:8081"
)

type Config struct {
	// Env is "development" or "production". Development shortens the SSH
	// connect timeout (15s instead of 20s) so tests fail fast.
	Env string

	// DeploymentMode picks the default RDP upstream: "local", "docker",
	// or anything else (treated as local).
	DeploymentMode string

	// RDPLocalURL / RDPDockerURL override the RDP upstream base URLs.
	RDPLocalURL  string
	RDPDockerURL string

	// RedisAddr is the host:port of the Redis instance backing the
	// notification worker.
	RedisAddr string
}

// Load reads configuration from the environment, honoring a .env file when
// one is present in the working directory.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:            getEnv("ENV", "development"),
		DeploymentMode: strings.ToLower(getEnv("DEPLOYMENT_MODE", ModeLocal)),
		RDPLocalURL:    getEnv("RDP_SERVICE_URL_LOCAL", defaultRDPLocalURL),
		RDPDockerURL:   getEnv("RDP_SERVICE_URL_DOCKER", defaultRDPDockerURL),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
	}
}

// RDPUpstreamURL returns the RDP gateway base URL for the configured
// deployment mode. Unknown modes fall back to the local default.
func (c *Config) RDPUpstreamURL() string {
	switch c.DeploymentMode {
	case ModeDocker:
		return c.RDPDockerURL
	default:
		return c.RDPLocalURL
	}
}

// IsProduction reports whether the process runs with production timeouts.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
