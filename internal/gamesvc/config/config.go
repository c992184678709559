package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is read from the environment (after .env is loaded). Every key has
// a default so that viper can unmarshal keys that are only set in the env.
type Config struct {
	PostgresURL       string        `mapstructure:"POSTGRES_URL"`
	GameServicePort   string        `mapstructure:"GAME_SERVICE_PORT"`
	SocketServicePort string        `mapstructure:"SOCKET_SERVICE_PORT"`
	RateLimit         int           `mapstructure:"RATE_LIMIT"` // requests per IP per minute
	JWTSecret         string        `mapstructure:"JWT_SECRET_KEY"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	VolumeRoot        string        `mapstructure:"VOLUME_ROOT"`
	Namespace         string        `mapstructure:"CONTAINER_NAMESPACE"`
	GameImage         string        `mapstructure:"GAME_IMAGE"`
	DockerBin         string        `mapstructure:"DOCKER_BIN"`
	DockerEcho        bool          `mapstructure:"DOCKER_ECHO"`
	RuntimeTimeout    time.Duration `mapstructure:"RUNTIME_TIMEOUT"`
	PortAllocAttempts int           `mapstructure:"PORT_ALLOC_ATTEMPTS"`
	SessionTTL        time.Duration `mapstructure:"SESSION_TTL"`
	Debug             bool          `mapstructure:"DEBUG"`
	NatsURL           string        `mapstructure:"NATS_URL"`
	NatsToken         string        `mapstructure:"NATS_TOKEN"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	VersionsCacheTTL  time.Duration `mapstructure:"VERSIONS_CACHE_TTL"`
	MongoURI          string        `mapstructure:"MONGODB_URI"`
	AuditDatabase     string        `mapstructure:"AUDIT_DATABASE"`
	AuditTTL          time.Duration `mapstructure:"AUDIT_TTL"`
	CtlInterval       time.Duration `mapstructure:"CTL_INTERVAL"`
	CtlPruneOrphans   bool          `mapstructure:"CTL_PRUNE_ORPHANS"`
}

var defaults = map[string]any{
	"POSTGRES_URL":        "",
	"GAME_SERVICE_PORT":   "8080",
	"SOCKET_SERVICE_PORT": "8081",
	"RATE_LIMIT":          120,
	"JWT_SECRET_KEY":      "",
	"CORS_ORIGINS":        "http://localhost:5173",
	"VOLUME_ROOT":         "./volumes",
	"CONTAINER_NAMESPACE": "gamehost",
	"GAME_IMAGE":          "factoriotools/factorio",
	"DOCKER_BIN":          "docker",
	"DOCKER_ECHO":         false,
	"RUNTIME_TIMEOUT":     "2m",
	"PORT_ALLOC_ATTEMPTS": 1000,
	"SESSION_TTL":         "168h",
	"DEBUG":               false,
	"NATS_URL":            "nats://127.0.0.1:4222",
	"NATS_TOKEN":          "",
	"REDIS_URL":           "",
	"VERSIONS_CACHE_TTL":  "1h",
	"MONGODB_URI":         "",
	"AUDIT_DATABASE":      "gamehost",
	"AUDIT_TTL":           "720h",
	"CTL_INTERVAL":        "1m",
	"CTL_PRUNE_ORPHANS":   false,
}

func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.CORSOrigins = splitList(c.CORSOrigins)

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// splitList accepts both a list and a single comma separated value.
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

func (c *Config) validate() error {
	switch {
	case c.RateLimit <= 0:
		return fmt.Errorf("RATE_LIMIT must be positive")
	case c.RuntimeTimeout <= 0:
		return fmt.Errorf("RUNTIME_TIMEOUT must be positive")
	case c.PortAllocAttempts <= 0:
		return fmt.Errorf("PORT_ALLOC_ATTEMPTS must be positive")
	case c.SessionTTL <= 0:
		return fmt.Errorf("SESSION_TTL must be positive")
	case c.CtlInterval <= 0:
		return fmt.Errorf("CTL_INTERVAL must be positive")
	case strings.Contains(c.Namespace, "_") || c.Namespace == "":
		return fmt.Errorf("CONTAINER_NAMESPACE must be non-empty and must not contain '_'")
	}
	return nil
}

// RequirePostgres is called by processes that cannot start without the store.
func (c *Config) RequirePostgres() error {
	if c.PostgresURL == "" {
		return fmt.Errorf("POSTGRES_URL is not set")
	}
	return nil
}
