package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string        `env:"QX7_ADDR" envDefault:":8080"`
	BasePath      string        `env:"QX7_BASE_PATH" envDefault:"/api/qx7"`
	ShutdownGrace time.Duration `env:"QX7_SHUTDOWN_GRACE" envDefault:"10s"`
	Log           Log           `envPrefix:"QX7_LOG_"`
	Analytics     Analytics     `envPrefix:"QX7_ANALYTICS_"`

	// JWTSigningKey enables verification of bearer tokens carrying the
	// cognito subject. Empty disables it.
	JWTSigningKey string `env:"QX7_JWT_SIGNING_KEY"`
	JWTIssuer     string `env:"QX7_JWT_ISSUER" envDefault:"qx7"`
}

// Log selects the slog handler and minimum level.
type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Analytics configures fire-and-forget event delivery. An empty Endpoint and
// no Kafka brokers disables delivery entirely.
type Analytics struct {
	Endpoint     string        `env:"ENDPOINT"`
	UTMCDN       string        `env:"UTM_CDN" envDefault:"qx7"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"5s"`
	Buffer       int           `env:"BUFFER" envDefault:"256"`
	KafkaBrokers []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string        `env:"KAFKA_TOPIC" envDefault:"qx7.analytics"`
}

// RedisConfig configures the optional Redis connection.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Client captures the configuration of the identity acquisition client.
type Client struct {
	ServerURL string      `env:"QX7_SERVER_URL" envDefault:"http://localhost:8080"`
	BasePath  string      `env:"QX7_BASE_PATH" envDefault:"/api/qx7"`
	Origin    string      `env:"QX7_ORIGIN" envDefault:"http://localhost:8080"`
	Redis     RedisConfig `envPrefix:"QX7_"`
	Log       Log         `envPrefix:"QX7_LOG_"`

	SQLitePath  string        `env:"QX7_SQLITE_PATH"`
	PostgresDSN string        `env:"QX7_POSTGRES_DSN"`
	CookieName  string        `env:"QX7_COOKIE_NAME" envDefault:"qx7_id"`
	RecordTTL   time.Duration `env:"QX7_RECORD_TTL" envDefault:"8760h"`

	AllowedOrigins []string      `env:"QX7_ALLOWED_ORIGINS" envSeparator:","`
	BridgeChannel  string        `env:"QX7_BRIDGE_CHANNEL" envDefault:"qx7:bridge"`
	RetryBase      time.Duration `env:"QX7_RETRY_BASE" envDefault:"2s"`
	RequestTimeout time.Duration `env:"QX7_REQUEST_TIMEOUT" envDefault:"10s"`

	Incognito         bool   `env:"QX7_INCOGNITO"`
	LimitedStorage    bool   `env:"QX7_LIMITED_STORAGE"`
	CognitoUserID     string `env:"QX7_COGNITO_USER_ID"`
	ReturningFromAuth bool   `env:"QX7_RETURNING_FROM_AUTH"`
	BearerToken       string `env:"QX7_BEARER_TOKEN"`
	RockmanID         string `env:"QX7_ROCKMAN_ID"`
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse server env: %w", err)
	}
	return cfg, nil
}

// ClientFromEnv builds a Client config from environment variables.
func ClientFromEnv() (Client, error) {
	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return Client{}, fmt.Errorf("parse client env: %w", err)
	}
	return cfg, nil
}
