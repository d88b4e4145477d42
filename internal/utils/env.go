package utils

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the server.
type Config struct {
	Host               string `env:"HOST,default=0.0.0.0"`
	Port               int    `env:"PORT,default=3001"`
	LogLevel           string `env:"LOG_LEVEL,default=info"`
	LogFormat          string `env:"LOG_FORMAT,default=text"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS,default=*"`

	// STORE_DRIVER selects the message store: postgres, mongo, badger or none.
	StoreDriver   string `env:"STORE_DRIVER,default=postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	PostgresUser  string `env:"POSTGRES_USER,default=postgres"`
	PostgresPass  string `env:"POSTGRES_PASSWORD,default=postgres"`
	PostgresHost  string `env:"POSTGRES_HOST,default=localhost"`
	PostgresPort  string `env:"POSTGRES_PORT,default=5432"`
	PostgresDB    string `env:"POSTGRES_DB,default=chatdb"`
	MongoURI      string `env:"MONGO_URI,default=mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE,default=journal"`
	BadgerPath    string `env:"BADGER_PATH,default=data/messages"`

	StoreRetryMin     time.Duration `env:"STORE_RETRY_MIN,default=1s"`
	StoreRetryMax     time.Duration `env:"STORE_RETRY_MAX,default=30s"`
	StorePingInterval time.Duration `env:"STORE_PING_INTERVAL,default=10s"`
	StoreOpTimeout    time.Duration `env:"STORE_OP_TIMEOUT,default=5s"`

	PersistWorkers   int `env:"PERSIST_WORKERS,default=4"`
	PersistQueueSize int `env:"PERSIST_QUEUE_SIZE,default=1024"`
	SendBufferSize   int `env:"SEND_BUFFER_SIZE,default=256"`
	MaxMessageSize   int `env:"MAX_MESSAGE_SIZE,default=65536"`
	HistoryLimit     int `env:"HISTORY_LIMIT,default=100"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// LoadEnv loads environment variables from .env file
func LoadEnv() error {
	// A missing .env is normal in production
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// LoadConfig reads the .env file if present and unmarshals the environment into a Config.
func LoadConfig() (Config, error) {
	if err := LoadEnv(); err != nil {
		slog.Warn("failed to load .env file", "error", err)
	}
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case "postgres", "mongo", "badger", "none":
	default:
		return fmt.Errorf("config error: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.PersistWorkers < 1 {
		return fmt.Errorf("config error: PERSIST_WORKERS must be positive, got %d", c.PersistWorkers)
	}
	if c.StoreRetryMin <= 0 || c.StoreRetryMax < c.StoreRetryMin {
		return fmt.Errorf("config error: invalid store retry window %s..%s", c.StoreRetryMin, c.StoreRetryMax)
	}
	for name, d := range map[string]time.Duration{
		"STORE_PING_INTERVAL": c.StorePingInterval,
		"STORE_OP_TIMEOUT":    c.StoreOpTimeout,
		"SHUTDOWN_TIMEOUT":    c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config error: %s must be positive, got %s", name, d)
		}
	}
	for name, n := range map[string]int{
		"PERSIST_QUEUE_SIZE": c.PersistQueueSize,
		"SEND_BUFFER_SIZE":   c.SendBufferSize,
		"MAX_MESSAGE_SIZE":   c.MaxMessageSize,
		"HISTORY_LIMIT":      c.HistoryLimit,
	} {
		if n < 1 {
			return fmt.Errorf("config error: %s must be positive, got %d", name, n)
		}
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PostgresURL returns DATABASE_URL or builds one from the individual POSTGRES_* vars.
func (c Config) PostgresURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return "postgres://" + c.PostgresUser + ":" + c.PostgresPass + "@" +
		c.PostgresHost + ":" + c.PostgresPort + "/" + c.PostgresDB + "?sslmode=disable"
}
