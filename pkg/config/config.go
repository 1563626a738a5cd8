// Package config loads service configuration from an optional YAML file and
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service   ServiceConfig           `yaml:"service"`
	HTTP      HTTPConfig              `yaml:"http"`
	Signing   SigningConfig           `yaml:"signing"`
	Remotes   map[string]RemoteConfig `yaml:"remotes"`
	Redis     RedisConfig             `yaml:"redis"`
	Mongo     MongoConfig             `yaml:"mongo"`
	Postgres  PostgresConfig          `yaml:"postgres"`
	SQLite    SQLiteConfig            `yaml:"sqlite"`
	Kafka     KafkaConfig             `yaml:"kafka"`
	PayPal    PayPalConfig            `yaml:"paypal"`
	Cart      CartConfig              `yaml:"cart"`
	Inventory InventoryConfig         `yaml:"inventory"`
	Saga      SagaConfig              `yaml:"saga"`
	Telemetry TelemetryConfig         `yaml:"telemetry"`
}

type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
}

type HTTPConfig struct {
	Port            string        `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type SigningConfig struct {
	Secret  string        `yaml:"secret"`
	MaxSkew time.Duration `yaml:"max_skew"`
}

// RemoteMode selects how a remote service is reached.
type RemoteMode string

const (
	RemoteHTTP  RemoteMode = "http"
	RemoteLocal RemoteMode = "local"
)

type RemoteConfig struct {
	Mode    RemoteMode    `yaml:"mode"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type PostgresConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	DBName        string `yaml:"dbname"`
	MigrationsDir string `yaml:"migrations_dir"`
}

type SQLiteConfig struct {
	Path          string `yaml:"path"`
	MigrationsDir string `yaml:"migrations_dir"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type PayPalConfig struct {
	BaseURL            string        `yaml:"base_url"`
	ClientID           string        `yaml:"client_id"`
	ClientSecret       string        `yaml:"client_secret"`
	Currency           string        `yaml:"currency"`
	ReturnURL          string        `yaml:"return_url"`
	CancelURL          string        `yaml:"cancel_url"`
	Timeout            time.Duration `yaml:"timeout"`
	TokenRefreshMargin time.Duration `yaml:"token_refresh_margin"`
	// SandboxPublicURL is the address buyers use to reach the local sandbox.
	SandboxPublicURL string `yaml:"sandbox_public_url"`
}

type CouponConfig struct {
	Type  string `yaml:"type"`  // percent | fixed
	Value string `yaml:"value"` // decimal string
}

type ShippingConfig struct {
	Label string `yaml:"label"`
	Cost  string `yaml:"cost"`
}

type CartConfig struct {
	TTL      time.Duration             `yaml:"ttl"`
	Coupons  map[string]CouponConfig   `yaml:"coupons"`
	Shipping map[string]ShippingConfig `yaml:"shipping"`
}

type StockConfig struct {
	Quantity int    `yaml:"quantity"`
	Price    string `yaml:"price"`
}

type InventoryConfig struct {
	ReservationTTL       time.Duration          `yaml:"reservation_ttl"`
	ServiceableCountries []string               `yaml:"serviceable_countries"`
	Stock                map[string]StockConfig `yaml:"stock"`
}

type SagaConfig struct {
	CommitMaxTries   uint          `yaml:"commit_max_tries"`
	CommitMaxElapsed time.Duration `yaml:"commit_max_elapsed"`
	OutboxInterval   time.Duration `yaml:"outbox_interval"`
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
	StuckAfter       time.Duration `yaml:"stuck_after"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// Default returns the configuration a service runs with when no file and no
// environment overrides are present.
func Default(service string) *Config {
	return &Config{
		Service: ServiceConfig{Name: service, LogLevel: "info"},
		HTTP: HTTPConfig{
			Port:            "8080",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Signing: SigningConfig{MaxSkew: 5 * time.Minute},
		Remotes: map[string]RemoteConfig{
			"cart":      {Mode: RemoteHTTP, URL: "http://localhost:8081", Timeout: 5 * time.Second},
			"inventory": {Mode: RemoteHTTP, URL: "http://localhost:8082", Timeout: 5 * time.Second},
			"orders":    {Mode: RemoteHTTP, URL: "http://localhost:8083", Timeout: 5 * time.Second},
			"checkout":  {Mode: RemoteHTTP, URL: "http://localhost:8084", Timeout: 30 * time.Second},
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Mongo: MongoConfig{URI: "mongodb://localhost:27017", Database: "cart", Collection: "carts"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			User:          "postgres",
			Password:      "postgres",
			DBName:        "orders",
			MigrationsDir: "./internal/repository/migrations",
		},
		SQLite: SQLiteConfig{
			Path:          "./checkout.db",
			MigrationsDir: "./internal/repository/migrations",
		},
		Kafka: KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "checkout-events", GroupID: service},
		PayPal: PayPalConfig{
			BaseURL:            "https://api-m.sandbox.paypal.com",
			Currency:           "USD",
			Timeout:            10 * time.Second,
			TokenRefreshMargin: 60 * time.Second,
		},
		Cart: CartConfig{TTL: 7 * 24 * time.Hour},
		Inventory: InventoryConfig{
			ReservationTTL: 10 * time.Minute,
		},
		Saga: SagaConfig{
			CommitMaxTries:   8,
			CommitMaxElapsed: 2 * time.Minute,
			OutboxInterval:   time.Second,
			RecoveryInterval: 30 * time.Second,
			StuckAfter:       time.Minute,
		},
		Telemetry: TelemetryConfig{SampleRatio: 1},
	}
}

// Load reads the configuration and validates it.
func Load(service string) (*Config, error) {
	cfg, err := Read(service)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read reads the YAML file named by CONFIG_FILE (if any) on top of the
// defaults, then applies environment overrides. Services that sign nothing
// use it directly.
func Read(service string) (*Config, error) {
	cfg := Default(service)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

var ErrMissingSecret = errors.New("signing secret is required (SIGNING_SECRET)")

func (c *Config) Validate() error {
	if c.Signing.Secret == "" {
		return ErrMissingSecret
	}
	for name, r := range c.Remotes {
		if r.Mode != RemoteHTTP && r.Mode != RemoteLocal {
			return fmt.Errorf("remote %q: unknown mode %q", name, r.Mode)
		}
	}
	return nil
}

func applyEnv(c *Config) {
	c.Service.LogLevel = getEnv("LOG_LEVEL", c.Service.LogLevel)
	c.HTTP.Port = getEnv("HTTP_PORT", c.HTTP.Port)
	c.Signing.Secret = getEnv("SIGNING_SECRET", c.Signing.Secret)

	for name, r := range c.Remotes {
		prefix := "REMOTE_" + strings.ToUpper(name) + "_"
		r.URL = getEnv(prefix+"URL", r.URL)
		r.Mode = RemoteMode(getEnv(prefix+"MODE", string(r.Mode)))
		c.Remotes[name] = r
	}

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Mongo.URI = getEnv("MONGO_URI", c.Mongo.URI)

	c.Postgres.Host = getEnv("POSTGRES_HOST", c.Postgres.Host)
	c.Postgres.Port = getEnvInt("POSTGRES_PORT", c.Postgres.Port)
	c.Postgres.User = getEnv("POSTGRES_USER", c.Postgres.User)
	c.Postgres.Password = getEnv("POSTGRES_PASSWORD", c.Postgres.Password)
	c.Postgres.DBName = getEnv("POSTGRES_DB", c.Postgres.DBName)
	c.Postgres.MigrationsDir = getEnv("MIGRATIONS_DIR", c.Postgres.MigrationsDir)

	c.SQLite.Path = getEnv("SQLITE_PATH", c.SQLite.Path)
	c.SQLite.MigrationsDir = getEnv("MIGRATIONS_DIR", c.SQLite.MigrationsDir)

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}

	c.PayPal.BaseURL = getEnv("PAYPAL_BASE_URL", c.PayPal.BaseURL)
	c.PayPal.ClientID = getEnv("PAYPAL_CLIENT_ID", c.PayPal.ClientID)
	c.PayPal.ClientSecret = getEnv("PAYPAL_CLIENT_SECRET", c.PayPal.ClientSecret)
	c.PayPal.ReturnURL = getEnv("PAYPAL_RETURN_URL", c.PayPal.ReturnURL)
	c.PayPal.SandboxPublicURL = getEnv("PAYPAL_SANDBOX_PUBLIC_URL", c.PayPal.SandboxPublicURL)

	c.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
