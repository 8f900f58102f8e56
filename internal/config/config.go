package config

import (
	"fmt"
	"os"
	"time"

	"escrowhub/internal/escrow"
	"escrowhub/internal/notify"
	"escrowhub/internal/provider"
	pkgconfig "escrowhub/pkg/config"
	"escrowhub/pkg/otel"
)

const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

type ServerConfig struct {
	pkgconfig.ServerConfig `yaml:",inline"`
	ReadTimeout            time.Duration `yaml:"read_timeout"`
	WriteTimeout           time.Duration `yaml:"write_timeout"`
}

type StoreConfig struct {
	// Driver is one of memory, mongo, postgres.
	Driver string `yaml:"driver"`
}

type OutboxConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxRetries int           `yaml:"max_retries"`
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
}

type DedupConfig struct {
	// WebhookTTL bounds how long applied callbacks are remembered.
	WebhookTTL      time.Duration `yaml:"webhook_ttl"`
	NotificationTTL time.Duration `yaml:"notification_ttl"`
}

// WorkerConfig configures cmd/worker and cmd/reconciler, which expose only
// health and metrics over HTTP.
type WorkerConfig struct {
	Queue      string `yaml:"queue"`
	HealthAddr string `yaml:"health_addr"`
}

type LogConfig struct {
	Development bool `yaml:"development"`
}

// Config is the escrow service configuration shared by every binary.
type Config struct {
	Server       ServerConfig            `yaml:"server"`
	Log          LogConfig               `yaml:"log"`
	Store        StoreConfig             `yaml:"store"`
	DB           pkgconfig.DBConfig      `yaml:"db"`
	Mongo        pkgconfig.MongoConfig   `yaml:"mongo"`
	Redis        pkgconfig.RedisConfig   `yaml:"redis"`
	MQ           pkgconfig.MQConfig      `yaml:"mq"`
	JWT          pkgconfig.JWTConfig     `yaml:"jwt"`
	Otel         otel.Config             `yaml:"otel"`
	Escrow       escrow.Config           `yaml:"escrow"`
	Providers    provider.Settings       `yaml:"providers"`
	Reconciler   escrow.ReconcilerConfig `yaml:"reconciler"`
	Notification notify.Config           `yaml:"notification"`
	Outbox       OutboxConfig            `yaml:"outbox"`
	Dedup        DedupConfig             `yaml:"dedup"`
	Worker       WorkerConfig            `yaml:"worker"`
}

// Load reads the layered configuration for CONFIG_ENV from CONFIG_DIR and
// applies environment overrides, which take precedence.
func Load() (*Config, error) {
	env := pkgconfig.GetConfigEnv()
	dir := pkgconfig.GetEnv("CONFIG_DIR", "config")
	return LoadFrom(env, dir)
}

func LoadFrom(env, dir string) (*Config, error) {
	cfg := Default()
	if err := pkgconfig.Decode(env, dir, cfg); err != nil {
		return nil, err
	}

	pkgconfig.OverrideServerFromEnv(&cfg.Server.ServerConfig)
	pkgconfig.OverrideDBFromEnv(&cfg.DB)
	pkgconfig.OverrideMongoFromEnv(&cfg.Mongo)
	pkgconfig.OverrideRedisFromEnv(&cfg.Redis)
	pkgconfig.OverrideMQFromEnv(&cfg.MQ)
	pkgconfig.OverrideJWTFromEnv(&cfg.JWT)
	overrideEscrowFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the values used for keys the YAML files leave out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ServerConfig: pkgconfig.ServerConfig{Port: ":8080"},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Store:  StoreConfig{Driver: DriverMongo},
		Otel:   otel.Config{ServiceName: "escrowhub", SampleRatio: 1},
		Escrow: escrow.DefaultConfig(),
		Reconciler: escrow.ReconcilerConfig{
			Interval:    time.Minute,
			StaleAfter:  10 * time.Minute,
			MaxAttempts: 6,
			BatchSize:   100,
		},
		Notification: notify.Config{Channel: notify.ChannelLog},
		Outbox: OutboxConfig{
			Enabled:    true,
			MaxRetries: 5,
			Interval:   time.Second,
			BatchSize:  100,
		},
		Dedup: DedupConfig{
			WebhookTTL:      24 * time.Hour,
			NotificationTTL: 7 * 24 * time.Hour,
		},
		Worker: WorkerConfig{
			Queue:      "notification.created.q",
			HealthAddr: ":8085",
		},
	}
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverMongo, DriverPostgres:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Escrow.PlatformFeePercent < 0 || c.Escrow.PlatformFeePercent >= 100 {
		return fmt.Errorf("escrow.platform_fee_percent must be in [0, 100), got %v", c.Escrow.PlatformFeePercent)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	return nil
}

func overrideEscrowFromEnv(cfg *Config) {
	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if secret := os.Getenv("MTN_WEBHOOK_SECRET"); secret != "" {
		cfg.Providers.MTN.WebhookSecret = secret
	}
	if secret := os.Getenv("ORANGE_WEBHOOK_SECRET"); secret != "" {
		cfg.Providers.Orange.WebhookSecret = secret
	}
	if os.Getenv("LOG_MODE") == "development" {
		cfg.Log.Development = true
	}
}
