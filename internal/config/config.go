package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the whole service configuration, loaded from YAML and overridable with FANDRY_* env vars.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	SQLLog bool   `mapstructure:"sql_log"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql | postgres
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Notification string `mapstructure:"notification"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	Currency      string `mapstructure:"currency"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	AdminRole string `mapstructure:"admin_role"`
}

type BusinessConfig struct {
	CheckoutSessionTTLHours  int            `mapstructure:"checkout_session_ttl_hours"`
	InitiatedTimeoutMinutes  int            `mapstructure:"initiated_timeout_minutes"`
	ReconcileIntervalSeconds int            `mapstructure:"reconcile_interval_seconds"`
	MaxRetryCount            int            `mapstructure:"max_retry_count"`
	MaxTransactionsLimit     int            `mapstructure:"max_transactions_limit"`
	BalanceCacheTTLSeconds   int            `mapstructure:"balance_cache_ttl_seconds"`
	MaxTipAmount             int64          `mapstructure:"max_tip_amount"`
	PointPackages            []PointPackage `mapstructure:"point_packages"`
}

// PointPackage is a points bundle sold for card money.
type PointPackage struct {
	ID     string `mapstructure:"id" json:"id"`
	Points int64  `mapstructure:"points" json:"points"`
	Price  int64  `mapstructure:"price" json:"price"`
}

// FindPackage looks a package up by id.
func (b BusinessConfig) FindPackage(id string) (PointPackage, bool) {
	for _, p := range b.PointPackages {
		if p.ID == id {
			return p, true
		}
	}
	return PointPackage{}, false
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.port", 6379)
	v.SetDefault("kafka.topic.notification", "fandry.notification")
	v.SetDefault("stripe.currency", "jpy")
	v.SetDefault("auth.admin_role", "admin")
	v.SetDefault("business.checkout_session_ttl_hours", 24)
	v.SetDefault("business.initiated_timeout_minutes", 15)
	v.SetDefault("business.reconcile_interval_seconds", 60)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.max_transactions_limit", 100)
	v.SetDefault("business.balance_cache_ttl_seconds", 300)
	v.SetDefault("business.max_tip_amount", 100000)
}

// LoadConfig reads the YAML file at configPath. An empty path loads defaults and env only.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FANDRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = config
	return config, nil
}

// Default returns the built-in defaults without touching files or the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	config := &Config{}
	_ = v.Unmarshal(config)
	return config
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Business.CheckoutSessionTTLHours <= 0 {
		return fmt.Errorf("business.checkout_session_ttl_hours must be positive")
	}
	seen := make(map[string]bool, len(c.Business.PointPackages))
	for _, p := range c.Business.PointPackages {
		if p.ID == "" || p.Points <= 0 || p.Price <= 0 {
			return fmt.Errorf("invalid point package %q", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate point package %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
