package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

type Config struct {
	AppPort        string
	Environment    string
	AllowedOrigins []string
	DatabaseDSN    string

	Mpesa      MpesaConfig
	TokenCache TokenCacheConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
}

// MpesaConfig carries the gateway credentials and merchant identity. It is
// built once at startup and handed to the gateway client by pointer.
type MpesaConfig struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	Passkey         string
	ShortCode       string
	CallbackURL     string
	CallbackToken   string
	TransactionDesc string

	Timezone string
	Location *time.Location

	HTTPTimeout     time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

const (
	TokenCacheOff    = "off"
	TokenCacheMemory = "memory"
	TokenCacheRedis  = "redis"
)

type TokenCacheConfig struct {
	Mode         string
	ExpiryMargin time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func defaults(v *viper.Viper) {
	v.SetDefault("port", "5000")
	v.SetDefault("app_env", "development")
	v.SetDefault("cors_allowed_origins", "https://qshopv1.vercel.app,http://localhost:5173")
	v.SetDefault("frontend_url", "")
	v.SetDefault("database_dsn", "./payments.db")

	v.SetDefault("mpesa_base_url", "https://sandbox.safaricom.co.ke")
	v.SetDefault("mpesa_consumer_key", "")
	v.SetDefault("mpesa_consumer_secret", "")
	v.SetDefault("mpesa_passkey", "")
	v.SetDefault("mpesa_shortcode", "174379")
	v.SetDefault("mpesa_callback_url", "")
	v.SetDefault("mpesa_callback_token", "")
	v.SetDefault("mpesa_transaction_desc", "Payment for order")
	v.SetDefault("mpesa_timezone", "Africa/Nairobi")
	v.SetDefault("mpesa_http_timeout", 30*time.Second)
	v.SetDefault("mpesa_breaker_failures", 5)
	v.SetDefault("mpesa_breaker_cooldown", 30*time.Second)

	v.SetDefault("mpesa_token_cache", TokenCacheOff)
	v.SetDefault("mpesa_token_expiry_margin", 60*time.Second)

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("kafka_brokers", "")
	v.SetDefault("kafka_topic", "payments")
}

// Load reads configuration from the environment and, when path is not empty,
// from a YAML file. Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	origins := splitList(v.GetString("cors_allowed_origins"))
	if fe := strings.TrimSpace(v.GetString("frontend_url")); fe != "" {
		origins = append(origins, fe)
	}

	cfg := &Config{
		AppPort:        v.GetString("port"),
		Environment:    v.GetString("app_env"),
		AllowedOrigins: origins,
		DatabaseDSN:    v.GetString("database_dsn"),
		Mpesa: MpesaConfig{
			BaseURL:         strings.TrimRight(v.GetString("mpesa_base_url"), "/"),
			ConsumerKey:     v.GetString("mpesa_consumer_key"),
			ConsumerSecret:  v.GetString("mpesa_consumer_secret"),
			Passkey:         v.GetString("mpesa_passkey"),
			ShortCode:       v.GetString("mpesa_shortcode"),
			CallbackURL:     v.GetString("mpesa_callback_url"),
			CallbackToken:   v.GetString("mpesa_callback_token"),
			TransactionDesc: v.GetString("mpesa_transaction_desc"),
			Timezone:        v.GetString("mpesa_timezone"),
			HTTPTimeout:     v.GetDuration("mpesa_http_timeout"),
			BreakerFailures: v.GetUint32("mpesa_breaker_failures"),
			BreakerCooldown: v.GetDuration("mpesa_breaker_cooldown"),
		},
		TokenCache: TokenCacheConfig{
			Mode:         strings.ToLower(v.GetString("mpesa_token_cache")),
			ExpiryMargin: v.GetDuration("mpesa_token_expiry_margin"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("kafka_brokers")),
			Topic:   v.GetString("kafka_topic"),
		},
	}

	loc, err := time.LoadLocation(cfg.Mpesa.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Mpesa.Timezone, err)
	}
	cfg.Mpesa.Location = loc

	return cfg, nil
}

// Validate reports every setting the bridge cannot run without.
func (c *Config) Validate() error {
	var errs []error
	required := []struct{ key, value string }{
		{"MPESA_BASE_URL", c.Mpesa.BaseURL},
		{"MPESA_CONSUMER_KEY", c.Mpesa.ConsumerKey},
		{"MPESA_CONSUMER_SECRET", c.Mpesa.ConsumerSecret},
		{"MPESA_PASSKEY", c.Mpesa.Passkey},
		{"MPESA_SHORTCODE", c.Mpesa.ShortCode},
		{"MPESA_CALLBACK_URL", c.Mpesa.CallbackURL},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.key))
		}
	}

	switch c.TokenCache.Mode {
	case TokenCacheOff, TokenCacheMemory, TokenCacheRedis:
	default:
		errs = append(errs, fmt.Errorf("MPESA_TOKEN_CACHE must be one of off, memory, redis (got %q)", c.TokenCache.Mode))
	}
	if c.Mpesa.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("MPESA_HTTP_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
