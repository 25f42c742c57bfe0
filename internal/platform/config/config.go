package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Mint backends.
const (
	MintMemory = "memory"
	MintHTTP   = "http"
	MintKafka  = "kafka"
)

// Config is the full runtime configuration of the service and CLI.
type Config struct {
	Server   Server
	Log      Log
	Store    Store
	Redis    RedisConfig
	Postgres PostgresConfig
	Auth     Auth
	Mint     Mint
	Kafka    KafkaConfig
	Payload  Payload
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Log struct {
	Level  string
	Format string
}

// Store selects the KV backend and the document workflow policy.
type Store struct {
	Backend string
	// AllowReregister keeps the overwrite-on-reregister behaviour instead of
	// rejecting a second registration of the same storage id.
	AllowReregister bool
}

type RedisConfig struct {
	URL            string
	Prefix         string
	PoolSize       int
	MinIdleConns   int
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	LeaseTTL       time.Duration
	AcquireTimeout time.Duration
}

type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// Auth configures bearer token validation and development token issuance.
type Auth struct {
	JWTSigningKey string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
}

type Mint struct {
	Backend     string
	HTTPURL     string
	HTTPTimeout time.Duration
}

type KafkaConfig struct {
	Brokers         []string
	Topic           string
	Partitions      int32
	Replication     int16
	EnsureTopic     bool
	// DeliveryTimeout bounds how long one mint record may wait for an ack.
	DeliveryTimeout time.Duration
}

// Payload configures the optional MinIO/S3 payload store. An empty endpoint
// keeps payloads in memory.
type Payload struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	MaxBytes  int64
}

const devSigningKey = "dev-secret-key-change-in-production"

// Load reads configuration from SIGNET_* environment variables, after loading
// envFiles (missing files are ignored).
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		_ = godotenv.Load(envFiles...)
	}

	v := viper.New()
	v.SetEnvPrefix("SIGNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Server: Server{
			Addr:            v.GetString("server.addr"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Log: Log{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Store: Store{
			Backend:         strings.ToLower(v.GetString("store.backend")),
			AllowReregister: v.GetBool("store.allow_reregister"),
		},
		Redis: RedisConfig{
			URL:            v.GetString("redis.url"),
			Prefix:         v.GetString("redis.prefix"),
			PoolSize:       v.GetInt("redis.pool_size"),
			MinIdleConns:   v.GetInt("redis.min_idle_conns"),
			DialTimeout:    v.GetDuration("redis.dial_timeout"),
			ReadTimeout:    v.GetDuration("redis.read_timeout"),
			WriteTimeout:   v.GetDuration("redis.write_timeout"),
			LeaseTTL:       v.GetDuration("redis.lease_ttl"),
			AcquireTimeout: v.GetDuration("redis.acquire_timeout"),
		},
		Postgres: PostgresConfig{
			URL:             v.GetString("postgres.url"),
			MaxOpenConns:    v.GetInt("postgres.max_open_conns"),
			MaxIdleConns:    v.GetInt("postgres.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("postgres.conn_max_lifetime"),
			AutoMigrate:     v.GetBool("postgres.auto_migrate"),
		},
		Auth: Auth{
			JWTSigningKey: v.GetString("auth.jwt_signing_key"),
			Issuer:        v.GetString("auth.issuer"),
			Audience:      v.GetString("auth.audience"),
			TokenTTL:      v.GetDuration("auth.token_ttl"),
		},
		Mint: Mint{
			Backend:     strings.ToLower(v.GetString("mint.backend")),
			HTTPURL:     v.GetString("mint.http_url"),
			HTTPTimeout: v.GetDuration("mint.http_timeout"),
		},
		Kafka: KafkaConfig{
			Brokers:         splitList(v.GetString("kafka.brokers")),
			Topic:           v.GetString("kafka.topic"),
			Partitions:      v.GetInt32("kafka.partitions"),
			Replication:     int16(v.GetInt("kafka.replication")),
			EnsureTopic:     v.GetBool("kafka.ensure_topic"),
			DeliveryTimeout: v.GetDuration("kafka.delivery_timeout"),
		},
		Payload: Payload{
			Endpoint:  v.GetString("payload.endpoint"),
			AccessKey: v.GetString("payload.access_key"),
			SecretKey: v.GetString("payload.secret_key"),
			Bucket:    v.GetString("payload.bucket"),
			UseSSL:    v.GetBool("payload.use_ssl"),
			MaxBytes:  v.GetInt64("payload.max_bytes"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.allow_reregister", false)

	v.SetDefault("redis.prefix", "signet:")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.lease_ttl", 30*time.Second)
	v.SetDefault("redis.acquire_timeout", 5*time.Second)

	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)
	v.SetDefault("postgres.auto_migrate", true)

	v.SetDefault("auth.jwt_signing_key", devSigningKey)
	v.SetDefault("auth.issuer", "signet")
	v.SetDefault("auth.audience", "signet-api")
	v.SetDefault("auth.token_ttl", time.Hour)

	v.SetDefault("mint.backend", MintMemory)
	v.SetDefault("mint.http_timeout", 10*time.Second)

	v.SetDefault("kafka.topic", "signet.mints")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replication", 1)
	v.SetDefault("kafka.ensure_topic", true)
	v.SetDefault("kafka.delivery_timeout", 10*time.Second)

	v.SetDefault("payload.bucket", "signet-payloads")
	v.SetDefault("payload.max_bytes", 32<<20)
}

// Validate rejects settings that cannot produce a working service.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("SIGNET_REDIS_URL is required for the redis store"))
		}
	case StorePostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("SIGNET_POSTGRES_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	switch c.Mint.Backend {
	case MintMemory:
	case MintHTTP:
		if c.Mint.HTTPURL == "" {
			errs = append(errs, errors.New("SIGNET_MINT_HTTP_URL is required for the http minter"))
		}
	case MintKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("SIGNET_KAFKA_BROKERS is required for the kafka minter"))
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, errors.New("SIGNET_KAFKA_TOPIC must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mint backend %q", c.Mint.Backend))
	}

	if c.Store.Backend == StoreRedis {
		if timeout := c.MintTimeout(); timeout > 0 && timeout >= c.Redis.LeaseTTL {
			errs = append(errs, fmt.Errorf("mint timeout %s must be shorter than SIGNET_REDIS_LEASE_TTL %s", timeout, c.Redis.LeaseTTL))
		}
	}

	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("SIGNET_AUTH_JWT_SIGNING_KEY must not be empty"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("SIGNET_AUTH_TOKEN_TTL must be positive"))
	}
	if c.Payload.Endpoint != "" && (c.Payload.AccessKey == "" || c.Payload.SecretKey == "") {
		errs = append(errs, errors.New("payload credentials are required when SIGNET_PAYLOAD_ENDPOINT is set"))
	}

	return errors.Join(errs...)
}

// MintTimeout is the longest a single mint call may take with the configured
// backend, or zero when the backend has no bound.
func (c *Config) MintTimeout() time.Duration {
	switch c.Mint.Backend {
	case MintHTTP:
		return c.Mint.HTTPTimeout
	case MintKafka:
		return c.Kafka.DeliveryTimeout
	default:
		return 0
	}
}

// UsesDevSigningKey reports whether the built-in development key is in use.
func (c *Config) UsesDevSigningKey() bool {
	return c.Auth.JWTSigningKey == devSigningKey
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
