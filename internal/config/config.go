// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Допустимые значения переключателей бэкендов.
const (
	RevocationMemory = "memory"
	RevocationRedis  = "redis"

	AuditPostgres = "postgres"
	AuditMongo    = "mongo"
	AuditLog      = "log"
)

// minSecretLen - минимальная длина секрета подписи JWT в байтах.
const minSecretLen = 32

var (
	// ErrWeakSecret - секрет подписи короче minSecretLen.
	ErrWeakSecret = errors.New("jwt secret must be at least 32 bytes long")
	// ErrSameSecrets - access и refresh подписываются одним и тем же секретом.
	ErrSameSecrets = errors.New("access and refresh secrets must differ")
	// ErrUnknownBackend - неизвестное значение переключателя бэкенда.
	ErrUnknownBackend = errors.New("unknown backend")
)

// Config - корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env           string              `yaml:"env" env:"ENV" env-default:"local"`
	HTTP          HTTPConfig          `yaml:"http"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Auth          AuthConfig          `yaml:"auth"`
	Lockout       LockoutConfig       `yaml:"lockout"`
	ResourceToken ResourceTokenConfig `yaml:"resource_token"`
	Password      PasswordConfig      `yaml:"password"`
	Revocation    RevocationConfig    `yaml:"revocation"`
	Audit         AuditConfig         `yaml:"audit"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	DB            DBConfig            `yaml:"db"`
	Redis         RedisConfig         `yaml:"redis"`
	Mongo         MongoConfig         `yaml:"mongo"`
	Timeouts      TimeoutConfig       `yaml:"timeouts"`
}

// TimeoutConfig - таймауты сервиса.
// Service - общий дедлайн запроса, Store - дедлайн одного обращения к хранилищу.
type TimeoutConfig struct {
	Service time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"5s"`
	Store   time.Duration `yaml:"store" env:"STORE_TIMEOUT" env-default:"2s"`
}

// HTTPConfig - сетевые настройки HTTP API.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

// MetricsConfig - адрес служебного HTTP-сервера (/livez, /healthz, /metrics).
type MetricsConfig struct {
	Host string `yaml:"host" env:"METRICS_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"METRICS_PORT" env-default:"9090"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// Addr возвращает адрес в формате host:port.
func (m MetricsConfig) Addr() string {
	return net.JoinHostPort(m.Host, m.Port)
}

// AuthConfig содержит параметры выпуска и валидации токенов.
// Access и refresh подписываются разными секретами, чтобы refresh нельзя
// было предъявить вместо access.
type AuthConfig struct {
	AccessSecret    string        `yaml:"access_secret" env:"JWT_ACCESS_SECRET" env-required:"true"`
	RefreshSecret   string        `yaml:"refresh_secret" env:"JWT_REFRESH_SECRET" env-required:"true"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"30m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	Issuer          string        `yaml:"issuer" env:"ISSUER" env-default:"clinic-auth"`
	Leeway          time.Duration `yaml:"leeway" env:"JWT_LEEWAY" env-default:"0s"`
}

// LockoutConfig - параметры блокировки учётной записи после неудачных попыток.
type LockoutConfig struct {
	Threshold int           `yaml:"threshold" env:"LOCKOUT_THRESHOLD" env-default:"5"`
	Duration  time.Duration `yaml:"duration" env:"LOCKOUT_DURATION" env-default:"30m"`
}

// ResourceTokenConfig - параметры эфемерных токенов доступа к карте пациента.
type ResourceTokenConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl" env:"RESOURCE_TOKEN_DEFAULT_TTL" env-default:"60m"`
	MaxTTL     time.Duration `yaml:"max_ttl" env:"RESOURCE_TOKEN_MAX_TTL" env-default:"24h"`
}

// PasswordConfig - политика сложности пароля и стоимость bcrypt.
type PasswordConfig struct {
	MinLength     int  `yaml:"min_length" env:"PASSWORD_MIN_LENGTH" env-default:"8"`
	MaxRepeat     int  `yaml:"max_repeat" env:"PASSWORD_MAX_REPEAT" env-default:"2"`
	RequireUpper  bool `yaml:"require_upper" env:"PASSWORD_REQUIRE_UPPER" env-default:"true"`
	RequireLower  bool `yaml:"require_lower" env:"PASSWORD_REQUIRE_LOWER" env-default:"true"`
	RequireDigit  bool `yaml:"require_digit" env:"PASSWORD_REQUIRE_DIGIT" env-default:"true"`
	RequireSymbol bool `yaml:"require_symbol" env:"PASSWORD_REQUIRE_SYMBOL" env-default:"true"`
	BcryptCost    int  `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"12"`
}

// RevocationConfig - реестр отозванных jti.
type RevocationConfig struct {
	Backend       string        `yaml:"backend" env:"REVOCATION_BACKEND" env-default:"memory"`
	PurgeInterval time.Duration `yaml:"purge_interval" env:"REVOCATION_PURGE_INTERVAL" env-default:"10m"`
	CacheSize     int           `yaml:"cache_size" env:"REVOCATION_CACHE_SIZE" env-default:"10000"`
}

// AuditConfig - журнал доступа.
type AuditConfig struct {
	Backend      string        `yaml:"backend" env:"AUDIT_BACKEND" env-default:"postgres"`
	QueueSize    int           `yaml:"queue_size" env:"AUDIT_QUEUE_SIZE" env-default:"1024"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"AUDIT_WRITE_TIMEOUT" env-default:"2s"`
}

// RateLimitConfig - ограничение частоты попыток входа с одного IP.
// По умолчанию 5 попыток в минуту.
type RateLimitConfig struct {
	LoginPerMinute int `yaml:"login_per_minute" env:"LOGIN_PER_MINUTE" env-default:"5"`
	LoginBurst     int `yaml:"login_burst" env:"LOGIN_BURST" env-default:"5"`
}

// DBConfig - настройки подключения к базе данных.
// Пустой URL допустим только в окружении local: тогда используются in-memory хранилища,
// которые заполняются из SeedFile (учётные записи и карты пациентов).
type DBConfig struct {
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL"`
	SeedFile    string `yaml:"seed_file" env:"SEED_FILE"`
}

type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
}

type MongoConfig struct {
	MongoURL string `yaml:"mongo_url" env:"MONGO_URL"`
}

// Validate проверяет инварианты, которые нельзя выразить тегами cleanenv.
func (c *Config) Validate() error {
	const op = "config.Validate"

	if len(c.Auth.AccessSecret) < minSecretLen || len(c.Auth.RefreshSecret) < minSecretLen {
		return fmt.Errorf("%s: %w", op, ErrWeakSecret)
	}

	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return fmt.Errorf("%s: %w", op, ErrSameSecrets)
	}

	switch c.Revocation.Backend {
	case RevocationMemory:
	case RevocationRedis:
		if c.Redis.RedisURL == "" {
			return fmt.Errorf("%s: redis backend requires redis_url", op)
		}
	default:
		return fmt.Errorf("%s: revocation %q: %w", op, c.Revocation.Backend, ErrUnknownBackend)
	}

	switch c.Audit.Backend {
	case AuditPostgres, AuditLog:
	case AuditMongo:
		if c.Mongo.MongoURL == "" {
			return fmt.Errorf("%s: mongo backend requires mongo_url", op)
		}
	default:
		return fmt.Errorf("%s: audit %q: %w", op, c.Audit.Backend, ErrUnknownBackend)
	}

	if c.DB.DatabaseURL == "" && c.Env != "local" {
		return fmt.Errorf("%s: db_url is required outside local env", op)
	}

	if c.Lockout.Threshold <= 0 || c.Lockout.Duration <= 0 {
		return fmt.Errorf("%s: lockout threshold and duration must be positive", op)
	}

	return nil
}

// MustLoad - обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла ENV-переменные накладываются поверх значений из YAML,
// затем вызывается Validate.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func read(path string) (*Config, error) {
	var cfg Config

	// чтение файла + overlay ENV.
	tryRead := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	// 1) Явный путь.
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH.
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml.
	if _, err := os.Stat("local.yaml"); err == nil {
		return tryRead("local.yaml")
	}

	// 4) Только ENV.
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return &cfg, nil
}
