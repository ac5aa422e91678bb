package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Approvals ApprovalsConfig
	Directory DirectoryConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ApprovalsConfig tunes the approval engine.
type ApprovalsConfig struct {
	LockTimeout     time.Duration
	LockTTL         time.Duration
	DistributedLock bool
	HistoryAsync    bool
	HistoryWorkers  int
	HistoryRetries  int
	AuditMirror     bool
	LeaveSequential bool
	DocSequential   bool
	StaffSequential bool
	SheetTitle      string
}

// DirectoryConfig controls staff directory lookups.
type DirectoryConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Approvals = ApprovalsConfig{
		LockTimeout:     parseDuration(v.GetString("APPROVAL_LOCK_TIMEOUT"), 3*time.Second),
		LockTTL:         parseDuration(v.GetString("APPROVAL_LOCK_TTL"), 10*time.Second),
		DistributedLock: v.GetBool("APPROVAL_DISTRIBUTED_LOCK"),
		HistoryAsync:    v.GetBool("APPROVAL_HISTORY_ASYNC"),
		HistoryWorkers:  v.GetInt("APPROVAL_HISTORY_WORKERS"),
		HistoryRetries:  v.GetInt("APPROVAL_HISTORY_RETRIES"),
		AuditMirror:     v.GetBool("APPROVAL_AUDIT_MIRROR"),
		LeaveSequential: v.GetBool("APPROVAL_LEAVE_SEQUENTIAL"),
		DocSequential:   v.GetBool("APPROVAL_DOCUMENT_SEQUENTIAL"),
		StaffSequential: v.GetBool("APPROVAL_STAFF_CHANGE_SEQUENTIAL"),
		SheetTitle:      v.GetString("APPROVAL_SHEET_TITLE"),
	}

	cfg.Directory = DirectoryConfig{
		CacheEnabled: v.GetBool("DIRECTORY_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("DIRECTORY_CACHE_TTL"), 10*time.Minute),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "hospital_admin")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("APPROVAL_LOCK_TIMEOUT", "3s")
	v.SetDefault("APPROVAL_LOCK_TTL", "10s")
	v.SetDefault("APPROVAL_DISTRIBUTED_LOCK", false)
	v.SetDefault("APPROVAL_HISTORY_ASYNC", false)
	v.SetDefault("APPROVAL_HISTORY_WORKERS", 2)
	v.SetDefault("APPROVAL_HISTORY_RETRIES", 3)
	v.SetDefault("APPROVAL_AUDIT_MIRROR", true)
	v.SetDefault("APPROVAL_LEAVE_SEQUENTIAL", true)
	v.SetDefault("APPROVAL_DOCUMENT_SEQUENTIAL", true)
	v.SetDefault("APPROVAL_STAFF_CHANGE_SEQUENTIAL", true)
	v.SetDefault("APPROVAL_SHEET_TITLE", "Approval Sheet")

	v.SetDefault("DIRECTORY_CACHE_ENABLED", true)
	v.SetDefault("DIRECTORY_CACHE_TTL", "10m")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
