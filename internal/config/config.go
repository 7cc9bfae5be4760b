package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config landrec-import (HTTP API) configuration, loaded from environment
// variables with dev-friendly defaults.
type Config struct {
	HTTP struct {
		Addr string
	}
	DBEnabled bool
	Database  DatabaseConfig
	Redis     struct {
		Addr     string
		Password string
		DB       int
	}
	Log struct {
		Level  string
		Format string
	}
	Content struct {
		Root string // content-addressed blob store root
	}
	Upload struct {
		MaxBytes int64
		// HMAC key devices sign package checksums with; empty disables
		// signature verification.
		DeviceSecret string
	}
	Vocabulary VocabularyConfig
	Conflict   struct {
		SLAHours int // review target before a conflict counts as overdue
	}
	MQTT MQTTConfig
}

// DatabaseConfig postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// VocabularyConfig points at the central vocabulary service.
type VocabularyConfig struct {
	BaseURL      string
	Token        string
	CacheTTLSecs int
}

// MQTTConfig audit event publishing (disabled by default).
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	// Default to true for local dev: when the DB is unavailable the service
	// falls back to in-memory repositories.
	cfg.DBEnabled = getEnv("DB_ENABLED", "true") == "true"
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "landrec")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "20"), 20)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Content.Root = getEnv("CONTENT_ROOT", "./data/content")

	cfg.Upload.MaxBytes = int64(parseInt(getEnv("UPLOAD_MAX_BYTES", "268435456"), 268435456)) // 256 MiB
	cfg.Upload.DeviceSecret = getEnv("DEVICE_SECRET", "")

	cfg.Vocabulary.BaseURL = getEnv("VOCAB_BASE_URL", "")
	cfg.Vocabulary.Token = getEnv("VOCAB_TOKEN", "")
	cfg.Vocabulary.CacheTTLSecs = parseInt(getEnv("VOCAB_CACHE_TTL_SECS", "300"), 300)

	cfg.Conflict.SLAHours = parseInt(getEnv("CONFLICT_SLA_HOURS", "72"), 72)

	// Audit publishing over MQTT, default disabled.
	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "landrec-import")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "landrec/audit")

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
