package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/codewitgabi/skill-barter-sync/pkg/config"
	"github.com/codewitgabi/skill-barter-sync/pkg/storage"
)

// Config covers all three binaries; each reads the sections it needs.
type Config struct {
	Server   ServerConfig
	WS       WSConfig
	Redis    RedisConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Presence PresenceConfig
	Kafka    KafkaConfig
	History  HistoryConfig
	Archive  ArchiveConfig
	Storage  StorageConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type WSConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string `mapstructure:"db_name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type JWTConfig struct {
	Secret   string
	Duration time.Duration
	Issuer   string
}

type PresenceConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	OnlineThreshold   time.Duration `mapstructure:"online_threshold"`
	OfflineGrace      time.Duration `mapstructure:"offline_grace"`
}

type KafkaConfig struct {
	Enabled         bool
	Brokers         string
	Topic           string
	GroupID         string `mapstructure:"group_id"`
	Partitions      int
	AutoOffsetReset string `mapstructure:"auto_offset_reset"`
}

type HistoryConfig struct {
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	CachePrefix string        `mapstructure:"cache_prefix"`
}

type ArchiveConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	MaxBatch      int           `mapstructure:"max_batch"`
	RetentionDays int           `mapstructure:"retention_days"`
}

type StorageConfig struct {
	Type  string // local, s3
	Local storage.LocalConfig
	S3    storage.S3Config
}

type LogConfig struct {
	Level string
}

// Load reads config.yaml plus environment overrides.
func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("ws.ping_interval", "30s")
	v.SetDefault("ws.pong_wait", "60s")
	v.SetDefault("ws.write_wait", "10s")
	v.SetDefault("ws.max_message_size", 4096)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.db_name", "skillbarter")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.file_path", "skillbarter.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("jwt.duration", "24h")
	v.SetDefault("jwt.issuer", "skill-barter")
	v.SetDefault("presence.heartbeat_interval", "60s")
	v.SetDefault("presence.online_threshold", "180s")
	v.SetDefault("presence.offline_grace", "5s")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "chat-message-events")
	v.SetDefault("kafka.group_id", "archiver")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.auto_offset_reset", "earliest")
	v.SetDefault("history.cache_ttl", "5m")
	v.SetDefault("history.cache_prefix", "history:page")
	v.SetDefault("archive.flush_interval", "30s")
	v.SetDefault("archive.max_batch", 500)
	v.SetDefault("archive.retention_days", 30)
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local.base_path", "./data/archive")
	v.SetDefault("log.level", "info")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("jwt.secret", "JWT_SECRET")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WS.PingInterval = parseDuration(v, "ws.ping_interval", 30*time.Second)
	cfg.WS.PongWait = parseDuration(v, "ws.pong_wait", 60*time.Second)
	cfg.WS.WriteWait = parseDuration(v, "ws.write_wait", 10*time.Second)
	cfg.JWT.Duration = parseDuration(v, "jwt.duration", 24*time.Hour)
	cfg.Presence.HeartbeatInterval = parseDuration(v, "presence.heartbeat_interval", 60*time.Second)
	cfg.Presence.OnlineThreshold = parseDuration(v, "presence.online_threshold", 180*time.Second)
	cfg.Presence.OfflineGrace = parseDuration(v, "presence.offline_grace", 5*time.Second)
	cfg.History.CacheTTL = parseDuration(v, "history.cache_ttl", 5*time.Minute)
	cfg.Archive.FlushInterval = parseDuration(v, "archive.flush_interval", 30*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
