package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	WebSocket WebSocketConfig
	Chat      ChatConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string `mapstructure:"key_prefix"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	Issuer     string        `mapstructure:"issuer"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

type WebSocketConfig struct {
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	// FrameTimeout bounds the handling of one inbound frame.
	FrameTimeout time.Duration `mapstructure:"frame_timeout"`
}

const (
	// frameOverhead covers the JSON envelope around a frame's content.
	frameOverhead = 1024
	// maxEncodedRune is a rune sent as an escaped surrogate pair.
	maxEncodedRune = len(`\ud83d\ude00`)
)

// MinMessageSize is the smallest read limit that admits a frame whose
// content has maxContent runes.
func MinMessageSize(maxContent int) int64 {
	return int64(maxContent*maxEncodedRune + frameOverhead)
}

type ChatConfig struct {
	// EvictStaleConnections closes the previous transport when a user connects again.
	EvictStaleConnections bool          `mapstructure:"evict_stale_connections"`
	HistoryLimit          int           `mapstructure:"history_limit"`
	MaxHistoryLimit       int           `mapstructure:"max_history_limit"`
	BroadcastHistoryLimit int           `mapstructure:"broadcast_history_limit"`
	MaxContentLength      int           `mapstructure:"max_content_length"`
	ResyncLimit           int           `mapstructure:"resync_limit"`
	StatusWriteTimeout    time.Duration `mapstructure:"status_write_timeout"`
}

type LogConfig struct {
	Level       string
	Pretty      bool
	ServiceName string `mapstructure:"service_name"`
}

// Load reads ./config/config.yaml (optional), applies defaults and
// environment overrides, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	// Environment names used by the docker deployment.
	_ = v.BindEnv("database.dsn", "DB_DSN")
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("redis.address", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("log.level", "LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "chat")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "go-chat-app")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("websocket.ping_interval", "54s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.handshake_timeout", "10s")
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.frame_timeout", "10s")

	v.SetDefault("chat.evict_stale_connections", true)
	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("chat.max_history_limit", 200)
	v.SetDefault("chat.broadcast_history_limit", 50)
	v.SetDefault("chat.max_content_length", 4000)
	v.SetDefault("chat.resync_limit", 200)
	v.SetDefault("chat.status_write_timeout", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "chat-server")
}

func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("database.dsn (DB_DSN) is not set")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (JWT_SECRET) is not set")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return fmt.Errorf("websocket.ping_interval (%s) must be less than pong_wait (%s)",
			c.WebSocket.PingInterval, c.WebSocket.PongWait)
	}
	if c.WebSocket.HandshakeTimeout <= 0 {
		return errors.New("websocket.handshake_timeout must be positive")
	}
	if n := c.Chat.MaxContentLength; n > 0 && c.WebSocket.MaxMessageSize < MinMessageSize(n) {
		return fmt.Errorf("websocket.max_message_size (%d) must be at least %d to fit chat.max_content_length (%d)",
			c.WebSocket.MaxMessageSize, MinMessageSize(n), n)
	}
	if c.Chat.HistoryLimit <= 0 || c.Chat.HistoryLimit > c.Chat.MaxHistoryLimit {
		return fmt.Errorf("chat.history_limit must be in (0, %d]", c.Chat.MaxHistoryLimit)
	}
	return nil
}
