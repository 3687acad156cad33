package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"liveclass/pkg/database"
)

// EnvPrefix namespaces environment overrides, e.g. LIVECLASS_HTTP_PORT
const EnvPrefix = "LIVECLASS"

type Config struct {
	HTTP      *HTTPConfig      `mapstructure:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket"`
	Room      *RoomConfig      `mapstructure:"room"`
	Catalog   *CatalogConfig   `mapstructure:"catalog"`
	ICE       *ICEConfig       `mapstructure:"ice"`
	Log       *LogConfig       `mapstructure:"log"`
}

type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Addr returns the listen address
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

// RoomConfig tunes the classroom core
type RoomConfig struct {
	ChatHistoryLimit int           `mapstructure:"chat_history_limit"`
	ChatRateLimit    int           `mapstructure:"chat_rate_limit"`
	DeleteWhenEmpty  bool          `mapstructure:"delete_when_empty"`
	EvictDelay       time.Duration `mapstructure:"evict_delay"`
	IdleTTL          time.Duration `mapstructure:"idle_ttl"`
	ReapInterval     time.Duration `mapstructure:"reap_interval"`
	QueueSize        int           `mapstructure:"queue_size"`
}

// CatalogConfig controls class validation on join. When disabled every
// join is accepted without a class lookup.
type CatalogConfig struct {
	Enabled  bool             `mapstructure:"enabled"`
	CacheTTL time.Duration    `mapstructure:"cache_ttl"`
	Database *database.Config `mapstructure:"database"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type ICEConfig struct {
	Servers []ICEServer `mapstructure:"servers"`
}

// WebRTC converts the configured servers into the form clients receive in
// class-joined.
func (c *ICEConfig) WebRTC() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.Servers))
	for _, s := range c.Servers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   5 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 64 * 1024,
		},
		Room: &RoomConfig{
			ChatHistoryLimit: 100,
			ChatRateLimit:    100,
			EvictDelay:       time.Second,
			ReapInterval:     time.Minute,
			QueueSize:        1000,
		},
		Catalog: &CatalogConfig{
			Enabled:  false,
			CacheTTL: 30 * time.Second,
			Database: database.DefaultConfig(),
		},
		ICE: &ICEConfig{
			Servers: []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func (c *Config) Validate() error {
	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	// port 0 asks the kernel for a free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return errors.New("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("WebSocket max message size must be positive")
	}

	if c.Room == nil {
		return errors.New("room configuration is required")
	}
	if c.Room.ChatHistoryLimit <= 0 {
		return errors.New("chat history limit must be positive")
	}
	if c.Room.ChatRateLimit < 0 {
		return errors.New("chat rate limit cannot be negative")
	}
	if c.Room.EvictDelay < 0 {
		return errors.New("evict delay cannot be negative")
	}
	if c.Room.IdleTTL < 0 {
		return errors.New("idle TTL cannot be negative")
	}
	if c.Room.ReapInterval <= 0 {
		return errors.New("reap interval must be positive")
	}
	if c.Room.QueueSize <= 0 {
		return errors.New("queue size must be positive")
	}

	if c.Catalog == nil {
		return errors.New("catalog configuration is required")
	}
	if c.Catalog.Enabled {
		if c.Catalog.Database == nil {
			return errors.New("catalog database configuration is required")
		}
		if err := c.Catalog.Database.Validate(); err != nil {
			return fmt.Errorf("catalog database: %w", err)
		}
	}

	if c.ICE == nil {
		return errors.New("ICE configuration is required")
	}
	for i, s := range c.ICE.Servers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("ICE server %d has no URLs", i)
		}
	}

	if c.Log == nil {
		return errors.New("log configuration is required")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", c.Log.Format)
	}

	return nil
}

// setDefaults registers every key so env overrides are visible to Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)
	v.SetDefault("http.allowed_origins", d.HTTP.AllowedOrigins)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.buffer_size", d.WebSocket.BufferSize)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)

	v.SetDefault("room.chat_history_limit", d.Room.ChatHistoryLimit)
	v.SetDefault("room.chat_rate_limit", d.Room.ChatRateLimit)
	v.SetDefault("room.delete_when_empty", d.Room.DeleteWhenEmpty)
	v.SetDefault("room.evict_delay", d.Room.EvictDelay)
	v.SetDefault("room.idle_ttl", d.Room.IdleTTL)
	v.SetDefault("room.reap_interval", d.Room.ReapInterval)
	v.SetDefault("room.queue_size", d.Room.QueueSize)

	v.SetDefault("catalog.enabled", d.Catalog.Enabled)
	v.SetDefault("catalog.cache_ttl", d.Catalog.CacheTTL)
	v.SetDefault("catalog.database.path", d.Catalog.Database.DatabasePath)
	v.SetDefault("catalog.database.max_connections", d.Catalog.Database.MaxConnections)
	v.SetDefault("catalog.database.conn_max_lifetime", d.Catalog.Database.ConnMaxLifetime)
	v.SetDefault("catalog.database.conn_max_idle_time", d.Catalog.Database.ConnMaxIdleTime)

	v.SetDefault("ice.servers", d.ICE.Servers)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// RegisterFlags adds the command-line overrides to fs. Flag defaults mirror
// DefaultConfig so an unset flag never masks env or file values.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.String("config", "", "config file (json, yaml or toml)")
	fs.String("host", d.HTTP.Host, "HTTP listen host")
	fs.IntP("port", "p", d.HTTP.Port, "HTTP listen port")
	fs.StringSlice("allowed-origins", nil, "allowed WebSocket origins (empty allows any)")
	fs.StringP("log-level", "l", d.Log.Level, "log level")
	fs.String("log-format", d.Log.Format, "log format: json or console")
	fs.Bool("catalog", d.Catalog.Enabled, "validate joins against the class catalog")
	fs.String("db-path", d.Catalog.Database.DatabasePath, "class catalog SQLite path")
	fs.Int("chat-history", d.Room.ChatHistoryLimit, "chat messages kept per room")
	fs.Int("chat-rate-limit", d.Room.ChatRateLimit, "chat messages per user per minute (0 disables)")
	fs.Bool("delete-empty-rooms", d.Room.DeleteWhenEmpty, "delete rooms when the last participant leaves")
	fs.Duration("idle-ttl", d.Room.IdleTTL, "reap empty rooms idle this long (0 disables)")
}

var flagKeys = map[string]string{
	"host":               "http.host",
	"port":               "http.port",
	"allowed-origins":    "http.allowed_origins",
	"log-level":          "log.level",
	"log-format":         "log.format",
	"catalog":            "catalog.enabled",
	"db-path":            "catalog.database.path",
	"chat-history":       "room.chat_history_limit",
	"chat-rate-limit":    "room.chat_rate_limit",
	"delete-empty-rooms": "room.delete_when_empty",
	"idle-ttl":           "room.idle_ttl",
}

// Load resolves configuration with precedence flags > env > file > defaults.
// fs may be nil; file may be empty.
func Load(v *viper.Viper, fs *pflag.FlagSet, file string) (*Config, error) {
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if flag := fs.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
		if file == "" {
			if flag := fs.Lookup("config"); flag != nil {
				file = flag.Value.String()
			}
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
