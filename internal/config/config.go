package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/garyjia/ai-interview/internal/domain/conversation"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix prefixes every environment override, e.g. INTERVIEW_SERVER_PORT
const EnvPrefix = "INTERVIEW"

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	WebSocket    WebSocketConfig    `mapstructure:"websocket"`
	Logger       LoggerConfig       `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ConversationConfig holds turn-taking settings applied to every session
type ConversationConfig struct {
	InitialState         string        `mapstructure:"initial_state"`
	HistoryCapacity      int           `mapstructure:"history_capacity"`
	MaxSessions          int           `mapstructure:"max_sessions"`
	ResumeListeningDelay time.Duration `mapstructure:"resume_listening_delay"`
	InterruptSettleDelay time.Duration `mapstructure:"interrupt_settle_delay"`
	MaxSpeakingDuration  time.Duration `mapstructure:"max_speaking_duration"`
	BargeInOnInterim     bool          `mapstructure:"barge_in_on_interim"`
}

// WebSocketConfig holds the session socket settings
type WebSocketConfig struct {
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads configuration from an optional YAML file, a .env file in the
// working directory and INTERVIEW_* environment variables, in rising priority.
func Load(configPath string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := gotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.path", "data/interview.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)

	v.SetDefault("conversation.initial_state", string(conversation.StateIdle))
	v.SetDefault("conversation.history_capacity", conversation.DefaultHistoryCapacity)
	v.SetDefault("conversation.max_sessions", 0)
	v.SetDefault("conversation.resume_listening_delay", 800*time.Millisecond)
	v.SetDefault("conversation.interrupt_settle_delay", 150*time.Millisecond)
	v.SetDefault("conversation.max_speaking_duration", 0)
	v.SetDefault("conversation.barge_in_on_interim", true)

	v.SetDefault("websocket.ping_interval", 25*time.Second)
	v.SetDefault("websocket.pong_wait", 60*time.Second)
	v.SetDefault("websocket.write_wait", 10*time.Second)
	v.SetDefault("websocket.max_message_bytes", 64*1024)
	v.SetDefault("websocket.send_buffer", 16)
	v.SetDefault("websocket.allowed_origins", []string{})

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars maps INTERVIEW_SECTION_KEY onto section.key
func bindEnvVars(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT")
	_ = v.BindEnv("database.path", EnvPrefix+"_DATABASE_PATH")
	_ = v.BindEnv("logger.level", EnvPrefix+"_LOG_LEVEL", EnvPrefix+"_LOGGER_LEVEL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if _, err := conversation.ParseState(c.Conversation.InitialState); err != nil {
		return fmt.Errorf("conversation.initial_state: %w", err)
	}
	if c.Conversation.HistoryCapacity < 1 {
		return fmt.Errorf("conversation.history_capacity must be at least 1")
	}
	if c.Conversation.MaxSessions < 0 {
		return fmt.Errorf("conversation.max_sessions must not be negative")
	}
	if c.Conversation.ResumeListeningDelay < 0 || c.Conversation.InterruptSettleDelay < 0 || c.Conversation.MaxSpeakingDuration < 0 {
		return fmt.Errorf("conversation delays must not be negative")
	}

	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongWait <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket.pong_wait must be longer than websocket.ping_interval")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("websocket.max_message_bytes must be positive")
	}

	switch strings.ToLower(c.Logger.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format)
	}
	return nil
}

// Exists reports whether a config file is present at path
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
