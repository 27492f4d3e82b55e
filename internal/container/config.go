// Package container provides dependency injection and lifecycle management
// for the interview turn-taking service.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/ai-interview/internal/application/session"
	"github.com/garyjia/ai-interview/internal/interfaces/websocket"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Server configuration
	Server ServerConfig

	// Session holds the machine and turn-taking settings of every session
	Session session.Config

	// WebSocket holds session stream tuning
	WebSocket websocket.Config
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Debug switches gin into debug mode
	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/interview.db",
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Session:   session.DefaultConfig(),
		WebSocket: websocket.DefaultConfig(),
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !c.Session.InitialState.IsValid() {
		return fmt.Errorf("session.initial_state %q is not a conversation state", c.Session.InitialState)
	}
	if c.Session.HistoryCapacity < 1 {
		return fmt.Errorf("session.history_capacity must be at least 1")
	}
	if err := c.Session.TurnTaking.Validate(); err != nil {
		return fmt.Errorf("session.turn_taking: %w", err)
	}
	return nil
}
