package config

import (
	"strings"

	"github.com/garyjia/ai-interview/internal/application/session"
	"github.com/garyjia/ai-interview/internal/application/turntaking"
	"github.com/garyjia/ai-interview/internal/container"
	"github.com/garyjia/ai-interview/internal/domain/conversation"
	"github.com/garyjia/ai-interview/internal/interfaces/websocket"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	// Validate has already rejected unknown states; an empty value means IDLE
	initial, err := conversation.ParseState(c.Conversation.InitialState)
	if err != nil {
		initial = conversation.StateIdle
	}

	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Server: container.ServerConfig{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			ReadTimeout:     c.Server.ReadTimeout,
			WriteTimeout:    c.Server.WriteTimeout,
			ShutdownTimeout: c.Server.ShutdownTimeout,
			Debug:           strings.EqualFold(c.Logger.Level, "debug"),
		},
		Session: session.Config{
			InitialState:    initial,
			HistoryCapacity: c.Conversation.HistoryCapacity,
			MaxSessions:     c.Conversation.MaxSessions,
			TurnTaking: turntaking.Config{
				ResumeListeningDelay: c.Conversation.ResumeListeningDelay,
				InterruptSettleDelay: c.Conversation.InterruptSettleDelay,
				MaxSpeakingDuration:  c.Conversation.MaxSpeakingDuration,
				BargeInOnInterim:     c.Conversation.BargeInOnInterim,
			},
		},
		WebSocket: websocket.Config{
			PingInterval:    c.WebSocket.PingInterval,
			PongWait:        c.WebSocket.PongWait,
			WriteWait:       c.WebSocket.WriteWait,
			MaxMessageBytes: c.WebSocket.MaxMessageBytes,
			SendBuffer:      c.WebSocket.SendBuffer,
			AllowedOrigins:  c.WebSocket.AllowedOrigins,
		},
	}
}
