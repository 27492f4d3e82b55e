package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/ai-interview/internal/application/dispatcher"
	"github.com/garyjia/ai-interview/internal/application/port"
	"github.com/garyjia/ai-interview/internal/application/session"
	"github.com/garyjia/ai-interview/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/ai-interview/internal/infrastructure/report"
	httpserver "github.com/garyjia/ai-interview/internal/interfaces/http"
	"github.com/garyjia/ai-interview/pkg/database"
	"go.uber.org/zap"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and are torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	database     *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle
	reports      *report.Generator

	// Application
	dispatcher dispatcher.Dispatcher
	recorder   *session.Recorder
	sessions   *session.Manager

	// Interfaces
	server *httpserver.Server

	// Lifecycle
	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components in dependency order:
// 1. Database, migrations and repositories
// 2. Event dispatcher and transition recorder
// 3. Session manager
// 4. Report generator and HTTP/WebSocket server
//
// The HTTP server is built but not started; run Server().Start.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initDispatcher(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	c.logger.Info("Dispatcher and recorder initialized")

	if err := c.initSessions(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize session manager: %w", err)
	}
	c.logger.Info("Session manager initialized")

	if err := c.initServer(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	c.logger.Info("HTTP server initialized", zap.String("address", c.server.Address()))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
// Every live session is closed before the dispatcher drains, so their final
// transitions and session.closed events are persisted.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever has been initialized. Caller must hold mu.
func (c *Container) teardown() []error {
	var errs []error

	if c.server != nil {
		if err := c.server.Stop(); err != nil {
			c.logger.Error("Failed to stop HTTP server", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop server: %w", err))
		}
		c.server = nil
	}

	if c.sessions != nil {
		c.sessions.CloseAll(context.Background())
		c.logger.Info("Sessions closed")
		c.sessions = nil
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
		c.dispatcher = nil
		c.recorder = nil
	}

	if c.database != nil {
		if err := c.database.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.database = nil
		c.db = nil
		c.repositories = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	if c.database != nil {
		if err := c.database.Ping(); err != nil {
			status.Components["database"] = ComponentHealth{
				Healthy: false,
				Message: fmt.Sprintf("ping failed: %v", err),
			}
			status.Overall = false
		} else {
			status.Components["database"] = ComponentHealth{Healthy: true}
		}
	} else {
		status.set("database", false, "not initialized")
	}

	if c.dispatcher != nil {
		status.Components["dispatcher"] = ComponentHealth{Healthy: true}
	} else {
		status.set("dispatcher", false, "not initialized")
	}

	if c.sessions != nil {
		status.Components["sessions"] = ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("live sessions: %d", c.sessions.Count()),
		}
	} else {
		status.set("sessions", false, "not initialized")
	}

	if c.repositories != nil {
		status.Components["repositories"] = ComponentHealth{Healthy: true}
	} else {
		status.set("repositories", false, "not initialized")
	}

	return status
}

func (h *HealthStatus) set(name string, healthy bool, msg string) {
	h.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
	if !healthy {
		h.Overall = false
	}
}

// initDatabase initializes the database and all repositories using providers.
func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.database = dbBundle.DB
	c.db = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(dbBundle.SqlDB, c.logger)
	if err != nil {
		c.teardown()
		return err
	}

	c.repositories = repos
	return nil
}

// initDispatcher creates the dispatcher and registers the recorder on it.
func (c *Container) initDispatcher() error {
	disp, err := ProvideDispatcher(c.logger.Named("dispatcher"))
	if err != nil {
		return err
	}
	c.dispatcher = disp

	recorder, err := ProvideRecorder(&RecorderDeps{
		Repos:      c.repositories,
		TxManager:  c.db,
		Dispatcher: c.dispatcher,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.recorder = recorder
	return nil
}

func (c *Container) initSessions() error {
	sessions, err := ProvideSessionManager(&SessionDeps{
		Config:     c.config.Session,
		Repos:      c.repositories,
		Dispatcher: c.dispatcher,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.sessions = sessions
	return nil
}

func (c *Container) initServer() error {
	c.reports = report.NewGenerator(c.logger.Named("report"))

	server, err := ProvideHTTPServer(&ServerDeps{
		Config:    &c.config.Server,
		WebSocket: c.config.WebSocket,
		Sessions:  c.sessions,
		Repos:     c.repositories,
		Reports:   c.reports,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.server = server
	return nil
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Sessions returns the session manager.
func (c *Container) Sessions() *session.Manager {
	return c.sessions
}

// Reports returns the report generator.
func (c *Container) Reports() *report.Generator {
	return c.reports
}

// Server returns the HTTP server.
func (c *Container) Server() *httpserver.Server {
	return c.server
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the key/value Logger interfaces
// declared by the application packages.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
