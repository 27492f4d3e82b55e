package container

import (
	"database/sql"
	"fmt"

	"github.com/garyjia/ai-interview/internal/application/dispatcher"
	"github.com/garyjia/ai-interview/internal/application/port"
	"github.com/garyjia/ai-interview/internal/application/session"
	"github.com/garyjia/ai-interview/internal/infrastructure/persistence/repository"
	"github.com/garyjia/ai-interview/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/ai-interview/internal/infrastructure/report"
	httpserver "github.com/garyjia/ai-interview/internal/interfaces/http"
	"github.com/garyjia/ai-interview/internal/interfaces/websocket"
	"github.com/garyjia/ai-interview/pkg/database"
	"go.uber.org/zap"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Session    port.SessionRepository
	Transition port.TransitionRepository
}

// ProvideDatabase opens the database and applies pending migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).Run(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		SqlDB:          db.DB,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Session:    repository.NewSessionRepository(sqlDB, logger),
		Transition: repository.NewTransitionRepository(sqlDB, logger),
	}, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(dispatcher.WithLogger(&zapLoggerAdapter{logger: logger})), nil
}

// RecorderDeps holds dependencies for the transition recorder.
type RecorderDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Logger     *zap.Logger
}

// ProvideRecorder creates the recorder and registers its handlers.
func ProvideRecorder(deps *RecorderDeps) (*session.Recorder, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	recorder := session.NewRecorder(
		deps.Repos.Session,
		deps.Repos.Transition,
		deps.TxManager,
		&zapLoggerAdapter{logger: deps.Logger.Named("recorder")},
	)
	recorder.Register(deps.Dispatcher)
	return recorder, nil
}

// SessionDeps holds dependencies for the session manager.
type SessionDeps struct {
	Config     session.Config
	Repos      *RepositoryBundle
	Dispatcher dispatcher.Dispatcher
	Logger     *zap.Logger
}

// ProvideSessionManager creates the session manager.
func ProvideSessionManager(deps *SessionDeps) (*session.Manager, error) {
	if deps == nil || deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	opts := []session.ManagerOption{
		session.WithLogger(&zapLoggerAdapter{logger: deps.Logger.Named("session")}),
	}
	if deps.Repos != nil {
		opts = append(opts, session.WithRepository(deps.Repos.Session))
	}
	if deps.Dispatcher != nil {
		opts = append(opts, session.WithDispatcher(deps.Dispatcher))
	}

	return session.NewManager(deps.Config, opts...), nil
}

// ServerDeps holds dependencies for the HTTP server.
type ServerDeps struct {
	Config    *ServerConfig
	WebSocket websocket.Config
	Sessions  *session.Manager
	Repos     *RepositoryBundle
	Reports   *report.Generator
	Logger    *zap.Logger
}

// ProvideHTTPServer creates the HTTP server with the session stream route.
func ProvideHTTPServer(deps *ServerDeps) (*httpserver.Server, error) {
	if deps == nil || deps.Config == nil {
		return nil, fmt.Errorf("server config is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	httpLogger := &zapLoggerAdapter{logger: deps.Logger.Named("http")}

	var transitions httpserver.TransitionLog
	if deps.Repos != nil {
		transitions = deps.Repos.Transition
	}
	var reports httpserver.ReportWriter
	if deps.Reports != nil {
		reports = deps.Reports
	}

	handlers := httpserver.NewHandlers(deps.Sessions, transitions, reports, httpLogger)
	stream := websocket.NewHandler(deps.WebSocket, deps.Sessions, deps.Logger.Named("websocket"))

	return httpserver.NewServer(httpserver.ServerConfig{
		Host:            deps.Config.Host,
		Port:            deps.Config.Port,
		ReadTimeout:     deps.Config.ReadTimeout,
		WriteTimeout:    deps.Config.WriteTimeout,
		ShutdownTimeout: deps.Config.ShutdownTimeout,
		Debug:           deps.Config.Debug,
	}, handlers, stream, httpLogger), nil
}
