package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"classroom/internal/api"
	"classroom/internal/auth"
	"classroom/internal/config"
	"classroom/internal/database"
	"classroom/internal/enrollment"
	"classroom/internal/hub"
	"classroom/internal/leaderboard"
	"classroom/internal/metrics"
	"classroom/internal/persist"
	"classroom/internal/popup"
	"classroom/internal/question"
	"classroom/internal/registry"
	"classroom/internal/router"
	"classroom/internal/signaling"
	"classroom/internal/websocket"
	pkgdatabase "classroom/pkg/database"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	log        *logrus.Entry
	dbManager  *database.Manager
	jobs       *persist.Queue
	registry   *registry.Registry
	metrics    *metrics.Prometheus
	board      leaderboard.Board
	messageHub *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Persist → Enrollment → Registry → Engines → Hub → Auth → WebSocket → API → HTTP
func NewApplication(cfg *config.Config, logger *logrus.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Log.Apply(logger); err != nil {
		return nil, fmt.Errorf("invalid log configuration: %w", err)
	}
	log := logger.WithField("component", "app")

	// STEP 1: Database manager (foundation layer); migrations run on open
	dbManager, err := database.NewManager(&pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
		MigrationsPath:  cfg.Database.MigrationsPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	log.WithField("path", cfg.Database.Path).Info("Database ready")

	// STEP 2: Connection registry and the metrics that sample it
	rooms := registry.New(logger)
	recorder := metrics.NewPrometheus(rooms)

	// STEP 3: Background persistence queue
	jobs := persist.New(persist.Config{
		Capacity:   cfg.Persist.QueueSize,
		Workers:    cfg.Persist.Workers,
		JobTimeout: cfg.Persist.JobTimeout,
	}, logger)
	jobs.OnFailure(recorder.StorageFailure)

	// STEP 4: Enrollment admission backed by the class roster
	admission := enrollment.NewManager(enrollment.Config{
		EnforceEnrollment: cfg.Enrollment.Enforce,
		CacheTTL:          cfg.Enrollment.CacheTTL,
	}, dbManager, logger)

	// STEP 5: Classroom engines
	popups := popup.New(popup.Config{
		InitialDelay:   cfg.Popup.InitialDelay,
		MinInterval:    cfg.Popup.MinInterval,
		MaxInterval:    cfg.Popup.MaxInterval,
		IntervalStep:   cfg.Popup.IntervalStep,
		ResponseWindow: cfg.Popup.ResponseWindow,
		HistorySize:    cfg.Popup.HistorySize,
		Audience:       popup.Audience(cfg.Popup.Audience),
		MatchLatest:    cfg.Popup.MatchLatest,
	}, rooms, dbManager, jobs, recorder, logger)

	questions := question.New(question.Config{
		Window:           cfg.Question.Window,
		PointsPerCorrect: cfg.Question.PointsPerCorrect,
		StoreTimeout:     cfg.Persist.JobTimeout,
	}, rooms, dbManager, jobs, recorder, logger)

	// TECHNICAL DISCOVERY: The leaderboard mirror is optional; an unreachable
	// Redis degrades to the disabled board instead of blocking startup
	board, err := leaderboard.New(context.Background(), leaderboard.Config{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
		Timeout:   cfg.Redis.Timeout,
	}, logger)
	if err != nil {
		log.WithError(err).Warn("Leaderboard disabled")
		board = leaderboard.Nop{}
	}
	questions.OnAward(board)

	relay := signaling.New(rooms, recorder, logger)

	// STEP 6: Router and hub
	messageRouter := router.New(router.Config{
		RateLimit:     cfg.Router.RateLimit,
		RateWindow:    cfg.Router.RateWindow,
		MaxFrameBytes: cfg.WebSocket.MaxFrameBytes,
	}, recorder)

	messageHub, err := hub.New(hub.Config{CleanupInterval: cfg.Router.CleanupInterval}, hub.Deps{
		Registry:  rooms,
		Router:    messageRouter,
		Admission: admission,
		Popups:    popups,
		Questions: questions,
		Relay:     relay,
		Store:     dbManager,
		Jobs:      jobs,
	}, logger)
	if err != nil {
		_ = jobs.Close()
		_ = board.Close()
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize message hub: %w", err)
	}

	// STEP 7: Authentication shared by the socket and the REST API
	authenticator, err := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		_ = jobs.Close()
		_ = board.Close()
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	// STEP 8: WebSocket handler and API server
	wsHandler := websocket.NewHandler(websocket.Config{
		PingInterval:   cfg.WebSocket.PingInterval,
		PongWait:       cfg.WebSocket.ReadTimeout,
		WriteWait:      cfg.WebSocket.WriteTimeout,
		SendBuffer:     cfg.WebSocket.BufferSize,
		MaxFrameBytes:  int64(cfg.WebSocket.MaxFrameBytes),
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, authenticator, messageHub, logger)

	apiServer := api.NewServer(api.Deps{
		Rooms:       rooms,
		Scores:      dbManager,
		Leaderboard: board,
		Auth:        authenticator,
		Metrics:     recorder.Handler(),
		WebSocket:   wsHandler.HandleWebSocket,
	}, logger)

	// STEP 9: HTTP server
	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		log:        log,
		dbManager:  dbManager,
		jobs:       jobs,
		registry:   rooms,
		metrics:    recorder,
		board:      board,
		messageHub: messageHub,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins application execution
// Hub starts first to own the housekeeping loop, then the listener accepts connections
func (app *Application) Start(ctx context.Context) error {
	if err := app.messageHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	// TECHNICAL DISCOVERY: Binding before serving surfaces port conflicts
	// synchronously and resolves port 0 to the real address
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.messageHub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.mu.Lock()
	app.listener = listener
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.log.WithError(err).Error("HTTP server stopped")
		}
	}()

	app.log.WithField("addr", listener.Addr().String()).Info("Classroom coordinator started")
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Hub → Persist → Leaderboard → Database
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("Shutting down classroom coordinator")
	var errs []error

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.WithError(err).Warn("HTTP server shutdown error")
		errs = append(errs, err)
	}

	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.log.WithError(err).Warn("Message hub shutdown error")
		errs = append(errs, err)
	}

	// Pending writes drain before the database closes
	if err := app.jobs.Close(); err != nil {
		app.log.WithError(err).Warn("Persistence queue shutdown error")
		errs = append(errs, err)
	}

	if err := app.board.Close(); err != nil {
		app.log.WithError(err).Warn("Leaderboard shutdown error")
		errs = append(errs, err)
	}

	if err := app.dbManager.Close(); err != nil {
		app.log.WithError(err).Warn("Database shutdown error")
		errs = append(errs, err)
	}

	app.log.Info("Shutdown complete")
	return errors.Join(errs...)
}

// GetAddr returns the bound address once started, the configured one before
func (app *Application) GetAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// ShutdownTimeout bounds how long Stop may wait for in-flight requests
func (app *Application) ShutdownTimeout() time.Duration {
	return app.config.HTTP.ShutdownTimeout
}

// Database exposes the store for administrative seeding
func (app *Application) Database() *database.Manager {
	return app.dbManager
}
