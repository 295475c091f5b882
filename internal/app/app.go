package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/multierr"

	"roaddamage/internal/config"
	"roaddamage/internal/logger"
	"roaddamage/internal/repository/credentials"
	"roaddamage/internal/repository/sqlite"
	"roaddamage/internal/route"
	"roaddamage/internal/service"
	"roaddamage/internal/service/assessment"
	"roaddamage/internal/service/auth"
	"roaddamage/internal/service/imaging"
	"roaddamage/internal/service/vision"
	"roaddamage/internal/service/websocket"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config        *config.Config
	logger        *logger.Logger
	db            *sqlite.DB
	credentials   *credentials.Store
	authenticator *auth.Authenticator
	hubService    *websocket.HubService
	manager       *service.Manager
	handler       http.Handler
}

// Components are the services shared by the server and the command line tool.
type Components struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             *sqlite.DB
	Credentials    *credentials.Store
	Authenticator  *auth.Authenticator
	AssessmentRepo *sqlite.AssessmentRepository
	FrameRepo      *sqlite.FrameMetricRepository
}

// NewComponents opens the stores described by cfg.
func NewComponents(cfg *config.Config) (*Components, error) {
	log := logger.NewLogger(cfg)

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Close()
		return nil, err
	}

	store, err := credentials.Open(cfg.CredentialsPath)
	if err != nil {
		db.Close()
		log.Close()
		return nil, err
	}

	return &Components{
		Config:         cfg,
		Logger:         log,
		DB:             db,
		Credentials:    store,
		Authenticator:  auth.New(store, cfg.Preauthorization, log),
		AssessmentRepo: sqlite.NewAssessmentRepository(db),
		FrameRepo:      sqlite.NewFrameMetricRepository(db),
	}, nil
}

// NewManager builds the pipeline manager. hub may be nil when nobody watches live.
func (c *Components) NewManager(hub service.Broadcaster) *service.Manager {
	provider := assessment.NewModelProvider(c.Config.ModelPath, c.Config.ModelPolicy, vision.Loader(c.Config, c.Logger))

	return service.NewManager(
		imaging.NewChain(c.Config, c.Logger),
		vision.NewOpener(c.Config),
		provider,
		vision.Annotator{},
		hub,
		vision.EncodeJPEG,
		c.AssessmentRepo,
		c.FrameRepo,
		c.Config,
		c.Logger,
	)
}

// Close releases the stores.
func (c *Components) Close() error {
	return multierr.Combine(c.DB.Close(), c.Logger.Close())
}

func NewApp() (*App, error) {
	cfg := config.Load()

	components, err := NewComponents(cfg)
	if err != nil {
		return nil, err
	}

	hub := websocket.NewHubService(components.Logger)
	mng := components.NewManager(hub)

	router := route.SetupRoutes(route.Dependencies{
		Manager:        mng,
		Hub:            hub,
		Authenticator:  components.Authenticator,
		AssessmentRepo: components.AssessmentRepo,
		FrameRepo:      components.FrameRepo,
		Config:         cfg,
		Logger:         components.Logger,
	})

	return &App{
		config:        cfg,
		logger:        components.Logger,
		db:            components.DB,
		credentials:   components.Credentials,
		authenticator: components.Authenticator,
		hubService:    hub,
		manager:       mng,
		handler:       router,
	}, nil
}

// Run serves HTTP until ctx is done, then shuts the server down and releases everything.
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hubService.Run(hubCtx)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Port),
		Handler: a.handler,
	}

	fmt.Printf("🚀 Road Damage Assessment Server\n")
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("🔑 Credentials: %s\n", a.credentials.Path())
	fmt.Printf("🎞️ Output: %s\n", a.config.OutputDirectory)
	fmt.Printf("🤖 AI Model: %s (%s)\n", a.config.ModelPath, a.config.ModelPolicy)

	if _, err := os.Stat(a.config.ModelPath); err != nil {
		a.logger.Warning("Model checkpoint %s is not readable yet: %v", a.config.ModelPath, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		a.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = server.Shutdown(shutdownCtx)
		cancel()
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	stopHub()
	return multierr.Combine(err, a.manager.Close(), a.db.Close(), a.logger.Close())
}
