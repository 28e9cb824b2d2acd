package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"greenroom/internal/api"
	"greenroom/internal/config"
	"greenroom/internal/credential"
	"greenroom/internal/database"
	"greenroom/internal/monitor"
	"greenroom/internal/payment"
	"greenroom/internal/presence"
	"greenroom/internal/registry"
	"greenroom/pkg/interfaces"

	pkgdatabase "greenroom/pkg/database"
)

// Application coordinates all system components.
type Application struct {
	config      *config.Config
	log         *logrus.Logger
	dbManager   *database.Manager
	refundQueue *payment.AMQPRefundQueue
	sessions    *registry.Manager
	watchdog    *monitor.Monitor
	httpServer  *http.Server
}

// NewApplication initializes components in dependency order:
// database -> migrations -> payment -> registry -> monitor -> API -> HTTP.
func NewApplication(cfg *config.Config, log *logrus.Logger) (*Application, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: cfg.Database.Timeout,
		MigrationsPath:  cfg.Database.MigrationsPath,
	}

	dbManager, err := database.NewManager(dbConfig, log.WithField("component", "database"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrations := pkgdatabase.NewMigrationManager(dbManager.GetDB(), dbConfig.MigrationsPath)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := pkgdatabase.NewSchemaValidator(dbManager.GetDB()).ValidateTablesExist(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	gateway := payment.NewClient(cfg.Payment.GatewayURL, cfg.Payment.Timeout, log.WithField("component", "payment"))

	var refundQueue *payment.AMQPRefundQueue
	var refunds interfaces.RefundQueue
	if cfg.AMQP.URL != "" {
		refundQueue, err = payment.NewAMQPRefundQueue(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			_ = dbManager.Close()
			return nil, fmt.Errorf("failed to initialize refund queue: %w", err)
		}
		refunds = refundQueue
	}

	issuer := credential.NewIssuer([]byte(cfg.Session.CredentialSecret), cfg.Session.CredentialTTL)

	sessions := registry.NewManager(registry.Deps{
		Consultations: dbManager,
		Archive:       dbManager,
		Payments:      gateway,
		Refunds:       refunds,
		Stats:         dbManager,
		Issuer:        issuer,
	}, registry.Policy{
		MaxSessionDuration:     cfg.Session.MaxDuration,
		MinimumBillableMinutes: cfg.Session.MinimumBillableMinutes,
	}, log.WithField("component", "registry"))

	watchdog := monitor.New(monitor.Config{
		Interval:           cfg.Session.MonitorInterval,
		MaxSessionDuration: cfg.Session.MaxDuration,
		InactivityWindow:   cfg.Session.InactivityWindow,
	}, log.WithField("component", "monitor"))
	watchdog.Bind(sessions)
	sessions.SetWatcher(watchdog)

	apiServer := api.NewServer(sessions, issuer, dbManager, log.WithField("component", "api"))
	presenceHandler := presence.NewHandler(sessions, issuer, log.WithField("component", "presence"))

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", presenceHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		log:         log,
		dbManager:   dbManager,
		refundQueue: refundQueue,
		sessions:    sessions,
		watchdog:    watchdog,
		httpServer:  httpServer,
	}, nil
}

// Start begins serving. It returns once the listener is up.
func (app *Application) Start(ctx context.Context) error {
	app.log.WithField("addr", app.httpServer.Addr).Info("starting greenroom")

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info("greenroom started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order: HTTP first so no
// new sessions arrive, then every outstanding watchdog, then the database.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("shutting down greenroom")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.WithError(err).Warn("HTTP server shutdown error")
	}

	app.sessions.Shutdown()
	app.watchdog.Shutdown()

	if app.refundQueue != nil {
		app.refundQueue.Close()
	}

	if err := app.dbManager.Close(); err != nil {
		app.log.WithError(err).Warn("database shutdown error")
	}

	app.log.Info("greenroom shutdown complete")
	return nil
}
