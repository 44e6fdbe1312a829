package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/console/internal/application/bulk"
	"github.com/erp/console/internal/application/console"
	"github.com/erp/console/internal/domain/catalog"
	"github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/infrastructure/config"
	"github.com/erp/console/internal/infrastructure/logger"
	"github.com/erp/console/internal/infrastructure/notify"
	"github.com/erp/console/internal/infrastructure/persistence"
	"github.com/erp/console/internal/infrastructure/remote"
	"github.com/erp/console/internal/infrastructure/storage"
	"github.com/erp/console/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// localUserID identifies the operator when the console talks to the
// database directly and there is no session token
const localUserID = "local"

// App holds everything a command needs for one run
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *catalog.Registry
	Console  *console.Console
	Notices  *notify.Center
	Sink     bulk.ExportSink
	Metrics  *telemetry.Recorder

	tracer *telemetry.TracerProvider
	db     *persistence.Database
}

// NewApp builds the console and its infrastructure from cfg
func NewApp(ctx context.Context, cfg *config.Config) (app *App, err error) {
	log, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app = &App{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			app.Close(ctx)
		}
	}()

	app.Registry, err = loadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	app.tracer, err = telemetry.NewTracerProvider(cfg.Tracing, cfg.App.Name, log)
	if err != nil {
		return nil, err
	}

	app.Metrics = telemetry.NewRecorder(log)
	if cfg.Metrics.Enabled {
		if err := app.Metrics.Start(cfg.Metrics.Addr); err != nil {
			return nil, fmt.Errorf("failed to start metrics endpoint: %w", err)
		}
	}

	app.Notices = notify.NewCenter(notify.Config{
		TTL:        cfg.Notify.TTL,
		MaxEntries: cfg.Notify.MaxEntries,
	}, notify.WithLogger(log))

	source, session, err := app.openSource()
	if err != nil {
		return nil, err
	}

	app.Sink, err = storage.NewSink(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize export sink: %w", err)
	}

	app.Console = console.New(session, source, app.Registry,
		console.WithLogger(log),
		console.WithNotifier(app.Notices),
		console.WithMetrics(app.Metrics),
		console.WithExportSink(app.Sink),
		console.WithSuccessNotices(cfg.Listing.SuccessNotices),
	)

	log.Debug("Console ready",
		zap.String("source", cfg.Source.Kind),
		zap.String("export_sink", cfg.Export.Sink),
		zap.String("tenant_id", session.TenantID),
		zap.Bool("tracing", app.tracer.IsEnabled()))
	return app, nil
}

func (a *App) openSource() (listing.DataSource, console.Session, error) {
	cfg := a.Config
	switch cfg.Source.Kind {
	case config.SourceDatabase:
		db, err := persistence.NewDatabase(&cfg.Database, a.Logger)
		if err != nil {
			return nil, console.Session{}, err
		}
		a.db = db
		session := console.Session{UserID: localUserID, TenantID: cfg.Auth.TenantID}
		return persistence.NewTableSource(db.DB, a.Registry), session, nil

	case config.SourceHTTP:
		auth, session, err := remoteAuth(cfg)
		if err != nil {
			return nil, console.Session{}, err
		}
		retry := remote.DefaultRetryConfig()
		retry.MaxRetries = cfg.Remote.MaxRetries
		retry.RetryDelay = cfg.Remote.RetryDelay
		client, err := remote.NewClient(remote.Config{
			BaseURL:    cfg.Remote.BaseURL,
			APIVersion: cfg.Remote.APIVersion,
			Timeout:    cfg.Remote.Timeout,
			RateLimit:  cfg.Remote.RateLimit,
			RateBurst:  cfg.Remote.RateBurst,
			Retry:      retry,
		},
			remote.WithLogger(a.Logger),
			remote.WithTracerProvider(a.tracer.Provider()),
			remote.WithAuthenticator(auth),
		)
		if err != nil {
			return nil, console.Session{}, err
		}
		return remote.NewSource(client, a.Registry), session, nil
	}
	return nil, console.Session{}, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
}

// remoteAuth derives the request authenticator and the operator session
// from the configured token and service key
func remoteAuth(cfg *config.Config) (remote.Authenticator, console.Session, error) {
	var chain remote.Chain
	session := console.Session{TenantID: cfg.Auth.TenantID}

	if cfg.Auth.Token != "" {
		info, err := remote.ParseToken(cfg.Auth.Token)
		if err != nil {
			return nil, console.Session{}, err
		}
		if cfg.Auth.TenantID != "" && cfg.Auth.TenantID != info.TenantID {
			return nil, console.Session{}, fmt.Errorf("auth.tenant_id %q does not match the session token tenant %q",
				cfg.Auth.TenantID, info.TenantID)
		}
		session = console.Session{
			Token:     cfg.Auth.Token,
			UserID:    info.UserID,
			TenantID:  info.TenantID,
			ExpiresAt: info.ExpiresAt,
		}
		chain = append(chain, remote.SessionAuth{Token: session.Token, TenantID: session.TenantID})
	}
	if cfg.Remote.APIKey != "" {
		chain = append(chain, remote.APIKeyAuth{Key: cfg.Remote.APIKey})
		if session.UserID == "" {
			session.UserID = "service"
		}
	}
	if len(chain) == 0 {
		return nil, console.Session{}, errors.New("auth.token or remote.api_key is required for the http source")
	}
	return chain, session, nil
}

// Context returns ctx carrying the session identity for log enrichment
func (a *App) Context(ctx context.Context) context.Context {
	s := a.Console.Session()
	return logger.WithSession(ctx, a.Logger, s.TenantID, s.UserID)
}

// Close releases everything NewApp acquired
func (a *App) Close(ctx context.Context) {
	if a.Console != nil {
		a.Console.Close()
	}
	if a.Metrics != nil {
		if err := a.Metrics.Stop(ctx); err != nil {
			a.Logger.Warn("Failed to stop metrics endpoint", zap.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.Logger.Warn("Failed to shut down tracer provider", zap.Error(err))
		}
	}
	if a.db != nil {
		if stats, err := a.db.Stats(); err == nil {
			a.Logger.Debug("Closing database",
				zap.Int("open_connections", stats.OpenConnections),
				zap.Int64("wait_count", stats.WaitCount),
				zap.Duration("wait_duration", stats.WaitDuration))
		}
		if err := a.db.Close(); err != nil {
			a.Logger.Warn("Failed to close database", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}
