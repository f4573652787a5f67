package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	manpower "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
	otelexport "github.com/Official-TiredRice-ch/FC-Manpower-1.0/metrics/export/otel"
	promexport "github.com/Official-TiredRice-ch/FC-Manpower-1.0/metrics/export/prometheus"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/web"
)

const (
	meterName       = "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
	shutdownTimeout = 10 * time.Second
)

func newServeCmd(configPath *string) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web app and API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the database schema before serving")
	return cmd
}

func runServe(ctx context.Context, configPath string, migrate bool) error {
	a, err := loadApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrate {
		if err := a.store.Migrate(ctx); err != nil {
			return err
		}
		a.logger.Info("schema applied")
	}

	accounts, err := a.accounts(ctx)
	if err != nil {
		return err
	}

	ctrlCfg := manpower.DefaultConfig()
	ctrlCfg.Audit.Enabled = a.cfg.AuditLog
	instruments := manpower.NewInstruments(ctrlCfg, manpower.NewSlogSink(a.logger))
	defer instruments.Close()

	// Observed on the global meter provider; a no-op until the embedding
	// process installs one.
	meterExport, err := otelexport.NewExporter(otel.Meter(meterName), instruments)
	if err != nil {
		return err
	}
	defer func() { _ = meterExport.Close() }()

	var metricsHandler http.Handler
	if a.cfg.Metrics {
		exporter, err := promexport.NewExporter(instruments)
		if err != nil {
			return err
		}
		if metricsHandler, err = exporter.Handler(); err != nil {
			return err
		}
	}

	contexts, err := web.NewRegistry(
		func(id string) manpower.SessionStore { return accounts.Client(id) },
		web.RegistryConfig{
			CookieSecure: a.cfg.CookieSecure,
			IdleTTL:      a.cfg.ClientIdleTTL,
			Controller:   ctrlCfg,
			Instruments:  instruments,
			Logger:       a.logger.With("component", "contexts"),
		},
	)
	if err != nil {
		return err
	}
	defer contexts.Close()
	go contexts.Run(ctx)

	server, err := web.NewServer(web.Deps{
		Accounts: accounts,
		Records:  a.store,
		Contexts: contexts,
		Metrics:  metricsHandler,
		Logger:   a.logger.With("component", "http"),
	}, web.Config{DistDir: a.cfg.DistDir})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Tearing the contexts down closes open event streams so Shutdown can drain.
	httpServer.RegisterOnShutdown(contexts.Close)

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()
	a.logger.Info("server listening", "addr", httpServer.Addr, "dist", a.cfg.DistDir)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("shutdown incomplete", "error", err)
	}
	if dropped := instruments.AuditDroppedByType(); len(dropped) > 0 {
		a.logger.Warn("audit events were dropped", "by_type", dropped)
	}
	return nil
}
