package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"ifcsplit/internal/transport"
)

type app struct {
	di  *dependencyInjector
	srv *http.Server
}

func New(ctx context.Context, cfgPath string) *app {
	di := newDI(cfgPath)
	di.Logger()
	mux := http.NewServeMux()
	return &app{
		di: di,
		srv: &http.Server{
			Addr: di.Config().Addr,
			// Logging outermost so the recover path carries the
			// request id and still lands in the access log.
			Handler: transport.LogMiddleware(
				transport.WithRecover(
					di.Router(ctx).MountRoutes(mux),
				),
			),
		},
	}
}

func (a *app) Run(ctx context.Context) error {
	pool := a.di.Pool(ctx)
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(ctx)
	}()

	if cfg := a.di.Config().Retention; cfg.Enabled {
		pool.StartCleanup(ctx, cfg.Interval, cfg.MaxAge)
		slog.Info("retention janitor running",
			slog.String("interval", cfg.Interval.String()),
			slog.String("max_age", cfg.MaxAge.String()),
		)
	}

	errCh := make(chan error)
	go func() {
		slog.Info("starting server", slog.String("addr", a.srv.Addr))
		if e := a.srv.ListenAndServe(); e != nil && !errors.Is(e, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", e.Error()))
			errCh <- e
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		a.di.Config().ShutdownTimeout,
	)
	defer cancel()

	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
		return err
	}

	// In-flight jobs get until the shutdown deadline to return their
	// slots; anything still running is recovered on next start.
	select {
	case <-poolDone:
	case <-shutdownCtx.Done():
		slog.Warn("worker pool did not drain before deadline")
	}

	slog.Info("server gracefully stopped")
	return nil
}
