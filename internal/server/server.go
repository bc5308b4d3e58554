package server

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run starts the phone-facing server, the desktop bridge and the metrics
// reporter, and blocks until ctx is cancelled or one of them fails. Shutdown
// is bounded by cfg.ShutdownTimeout.
func Run(ctx context.Context, cfg Config, logger *zap.Logger, opts ...Option) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	srv, err := NewServer(cfg, logger, opts...)
	if err != nil {
		return err
	}
	cfg = srv.cfg

	var desktop *DesktopBridge
	if cfg.DesktopAddr != "" {
		desktop = NewDesktopBridge(srv.Hub(), cfg, srv.Metrics(), logger,
			WithSessionState(srv.Profiles(), srv.Settings()))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, ErrServerClosed) {
			return err
		}
		return nil
	})

	if desktop != nil {
		g.Go(desktop.ListenAndServe)
	}

	g.Go(func() error {
		srv.Metrics().Report(gctx, cfg.MetricsInterval, logger)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return shutdown(srv, desktop, cfg.ShutdownTimeout)
	})

	return g.Wait()
}

func shutdown(srv *Server, desktop *DesktopBridge, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if desktop != nil {
		if err := desktop.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
