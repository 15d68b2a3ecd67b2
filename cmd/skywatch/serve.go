package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	httphandler "github.com/kjstillabower/skywatch/internal/http"
	"github.com/kjstillabower/skywatch/internal/lifecycle"
)

// server bundles the local dashboard server with what shutdown needs.
type server struct {
	srv      *http.Server
	state    *lifecycle.State
	inflight *httphandler.InFlightTracker
}

func (a *app) newServer(addr string) *server {
	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   a.cfg.DegradedWindow,
		DegradedErrorPct: a.cfg.DegradedErrorPct,
	}
	if a.memcached != nil {
		healthConfig.SessionPing = a.memcached.Ping
	}

	var limiter *rate.Limiter
	if a.cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(a.cfg.RateLimitRPS), a.cfg.RateLimitBurst)
	}
	state := &lifecycle.State{}
	inflight := &httphandler.InFlightTracker{}
	handler := httphandler.NewHandler(a.dash, a.tracker, state, healthConfig, a.logger)
	router := httphandler.NewRouter(handler, httphandler.RouterOptions{
		Logger:         a.logger,
		Limiter:        limiter,
		RequestTimeout: a.cfg.RequestTimeout,
		InFlight:       inflight,
	})

	return &server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			// Covers every route. It must exceed RequestTimeout: with api.timeout 0
			// the /api context deadline is the only bound on upstream calls, and the
			// 504 is written after it fires.
			WriteTimeout: a.cfg.RequestTimeout + 5*time.Second,
		},
		state:    state,
		inflight: inflight,
	}
}

func cmdServe(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "serve")
	port := fs.String("port", a.cfg.ServerPort, "listen port")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s := a.newServer(net.JoinHostPort("127.0.0.1", *port))

	ctx, stop := s.state.NotifyShutdown(ctx)
	defer stop()
	return s.run(ctx, a.logger, a.cfg.ShutdownTimeout)
}

// run serves until ctx is done, then drains: stop accepting, wait for
// in-flight requests up to shutdownTimeout.
func (s *server) run(ctx context.Context, logger *zap.Logger, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("graceful shutdown triggered")
	s.state.BeginShutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := s.inflight.WaitForZero(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", s.inflight.Count()))
	}
	logger.Info("shutdown complete")
	return nil
}
