// Package shutdown provides graceful shutdown for the presign/complete HTTP
// endpoints, draining in-flight requests instead of cutting them off
// mid-signature or mid-completion-record.
package shutdown

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// GracefulServe starts srv and blocks until SIGTERM or SIGINT. On signal: new
// connections stop being accepted, active requests (a presign batch still
// fanning out per-file goroutines, or a complete call still firing
// OnUploadComplete hooks) get up to drainTimeout to finish, then the server
// shuts down. A presign or complete call that doesn't finish within
// drainTimeout is cut off like any other connection past Shutdown's deadline —
// callers needing a guarantee beyond that should keep drainTimeout generous
// relative to WithConcurrency's fan-out width.
func GracefulServe(srv *http.Server, drainTimeout time.Duration, logger *slog.Logger) error {
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("pushduck: upload server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		logger.Info("pushduck: shutdown signal received", "signal", sig.String())
	}

	logger.Info("pushduck: draining in-flight presign/complete requests", "timeout", drainTimeout.String())
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("pushduck: graceful shutdown failed", "error", err)
		return err
	}

	logger.Info("pushduck: upload server stopped cleanly")
	return nil
}

// WaitForSignal blocks until SIGTERM or SIGINT, then returns. Useful for a
// host that embeds the pushduck handlers into its own mux and manages its
// own http.Server, but still wants to log the same shutdown signal
// GracefulServe would have reacted to.
func WaitForSignal(logger *slog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	sig := <-quit
	logger.Info("pushduck: shutdown signal received", "signal", sig.String())
}
