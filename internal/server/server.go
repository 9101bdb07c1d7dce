// Package server runs the HTTP listener with graceful shutdown and an
// ordered set of shutdown hooks for the service's resources.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

type hookDefinition struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks is an ordered collection of cleanup functions executed
// after the listener drains. Execution continues even when a hook
// fails.
type ShutdownHooks struct {
	hooks []hookDefinition
}

// AddContext registers a shutdown hook receiving the shutdown context.
// Nil hooks are ignored with a warning.
func (s *ShutdownHooks) AddContext(name string, hook func(context.Context) error) {
	if hook == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}
	s.hooks = append(s.hooks, hookDefinition{name: name, fn: hook})
}

// Add registers a hook that needs no context.
func (s *ShutdownHooks) Add(name string, hook func() error) {
	if hook == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}
	s.AddContext(name, func(context.Context) error { return hook() })
}

// Execute runs all hooks in registration order.
func (s *ShutdownHooks) Execute(ctx context.Context) {
	for _, hook := range s.hooks {
		hookLog := log.With().Str("hook", hook.name).Logger()

		if err := hook.fn(ctx); err != nil {
			hookLog.Warn().Err(err).Msg("shutdown hook failed")
		} else {
			hookLog.Info().Msg("shutdown hook complete")
		}
	}
}

// Run serves until SIGINT/SIGTERM, then drains in-flight requests
// within shutdownTimeout and executes the hooks.
func Run(srv *http.Server, shutdownTimeout time.Duration, hooks *ShutdownHooks) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutdown requested")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("listener shutdown incomplete")
	}

	hooks.Execute(ctx)

	return err
}
