// Package app wires the source agent together and manages its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/headerkit/source-agent/internal/config"
	"github.com/headerkit/source-agent/internal/registry"
)

// SourceAgent holds every component of a running agent
type SourceAgent struct {
	config     *config.Config
	components *Components
	httpServer *http.Server

	mu          sync.Mutex
	controlAddr string
	ready       chan struct{}
	readyOnce   sync.Once
	closeOnce   sync.Once
}

// Run starts the broadcaster, the WebSocket channel and the control API,
// and blocks until ctx is cancelled or the control API fails. A WebSocket
// bind failure is logged and the agent keeps running without it.
func (a *SourceAgent) Run(ctx context.Context) error {
	defer a.markReady()

	var ln net.Listener
	if a.httpServer != nil {
		var err error
		ln, err = net.Listen("tcp", a.httpServer.Addr)
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
			return fmt.Errorf("control API failed to bind %s: %w", a.httpServer.Addr, err)
		}
		a.mu.Lock()
		a.controlAddr = ln.Addr().String()
		a.mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	if ws := a.components.WebSocket; ws != nil {
		if err := ws.Start(gctx); err != nil {
			slog.Warn("Network broadcast disabled", "error", err)
		}
	}

	g.Go(func() error {
		return a.components.Broadcaster.Run(gctx)
	})

	if ln != nil {
		g.Go(func() error {
			slog.Info("Control API listening", "address", ln.Addr().String())
			if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control API failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultStopTimeout)
			defer cancel()
			if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("control API forced to shutdown: %w", err)
			}
			return nil
		})
	}

	a.markReady()
	slog.Info("Source agent started", "sources", len(a.components.Registry.Sources()))

	err := g.Wait()
	a.Close(context.WithoutCancel(ctx))
	return err
}

// Close stops every component. It is called by Run on exit and is safe
// to call more than once.
func (a *SourceAgent) Close(ctx context.Context) {
	a.closeOnce.Do(func() {
		slog.Info("Shutting down source agent...")
		stopCtx, cancel := context.WithTimeout(ctx, defaultStopTimeout)
		defer cancel()
		a.components.close(stopCtx)
		slog.Info("Source agent shutdown complete")
	})
}

// Ready is closed once Run has bound its listeners
func (a *SourceAgent) Ready() <-chan struct{} {
	return a.ready
}

func (a *SourceAgent) markReady() {
	a.readyOnce.Do(func() { close(a.ready) })
}

// ControlAddr returns the bound control API address, or the configured
// one before Run
func (a *SourceAgent) ControlAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.controlAddr != "" {
		return a.controlAddr
	}
	if a.httpServer != nil {
		return a.httpServer.Addr
	}
	return ""
}

// Registry returns the source registry
func (a *SourceAgent) Registry() *registry.Registry {
	return a.components.Registry
}

// Components returns the wired components
func (a *SourceAgent) Components() *Components {
	return a.components
}

// GetConfig returns the application configuration
func (a *SourceAgent) GetConfig() *config.Config {
	return a.config
}
