// Package api exposes the HTTP surface: job submission and queries, worker
// control, the template catalog, and the sandbox preview endpoints.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/boltonhq/bolton/internal/registry"
	"github.com/boltonhq/bolton/internal/sandbox"
	"github.com/boltonhq/bolton/internal/store"
	"github.com/boltonhq/bolton/internal/worker"
	"github.com/gin-gonic/gin"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Store     *store.Store
	Sandbox   *sandbox.Manager
	Registry  *registry.Registry
	Scheduler *worker.Scheduler
	Port      int
	DemoTTL   time.Duration
	Out       io.Writer
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Store == nil {
		return fmt.Errorf("api: store is required")
	}
	if opts.Sandbox == nil {
		return fmt.Errorf("api: sandbox manager is required")
	}
	if opts.Registry == nil {
		return fmt.Errorf("api: registry is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.DemoTTL <= 0 {
		opts.DemoTTL = 30 * time.Minute
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)

	// Reap idle demo sessions in the background.
	go func() {
		ticker := time.NewTicker(opts.DemoTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				opts.Sandbox.ReapDemos(opts.DemoTTL)
			}
		}
	}()

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
