package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rflorenc/flowdeck/internal/api"
	"github.com/rflorenc/flowdeck/internal/deploy"
	"github.com/rflorenc/flowdeck/internal/models"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func registerServeCommand(root *cobra.Command) {
	root.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Listen address (default :8080)")
}

func serve(ctx context.Context) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.log.Sync()

	checkCtx, cancel := context.WithTimeout(ctx, rt.cfg.RequestTimeout())
	rt.checkInstances(checkCtx)
	cancel()

	server := &api.Server{
		Instances: rt.instances,
		Platforms: rt.platforms,
		Settings:  rt.settings,
		Sweeper:   rt.sweeper(),
		Deploys:   deploy.NewRegistry(),
		Jobs:      models.NewJobStore(),
		Sweeps:    api.NewSweepStore(),
		Metrics:   rt.metrics,
		Gatherer:  rt.registry,
		Logger:    rt.log,
	}

	httpServer := &http.Server{
		Addr:              rt.cfg.Listen,
		Handler:           api.NewRouter(server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("flowdeck %s starting on %s\n", version, rt.cfg.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		rt.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			rt.log.Warn("shutdown", zap.Error(err))
			return err
		}
		return nil
	}
}
