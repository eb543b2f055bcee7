// Package serve implements the serve subcommand: it wires the datastore,
// detection model, object store, pipeline, queue consumer and HTTP API
// together and runs them until interrupted.
package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"github.com/tphakala/yolo-go/internal/api"
	"github.com/tphakala/yolo-go/internal/conf"
	"github.com/tphakala/yolo-go/internal/datastore"
	"github.com/tphakala/yolo-go/internal/imagestore"
	"github.com/tphakala/yolo-go/internal/logging"
	"github.com/tphakala/yolo-go/internal/objectstore"
	"github.com/tphakala/yolo-go/internal/observability"
	"github.com/tphakala/yolo-go/internal/pipeline"
	"github.com/tphakala/yolo-go/internal/queue"
	"github.com/tphakala/yolo-go/internal/yolo"
)

const shutdownTimeout = 10 * time.Second

// Command creates the serve subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the prediction HTTP API and queue consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(settings)
		},
	}
}

func runServer(settings *conf.Settings) error {
	logger := logging.ForService("serve")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ds := datastore.New(settings)
	if ds == nil {
		return fmt.Errorf("no storage backend enabled")
	}
	if err := ds.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer func() {
		if err := ds.Close(); err != nil {
			logger.Error("failed to close datastore", "error", err)
		}
	}()

	images, err := imagestore.New(settings)
	if err != nil {
		return fmt.Errorf("creating image directories: %w", err)
	}

	model, err := yolo.New(settings)
	if err != nil {
		return fmt.Errorf("initializing detection model: %w", err)
	}
	defer model.Close()

	var objects objectstore.Client
	if settings.ObjectStore.Enabled {
		objects, err = objectstore.NewS3Client(settings)
		if err != nil {
			return fmt.Errorf("creating object store client: %w", err)
		}
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	p := pipeline.New(model, ds, images, objects, metrics)

	if settings.Queue.Enabled {
		consumer, err := queue.NewConsumer(ctx, settings, p, metrics)
		if err != nil {
			return fmt.Errorf("creating queue consumer: %w", err)
		}
		go consumer.Run(ctx)
	}

	e := echo.New()
	api.New(e, ds, settings, p, images, metrics)

	errChan := make(chan error, 1)
	go func() {
		addr := ":" + settings.WebServer.Port
		logger.Info("starting HTTP server", "addr", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("HTTP server failed: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	// Stop the consumer before draining the HTTP server.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
