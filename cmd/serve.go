package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roshnikumari-21/facematch/internal/config"
	"github.com/roshnikumari-21/facematch/internal/handlers"
	"github.com/roshnikumari-21/facematch/internal/imageprocessor"
	"github.com/roshnikumari-21/facematch/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server exposing POST /match_faces, GET /health and
GET /metrics. The capability connection is established before the listener
opens.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	startCtx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	verifier, closeVerifier, err := newVerifier(startCtx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to face verifier", zap.Error(err))
		return err
	}
	defer closeVerifier() //nolint:errcheck

	metrics := usecase.NewMetrics()
	pool := usecase.NewInferencePool(cfg.InferenceWorkers)
	uc := usecase.NewVerificationUseCase(verifier, pool, logger,
		usecase.WithMetrics(metrics),
		usecase.WithCallTimeout(cfg.Capability.Timeout),
	)

	router := newRouter(cfg, logger)
	handlers.RegisterRoutes(router, uc, imageprocessor.NewNormalizer(cfg.MaxImagePixels), logger, handlers.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		Metrics:        metrics.Handler(),
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("face match API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.Int("inference_workers", pool.Size()),
		zap.String("capability_transport", cfg.Capability.Transport),
	)
	return serveHTTPServer(server, cfg.ShutdownTimeout, logger)
}

func newRouter(cfg *config.Config, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = cfg.MaxUploadBytes
	router.Use(gin.Recovery(), handlers.RequestID(), handlers.AccessLog(logger), cors.New(corsConfig(cfg.CORSAllowOrigins)))
	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowHeaders = append(c.AllowHeaders, handlers.RequestIDHeader)
	c.ExposeHeaders = []string{handlers.RequestIDHeader}
	for _, origin := range origins {
		if origin == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	return c
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
