package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roshnikumari-21/facematch/internal/config"
	"github.com/roshnikumari-21/facematch/internal/deepface"
	"github.com/roshnikumari-21/facematch/internal/faceverifier"
	"github.com/roshnikumari-21/facematch/internal/grpcclient"
	"github.com/roshnikumari-21/facematch/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "facematch",
	Short: "Biometric face match service",
	Long: `facematch decides whether a live captured face photo shows the same person
as a reference identity photo. It favours rejecting a genuine user over
admitting an impostor. Without a subcommand it starts the HTTP server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newVerifier connects to the configured capability once per process. The
// returned close function releases the connection.
func newVerifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (faceverifier.Verifier, func() error, error) {
	switch cfg.Capability.Transport {
	case config.TransportHTTP:
		logger.Info("using deepface http capability", zap.String("url", cfg.Capability.HTTPURL))
		return deepface.NewClient(cfg.Capability.HTTPURL, nil, logger), func() error { return nil }, nil
	default:
		verifier, conn, err := grpcclient.DialFaceVerifier(ctx, cfg.Capability.GRPCAddr, cfg.Capability.HealthCheck, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to grpc capability", zap.String("addr", cfg.Capability.GRPCAddr))
		return verifier, conn.Close, nil
	}
}
