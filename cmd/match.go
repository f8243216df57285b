package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roshnikumari-21/facematch/internal/imageprocessor"
	"github.com/roshnikumari-21/facematch/internal/logging"
	"github.com/roshnikumari-21/facematch/internal/usecase"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Compare two local photos",
	Long: `Run the normalizer and the decision engine on two local image files
against the configured capability and print the outcome as JSON.`,
	Example: `  facematch match --id id-card.jpg --live selfie.jpg`,
	RunE:    runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().String("id", "", "Path to the identity photo")
	matchCmd.Flags().String("live", "", "Path to the live photo")
	_ = matchCmd.MarkFlagRequired("id")
	_ = matchCmd.MarkFlagRequired("live")
}

func runMatch(cmd *cobra.Command, _ []string) error {
	idPath, _ := cmd.Flags().GetString("id")
	livePath, _ := cmd.Flags().GetString("live")

	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	normalizer := imageprocessor.NewNormalizer(cfg.MaxImagePixels)
	idImage, err := normalizeFile(normalizer, idPath)
	if err != nil {
		return err
	}
	liveImage, err := normalizeFile(normalizer, livePath)
	if err != nil {
		return err
	}

	ctx := logging.ContextWithRequestID(cmd.Context(), uuid.NewString())
	verifier, closeVerifier, err := newVerifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeVerifier() //nolint:errcheck

	uc := usecase.NewVerificationUseCase(verifier, nil, logger, usecase.WithCallTimeout(cfg.Capability.Timeout))
	outcome, err := uc.MatchFaces(ctx, idImage, liveImage)
	if err != nil {
		logger.Error("match failed", zap.Error(err))
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(outcome.Response())
}

func normalizeFile(normalizer *imageprocessor.Normalizer, path string) (*imageprocessor.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := normalizer.Normalize(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
