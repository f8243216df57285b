package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roshnikumari-21/facematch/internal/imageprocessor"
	"github.com/roshnikumari-21/facematch/internal/logging"
	"github.com/roshnikumari-21/facematch/internal/usecase"
)

// MaxUploadSize is the default request body limit for /match_faces.
const MaxUploadSize = 10 << 20

const (
	idImageField   = "id_image"
	liveImageField = "live_image"
)

// Matcher is the decision engine used by /match_faces.
type Matcher interface {
	MatchFaces(ctx context.Context, id, live *imageprocessor.Image) (*usecase.Outcome, error)
}

// Normalizer converts a raw field value into an RGB image.
type Normalizer interface {
	Normalize(src any) (*imageprocessor.Image, error)
}

// Options tunes the routes. Zero values select defaults.
type Options struct {
	MaxUploadBytes int64
	Metrics        http.Handler
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc Matcher, normalizer Normalizer, logger *zap.Logger, opts Options) {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = MaxUploadSize
	}
	logger = logger.Named("handlers")

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	router.POST("/match_faces", func(c *gin.Context) {
		ctx := c.Request.Context()
		opLogger := logging.WithOperation(logger, "handlers.match_faces", logging.RequestIDFromContext(ctx))

		src, err := readImageSource(c, opts.MaxUploadBytes)
		if err != nil {
			if isBodyTooLarge(err) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
				return
			}
			opLogger.Warn("failed to parse request body", zap.Error(err))
		}

		idImage := normalizeField(src, idImageField, normalizer, opLogger)
		liveImage := normalizeField(src, liveImageField, normalizer, opLogger)

		outcome, err := uc.MatchFaces(ctx, idImage, liveImage)
		switch {
		case errors.Is(err, usecase.ErrMissingOrInvalidImage):
			c.JSON(http.StatusBadRequest, gin.H{"error": usecase.MissingOrInvalidImageMessage})
		case err != nil:
			opLogger.Error("match faces failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, outcome.Response())
		}
	})
}

func normalizeField(src *imageSource, field string, normalizer Normalizer, logger *zap.Logger) *imageprocessor.Image {
	raw, ok := src.lookup(field)
	if !ok {
		logger.Info("image field missing", zap.String("field", field))
		return nil
	}
	if closer, ok := raw.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	img, err := normalizer.Normalize(raw)
	if err != nil {
		kind, _ := imageprocessor.KindOf(err)
		logger.Warn("image normalization failed",
			zap.String("field", field),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return nil
	}
	return img
}
