package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roshnikumari-21/facematch/internal/faceverifier"
	"github.com/roshnikumari-21/facematch/internal/imageprocessor"
	"github.com/roshnikumari-21/facematch/internal/logging"
)

const (
	// StrictThreshold is the highest cosine distance accepted as a match. It is
	// deliberately below the model's own calibrated threshold (~0.30).
	StrictThreshold = 0.15

	ModelName       = "Facenet512"
	DetectorBackend = "retinaface"
	DistanceMetric  = "cosine"

	MismatchWarning              = "CRITICAL: Different person detected. Face does not match the ID card record."
	FaceNotDetectedMessage       = "Face not detected in one or both images. Please ensure proper lighting and face visibility."
	MissingOrInvalidImageMessage = "Missing or invalid images"
)

// ErrMissingOrInvalidImage is returned when a photo is absent or failed to
// normalize. The capability is not called in that case.
var ErrMissingOrInvalidImage = errors.New("missing or invalid images")

// CapabilityOptions is the fixed model pipeline requested for every pair.
var CapabilityOptions = faceverifier.Options{
	ModelName:        ModelName,
	DetectorBackend:  DetectorBackend,
	DistanceMetric:   DistanceMetric,
	EnforceDetection: true,
	Align:            true,
}

// Outcome is the decision for one identity/live photo pair.
type Outcome struct {
	Match      bool
	Warning    *string
	Confidence float64
	Distance   float64
	Threshold  float64
	Model      string

	// FaceNotDetected is set when the capability found no face; only Match
	// and Error are meaningful then.
	FaceNotDetected bool
	Error           string

	// CapabilityThreshold and GreyZone are kept for logs and metrics.
	CapabilityThreshold float64
	GreyZone            bool
}

// Response renders the client facing JSON body.
func (o *Outcome) Response() map[string]any {
	if o.FaceNotDetected {
		return map[string]any{"match": false, "error": o.Error}
	}
	return map[string]any{
		"match":      o.Match,
		"warning":    o.Warning,
		"confidence": o.Confidence,
		"distance":   o.Distance,
		"threshold":  o.Threshold,
		"model":      o.Model,
	}
}

// Decide applies the strict acceptance policy to a raw distance. The
// capability's own match flag plays no part.
func Decide(distance float64) Outcome {
	match := distance <= StrictThreshold
	outcome := Outcome{
		Match:      match,
		Confidence: Confidence(distance),
		Distance:   distance,
		Threshold:  StrictThreshold,
		Model:      ModelName,
	}
	if !match {
		warning := MismatchWarning
		outcome.Warning = &warning
	}
	return outcome
}

// Confidence is 1 - distance clamped to [0, 1]. It is not a probability.
func Confidence(distance float64) float64 {
	switch {
	case distance <= 0:
		return 1
	case distance < 1:
		return 1 - distance
	default:
		return 0
	}
}

// Option customises a VerificationUseCase.
type Option func(*VerificationUseCase)

// WithCallTimeout bounds each capability call. Zero leaves it unbounded.
func WithCallTimeout(d time.Duration) Option {
	return func(uc *VerificationUseCase) { uc.callTimeout = d }
}

// WithMetrics records decisions on m.
func WithMetrics(m *Metrics) Option {
	return func(uc *VerificationUseCase) { uc.metrics = m }
}

// VerificationUseCase is the decision engine: it calls the capability for a
// normalized photo pair and turns the distance into the final outcome.
type VerificationUseCase struct {
	verifier    faceverifier.Verifier
	pool        *InferencePool
	metrics     *Metrics
	logger      *zap.Logger
	callTimeout time.Duration
}

// NewVerificationUseCase constructs a new use case instance. A nil pool
// leaves capability calls unbounded.
func NewVerificationUseCase(verifier faceverifier.Verifier, pool *InferencePool, logger *zap.Logger, opts ...Option) *VerificationUseCase {
	uc := &VerificationUseCase{
		verifier: verifier,
		pool:     pool,
		logger:   logger.Named("verification_usecase"),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// MatchFaces decides whether live shows the same person as id. A nil or
// empty photo yields ErrMissingOrInvalidImage. A missing face yields an
// Outcome with FaceNotDetected set and a nil error. Any other capability
// failure is returned as an *logging.OperationError.
func (uc *VerificationUseCase) MatchFaces(ctx context.Context, id, live *imageprocessor.Image) (*Outcome, error) {
	requestID := logging.RequestIDFromContext(ctx)
	opLogger := logging.WithOperation(uc.logger, "usecase.match_faces", requestID)

	if id.Empty() || live.Empty() {
		uc.metrics.observeDecision(outcomeInvalidImage)
		return nil, ErrMissingOrInvalidImage
	}

	var cmp *faceverifier.Comparison
	start := time.Now()
	err := uc.pool.Do(ctx, func(ctx context.Context) error {
		if uc.callTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, uc.callTimeout)
			defer cancel()
		}
		uc.metrics.inferenceStarted()
		defer uc.metrics.inferenceFinished(start)

		var err error
		cmp, err = uc.verifier.Verify(ctx, id, live, CapabilityOptions)
		return err
	})

	if errors.Is(err, faceverifier.ErrFaceNotDetected) {
		opLogger.Warn("face detection failed", zap.Error(err))
		uc.metrics.observeDecision(outcomeFaceNotDetected)
		return &Outcome{
			Match:           false,
			FaceNotDetected: true,
			Error:           FaceNotDetectedMessage,
			Threshold:       StrictThreshold,
			Model:           ModelName,
		}, nil
	}
	if err == nil && (cmp == nil || !faceverifier.ValidDistance(cmp.Distance)) {
		err = faceverifier.ErrMalformedResponse
		if cmp != nil {
			err = fmt.Errorf("%w: invalid distance %v", faceverifier.ErrMalformedResponse, cmp.Distance)
		}
	}
	if err != nil {
		wrapped := logging.NewOperationError("usecase.match_faces", requestID, err)
		opLogger.Error("capability call failed", zap.Error(err))
		uc.metrics.observeDecision(outcomeCapabilityError)
		return nil, wrapped
	}

	outcome := Decide(cmp.Distance)
	outcome.CapabilityThreshold = cmp.Threshold
	outcome.GreyZone = !outcome.Match && (cmp.Verified || cmp.Distance <= cmp.Threshold)

	opLogger.Info("match check",
		zap.Float64("distance", outcome.Distance),
		zap.Float64("threshold", outcome.Threshold),
		zap.Float64("capability_threshold", cmp.Threshold),
		zap.Bool("capability_verified", cmp.Verified),
		zap.Bool("match", outcome.Match),
		zap.Bool("grey_zone", outcome.GreyZone),
	)
	uc.metrics.observeOutcome(&outcome)
	return &outcome, nil
}
