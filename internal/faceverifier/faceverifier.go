// Package faceverifier defines the contract of the external face embedding
// capability: it detects and aligns a face in each photo, embeds both and
// reports their distance.
package faceverifier

import (
	"context"
	"errors"
	"math"

	"github.com/roshnikumari-21/facematch/internal/imageprocessor"
)

// ErrFaceNotDetected is returned when the capability cannot locate a face in
// one or both photos while detection is enforced.
var ErrFaceNotDetected = errors.New("face not detected")

// ErrMalformedResponse marks a capability reply that could not be interpreted.
var ErrMalformedResponse = errors.New("malformed capability response")

// ValidDistance reports whether d can be a capability distance: finite and
// not negative.
func ValidDistance(d float64) bool {
	return d >= 0 && !math.IsInf(d, 1)
}

// Options selects the model pipeline the capability runs.
type Options struct {
	ModelName        string
	DetectorBackend  string
	DistanceMetric   string
	EnforceDetection bool
	Align            bool
}

// Comparison is the raw answer of the capability. Verified reflects the
// capability's own threshold and is informational only.
type Comparison struct {
	Distance        float64
	Threshold       float64
	Verified        bool
	Model           string
	DetectorBackend string
	DistanceMetric  string
}

// Verifier compares two normalized photos.
type Verifier interface {
	Verify(ctx context.Context, img1, img2 *imageprocessor.Image, opts Options) (*Comparison, error)
}
