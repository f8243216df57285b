// Package deepface implements the face verification capability on top of a
// DeepFace REST server.
package deepface

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roshnikumari-21/facematch/internal/faceverifier"
	"github.com/roshnikumari-21/facematch/internal/imageprocessor"
	"github.com/roshnikumari-21/facematch/internal/logging"
)

// faceNotDetectedMarker is the text DeepFace raises when enforce_detection
// finds no face.
const faceNotDetectedMarker = "Face could not be detected"

const maxErrorBody = 64 << 10

type verifyRequest struct {
	Img1             string `json:"img1"`
	Img2             string `json:"img2"`
	ModelName        string `json:"model_name"`
	DetectorBackend  string `json:"detector_backend"`
	DistanceMetric   string `json:"distance_metric"`
	EnforceDetection bool   `json:"enforce_detection"`
	Align            bool   `json:"align"`
}

type verifyResponse struct {
	Verified         bool     `json:"verified"`
	Distance         *float64 `json:"distance"`
	Threshold        float64  `json:"threshold"`
	Model            string   `json:"model"`
	DetectorBackend  string   `json:"detector_backend"`
	SimilarityMetric string   `json:"similarity_metric"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Exception string `json:"exception"`
}

// Client talks to DeepFace's POST /verify endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient returns a Client for the server at baseURL. A nil httpClient
// selects one without an overall timeout; deadlines come from the context.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		}}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.Named("deepface_client"),
	}
}

// Verify implements faceverifier.Verifier.
func (c *Client) Verify(ctx context.Context, img1, img2 *imageprocessor.Image, opts faceverifier.Options) (*faceverifier.Comparison, error) {
	requestID := logging.RequestIDFromContext(ctx)

	body, err := c.encodeRequest(img1, img2, opts)
	if err != nil {
		return nil, logging.NewOperationError("deepface.encode_request", requestID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return nil, logging.NewOperationError("deepface.build_request", requestID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("deepface.verify", requestID, err)
		c.logger.Error("deepface call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, logging.NewOperationError("deepface.verify", requestID, c.statusError(resp))
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		wrapped := logging.NewOperationError("deepface.decode_response", requestID,
			fmt.Errorf("%w: %v", faceverifier.ErrMalformedResponse, err))
		c.logger.Error("deepface returned malformed response", zap.Error(wrapped))
		return nil, wrapped
	}
	if out.Distance == nil || !faceverifier.ValidDistance(*out.Distance) {
		return nil, logging.NewOperationError("deepface.decode_response", requestID,
			fmt.Errorf("%w: distance missing or invalid", faceverifier.ErrMalformedResponse))
	}

	return &faceverifier.Comparison{
		Distance:        *out.Distance,
		Threshold:       out.Threshold,
		Verified:        out.Verified,
		Model:           out.Model,
		DetectorBackend: out.DetectorBackend,
		DistanceMetric:  out.SimilarityMetric,
	}, nil
}

func (c *Client) encodeRequest(img1, img2 *imageprocessor.Image, opts faceverifier.Options) ([]byte, error) {
	uri1, err := dataURI(img1)
	if err != nil {
		return nil, fmt.Errorf("img1: %w", err)
	}
	uri2, err := dataURI(img2)
	if err != nil {
		return nil, fmt.Errorf("img2: %w", err)
	}
	return json.Marshal(verifyRequest{
		Img1:             uri1,
		Img2:             uri2,
		ModelName:        opts.ModelName,
		DetectorBackend:  opts.DetectorBackend,
		DistanceMetric:   opts.DistanceMetric,
		EnforceDetection: opts.EnforceDetection,
		Align:            opts.Align,
	})
}

func (c *Client) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload errorResponse
	message := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Error != "" {
			message = payload.Error
		} else if payload.Exception != "" {
			message = payload.Exception
		}
	}

	if resp.StatusCode < http.StatusInternalServerError && strings.Contains(message, faceNotDetectedMarker) {
		return fmt.Errorf("%w: %s", faceverifier.ErrFaceNotDetected, firstLine(message))
	}
	c.logger.Error("deepface returned error status", zap.Int("status", resp.StatusCode), zap.String("body", firstLine(message)))
	return fmt.Errorf("deepface status %d: %s", resp.StatusCode, firstLine(message))
}

// dataURI re-encodes the RGB grid losslessly as a PNG data URI.
func dataURI(img *imageprocessor.Image) (string, error) {
	if img.Empty() {
		return "", imageprocessor.ErrEmptyImage
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func firstLine(s string) string {
	if line, _, ok := strings.Cut(s, "\n"); ok {
		return line
	}
	return s
}
