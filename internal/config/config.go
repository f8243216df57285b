// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/roshnikumari-21/facematch/internal/logging"
)

// Capability transports.
const (
	TransportGRPC = "grpc"
	TransportHTTP = "http"
)

// Config is read once at startup and never mutated afterwards.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	ShutdownTimeout time.Duration

	Capability CapabilityConfig

	InferenceWorkers int
	MaxUploadBytes   int64
	MaxImagePixels   int
	CORSAllowOrigins []string
}

// CapabilityConfig locates the face embedding capability.
type CapabilityConfig struct {
	Transport   string
	GRPCAddr    string
	HTTPURL     string
	HealthCheck bool
	Timeout     time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from lookup, which returns "" for unset keys.
func FromEnv(lookup func(string) string) (*Config, error) {
	p := parser{lookup: lookup}

	cfg := &Config{
		HTTPAddr:        p.str("HTTP_ADDR", ":5001"),
		LogLevel:        p.str("LOG_LEVEL", "info"),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		Capability: CapabilityConfig{
			Transport:   strings.ToLower(p.str("CAPABILITY_TRANSPORT", TransportGRPC)),
			GRPCAddr:    p.str("CAPABILITY_GRPC_ADDR", "face-verifier:50051"),
			HTTPURL:     p.str("CAPABILITY_HTTP_URL", "http://deepface:5005"),
			HealthCheck: p.boolean("CAPABILITY_HEALTH_CHECK", true),
			Timeout:     p.duration("CAPABILITY_TIMEOUT", 0),
		},
		InferenceWorkers: p.integer("INFERENCE_WORKERS", runtime.NumCPU()),
		MaxUploadBytes:   int64(p.integer("MAX_UPLOAD_BYTES", 10<<20)),
		MaxImagePixels:   p.integer("MAX_IMAGE_PIXELS", 40_000_000),
		CORSAllowOrigins: p.list("CORS_ALLOW_ORIGINS", []string{"*"}),
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch c.Capability.Transport {
	case TransportGRPC:
		if c.Capability.GRPCAddr == "" {
			errs = append(errs, errors.New("CAPABILITY_GRPC_ADDR is required for grpc transport"))
		}
	case TransportHTTP:
		if c.Capability.HTTPURL == "" {
			errs = append(errs, errors.New("CAPABILITY_HTTP_URL is required for http transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("CAPABILITY_TRANSPORT must be %q or %q, got %q", TransportGRPC, TransportHTTP, c.Capability.Transport))
	}
	if c.InferenceWorkers <= 0 {
		errs = append(errs, fmt.Errorf("INFERENCE_WORKERS must be positive, got %d", c.InferenceWorkers))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes))
	}
	if c.MaxImagePixels <= 0 {
		errs = append(errs, fmt.Errorf("MAX_IMAGE_PIXELS must be positive, got %d", c.MaxImagePixels))
	}
	if c.Capability.Timeout < 0 {
		errs = append(errs, errors.New("CAPABILITY_TIMEOUT must not be negative"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	return errors.Join(errs...)
}

type parser struct {
	lookup func(string) string
	errs   []error
}

func (p *parser) str(key, fallback string) string {
	if value := strings.TrimSpace(p.lookup(key)); value != "" {
		return value
	}
	return fallback
}

func (p *parser) integer(key string, fallback int) int {
	raw := p.str(key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return fallback
	}
	return value
}

func (p *parser) boolean(key string, fallback bool) bool {
	raw := p.str(key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return fallback
	}
	return value
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := p.str(key, "")
	if raw == "" {
		return fallback
	}
	if raw == "0" {
		return 0
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return fallback
	}
	return value
}

func (p *parser) list(key string, fallback []string) []string {
	raw := p.str(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
