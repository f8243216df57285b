package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/roshnikumari-21/facematch/internal/config"
	"github.com/roshnikumari-21/facematch/internal/faceverifier"
	"github.com/roshnikumari-21/facematch/internal/grpcclient"
	"github.com/roshnikumari-21/facematch/internal/handlers"
	"github.com/roshnikumari-21/facematch/internal/imageprocessor"
	"github.com/roshnikumari-21/facematch/internal/usecase"
)

type blockingVerifier struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingVerifier) Verify(ctx context.Context, img1, img2 *imageprocessor.Image, opts faceverifier.Options) (*faceverifier.Comparison, error) {
	select {
	case <-b.started:
	default:
		close(b.started)
	}
	<-b.release
	return &faceverifier.Comparison{Distance: 0.05, Threshold: 0.3, Verified: true}, nil
}

func TestServerGracefulShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	verifier := &blockingVerifier{started: make(chan struct{}), release: make(chan struct{})}
	defer func() {
		select {
		case <-verifier.release:
		default:
			close(verifier.release)
		}
	}()

	cfg, err := config.FromEnv(func(string) string { return "" })
	if err != nil {
		t.Fatalf("failed to build config: %v", err)
	}
	router := newRouter(cfg, logger)
	uc := usecase.NewVerificationUseCase(verifier, usecase.NewInferencePool(1), logger)
	handlers.RegisterRoutes(router, uc, imageprocessor.NewNormalizer(0), logger, handlers.Options{})

	t.Log("creating listener")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	t.Logf("listening on %s", addr)
	waitForServer(t, addr)

	payload, err := json.Marshal(map[string]string{
		"id_image":   pngDataURI(t),
		"live_image": pngDataURI(t),
	})
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		t.Log("sending request")
		resp, err := client.Post("http://"+addr+"/match_faces", "application/json", bytes.NewReader(payload))
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-verifier.started:
		t.Log("request started")
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	t.Log("sending signal")
	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(verifier.release)
	t.Log("released request")

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(body))
		}
		if !strings.Contains(string(body), `"match":true`) {
			t.Fatalf("unexpected body: %s", string(body))
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
		t.Log("server shutdown complete")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func TestCORSConfig(t *testing.T) {
	all := corsConfig([]string{"*"})
	if !all.AllowAllOrigins || len(all.AllowOrigins) != 0 {
		t.Fatalf("expected all origins, got %+v", all)
	}

	some := corsConfig([]string{"https://exam.example"})
	if some.AllowAllOrigins || len(some.AllowOrigins) != 1 {
		t.Fatalf("expected explicit origins, got %+v", some)
	}
	if err := some.Validate(); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}
}

type fixedCapability struct {
	distance float64
}

func (f *fixedCapability) Verify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, _, _, err := grpcclient.DecodeRequest(req); err != nil {
		return nil, err
	}
	return grpcclient.EncodeComparison(&faceverifier.Comparison{Distance: f.distance, Threshold: 0.3, Verified: true})
}

func startGRPCCapability(t *testing.T, distance float64) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	server := grpc.NewServer()
	grpcclient.RegisterFaceVerifierServer(server, &fixedCapability{distance: distance})
	hs := health.NewServer()
	hs.SetServingStatus(grpcclient.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)
	return lis.Addr().String()
}

func TestMatchCommandPrintsOutcome(t *testing.T) {
	addr := startGRPCCapability(t, 0.22)
	t.Setenv("CAPABILITY_TRANSPORT", "grpc")
	t.Setenv("CAPABILITY_GRPC_ADDR", addr)
	t.Setenv("LOG_LEVEL", "error")

	dir := t.TempDir()
	idPath := filepath.Join(dir, "id.png")
	livePath := filepath.Join(dir, "live.png")
	for _, p := range []string{idPath, livePath} {
		if err := os.WriteFile(p, pngBytes(t), 0o600); err != nil {
			t.Fatalf("failed to write fixture: %v", err)
		}
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"match", "--id", idPath, "--live", livePath})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("match command failed: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(out.Bytes(), &body); err != nil {
		t.Fatalf("output is not json: %v: %s", err, out.String())
	}
	if body["match"] != false || body["warning"] != usecase.MismatchWarning || body["distance"] != 0.22 {
		t.Fatalf("unexpected outcome: %v", body)
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 150, B: 100, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func pngDataURI(t *testing.T) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t))
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
