package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/roshnikumari-21/facematch/internal/faceverifier"
	"github.com/roshnikumari-21/facematch/internal/imageprocessor"
	"github.com/roshnikumari-21/facematch/internal/logging"
)

const dialTimeout = 5 * time.Second

// DialFaceVerifier connects to the capability once at process start. When
// healthCheck is set the grpc.health.v1 service must report SERVING.
func DialFaceVerifier(ctx context.Context, addr string, healthCheck bool, logger *zap.Logger, extra ...grpc.DialOption) (faceverifier.Verifier, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, extra...)

	conn, err := grpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_face_verifier", "", err)
		logger.Error("failed to dial face verifier", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}

	if healthCheck {
		if err := checkHealth(dialCtx, conn); err != nil {
			conn.Close()
			wrapped := logging.NewOperationError("grpcclient.health_check", "", err)
			logger.Error("face verifier is not serving", zap.Error(wrapped), zap.String("addr", addr))
			return nil, nil, wrapped
		}
	}

	return NewFaceVerifier(conn, logger), conn, nil
}

// NewFaceVerifier wraps an existing connection.
func NewFaceVerifier(conn grpc.ClientConnInterface, logger *zap.Logger) faceverifier.Verifier {
	return &grpcFaceVerifier{conn: conn, logger: logger.Named("grpc_face_verifier")}
}

func checkHealth(ctx context.Context, conn grpc.ClientConnInterface) error {
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("service %s reported %s", ServiceName, resp.GetStatus())
	}
	return nil
}

type grpcFaceVerifier struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (g *grpcFaceVerifier) Verify(ctx context.Context, img1, img2 *imageprocessor.Image, opts faceverifier.Options) (*faceverifier.Comparison, error) {
	requestID := logging.RequestIDFromContext(ctx)

	req, err := EncodeRequest(img1, img2, opts)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.encode_request", requestID, err)
	}
	if requestID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", requestID)
	}

	resp := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, VerifyMethod, req, resp); err != nil {
		if status.Code(err) == codes.FailedPrecondition {
			notFound := fmt.Errorf("%w: %s", faceverifier.ErrFaceNotDetected, status.Convert(err).Message())
			return nil, logging.NewOperationError("grpcclient.verify", requestID, notFound)
		}
		wrapped := logging.NewOperationError("grpcclient.verify", requestID, err)
		g.logger.Error("face verifier call failed", zap.Error(wrapped), zap.String("code", status.Code(err).String()))
		return nil, wrapped
	}

	cmp, err := DecodeComparison(resp)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.decode_response", requestID, err)
		g.logger.Error("face verifier returned malformed response", zap.Error(wrapped))
		return nil, wrapped
	}
	return cmp, nil
}
