package grpcclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/roshnikumari-21/facematch/internal/faceverifier"
	"github.com/roshnikumari-21/facematch/internal/imageprocessor"
)

const (
	// ServiceName is the fully qualified gRPC service of the capability.
	ServiceName = "faceverify.v1.FaceVerifier"
	// VerifyMethod is the full method name of the unary Verify call.
	VerifyMethod = "/" + ServiceName + "/Verify"
)

// FaceVerifierServer is implemented by capability sidecars written in Go.
type FaceVerifierServer interface {
	Verify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the capability service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FaceVerifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Verify", Handler: verifyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "faceverify/v1/faceverifier.proto",
}

// RegisterFaceVerifierServer registers srv on s.
func RegisterFaceVerifierServer(s grpc.ServiceRegistrar, srv FaceVerifierServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func verifyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FaceVerifierServer).Verify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: VerifyMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FaceVerifierServer).Verify(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// EncodeRequest builds the Verify request for two photos.
func EncodeRequest(img1, img2 *imageprocessor.Image, opts faceverifier.Options) (*structpb.Struct, error) {
	if img1.Empty() || img2.Empty() {
		return nil, fmt.Errorf("encode request: %w", imageprocessor.ErrEmptyImage)
	}
	return structpb.NewStruct(map[string]interface{}{
		"img1":              encodeImage(img1),
		"img2":              encodeImage(img2),
		"model_name":        opts.ModelName,
		"detector_backend":  opts.DetectorBackend,
		"distance_metric":   opts.DistanceMetric,
		"enforce_detection": opts.EnforceDetection,
		"align":             opts.Align,
	})
}

// DecodeRequest is the server side counterpart of EncodeRequest.
func DecodeRequest(req *structpb.Struct) (*imageprocessor.Image, *imageprocessor.Image, faceverifier.Options, error) {
	fields := req.GetFields()
	img1, err := decodeImage(fields["img1"])
	if err != nil {
		return nil, nil, faceverifier.Options{}, fmt.Errorf("img1: %w", err)
	}
	img2, err := decodeImage(fields["img2"])
	if err != nil {
		return nil, nil, faceverifier.Options{}, fmt.Errorf("img2: %w", err)
	}
	opts := faceverifier.Options{
		ModelName:        fields["model_name"].GetStringValue(),
		DetectorBackend:  fields["detector_backend"].GetStringValue(),
		DistanceMetric:   fields["distance_metric"].GetStringValue(),
		EnforceDetection: fields["enforce_detection"].GetBoolValue(),
		Align:            fields["align"].GetBoolValue(),
	}
	return img1, img2, opts, nil
}

// EncodeComparison builds the Verify response.
func EncodeComparison(c *faceverifier.Comparison) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"verified":          c.Verified,
		"distance":          c.Distance,
		"threshold":         c.Threshold,
		"model":             c.Model,
		"detector_backend":  c.DetectorBackend,
		"similarity_metric": c.DistanceMetric,
	})
}

// DecodeComparison reads a Verify response. A missing or non-numeric
// distance is reported as faceverifier.ErrMalformedResponse.
func DecodeComparison(resp *structpb.Struct) (*faceverifier.Comparison, error) {
	fields := resp.GetFields()
	distance, ok := fields["distance"].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return nil, fmt.Errorf("%w: distance missing", faceverifier.ErrMalformedResponse)
	}
	if !faceverifier.ValidDistance(distance.NumberValue) {
		return nil, fmt.Errorf("%w: invalid distance %v", faceverifier.ErrMalformedResponse, distance.NumberValue)
	}
	return &faceverifier.Comparison{
		Distance:        distance.NumberValue,
		Threshold:       fields["threshold"].GetNumberValue(),
		Verified:        fields["verified"].GetBoolValue(),
		Model:           fields["model"].GetStringValue(),
		DetectorBackend: fields["detector_backend"].GetStringValue(),
		DistanceMetric:  fields["similarity_metric"].GetStringValue(),
	}, nil
}

func encodeImage(img *imageprocessor.Image) map[string]interface{} {
	return map[string]interface{}{
		"width":    img.Width,
		"height":   img.Height,
		"channels": imageprocessor.Channels,
		"pixels":   base64.StdEncoding.EncodeToString(img.Pix),
	}
}

func decodeImage(v *structpb.Value) (*imageprocessor.Image, error) {
	fields := v.GetStructValue().GetFields()
	if fields == nil {
		return nil, errors.New("image missing")
	}
	if channels := int(fields["channels"].GetNumberValue()); channels != imageprocessor.Channels {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	pix, err := base64.StdEncoding.DecodeString(fields["pixels"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("decode pixels: %w", err)
	}
	img := &imageprocessor.Image{
		Width:  int(fields["width"].GetNumberValue()),
		Height: int(fields["height"].GetNumberValue()),
		Pix:    pix,
	}
	if img.Empty() || len(pix) != img.Width*img.Height*imageprocessor.Channels {
		return nil, fmt.Errorf("pixel buffer does not match %dx%d", img.Width, img.Height)
	}
	return img, nil
}
