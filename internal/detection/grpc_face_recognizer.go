package detection

import (
	"context"
	"fmt"
	"image"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// InferenceService is the fully qualified gRPC service name of the face inference server.
const InferenceService = "facewatch.inference.v1.Inference"

const (
	methodDetect = "/" + InferenceService + "/Detect"
	methodEmbed  = "/" + InferenceService + "/Embed"
	methodMask   = "/" + InferenceService + "/Mask"
)

// GRPCFaceRecognizer talks to the face inference server over gRPC.
// Requests carry a JPEG in a BytesValue and responses are generic Structs,
// so no generated stubs are required on either side.
type GRPCFaceRecognizer struct {
	endpoint string
	conn     *grpc.ClientConn
	health   healthpb.HealthClient
	timeout  time.Duration
}

// GRPCFaceRecognizerConfig holds configuration for the gRPC face recognizer
type GRPCFaceRecognizerConfig struct {
	Endpoint    string
	Timeout     time.Duration
	DialOptions []grpc.DialOption
}

// NewGRPCFaceRecognizer creates the client connection. The connection is lazy;
// use CheckHealth to verify the server is reachable.
func NewGRPCFaceRecognizer(config GRPCFaceRecognizerConfig) (*GRPCFaceRecognizer, error) {
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, config.DialOptions...)

	conn, err := grpc.NewClient(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client: %w", err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	log.Printf("[GRPCFaceRecognizer] Client created for %s", config.Endpoint)
	return &GRPCFaceRecognizer{
		endpoint: config.Endpoint,
		conn:     conn,
		health:   healthpb.NewHealthClient(conn),
		timeout:  timeout,
	}, nil
}

// Backend implements Embedder.
func (fr *GRPCFaceRecognizer) Backend() Backend { return BackendGRPC }

// CheckHealth queries the standard gRPC health service for the inference service.
func (fr *GRPCFaceRecognizer) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, fr.timeout)
	defer cancel()

	resp, err := fr.health.Check(ctx, &healthpb.HealthCheckRequest{Service: InferenceService})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("service not serving: %s", resp.GetStatus())
	}
	return nil
}

// Locate implements Locator.
func (fr *GRPCFaceRecognizer) Locate(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	resp, err := fr.invoke(ctx, methodDetect, img)
	if err != nil {
		return nil, err
	}

	faces := resp.GetFields()["faces"].GetListValue().GetValues()
	boxes := make([]image.Rectangle, 0, len(faces))
	for _, f := range faces {
		bbox := f.GetStructValue().GetFields()["bbox"].GetListValue().GetValues()
		if len(bbox) < 4 {
			continue
		}
		boxes = append(boxes, image.Rect(
			int(bbox[0].GetNumberValue()), int(bbox[1].GetNumberValue()),
			int(bbox[2].GetNumberValue()), int(bbox[3].GetNumberValue()),
		))
	}
	return boxes, nil
}

// Embed implements Embedder.
func (fr *GRPCFaceRecognizer) Embed(ctx context.Context, crop image.Image) ([]float32, error) {
	resp, err := fr.invoke(ctx, methodEmbed, crop)
	if err != nil {
		return nil, err
	}
	values := resp.GetFields()["embedding"].GetListValue().GetValues()
	if len(values) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v.GetNumberValue())
	}
	return vec, nil
}

// MaskProbability implements MaskClassifier.
func (fr *GRPCFaceRecognizer) MaskProbability(ctx context.Context, crop image.Image) (float64, error) {
	resp, err := fr.invoke(ctx, methodMask, crop)
	if err != nil {
		return 0, err
	}
	v, ok := resp.GetFields()["mask_probability"]
	if !ok {
		return 0, fmt.Errorf("mask_probability missing from response")
	}
	return v.GetNumberValue(), nil
}

func (fr *GRPCFaceRecognizer) invoke(ctx context.Context, method string, img image.Image) (*structpb.Struct, error) {
	data, err := encodeJPEG(img)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, fr.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := fr.conn.Invoke(ctx, method, wrapperspb.Bytes(data), resp); err != nil {
		return nil, fmt.Errorf("%s failed: %w", method, err)
	}
	return resp, nil
}

// Close closes the gRPC connection
func (fr *GRPCFaceRecognizer) Close() error {
	if fr.conn != nil {
		return fr.conn.Close()
	}
	return nil
}
