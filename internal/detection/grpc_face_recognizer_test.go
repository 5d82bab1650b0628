package detection

import (
	"context"
	"image"
	"image/color"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func structHandler(fields map[string]any, err error) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.BytesValue)
		if derr := dec(in); derr != nil {
			return nil, derr
		}
		if len(in.GetValue()) == 0 {
			return nil, status.Error(codes.InvalidArgument, "empty image")
		}
		if err != nil {
			return nil, err
		}
		return structpb.NewStruct(fields)
	}
}

func startInferenceServer(t *testing.T, serving healthpb.HealthCheckResponse_ServingStatus) *GRPCFaceRecognizer {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()

	desc := grpc.ServiceDesc{
		ServiceName: InferenceService,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Detect", Handler: structHandler(map[string]any{
				"faces": []any{
					map[string]any{"bbox": []any{4.0, 6.0, 40.0, 50.0}},
					map[string]any{"bbox": []any{1.0}},
				},
			}, nil)},
			{MethodName: "Embed", Handler: structHandler(map[string]any{"embedding": []any{0.5, 0.5, 0.5, 0.5}}, nil)},
			{MethodName: "Mask", Handler: structHandler(map[string]any{"mask_probability": 0.8}, nil)},
		},
	}
	s.RegisterService(&desc, struct{}{})

	hs := health.NewServer()
	hs.SetServingStatus(InferenceService, serving)
	healthpb.RegisterHealthServer(s, hs)

	go s.Serve(lis)
	t.Cleanup(s.Stop)

	fr, err := NewGRPCFaceRecognizer(GRPCFaceRecognizerConfig{
		Endpoint: "passthrough:///bufnet",
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	})
	if err != nil {
		t.Fatalf("NewGRPCFaceRecognizer() error = %v", err)
	}
	t.Cleanup(func() { fr.Close() })
	return fr
}

func TestGRPCFaceRecognizer(t *testing.T) {
	fr := startInferenceServer(t, healthpb.HealthCheckResponse_SERVING)
	ctx := context.Background()
	img := solidImage(48, 48, color.RGBA{R: 50, G: 60, B: 70, A: 255})

	if err := fr.CheckHealth(ctx); err != nil {
		t.Fatalf("CheckHealth() error = %v", err)
	}

	boxes, err := fr.Locate(ctx, img)
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if len(boxes) != 1 || boxes[0] != image.Rect(4, 6, 40, 50) {
		t.Errorf("Locate() = %v", boxes)
	}

	vec, err := fr.Embed(ctx, img)
	if err != nil || len(vec) != 4 || vec[0] != 0.5 {
		t.Errorf("Embed() = %v, %v", vec, err)
	}

	p, err := fr.MaskProbability(ctx, img)
	if err != nil || p != 0.8 {
		t.Errorf("MaskProbability() = %f, %v", p, err)
	}
	if fr.Backend() != BackendGRPC {
		t.Errorf("Backend() = %s", fr.Backend())
	}
}

func TestGRPCFaceRecognizerNotServing(t *testing.T) {
	fr := startInferenceServer(t, healthpb.HealthCheckResponse_NOT_SERVING)
	if err := fr.CheckHealth(context.Background()); err == nil {
		t.Error("CheckHealth() error = nil for NOT_SERVING")
	}
}
