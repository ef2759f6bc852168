package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/containerd/errdefs"
	"github.com/containerd/errdefs/pkg/errgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Full method names of the provider service. Both methods take and return a
// google.protobuf.Struct carrying the JSON contract.
const (
	grpcServiceName = "prdesk.inference.v1.InferenceProvider"
	consultMethod   = "/" + grpcServiceName + "/Consult"
	generateMethod  = "/" + grpcServiceName + "/Generate"
)

var (
	errConnectionShutdown = errors.New("connection shutdown")
	errNotServing         = errors.New("provider not serving")
)

// GrpcClient provides a gRPC client to the inference provider.
type GrpcClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// NewGrpcClient dials the provider at cfg.GRPCAddr and blocks until the
// channel is ready or cfg.ConnectTimeout passes.
func NewGrpcClient(cfg Config, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	conn, err := grpc.NewClient(cfg.GRPCAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("inference provider at %s: %w", cfg.GRPCAddr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := awaitReady(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: inference provider at %s not ready: %w", errdefs.ErrUnavailable, cfg.GRPCAddr, err)
	}

	logger.Info("Connected to inference provider", "transport", TransportGRPC, "address", cfg.GRPCAddr)
	return &GrpcClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.GRPCAddr,
		logger: logger,
	}, nil
}

// awaitReady kicks idle channels and follows state changes until conn is
// ready, shut down, or ctx ends.
func awaitReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if state == connectivity.Shutdown {
			return errConnectionShutdown
		}
		if state == connectivity.Idle {
			conn.Connect()
		}
		if !conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("last state %s: %w", state, ctx.Err())
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Warn("failed to close gRPC connection", "error", err)
		return err
	}
	return nil
}

// Health checks the provider through the standard gRPC health service.
func (c *GrpcClient) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: grpcServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", errgrpc.ToNative(err))
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}
	return nil
}

// Consult runs one consultation call.
func (c *GrpcClient) Consult(ctx context.Context, req ConsultRequest) (*ConsultResponse, error) {
	var resp ConsultResponse
	if err := c.invoke(ctx, consultMethod, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Generate runs one generation call.
func (c *GrpcClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	var resp GenerateResponse
	if err := c.invoke(ctx, generateMethod, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GrpcClient) invoke(ctx context.Context, method string, in, out any) error {
	reqMsg, err := toStruct(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	respMsg := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, reqMsg, respMsg); err != nil {
		c.logger.Debug("Inference provider call failed", "method", method, "error", err)
		return fmt.Errorf("%s: %w", method, errgrpc.ToNative(err))
	}

	if err := fromStruct(respMsg, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrMalformedResponse, method, err)
	}
	return nil
}

// toStruct converts a JSON-tagged value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// fromStruct decodes a protobuf Struct into a JSON-tagged value.
func fromStruct(msg *structpb.Struct, v any) error {
	data, err := protojson.Marshal(msg)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
