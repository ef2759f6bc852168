package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrMalformedResponse indicates the provider answered with a body that could
// not be decoded into the expected contract.
var ErrMalformedResponse = errors.New("malformed provider response")

// Provider is the capability interface of the external inference service.
// Implementations perform exactly one request per call and honor ctx.
type Provider interface {
	// Consult runs one phase 1 dialogue turn.
	Consult(ctx context.Context, req ConsultRequest) (*ConsultResponse, error)

	// Generate produces exactly one artifact.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// Client is a Provider backed by a network transport.
type Client interface {
	Provider

	// Health checks that the provider is reachable.
	Health(ctx context.Context) error

	// Close releases transport resources.
	Close() error
}

// Transport names accepted by New.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Config selects and configures a provider transport. Zero durations take
// their defaults.
type Config struct {
	Transport string
	HTTPURL   string
	GRPCAddr  string
	Timeout   time.Duration

	// gRPC only.
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.GRPCAddr == "" {
		c.GRPCAddr = "localhost:50051"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.KeepaliveTime <= 0 {
		c.KeepaliveTime = 2 * time.Minute
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = 10 * time.Second
	}
	return c
}

// New builds the client for cfg.Transport.
func New(cfg Config, logger *slog.Logger) (Client, error) {
	switch cfg.Transport {
	case TransportHTTP, "":
		return NewHTTPClient(HTTPClientConfig{BaseURL: cfg.HTTPURL, Timeout: cfg.Timeout}, logger), nil
	case TransportGRPC:
		return NewGrpcClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown inference transport %q", cfg.Transport)
	}
}

// Ensure the transports implement Client.
var (
	_ Client = (*HTTPClient)(nil)
	_ Client = (*GrpcClient)(nil)
)
