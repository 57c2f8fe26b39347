package grpc

import (
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type ServerConfig struct {
	RequestTimeout time.Duration
	JWTSecret      string
	// Limiter is optional; nil disables rate limiting.
	Limiter *RateLimiter
}

// NewServer builds a gRPC server exposing the appointments service and the
// standard health service.
func NewServer(svc appointmentsService, cfg ServerConfig, log *zap.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	interceptors := []grpc.UnaryServerInterceptor{
		RequestTimeoutInterceptor(cfg.RequestTimeout),
		AuthInterceptor(cfg.JWTSecret),
	}
	if cfg.Limiter != nil {
		interceptors = append(interceptors, RateLimitInterceptor(cfg.Limiter))
	}

	s := grpc.NewServer(append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(interceptors...)}, opts...)...)
	RegisterAppointmentsServiceServer(s, NewAppointmentsServer(svc, log))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}
