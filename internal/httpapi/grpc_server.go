package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"medgate.org/internal/obs"
)

// GRPCHealth serves the standard gRPC health protocol for the service and
// keeps its status in step with store readiness.
type GRPCHealth struct {
	server *health.Server
	ready  Pinger
}

// NewGRPCHealth starts in NOT_SERVING until the first Refresh.
func NewGRPCHealth(ready Pinger) *GRPCHealth {
	h := &GRPCHealth{server: health.NewServer(), ready: ready}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Refresh probes readiness once and publishes the result.
func (h *GRPCHealth) Refresh(ctx context.Context) bool {
	ok := true
	if h.ready != nil {
		if err := h.ready.Ping(ctx); err != nil {
			obs.Logger().Warn().Err(err).Msg("grpc health: store not ready")
			ok = false
		}
	}
	obs.SetReady(ok)
	if ok {
		h.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return ok
}

// Watch refreshes every interval until ctx is done, then reports NOT_SERVING.
func (h *GRPCHealth) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	h.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *GRPCHealth) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(serviceName, status)
}
