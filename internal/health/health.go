// Package health exposes the standard gRPC health service so supervisors can
// tell whether the downlink is actually reaching the link.
package health

import (
	"context"
	"log"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/downlink/internal/mavcodec"
	"github.com/banshee-data/downlink/internal/timeutil"
)

// Service is the name reported alongside the server-wide "" entry.
const Service = "downlink"

// DefaultPoll is how often the check function is evaluated.
const DefaultPoll = time.Second

// Serve runs the health service on lis until ctx is cancelled. check is
// polled every poll interval; true maps to SERVING.
func Serve(ctx context.Context, lis net.Listener, check func() bool, poll time.Duration) error {
	if poll <= 0 {
		poll = DefaultPoll
	}

	server := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	setStatus := func(ok bool) {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if ok {
			status = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(Service, status)
	}
	setStatus(check())

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		last := check()
		for {
			select {
			case <-pollCtx.Done():
				hs.Shutdown()
				server.GracefulStop()
				return
			case <-ticker.C:
				ok := check()
				if ok != last {
					log.Printf("[health] link healthy: %v", ok)
					last = ok
				}
				setStatus(ok)
			}
		}
	}()

	log.Printf("[health] gRPC health service listening on %s", lis.Addr())
	err := server.Serve(lis)
	cancel()
	<-done
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// LinkCheck reports healthy while the link has completed a write within
// maxAge.
func LinkCheck(stats func() mavcodec.LinkStats, maxAge time.Duration, clock timeutil.Clock) func() bool {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return func() bool {
		last := stats().LastWrite
		return !last.IsZero() && clock.Since(last) <= maxAge
	}
}
