package api

import (
	"fmt"
	"net"

	"github.com/annel0/starfleet/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName имя сервиса в gRPC health
const HealthServiceName = "starfleet.Galaxy"

// HealthServer gRPC сервер со стандартным сервисом grpc.health.v1
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	port   int
}

// NewHealthServer создаёт сервер; статус изначально NOT_SERVING
func NewHealthServer(port int) *HealthServer {
	hs := &HealthServer{
		srv:    grpc.NewServer(),
		health: health.NewServer(),
		port:   port,
	}
	healthpb.RegisterHealthServer(hs.srv, hs.health)
	hs.SetServing(false)
	return hs
}

// SetServing переключает статус сервиса и общий статус сервера
func (hs *HealthServer) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.health.SetServingStatus("", status)
	hs.health.SetServingStatus(HealthServiceName, status)
}

// Serve обслуживает lis до Stop
func (hs *HealthServer) Serve(lis net.Listener) error {
	logging.Info("🩺 gRPC health слушает %s", lis.Addr())
	return hs.srv.Serve(lis)
}

// Listen открывает порт и обслуживает его в отдельной горутине
func (hs *HealthServer) Listen() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", hs.port))
	if err != nil {
		return fmt.Errorf("grpc health: listen :%d: %w", hs.port, err)
	}
	go func() {
		if err := hs.Serve(lis); err != nil {
			logging.Error("❌ gRPC health: %v", err)
		}
	}()
	return nil
}

// Stop помечает сервис недоступным и дожидается завершения вызовов
func (hs *HealthServer) Stop() {
	hs.health.Shutdown()
	hs.srv.GracefulStop()
}
