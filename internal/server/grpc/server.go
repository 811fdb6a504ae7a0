// Package grpc serves the operator API (leasekeeper.admin.v1.LeaseAdmin)
// and the standard gRPC health service.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/adminpb"
	"github.com/dmitrijs2005/leasekeeper/internal/logging"
	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
	"github.com/dmitrijs2005/leasekeeper/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// LeaseOps is the lease functionality exposed to operators.
type LeaseOps interface {
	EndLease(ctx context.Context, id int64) error
	Block(ctx context.Context, id int64) error
	Unblock(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*models.Resource, models.ResourceStats, error)
}

type SweepOps interface {
	Sweep(ctx context.Context) (services.SweepResult, error)
	ClearBackoff(ctx context.Context, id int64) error
}

type LedgerOps interface {
	GrantSubscription(ctx context.Context, ownerTelegramID int64, days int) (time.Time, error)
	PurchaseSubscription(ctx context.Context, ownerTelegramID int64, planID string) (time.Time, error)
}

type Exporter interface {
	Snapshot(ctx context.Context) (string, error)
}

// AuthConfig holds what the server needs to issue and check tokens.
type AuthConfig struct {
	JWTSecret    []byte
	PasswordHash string
	TokenTTL     time.Duration
}

type GRPCServer struct {
	address  string
	leases   LeaseOps
	sweeps   SweepOps
	ledger   LedgerOps
	exporter Exporter
	auth     AuthConfig
	logger   logging.Logger
	health   *health.Server
}

func NewGRPCServer(a string, l logging.Logger, leases LeaseOps, sweeps SweepOps, ledger LedgerOps, exporter Exporter, auth AuthConfig) *GRPCServer {
	return &GRPCServer{
		address:  a,
		logger:   l.With("module", "grpc_server"),
		leases:   leases,
		sweeps:   sweeps,
		ledger:   ledger,
		exporter: exporter,
		auth:     auth,
		health:   health.NewServer(),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))
	adminpb.RegisterLeaseAdminServer(srv, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus(adminpb.ServiceName, healthpb.HealthCheckResponse_SERVING)
	return srv
}

// Run serves until ctx is cancelled, then stops gracefully.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.serve(ctx, listen)
}

func (s *GRPCServer) serve(ctx context.Context, listen net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
