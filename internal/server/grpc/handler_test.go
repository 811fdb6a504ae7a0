package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/adminpb"
	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/dmitrijs2005/leasekeeper/internal/server/auth"
	"github.com/dmitrijs2005/leasekeeper/internal/server/models"
	"github.com/dmitrijs2005/leasekeeper/internal/server/services"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ---- fakes ----

type fakeLeases struct {
	ended    []int64
	blocked  []int64
	resource *models.Resource
	stats    models.ResourceStats
	err      error
}

func (f *fakeLeases) EndLease(_ context.Context, id int64) error {
	f.ended = append(f.ended, id)
	return f.err
}

func (f *fakeLeases) Block(_ context.Context, id int64) error {
	f.blocked = append(f.blocked, id)
	return f.err
}

func (f *fakeLeases) Unblock(_ context.Context, id int64) error {
	return f.err
}

func (f *fakeLeases) Get(_ context.Context, id int64) (*models.Resource, models.ResourceStats, error) {
	if f.err != nil {
		return nil, models.ResourceStats{}, f.err
	}
	return f.resource, f.stats, nil
}

type fakeSweeps struct {
	res     services.SweepResult
	err     error
	cleared []int64
}

func (f *fakeSweeps) Sweep(context.Context) (services.SweepResult, error) {
	return f.res, f.err
}

func (f *fakeSweeps) ClearBackoff(_ context.Context, id int64) error {
	f.cleared = append(f.cleared, id)
	return f.err
}

type fakeLedger struct {
	end   time.Time
	err   error
	owner int64
	days  int
	plan  string
}

func (f *fakeLedger) GrantSubscription(_ context.Context, owner int64, days int) (time.Time, error) {
	f.owner, f.days = owner, days
	return f.end, f.err
}

func (f *fakeLedger) PurchaseSubscription(_ context.Context, owner int64, plan string) (time.Time, error) {
	f.owner, f.plan = owner, plan
	return f.end, f.err
}

type fakeExporter struct {
	key string
	err error
}

func (f *fakeExporter) Snapshot(context.Context) (string, error) {
	return f.key, f.err
}

type handlerFixture struct {
	srv      *GRPCServer
	leases   *fakeLeases
	sweeps   *fakeSweeps
	ledger   *fakeLedger
	exporter *fakeExporter
}

func newHandlerFixture(t *testing.T, password string) *handlerFixture {
	t.Helper()
	var hash string
	if password != "" {
		h, err := auth.HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		hash = h
	}
	f := &handlerFixture{
		leases:   &fakeLeases{},
		sweeps:   &fakeSweeps{},
		ledger:   &fakeLedger{},
		exporter: &fakeExporter{},
	}
	f.srv = NewGRPCServer("127.0.0.1:0", nopLogger{}, f.leases, f.sweeps, f.ledger, f.exporter,
		AuthConfig{JWTSecret: []byte(testSecret), PasswordHash: hash, TokenTTL: time.Minute})
	return f
}

func assertCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if got := status.Code(err); got != want {
		t.Fatalf("expected code %v, got %v (err=%v)", want, got, err)
	}
}

// ---- handlers ----

func TestLogin(t *testing.T) {
	f := newHandlerFixture(t, "hunter2")
	ctx := context.Background()

	resp, err := f.srv.Login(ctx, wrapperspb.String("hunter2"))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	op, err := auth.GetOperatorFromToken(resp.GetValue(), []byte(testSecret))
	if err != nil || op != operatorName {
		t.Fatalf("token does not carry operator: %q %v", op, err)
	}

	_, err = f.srv.Login(ctx, wrapperspb.String("wrong"))
	assertCode(t, err, codes.Unauthenticated)
}

func TestLogin_DisabledWithoutHash(t *testing.T) {
	f := newHandlerFixture(t, "")

	_, err := f.srv.Login(context.Background(), wrapperspb.String(""))
	assertCode(t, err, codes.Unauthenticated)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{common.ErrorNotFound, codes.NotFound},
		{fmt.Errorf("get: %w", common.ErrorNotFound), codes.NotFound},
		{common.ErrConflict, codes.FailedPrecondition},
		{common.ErrInsufficientBalance, codes.FailedPrecondition},
		{common.ErrDuplicateReference, codes.AlreadyExists},
		{common.ErrValidation, codes.InvalidArgument},
		{common.ErrUnknownPlan, codes.InvalidArgument},
		{common.ErrTimeout, codes.Unavailable},
		{services.ErrSweepRunning, codes.Aborted},
		{errors.New("db down"), codes.Internal},
	}

	for _, tc := range cases {
		f := newHandlerFixture(t, "")
		f.leases.err = tc.err

		_, err := f.srv.EndLease(context.Background(), wrapperspb.Int64(7))
		assertCode(t, err, tc.want)
	}
}

func TestInternalErrorHidesCause(t *testing.T) {
	f := newHandlerFixture(t, "")
	f.leases.err = errors.New("password=swordfish")

	_, err := f.srv.BlockResource(context.Background(), wrapperspb.Int64(1))
	st, _ := status.FromError(err)
	if st.Message() != "internal error" {
		t.Fatalf("cause leaked to client: %q", st.Message())
	}
}

func TestResourceOps(t *testing.T) {
	f := newHandlerFixture(t, "")
	ctx := context.Background()

	if _, err := f.srv.EndLease(ctx, wrapperspb.Int64(3)); err != nil {
		t.Fatalf("EndLease: %v", err)
	}
	if _, err := f.srv.BlockResource(ctx, wrapperspb.Int64(4)); err != nil {
		t.Fatalf("BlockResource: %v", err)
	}
	if _, err := f.srv.UnblockResource(ctx, wrapperspb.Int64(4)); err != nil {
		t.Fatalf("UnblockResource: %v", err)
	}
	if len(f.leases.ended) != 1 || f.leases.ended[0] != 3 {
		t.Fatalf("EndLease not forwarded: %v", f.leases.ended)
	}
	if len(f.leases.blocked) != 1 || f.leases.blocked[0] != 4 {
		t.Fatalf("Block not forwarded: %v", f.leases.blocked)
	}
}

func TestGetResource(t *testing.T) {
	f := newHandlerFixture(t, "")
	renter, ref, secret := "buyer", "order-1", "Secret123456"
	end := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	maxHours := 24
	f.leases.resource = &models.Resource{
		ID:              5,
		OwnerTelegramID: 1001,
		Login:           "player5",
		BaseSecretEnc:   []byte{1, 2, 3},
		CurrentSecret:   &secret,
		PricePerHour:    decimal.RequireFromString("12.5"),
		Status:          models.StatusRented,
		Renter:          &renter,
		LeaseEnd:        &end,
		OrderRef:        &ref,
		MaxLeaseHours:   &maxHours,
		Version:         3,
	}
	f.leases.stats = models.ResourceStats{Total: 4, Rented: 1, Available: 2, Blocked: 1}

	out, err := f.srv.GetResource(context.Background(), wrapperspb.Int64(5))
	if err != nil {
		t.Fatalf("GetResource: %v", err)
	}

	m := out.AsMap()
	if m["login"] != "player5" || m["status"] != "rented" || m["renter"] != "buyer" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["lease_end"] != "2025-03-01T12:00:00Z" || m["price_per_hour"] != "12.50" {
		t.Fatalf("unexpected formatting: %v", m)
	}
	if m["max_lease_hours"] != float64(24) {
		t.Fatalf("unexpected max_lease_hours: %v", m["max_lease_hours"])
	}
	stats, _ := m["owner_stats"].(map[string]any)
	if stats["total"] != float64(4) || stats["blocked"] != float64(1) {
		t.Fatalf("unexpected stats: %v", stats)
	}
	for k, v := range m {
		if v == secret {
			t.Fatalf("secret exposed under %q", k)
		}
	}
}

func TestRunSweep(t *testing.T) {
	f := newHandlerFixture(t, "")
	f.sweeps.res = services.SweepResult{Checked: 5, Reclaimed: 3, Failed: 1, Skipped: 1}

	out, err := f.srv.RunSweep(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	m := out.AsMap()
	if m["checked"] != float64(5) || m["reclaimed"] != float64(3) || m["failed"] != float64(1) {
		t.Fatalf("unexpected sweep result: %v", m)
	}

	f.sweeps.err = services.ErrSweepRunning
	_, err = f.srv.RunSweep(context.Background(), &emptypb.Empty{})
	assertCode(t, err, codes.Aborted)
}

func TestClearReclaimBackoff(t *testing.T) {
	f := newHandlerFixture(t, "")

	if _, err := f.srv.ClearReclaimBackoff(context.Background(), wrapperspb.Int64(9)); err != nil {
		t.Fatalf("ClearReclaimBackoff: %v", err)
	}
	if len(f.sweeps.cleared) != 1 || f.sweeps.cleared[0] != 9 {
		t.Fatalf("ClearBackoff not forwarded: %v", f.sweeps.cleared)
	}
}

func TestGrantSubscription(t *testing.T) {
	f := newHandlerFixture(t, "")
	f.ledger.end = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	in, _ := structpb.NewStruct(map[string]any{"telegram_id": 1001, "days": 30})
	out, err := f.srv.GrantSubscription(context.Background(), in)
	if err != nil {
		t.Fatalf("GrantSubscription: %v", err)
	}
	if f.ledger.owner != 1001 || f.ledger.days != 30 {
		t.Fatalf("arguments not forwarded: %+v", f.ledger)
	}
	if got := out.GetFields()["subscription_end"].GetStringValue(); got != "2025-04-01T00:00:00Z" {
		t.Fatalf("unexpected subscription_end: %q", got)
	}
}

func TestGrantSubscription_BadInput(t *testing.T) {
	f := newHandlerFixture(t, "")

	missing, _ := structpb.NewStruct(map[string]any{"telegram_id": 1001})
	_, err := f.srv.GrantSubscription(context.Background(), missing)
	assertCode(t, err, codes.InvalidArgument)

	fractional, _ := structpb.NewStruct(map[string]any{"telegram_id": 1001, "days": 1.5})
	_, err = f.srv.GrantSubscription(context.Background(), fractional)
	assertCode(t, err, codes.InvalidArgument)

	text, _ := structpb.NewStruct(map[string]any{"telegram_id": "x", "days": 1})
	_, err = f.srv.GrantSubscription(context.Background(), text)
	assertCode(t, err, codes.InvalidArgument)
}

func TestPurchaseSubscription(t *testing.T) {
	f := newHandlerFixture(t, "")
	f.ledger.end = time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)

	in, _ := structpb.NewStruct(map[string]any{"telegram_id": 1001, "plan": "1w"})
	if _, err := f.srv.PurchaseSubscription(context.Background(), in); err != nil {
		t.Fatalf("PurchaseSubscription: %v", err)
	}
	if f.ledger.plan != "1w" {
		t.Fatalf("plan not forwarded: %q", f.ledger.plan)
	}

	f.ledger.err = common.ErrInsufficientBalance
	_, err := f.srv.PurchaseSubscription(context.Background(), in)
	assertCode(t, err, codes.FailedPrecondition)
}

func TestExportSnapshot(t *testing.T) {
	f := newHandlerFixture(t, "")
	f.exporter.key = "snapshots/2025/03/01/abc.json"

	out, err := f.srv.ExportSnapshot(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	if out.GetValue() != f.exporter.key {
		t.Fatalf("unexpected key: %q", out.GetValue())
	}
}

// ---- end to end over bufconn ----

func TestLeaseAdmin_EndToEnd(t *testing.T) {
	f := newHandlerFixture(t, "hunter2")
	f.sweeps.res = services.SweepResult{Checked: 1, Reclaimed: 1}

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer conn.Close()

	client := adminpb.NewLeaseAdminClient(conn)
	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()

	_, err = client.RunSweep(callCtx, &emptypb.Empty{})
	assertCode(t, err, codes.Unauthenticated)

	token, err := client.Login(callCtx, wrapperspb.String("hunter2"))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	authed := metadata.AppendToOutgoingContext(callCtx, common.AccessTokenHeaderName, token.GetValue())
	out, err := client.RunSweep(authed, &emptypb.Empty{})
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if out.GetFields()["reclaimed"].GetNumberValue() != 1 {
		t.Fatalf("unexpected sweep result: %v", out.AsMap())
	}

	hc, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{Service: adminpb.ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if hc.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected health status: %v", hc.GetStatus())
	}
}
