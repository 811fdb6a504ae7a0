package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/logging"
	"github.com/dmitrijs2005/leasekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/leasekeeper/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (l nopLogger) With(...any) logging.Logger          { return l }

type fakeAcquirer struct {
	mu   sync.Mutex
	reqs []services.AcquireRequest
	err  error
	done chan struct{}
}

func newFakeAcquirer() *fakeAcquirer {
	return &fakeAcquirer{done: make(chan struct{}, 16)}
}

func (f *fakeAcquirer) Acquire(ctx context.Context, req services.AcquireRequest) error {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	f.done <- struct{}{}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return f.err
}

func (f *fakeAcquirer) requests() []services.AcquireRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]services.AcquireRequest(nil), f.reqs...)
}

type fakePayments struct {
	got []services.PaymentConfirmation
	err error
}

func (f *fakePayments) TopUp(_ context.Context, p services.PaymentConfirmation) (decimal.Decimal, error) {
	f.got = append(f.got, p)
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return p.Amount, nil
}

func newTestServer(t *testing.T) (*Server, *fakeAcquirer, *fakePayments) {
	t.Helper()
	acq, pay := newFakeAcquirer(), &fakePayments{}
	return NewServer("127.0.0.1:0", nopLogger{}, acq, pay, nil), acq, pay
}

func post(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Acquisition("leased")

	s := NewServer("127.0.0.1:0", nopLogger{}, newFakeAcquirer(), &fakePayments{}, reg)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `leasekeeper_acquisitions_total{outcome="leased"} 1`)
}

func TestMetricsEndpoint_AbsentWithoutGatherer(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, _, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRun_BadAddress(t *testing.T) {
	s := NewServer("127.0.0.1:99999", nopLogger{}, newFakeAcquirer(), &fakePayments{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.Error(t, s.Run(ctx))
}

func TestRun_WaitsForPendingAcquisitions(t *testing.T) {
	s, acq, _ := newTestServer(t)
	release := make(chan struct{})
	blocking := &blockingAcquirer{fake: acq, release: release}
	s.leases = blocking

	rec := post(t, s, "/marketplace/orders",
		`{"event":"order_completed","order_id":"o-1","buyer":"bob","product":"Acc [ID:5]","duration":2}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while an acquisition was in progress")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after the acquisition finished")
	}
}

type blockingAcquirer struct {
	fake    *fakeAcquirer
	release chan struct{}
}

func (b *blockingAcquirer) Acquire(ctx context.Context, req services.AcquireRequest) error {
	<-b.release
	return b.fake.Acquire(ctx, req)
}

func TestUnknownRoute(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := post(t, s, "/nope", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPanicRecovered(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.payments = panickingPayments{}

	rec := post(t, s, "/payments/webhook", `{"event":"payment.succeeded","object":{"id":"p1","amount":{"value":"100.00","currency":"RUB"},"metadata":{"tg_user_id":"1001"}}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panickingPayments struct{}

func (panickingPayments) TopUp(context.Context, services.PaymentConfirmation) (decimal.Decimal, error) {
	panic(errors.New("boom"))
}
