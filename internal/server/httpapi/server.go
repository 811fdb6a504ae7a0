// Package httpapi is the inbound HTTP surface: marketplace order events,
// payment confirmations, health and Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/leasekeeper/internal/logging"
	"github.com/dmitrijs2005/leasekeeper/internal/server/services"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const shutdownTimeout = 10 * time.Second

type Acquirer interface {
	Acquire(ctx context.Context, req services.AcquireRequest) error
}

type PaymentProcessor interface {
	TopUp(ctx context.Context, p services.PaymentConfirmation) (decimal.Decimal, error)
}

type Server struct {
	address  string
	echo     *echo.Echo
	leases   Acquirer
	payments PaymentProcessor
	logger   logging.Logger

	// in-flight acquisitions started by order events
	pending sync.WaitGroup
}

// requestContext copies the request id into the request context so that
// log lines from handlers and from the acquisitions they start carry it.
func requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.ContextWith(req.Context(), "request_id", id)))
		}
		return next(c)
	}
}

// NewServer builds the echo router. gatherer backs /metrics and may be nil.
func NewServer(address string, logger logging.Logger, leases Acquirer, payments PaymentProcessor, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		address:  address,
		leases:   leases,
		payments: payments,
		logger:   logger.With("module", "http_server"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestContext)
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug(c.Request().Context(), "http request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "took", v.Latency)
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	e.POST("/marketplace/orders", s.handleOrder)
	e.POST("/payments/webhook", s.handlePayment)

	s.echo = e
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down and waits for
// acquisitions that are still in progress.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", "address", s.address)
		if err := s.echo.Start(s.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := s.echo.Shutdown(shutdownCtx)
	s.pending.Wait()
	return err
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
