package httpapi

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/dmitrijs2005/leasekeeper/internal/server/services"
	"github.com/labstack/echo/v4"
)

const eventOrderCompleted = "order_completed"

var productIDPattern = regexp.MustCompile(`\[ID:(\d+)\]`)

type orderEvent struct {
	Event    string `json:"event"`
	OrderID  string `json:"order_id"`
	Buyer    string `json:"buyer"`
	Product  string `json:"product"`
	Duration *int   `json:"duration"`
}

type reply struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// resourceIDFromProduct extracts the resource id from a listing title such
// as "Account [ID:42] 1h".
func resourceIDFromProduct(product string) (int64, bool) {
	m := productIDPattern.FindStringSubmatch(product)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (ev orderEvent) request() (services.AcquireRequest, error) {
	if strings.TrimSpace(ev.OrderID) == "" || strings.TrimSpace(ev.Buyer) == "" {
		return services.AcquireRequest{}, errors.New("order_id and buyer are required")
	}
	if ev.Duration == nil || *ev.Duration < 1 {
		return services.AcquireRequest{}, errors.New("duration must be at least 1 hour")
	}
	id, ok := resourceIDFromProduct(ev.Product)
	if !ok {
		return services.AcquireRequest{}, errors.New("product carries no [ID:<n>] reference")
	}
	return services.AcquireRequest{
		ResourceID: id,
		Renter:     ev.Buyer,
		Hours:      *ev.Duration,
		OrderRef:   ev.OrderID,
	}, nil
}

// handleOrder accepts a marketplace order and acquires the resource in the
// background. The marketplace only needs to know the event was taken.
func (s *Server) handleOrder(c echo.Context) error {
	var ev orderEvent
	if err := c.Bind(&ev); err != nil {
		return c.JSON(http.StatusBadRequest, reply{Status: "error", Message: "malformed body"})
	}
	if ev.Event != eventOrderCompleted {
		return c.JSON(http.StatusOK, reply{Status: "ignored", Message: "event not handled"})
	}

	req, err := ev.request()
	if err != nil {
		s.logger.Warn(c.Request().Context(), "order rejected", "order_id", ev.OrderID, "error", err)
		return c.JSON(http.StatusBadRequest, reply{Status: "error", Message: err.Error()})
	}

	ctx := context.WithoutCancel(c.Request().Context())
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.acquire(ctx, req)
	}()

	return c.JSON(http.StatusAccepted, reply{Status: "ok", Message: "order received"})
}

func (s *Server) acquire(ctx context.Context, req services.AcquireRequest) {
	err := s.leases.Acquire(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrDuplicateReference):
		s.logger.Info(ctx, "order already processed", "order_id", req.OrderRef)
	default:
		s.logger.Warn(ctx, "order not fulfilled", "order_id", req.OrderRef, "resource_id", req.ResourceID, "error", err)
	}
}
