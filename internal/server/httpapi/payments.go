package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/dmitrijs2005/leasekeeper/internal/server/services"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

const eventPaymentSucceeded = "payment.succeeded"

type paymentEvent struct {
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Amount struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"amount"`
		Metadata struct {
			TelegramUserID    string `json:"tg_user_id"`
			InternalPaymentID string `json:"internal_payment_id"`
		} `json:"metadata"`
	} `json:"object"`
}

func (ev paymentEvent) confirmation() (services.PaymentConfirmation, error) {
	o := ev.Object
	owner, err := strconv.ParseInt(strings.TrimSpace(o.Metadata.TelegramUserID), 10, 64)
	if err != nil || owner <= 0 {
		return services.PaymentConfirmation{}, errors.New("metadata.tg_user_id must be a positive integer")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(o.Amount.Value))
	if err != nil {
		return services.PaymentConfirmation{}, errors.New("amount.value is not a number")
	}
	id := o.Metadata.InternalPaymentID
	if strings.TrimSpace(id) == "" {
		id = o.ID
	}
	return services.PaymentConfirmation{
		PaymentID:       id,
		OwnerTelegramID: owner,
		Amount:          amount,
		Currency:        o.Amount.Currency,
	}, nil
}

func isClientError(err error) bool {
	return errors.Is(err, common.ErrValidation) ||
		errors.Is(err, common.ErrBadCurrency) ||
		errors.Is(err, common.ErrAmountTooLow) ||
		errors.Is(err, common.ErrorNotFound)
}

// handlePayment applies a payment confirmation. Client errors get 4xx so the
// provider stops redelivering; internal failures get 5xx so it retries.
func (s *Server) handlePayment(c echo.Context) error {
	ctx := c.Request().Context()

	var ev paymentEvent
	if err := c.Bind(&ev); err != nil {
		return c.String(http.StatusBadRequest, "Bad Request")
	}
	if ev.Event != eventPaymentSucceeded {
		s.logger.Info(ctx, "payment event ignored", "event", ev.Event)
		return c.NoContent(http.StatusOK)
	}

	p, err := ev.confirmation()
	if err != nil {
		s.logger.Warn(ctx, "payment rejected", "error", err)
		return c.String(http.StatusBadRequest, "Bad Request")
	}

	_, err = s.payments.TopUp(ctx, p)
	switch {
	case err == nil:
		return c.NoContent(http.StatusOK)
	case errors.Is(err, common.ErrDuplicateReference):
		s.logger.Info(ctx, "payment already applied", "payment_id", p.PaymentID)
		return c.NoContent(http.StatusOK)
	case errors.Is(err, common.ErrorNotFound):
		s.logger.Warn(ctx, "payment for unknown owner", "payment_id", p.PaymentID, "owner", p.OwnerTelegramID)
		return c.String(http.StatusBadRequest, "Owner not found")
	case isClientError(err):
		s.logger.Warn(ctx, "payment rejected", "payment_id", p.PaymentID, "error", err)
		return c.String(http.StatusBadRequest, "Bad Request")
	default:
		s.logger.Error(ctx, "payment failed", "payment_id", p.PaymentID, "error", err)
		return c.String(http.StatusInternalServerError, "Internal Error")
	}
}
