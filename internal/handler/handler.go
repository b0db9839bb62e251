// Package handler exposes checkout and payment actions over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"adora-payments/internal/logger"
	"adora-payments/internal/middleware"
	"adora-payments/internal/order"
	"adora-payments/internal/payment"
	"adora-payments/internal/receipt"
	"adora-payments/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Payments is the part of the payment service the HTTP layer drives.
type Payments interface {
	Execute(ctx context.Context, cmd payment.Command) (*payment.Outcome, error)
	HandleCallback(ctx context.Context, gateway order.Gateway, authority string, paid bool) (*payment.Outcome, error)
	Registry() *payment.Registry
}

type Handler struct {
	orders   order.Service
	receipts receipt.Ledger
	payments Payments
}

func NewHandler(orders order.Service, receipts receipt.Ledger, payments Payments) *Handler {
	return &Handler{
		orders:   orders,
		receipts: receipts,
		payments: payments,
	}
}

// Routes mounts every endpoint on r. Authentication must already have run.
func (h *Handler) Routes(r chi.Router) {
	r.With(middleware.RequireUser).Post("/orders", h.Checkout)
	r.Get("/orders/payment-info", h.PaymentInfo)

	r.Get("/payments/providers", h.Providers)
	r.Get("/payments/zarinpal/callback", h.ZarinpalCallback)
	r.Post("/payments/{gateway}/{action}", h.Action)
}

// writeError maps service errors to HTTP responses. Gateway failures carry
// only what is safe to show the customer.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromCtx(r.Context()).With(zap.String("layer", "handler"), zap.String("path", r.URL.Path))

	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		utils.WriteJSONError(w, "order not found", http.StatusNotFound)
		return
	case errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, order.ErrUnknownGateway),
		errors.Is(err, order.ErrProductNotFound),
		errors.Is(err, payment.ErrUnsupportedAction),
		errors.Is(err, payment.ErrWrongGateway),
		errors.Is(err, payment.ErrAuthorityMismatch):
		utils.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, payment.ErrGatewayDisabled):
		utils.WriteJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case errors.Is(err, payment.ErrActionNotAllowed):
		utils.WriteJSONError(w, err.Error(), http.StatusConflict)
		return
	}

	switch payment.KindOf(err) {
	case payment.KindBusiness:
		var be *payment.BusinessError
		errors.As(err, &be)
		utils.WriteJSON(w, http.StatusPaymentRequired, map[string]string{
			"error": strings.TrimSpace(be.Code + " " + be.Message),
			"code":  be.Code,
		})
	case payment.KindTransport:
		log.Warn("gateway unreachable", zap.Error(err))
		utils.WriteJSONError(w, "payment gateway is not responding, please try again later", http.StatusBadGateway)
	case payment.KindIntegrity:
		log.Warn("request rejected", zap.Error(err))
		utils.WriteJSONError(w, "payment request could not be processed", http.StatusUnprocessableEntity)
	default:
		log.Error("request failed", zap.Error(err))
		utils.WriteJSONError(w, "internal server error", http.StatusInternalServerError)
	}
}
