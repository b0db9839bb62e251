package handler

import (
	"encoding/json"
	"net/http"

	"adora-payments/internal/logger"
	"adora-payments/internal/order"
	"adora-payments/internal/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type checkoutItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type checkoutRequest struct {
	ReceiverName     string          `json:"receiver_name"`
	ReceiverPhone    string          `json:"receiver_phone"`
	DeliveryAddress  string          `json:"delivery_address"`
	Description      string          `json:"description"`
	DeliveryCost     decimal.Decimal `json:"delivery_cost"`
	UseWalletBalance bool            `json:"use_wallet_balance"`
	PaymentMethod    string          `json:"payment_method"`
	PaymentReference string          `json:"payment_reference"`
	Items            []checkoutItem  `json:"items"`
}

type checkoutResponse struct {
	TrackingNumber string `json:"tracking_number"`
	TotalPrice     string `json:"total_price"`
	OrderReward    string `json:"order_reward"`
	PaymentStatus  string `json:"payment_status"`
	PaymentURL     string `json:"payment_url,omitempty"`
}

// Checkout creates an order for the authenticated profile. Online orders
// start their payment right away; the result is polled via PaymentInfo.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromCtx(ctx).With(zap.String("layer", "handler"), zap.String("method", "Checkout"))

	profileID, _ := utils.GetUserIDFromContext(ctx)

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	phone := req.ReceiverPhone
	if phone == "" {
		phone = utils.GetUserPhoneFromContext(ctx)
	}

	in := order.CheckoutInput{
		ProfileID:        profileID,
		ReceiverName:     req.ReceiverName,
		ReceiverPhone:    utils.NormalizePhone(phone),
		DeliveryAddress:  req.DeliveryAddress,
		Description:      req.Description,
		DeliveryCost:     req.DeliveryCost,
		UseWalletBalance: req.UseWalletBalance,
		PaymentMethod:    order.PaymentMethod(req.PaymentMethod),
		PaymentReference: order.Gateway(req.PaymentReference),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, order.CheckoutItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	o, err := h.orders.Checkout(ctx, in)
	if err != nil {
		log.Warn("checkout failed", zap.Error(err))
		writeError(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, checkoutResponse{
		TrackingNumber: o.TrackingNumber,
		TotalPrice:     o.TotalPrice.String(),
		OrderReward:    o.OrderReward.String(),
		PaymentStatus:  string(o.PaymentStatus),
		PaymentURL:     o.PaymentPageURL,
	})
}
