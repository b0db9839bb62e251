package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"adora-payments/internal/logger"
	"adora-payments/internal/order"
	"adora-payments/internal/payment"
	"adora-payments/internal/receipt"
	"adora-payments/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type cartItem struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Quantity  int             `json:"quantity"`
	SoldPrice decimal.Decimal `json:"sold_price"`
}

type actionRequest struct {
	TrackingNumber string          `json:"tracking_number"`
	Authority      string          `json:"authority"`
	Items          []cartItem      `json:"items"`
	DeliveryCost   decimal.Decimal `json:"delivery_cost"`
	Discount       decimal.Decimal `json:"discount"`
}

type actionResponse struct {
	TrackingNumber string `json:"tracking_number"`
	Gateway        string `json:"gateway"`
	Action         string `json:"action"`
	PaymentStatus  string `json:"payment_status"`
	Noop           bool   `json:"noop,omitempty"`
	TransactionID  string `json:"transaction_id,omitempty"`
	RemoteStatus   string `json:"remote_status,omitempty"`
	PaymentURL     string `json:"payment_url,omitempty"`
}

func outcomeResponse(out *payment.Outcome) actionResponse {
	resp := actionResponse{
		TrackingNumber: out.Order.TrackingNumber,
		Gateway:        string(out.Order.PaymentReference),
		Action:         string(out.Action),
		PaymentStatus:  string(out.Order.PaymentStatus),
		Noop:           out.Noop,
		PaymentURL:     out.Order.PaymentPageURL,
	}
	if out.Result != nil {
		resp.TransactionID = out.Result.TransactionID
		resp.RemoteStatus = out.Result.RemoteStatus
	}
	return resp
}

// customerActions may be requested by anyone holding the tracking number.
// Everything else moves money after the fact and is back-office only.
var customerActions = map[payment.Action]bool{
	payment.ActionVerify: true,
	payment.ActionStatus: true,
}

// Action runs one gateway action on an order.
func (h *Handler) Action(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	gateway := order.Gateway(chi.URLParam(r, "gateway"))
	if !gateway.Valid() {
		utils.WriteJSONError(w, "unknown payment gateway", http.StatusNotFound)
		return
	}
	action, ok := payment.ParseAction(chi.URLParam(r, "action"))
	if !ok {
		utils.WriteJSONError(w, "unknown payment action", http.StatusNotFound)
		return
	}
	if !customerActions[action] && !utils.IsInternalRequest(ctx) {
		utils.WriteJSONError(w, "forbidden", http.StatusForbidden)
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.WriteJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.TrackingNumber == "" {
		req.TrackingNumber = r.URL.Query().Get("tracking_number")
	}
	if req.TrackingNumber == "" {
		utils.WriteJSONError(w, "tracking_number is required", http.StatusBadRequest)
		return
	}

	cmd := payment.Command{
		TrackingNumber: req.TrackingNumber,
		Gateway:        gateway,
		Action:         action,
		Authority:      req.Authority,
	}
	if action == payment.ActionUpdate {
		cmd.Update = &payment.CartUpdate{DeliveryCost: req.DeliveryCost, Discount: req.Discount}
		for _, it := range req.Items {
			cmd.Update.Items = append(cmd.Update.Items, order.Item{
				ProductID: it.ProductID,
				Name:      it.Name,
				Category:  it.Category,
				Quantity:  it.Quantity,
				SoldPrice: it.SoldPrice,
			})
		}
	}

	logger.ForPayment(ctx, cmd.TrackingNumber, string(gateway), string(action)).
		Info("payment action requested", zap.Bool("internal", utils.IsInternalRequest(ctx)))

	out, err := h.payments.Execute(ctx, cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, outcomeResponse(out))
}

// ZarinpalCallback is where zarinpal sends the customer back after the
// payment page.
func (h *Handler) ZarinpalCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	authority := firstNonEmpty(q.Get("authority"), q.Get("Authority"))
	status := firstNonEmpty(q.Get("payment_status"), q.Get("Status"))
	if authority == "" || status == "" {
		utils.WriteJSONError(w, "authority and status are required", http.StatusBadRequest)
		return
	}

	out, err := h.payments.HandleCallback(r.Context(), order.GatewayZarinpal, authority, status == "OK")
	if err != nil {
		writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, outcomeResponse(out))
}

type paymentInfoResponse struct {
	TrackingNumber string `json:"tracking_number"`
	Gateway        string `json:"gateway"`
	PaymentStatus  string `json:"payment_status"`
	PaymentURL     string `json:"payment_url,omitempty"`
	Amount         int64  `json:"amount,omitempty"`
	Message        string `json:"message,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
}

// PaymentInfo tells the client whether the payment page is ready.
//
//	202 initiation has not written a receipt yet
//	200 payment page is ready, or the order is past initiation
//	402 initiation failed; message is safe to show
func (h *Handler) PaymentInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tn := r.URL.Query().Get("tracking_number")
	if tn == "" {
		utils.WriteJSONError(w, "tracking_number is required", http.StatusBadRequest)
		return
	}

	o, err := h.orders.GetByTrackingNumber(ctx, tn)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := paymentInfoResponse{
		TrackingNumber: o.TrackingNumber,
		Gateway:        string(o.PaymentReference),
		PaymentStatus:  string(o.PaymentStatus),
	}

	rc, err := h.receipts.Get(ctx, o.ID)
	if errors.Is(err, receipt.ErrReceiptNotFound) {
		utils.WriteJSON(w, http.StatusAccepted, resp)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	if o.PaymentPageURL != "" {
		resp.PaymentURL = o.PaymentPageURL
		resp.Amount = o.AuthorizedAmount
		utils.WriteJSON(w, http.StatusOK, resp)
		return
	}

	if msg := rc.UserMessage(); msg != "" {
		resp.Message = msg
		resp.ErrorCode = rc.ErrorCode
		utils.WriteJSON(w, http.StatusPaymentRequired, resp)
		return
	}
	utils.WriteJSON(w, http.StatusAccepted, resp)
}

type provider struct {
	Name    string   `json:"name"`
	Actions []string `json:"actions"`
}

// Providers lists the enabled gateways and what each can do.
func (h *Handler) Providers(w http.ResponseWriter, r *http.Request) {
	reg := h.payments.Registry()

	out := make([]provider, 0)
	for _, name := range reg.Names() {
		g, _ := reg.Get(name)
		p := provider{Name: string(name)}
		for _, a := range payment.SupportedActions(g) {
			p.Actions = append(p.Actions, string(a))
		}
		out = append(out, p)
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
