// Package snapppay implements the SnappPay installment gateway. Besides the
// verify and settle steps it can replace the cart of an open payment, as long
// as the new amount stays within what the customer authorized.
package snapppay

import (
	"context"
	"fmt"
	"net/url"

	"adora-payments/internal/config"
	"adora-payments/internal/money"
	"adora-payments/internal/order"
	"adora-payments/internal/payment"
	"adora-payments/internal/payment/bnpl"
	"adora-payments/internal/receipt"
	"adora-payments/internal/token"
	"adora-payments/internal/transport"
	"adora-payments/internal/utils"

	"github.com/shopspring/decimal"
)

const (
	paymentMethod = "INSTALLMENT"
	tokenScope    = "online-merchant"
)

var (
	_ payment.Initiator     = (*Adapter)(nil)
	_ payment.Verifier      = (*Adapter)(nil)
	_ payment.Settler       = (*Adapter)(nil)
	_ payment.Reverter      = (*Adapter)(nil)
	_ payment.Canceler      = (*Adapter)(nil)
	_ payment.StatusChecker = (*Adapter)(nil)
	_ payment.Updater       = (*Adapter)(nil)
)

type Adapter struct {
	cfg config.SnappPayConfig
	api *bnpl.Client
}

// New builds the adapter and registers its token source with tokens.
func New(cfg config.SnappPayConfig, exec *transport.Executor, tokens *token.Cache) *Adapter {
	grant := bnpl.PasswordGrant{
		URL:          config.JoinURL(cfg.BaseURL, cfg.Paths.Token),
		Username:     cfg.Username,
		Password:     cfg.Password,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scope:        tokenScope,
		BasicClient:  true,
	}
	tokens.Register(string(order.GatewaySnappPay), cfg.TokenExpiry, grant.Fetcher(exec.Single()))

	return &Adapter{
		cfg: cfg,
		api: &bnpl.Client{Gateway: order.GatewaySnappPay, Exec: exec, Tokens: tokens},
	}
}

func (a *Adapter) Name() order.Gateway { return order.GatewaySnappPay }

func (a *Adapter) Currency() money.Currency { return money.Minor }

type cart struct {
	CartID             string          `json:"cartId"`
	CartItems          []bnpl.CartItem `json:"cartItems"`
	IsShipmentIncluded bool            `json:"isShipmentIncluded"`
	IsTaxIncluded      bool            `json:"isTaxIncluded"`
	ShippingAmount     int64           `json:"shippingAmount"`
	TaxAmount          int64           `json:"taxAmount"`
	TotalAmount        int64           `json:"totalAmount"`
}

type initiatePayload struct {
	Amount               int64  `json:"amount"`
	CartList             []cart `json:"cartList"`
	DiscountAmount       int64  `json:"discountAmount"`
	ExternalSourceAmount int64  `json:"externalSourceAmount"`
	Mobile               string `json:"mobile"`
	PaymentMethodTypeDto string `json:"paymentMethodTypeDto"`
	ReturnURL            string `json:"returnURL"`
	TransactionID        string `json:"transactionId"`
}

type updatePayload struct {
	Amount               int64  `json:"amount"`
	CartList             []cart `json:"cartList"`
	DiscountAmount       int64  `json:"discountAmount"`
	ExternalSourceAmount int64  `json:"externalSourceAmount"`
	PaymentMethodTypeDto string `json:"paymentMethodTypeDto"`
	PaymentToken         string `json:"paymentToken"`
}

type initiateResponse struct {
	PaymentToken   string `json:"paymentToken"`
	PaymentPageURL string `json:"paymentPageUrl"`
}

type statusResponse struct {
	Status        string               `json:"status"`
	TransactionID transport.FlexString `json:"transactionId"`
	Amount        int64                `json:"amount"`
}

type tokenPayload struct {
	PaymentToken string `json:"paymentToken"`
}

func minor(d decimal.Decimal) int64 {
	return money.Scale(money.Round(d), money.Minor)
}

func newCart(id string, items []order.Item, delivery decimal.Decimal) cart {
	total := order.ItemsTotal(items).Add(delivery)
	return cart{
		CartID:             id,
		CartItems:          bnpl.CartItems(items, money.Minor),
		IsShipmentIncluded: true,
		IsTaxIncluded:      true,
		ShippingAmount:     minor(delivery),
		TotalAmount:        minor(total),
	}
}

// externalSource is the part of the cart paid outside SnappPay, i.e. from
// the customer's wallet.
func externalSource(c cart, discount, amount int64) int64 {
	if v := c.TotalAmount - discount - amount; v > 0 {
		return v
	}
	return 0
}

func (a *Adapter) Initiate(ctx context.Context, req payment.Request) (*payment.Result, error) {
	o := req.Order
	c := newCart(o.TrackingNumber, o.Items, o.DeliveryCost)

	var out initiateResponse
	raw, err := a.api.Call(ctx, payment.ActionInitiate, a.url(a.cfg.Paths.Initiate), initiatePayload{
		Amount:               req.Payable,
		CartList:             []cart{c},
		ExternalSourceAmount: externalSource(c, 0, req.Payable),
		Mobile:               utils.NormalizePhone(o.ReceiverPhone),
		PaymentMethodTypeDto: paymentMethod,
		ReturnURL:            a.cfg.ReturnURL,
		TransactionID:        o.TrackingNumber,
	}, nil, &out, receipt.SnappPayDetails{LastAction: string(payment.ActionInitiate)})
	if err != nil {
		return nil, err
	}
	if out.PaymentToken == "" {
		return nil, &payment.BusinessError{
			Gateway: order.GatewaySnappPay,
			Action:  payment.ActionInitiate,
			Code:    "no_token",
			Message: "gateway accepted the cart without a payment token",
			Raw:     raw,
		}
	}

	return &payment.Result{
		PaymentToken: out.PaymentToken,
		PaymentURL:   out.PaymentPageURL,
		Details: receipt.SnappPayDetails{
			PaymentToken:     out.PaymentToken,
			PaymentPageURL:   out.PaymentPageURL,
			AuthorizedAmount: req.Payable,
			LastAction:       string(payment.ActionInitiate),
		},
		Raw: raw,
	}, nil
}

func (a *Adapter) Verify(ctx context.Context, req payment.Request) (*payment.Result, error) {
	return a.tokenAction(ctx, payment.ActionVerify, a.cfg.Paths.Verify, req.Order)
}

func (a *Adapter) Settle(ctx context.Context, req payment.Request) (*payment.Result, error) {
	return a.tokenAction(ctx, payment.ActionSettle, a.cfg.Paths.Settle, req.Order)
}

func (a *Adapter) Revert(ctx context.Context, req payment.Request) (*payment.Result, error) {
	return a.tokenAction(ctx, payment.ActionRevert, a.cfg.Paths.Revert, req.Order)
}

func (a *Adapter) Cancel(ctx context.Context, req payment.Request) (*payment.Result, error) {
	return a.tokenAction(ctx, payment.ActionCancel, a.cfg.Paths.Cancel, req.Order)
}

func (a *Adapter) Status(ctx context.Context, req payment.Request) (*payment.Result, error) {
	o := req.Order
	if err := bnpl.RequireToken(o); err != nil {
		return nil, err
	}
	details := receipt.SnappPayDetails{LastAction: string(payment.ActionStatus)}

	var out statusResponse
	raw, err := a.api.Call(ctx, payment.ActionStatus, a.url(a.cfg.Paths.Status), nil,
		url.Values{"paymentToken": {o.PaymentToken}}, &out, details)
	if err != nil {
		return nil, err
	}
	details.Status = out.Status
	return &payment.Result{
		TransactionID: out.TransactionID.String(),
		RemoteStatus:  out.Status,
		Details:       details,
		Raw:           raw,
	}, nil
}

// Update replaces the cart. An amount above the authorized one is refused
// here without calling the gateway.
func (a *Adapter) Update(ctx context.Context, req payment.Request) (*payment.Result, error) {
	o := req.Order
	if req.Update == nil {
		return nil, payment.Integrity("update has no cart", nil)
	}
	if req.Payable > o.AuthorizedAmount {
		return nil, payment.Integrity(
			fmt.Sprintf("updated amount %d exceeds authorized amount %d", req.Payable, o.AuthorizedAmount), nil)
	}
	if err := bnpl.RequireToken(o); err != nil {
		return nil, err
	}

	c := newCart(o.TrackingNumber, req.Update.Items, req.Update.DeliveryCost)
	discount := minor(req.Update.Discount)
	details := receipt.SnappPayDetails{LastAction: string(payment.ActionUpdate)}

	var out bnpl.TokenResponse
	raw, err := a.api.Call(ctx, payment.ActionUpdate, a.url(a.cfg.Paths.Update), updatePayload{
		Amount:               req.Payable,
		CartList:             []cart{c},
		DiscountAmount:       discount,
		ExternalSourceAmount: externalSource(c, discount, req.Payable),
		PaymentMethodTypeDto: paymentMethod,
		PaymentToken:         o.PaymentToken,
	}, nil, &out, details)
	if err != nil {
		return nil, err
	}
	return &payment.Result{
		TransactionID: out.TransactionID.String(),
		Details:       details,
		Raw:           raw,
	}, nil
}

func (a *Adapter) tokenAction(ctx context.Context, action payment.Action, path string, o *order.Order) (*payment.Result, error) {
	if err := bnpl.RequireToken(o); err != nil {
		return nil, err
	}
	details := receipt.SnappPayDetails{LastAction: string(action)}

	var out bnpl.TokenResponse
	raw, err := a.api.Call(ctx, action, a.url(path), tokenPayload{PaymentToken: o.PaymentToken}, nil, &out, details)
	if err != nil {
		return nil, err
	}
	return &payment.Result{
		TransactionID: out.TransactionID.String(),
		Details:       details,
		Raw:           raw,
	}, nil
}

func (a *Adapter) url(path string) string {
	return config.JoinURL(a.cfg.BaseURL, path)
}
