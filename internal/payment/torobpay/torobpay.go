// Package torobpay implements the Torob Pay installment gateway: a cart is
// registered for a payment token, then verified and settled in two steps.
package torobpay

import (
	"context"

	"adora-payments/internal/config"
	"adora-payments/internal/money"
	"adora-payments/internal/order"
	"adora-payments/internal/payment"
	"adora-payments/internal/payment/bnpl"
	"adora-payments/internal/receipt"
	"adora-payments/internal/token"
	"adora-payments/internal/transport"
	"adora-payments/internal/utils"
)

const paymentMethod = "CREDIT_ON_CLEARING"

var (
	_ payment.Initiator = (*Adapter)(nil)
	_ payment.Verifier  = (*Adapter)(nil)
	_ payment.Settler   = (*Adapter)(nil)
	_ payment.Reverter  = (*Adapter)(nil)
	_ payment.Canceler  = (*Adapter)(nil)
)

type Adapter struct {
	cfg config.TorobPayConfig
	api *bnpl.Client
}

// New builds the adapter and registers its token source with tokens.
func New(cfg config.TorobPayConfig, exec *transport.Executor, tokens *token.Cache) *Adapter {
	grant := bnpl.PasswordGrant{
		URL:          config.JoinURL(cfg.BaseURL, cfg.Paths.Token),
		Username:     cfg.Username,
		Password:     cfg.Password,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}
	tokens.Register(string(order.GatewayTorobPay), cfg.TokenExpiry, grant.Fetcher(exec.Single()))

	return &Adapter{
		cfg: cfg,
		api: &bnpl.Client{Gateway: order.GatewayTorobPay, Exec: exec, Tokens: tokens},
	}
}

func (a *Adapter) Name() order.Gateway { return order.GatewayTorobPay }

func (a *Adapter) Currency() money.Currency { return money.Minor }

type cart struct {
	CartID            string          `json:"cartId"`
	TotalAmount       int64           `json:"totalAmount"`
	ShippingAmount    int64           `json:"shippingAmount"`
	IsTaxIncluded     bool            `json:"isTaxIncluded"`
	IsShipmentInclude bool            `json:"isShipmentInclude"`
	CartItems         []bnpl.CartItem `json:"cartItems"`
}

type initiatePayload struct {
	Mobile               string `json:"mobile"`
	Amount               int64  `json:"amount"`
	PaymentMethodTypeDto string `json:"paymentMethodTypeDto"`
	ReturnURL            string `json:"returnURL"`
	TransactionID        string `json:"transactionId"`
	CartList             []cart `json:"cartList"`
}

type initiateResponse struct {
	PaymentToken   string `json:"paymentToken"`
	PaymentPageURL string `json:"paymentPageUrl"`
}

type tokenPayload struct {
	PaymentToken string `json:"paymentToken"`
}

func (a *Adapter) Initiate(ctx context.Context, req payment.Request) (*payment.Result, error) {
	o := req.Order
	payload := initiatePayload{
		Mobile:               utils.NormalizePhone(o.ReceiverPhone),
		Amount:               req.Payable,
		PaymentMethodTypeDto: paymentMethod,
		ReturnURL:            a.cfg.ReturnURL,
		TransactionID:        o.TrackingNumber,
		CartList: []cart{{
			CartID:            o.TrackingNumber,
			TotalAmount:       money.Scale(money.Round(o.TotalPrice), money.Minor),
			ShippingAmount:    money.Scale(money.Round(o.DeliveryCost), money.Minor),
			IsTaxIncluded:     true,
			IsShipmentInclude: true,
			CartItems:         bnpl.CartItems(o.Items, money.Minor),
		}},
	}

	var out initiateResponse
	raw, err := a.api.Call(ctx, payment.ActionInitiate, a.url(a.cfg.Paths.Initiate), payload, nil, &out,
		receipt.TorobPayDetails{LastAction: string(payment.ActionInitiate)})
	if err != nil {
		return nil, err
	}
	if out.PaymentToken == "" {
		return nil, &payment.BusinessError{
			Gateway: order.GatewayTorobPay,
			Action:  payment.ActionInitiate,
			Code:    "no_token",
			Message: "gateway accepted the cart without a payment token",
			Raw:     raw,
		}
	}

	return &payment.Result{
		PaymentToken: out.PaymentToken,
		PaymentURL:   out.PaymentPageURL,
		Details: receipt.TorobPayDetails{
			PaymentToken:   out.PaymentToken,
			PaymentPageURL: out.PaymentPageURL,
			LastAction:     string(payment.ActionInitiate),
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

func (a *Adapter) tokenAction(ctx context.Context, action payment.Action, path string, o *order.Order) (*payment.Result, error) {
	if err := bnpl.RequireToken(o); err != nil {
		return nil, err
	}
	details := receipt.TorobPayDetails{LastAction: string(action)}

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
