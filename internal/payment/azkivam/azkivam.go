// Package azkivam implements the Azki installment gateway. Every request is
// signed, and each ticket call is independent of the others.
package azkivam

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"adora-payments/internal/config"
	"adora-payments/internal/money"
	"adora-payments/internal/order"
	"adora-payments/internal/payment"
	"adora-payments/internal/receipt"
	"adora-payments/internal/transport"
	"adora-payments/internal/utils"
)

var (
	_ payment.Initiator     = (*Adapter)(nil)
	_ payment.Verifier      = (*Adapter)(nil)
	_ payment.Reverter      = (*Adapter)(nil)
	_ payment.Canceler      = (*Adapter)(nil)
	_ payment.StatusChecker = (*Adapter)(nil)
)

// ticketStatus names the numeric status returned by the status endpoint.
var ticketStatus = map[int]string{
	1: "Created",
	2: "Verified",
	3: "Reversed",
	4: "Failed",
	5: "Canceled",
	6: "Settled",
	7: "Expired",
	8: "Done",
	9: "SettleQueue",
}

type Adapter struct {
	cfg    config.AzkivamConfig
	exec   *transport.Executor
	signer *Signer
}

func New(cfg config.AzkivamConfig, exec *transport.Executor) (*Adapter, error) {
	signer, err := NewSigner(cfg.MerchantID, cfg.APIKey, cfg.SecretHex)
	if err != nil {
		return nil, fmt.Errorf("azkivam: %w", err)
	}
	return &Adapter{cfg: cfg, exec: exec, signer: signer}, nil
}

func (a *Adapter) Name() order.Gateway { return order.GatewayAzkivam }

func (a *Adapter) Currency() money.Currency { return money.Minor }

type item struct {
	Name   string `json:"name"`
	Count  int    `json:"count"`
	Amount int64  `json:"amount"`
	URL    string `json:"url"`
}

type purchasePayload struct {
	Amount       int64  `json:"amount"`
	RedirectURI  string `json:"redirect_uri"`
	FallbackURI  string `json:"fallback_uri"`
	ProviderID   string `json:"provider_id"`
	MobileNumber string `json:"mobile_number"`
	MerchantID   string `json:"merchant_id"`
	Items        []item `json:"items"`
}

type ticketPayload struct {
	TicketID   string `json:"ticket_id"`
	ProviderID string `json:"provider_id"`
}

type envelope struct {
	RsCode  *int            `json:"rsCode"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type purchaseResult struct {
	TicketID   transport.FlexString `json:"ticket_id"`
	PaymentURI string               `json:"payment_uri"`
}

type statusResult struct {
	Status int `json:"status"`
}

func (a *Adapter) Initiate(ctx context.Context, req payment.Request) (*payment.Result, error) {
	o := req.Order
	items := make([]item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, item{
			Name:   it.Name,
			Count:  it.Quantity,
			Amount: money.Scale(money.Round(it.SoldPrice), money.Minor),
			URL:    config.JoinURL(a.cfg.ProductURL, strconv.FormatInt(it.ProductID, 10)),
		})
	}

	var out purchaseResult
	code, raw, err := a.call(ctx, payment.ActionInitiate, a.cfg.Paths.Purchase, purchasePayload{
		Amount:       req.Payable,
		RedirectURI:  a.cfg.RedirectURL,
		FallbackURI:  a.cfg.FallbackURL,
		ProviderID:   a.cfg.ProviderID,
		MobileNumber: utils.NormalizePhone(o.ReceiverPhone),
		MerchantID:   a.cfg.MerchantID,
		Items:        items,
	}, &out)
	if err != nil {
		return nil, err
	}

	ticket := out.TicketID.String()
	if ticket == "" {
		return nil, &payment.BusinessError{
			Gateway: order.GatewayAzkivam,
			Action:  payment.ActionInitiate,
			Code:    "no_ticket",
			Message: "gateway created no ticket",
			Raw:     raw,
		}
	}
	return &payment.Result{
		PaymentToken: ticket,
		PaymentURL:   out.PaymentURI,
		Details: receipt.AzkivamDetails{
			TicketID:   ticket,
			PaymentURI: out.PaymentURI,
			RsCode:     &code,
			LastAction: string(payment.ActionInitiate),
		},
		Raw: raw,
	}, nil
}

func (a *Adapter) Verify(ctx context.Context, req payment.Request) (*payment.Result, error) {
	return a.ticketAction(ctx, payment.ActionVerify, a.cfg.Paths.Verify, req.Order)
}

func (a *Adapter) Revert(ctx context.Context, req payment.Request) (*payment.Result, error) {
	return a.ticketAction(ctx, payment.ActionRevert, a.cfg.Paths.Reverse, req.Order)
}

func (a *Adapter) Cancel(ctx context.Context, req payment.Request) (*payment.Result, error) {
	return a.ticketAction(ctx, payment.ActionCancel, a.cfg.Paths.Cancel, req.Order)
}

func (a *Adapter) Status(ctx context.Context, req payment.Request) (*payment.Result, error) {
	o := req.Order
	if o.PaymentToken == "" {
		return nil, payment.Integrity("order has no azkivam ticket", nil)
	}

	var out statusResult
	code, raw, err := a.call(ctx, payment.ActionStatus, a.cfg.Paths.Status,
		ticketPayload{TicketID: o.PaymentToken, ProviderID: a.cfg.ProviderID}, &out)
	if err != nil {
		return nil, err
	}

	status, ok := ticketStatus[out.Status]
	if !ok {
		status = strconv.Itoa(out.Status)
	}
	return &payment.Result{
		RemoteStatus: status,
		Details: receipt.AzkivamDetails{
			TicketID:   o.PaymentToken,
			RsCode:     &code,
			Status:     status,
			LastAction: string(payment.ActionStatus),
		},
		Raw: raw,
	}, nil
}

func (a *Adapter) ticketAction(ctx context.Context, action payment.Action, path string, o *order.Order) (*payment.Result, error) {
	if o.PaymentToken == "" {
		return nil, payment.Integrity("order has no azkivam ticket", nil)
	}

	code, raw, err := a.call(ctx, action, path,
		ticketPayload{TicketID: o.PaymentToken, ProviderID: a.cfg.ProviderID}, nil)
	if err != nil {
		return nil, err
	}
	return &payment.Result{
		TransactionID: o.PaymentToken,
		Details: receipt.AzkivamDetails{
			TicketID:   o.PaymentToken,
			RsCode:     &code,
			LastAction: string(action),
		},
		Raw: raw,
	}, nil
}

// call posts a signed request. Success is HTTP 200 with rsCode 0; anything
// else well formed is a business error carrying the code's text.
func (a *Adapter) call(ctx context.Context, action payment.Action, path string, payload any, out any) (int, json.RawMessage, error) {
	base, err := transport.JSON(http.MethodPost, config.JoinURL(a.cfg.BaseURL, path), payload, nil)
	if err != nil {
		return 0, nil, payment.Integrity("encode request", err)
	}
	build := func(ctx context.Context) (*http.Request, error) {
		req, err := base(ctx)
		if err != nil {
			return nil, err
		}
		for k, v := range a.signer.Headers(path, http.MethodPost) {
			req.Header[k] = v
		}
		return req, nil
	}

	resp, err := a.exec.Do(ctx, string(action), build)
	if err != nil {
		return 0, nil, err
	}

	var env envelope
	decodeErr := resp.Decode(&env)
	if decodeErr == nil && resp.StatusCode == http.StatusOK && env.RsCode != nil && *env.RsCode == codeSuccess {
		if out != nil && len(env.Result) > 0 && string(env.Result) != "null" {
			if err := json.Unmarshal(env.Result, out); err != nil {
				return 0, resp.Body, fmt.Errorf("decode azkivam %s result: %w", action, err)
			}
		}
		return codeSuccess, resp.Body, nil
	}

	be := &payment.BusinessError{
		Gateway:    order.GatewayAzkivam,
		Action:     action,
		HTTPStatus: resp.StatusCode,
		Raw:        resp.Body,
	}
	details := receipt.AzkivamDetails{LastAction: string(action)}
	if decodeErr == nil && env.RsCode != nil && *env.RsCode != codeSuccess {
		code := *env.RsCode
		be.Code = strconv.Itoa(code)
		be.Message = CodeMessage(code)
		details.RsCode = &code
	} else {
		be.Code = strconv.Itoa(resp.StatusCode)
		be.Message = "unexpected response from gateway"
	}
	if env.Message != "" && env.Message != be.Message {
		be.Message += " (" + env.Message + ")"
	}
	be.Details = details
	return 0, nil, be
}
