// Package zarinpal talks to the Zarinpal redirect gateway. Amounts are sent
// in the major unit and verification is driven by the customer's return to
// the callback URL.
package zarinpal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"adora-payments/internal/config"
	"adora-payments/internal/logger"
	"adora-payments/internal/money"
	"adora-payments/internal/order"
	"adora-payments/internal/payment"
	"adora-payments/internal/receipt"
	"adora-payments/internal/transport"
	"adora-payments/internal/utils"

	"go.uber.org/zap"
)

const (
	currencyToman = "IRT"

	codeSuccess         = 100
	codeAlreadyVerified = 101
)

var (
	_ payment.Initiator = (*Adapter)(nil)
	_ payment.Verifier  = (*Adapter)(nil)
)

type Adapter struct {
	cfg  config.ZarinpalConfig
	exec *transport.Executor
}

func New(cfg config.ZarinpalConfig, exec *transport.Executor) *Adapter {
	return &Adapter{cfg: cfg, exec: exec}
}

func (a *Adapter) Name() order.Gateway { return order.GatewayZarinpal }

func (a *Adapter) Currency() money.Currency { return money.Major }

type metadata struct {
	Mobile string `json:"mobile,omitempty"`
}

type requestPayload struct {
	MerchantID  string   `json:"merchant_id"`
	Amount      int64    `json:"amount"`
	Currency    string   `json:"currency"`
	Description string   `json:"description"`
	CallbackURL string   `json:"callback_url"`
	Metadata    metadata `json:"metadata"`
}

type verifyPayload struct {
	MerchantID string `json:"merchant_id"`
	Amount     int64  `json:"amount"`
	Authority  string `json:"authority"`
}

// envelope holds both halves raw: Zarinpal sends an empty array for
// whichever of data and errors does not apply.
type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type requestData struct {
	Authority string `json:"authority"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Fee       int64  `json:"fee"`
	FeeType   string `json:"fee_type"`
}

type verifyData struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	RefID    int64  `json:"ref_id"`
	CardPan  string `json:"card_pan"`
	CardHash string `json:"card_hash"`
	FeeType  string `json:"fee_type"`
	Fee      int64  `json:"fee"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (a *Adapter) Initiate(ctx context.Context, req payment.Request) (*payment.Result, error) {
	o := req.Order
	log := logger.ForPayment(ctx, o.TrackingNumber, string(order.GatewayZarinpal), string(payment.ActionInitiate))

	build, err := transport.JSON(http.MethodPost, a.cfg.RequestURL, requestPayload{
		MerchantID:  a.cfg.MerchantID,
		Amount:      req.Payable,
		Currency:    currencyToman,
		Description: a.cfg.Description,
		CallbackURL: a.cfg.CallbackURL,
		Metadata:    metadata{Mobile: utils.NormalizePhone(o.ReceiverPhone)},
	}, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.exec.Do(ctx, "request", build)
	if err != nil {
		return nil, err
	}

	var env envelope
	var data requestData
	if err := resp.Decode(&env); err != nil {
		return nil, a.malformed(payment.ActionInitiate, resp)
	}
	if decodeObject(env.Data, &data) && data.Code == codeSuccess && data.Authority != "" {
		log.Info("payment session opened", zap.String("authority", data.Authority))
		return &payment.Result{
			PaymentToken: data.Authority,
			PaymentURL:   a.cfg.StartPayURL + "/" + data.Authority,
			Details: receipt.ZarinpalDetails{
				Authority:      data.Authority,
				RequestCode:    data.Code,
				RequestMessage: data.Message,
				Fee:            data.Fee,
				FeeType:        data.FeeType,
			},
			Raw: resp.Body,
		}, nil
	}

	code, msg := a.failure(env, data.Code, data.Message)
	return nil, &payment.BusinessError{
		Gateway:    order.GatewayZarinpal,
		Action:     payment.ActionInitiate,
		Code:       strconv.Itoa(code),
		Message:    msg,
		HTTPStatus: resp.StatusCode,
		Details:    receipt.ZarinpalDetails{RequestCode: code, RequestMessage: msg},
		Raw:        resp.Body,
	}
}

// Verify confirms the payment behind the authority echoed on the callback.
// Code 101 means an earlier verify already went through.
func (a *Adapter) Verify(ctx context.Context, req payment.Request) (*payment.Result, error) {
	o := req.Order
	authority := req.Authority
	if authority == "" {
		authority = o.PaymentToken
	}
	if authority == "" {
		return nil, payment.Integrity("order has no zarinpal authority", nil)
	}
	if req.Payable <= 0 {
		return nil, payment.Integrity(fmt.Sprintf("verify amount is %d", req.Payable), nil)
	}

	build, err := transport.JSON(http.MethodPost, a.cfg.VerifyURL, verifyPayload{
		MerchantID: a.cfg.MerchantID,
		Amount:     req.Payable,
		Authority:  authority,
	}, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.exec.Do(ctx, "verify", build)
	if err != nil {
		return nil, err
	}

	var env envelope
	var data verifyData
	if err := resp.Decode(&env); err != nil {
		return nil, a.malformed(payment.ActionVerify, resp)
	}
	if decodeObject(env.Data, &data) && (data.Code == codeSuccess || data.Code == codeAlreadyVerified) {
		return &payment.Result{
			TransactionID: strconv.FormatInt(data.RefID, 10),
			Details: receipt.ZarinpalDetails{
				Authority:     authority,
				VerifyCode:    data.Code,
				VerifyMessage: data.Message,
				RefID:         data.RefID,
				CardPan:       data.CardPan,
				CardHash:      data.CardHash,
				FeeType:       data.FeeType,
			},
			Raw: resp.Body,
		}, nil
	}

	code, msg := a.failure(env, data.Code, data.Message)
	return nil, &payment.BusinessError{
		Gateway:    order.GatewayZarinpal,
		Action:     payment.ActionVerify,
		Code:       strconv.Itoa(code),
		Message:    msg,
		HTTPStatus: resp.StatusCode,
		Details:    receipt.ZarinpalDetails{Authority: authority, VerifyCode: code, VerifyMessage: msg},
		Raw:        resp.Body,
	}
}

// failure picks the error reported in errors, falling back to a data block
// carrying a non-success code.
func (a *Adapter) failure(env envelope, dataCode int, dataMsg string) (int, string) {
	var e apiError
	if decodeObject(env.Errors, &e) && (e.Code != 0 || e.Message != "") {
		return e.Code, e.Message
	}
	if dataCode != 0 {
		return dataCode, dataMsg
	}
	return 0, "gateway returned no result"
}

func (a *Adapter) malformed(action payment.Action, resp *transport.Response) error {
	return &payment.BusinessError{
		Gateway:    order.GatewayZarinpal,
		Action:     action,
		Code:       strconv.Itoa(resp.StatusCode),
		Message:    "unrecognised response body",
		HTTPStatus: resp.StatusCode,
		Raw:        resp.Body,
	}
}

func decodeObject(raw json.RawMessage, v any) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}
