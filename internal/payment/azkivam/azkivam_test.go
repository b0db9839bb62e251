package azkivam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"adora-payments/internal/config"
	"adora-payments/internal/order"
	"adora-payments/internal/payment"
	"adora-payments/internal/receipt"
	"adora-payments/internal/transport"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRoundTripper allows us to mock the HTTP response
type MockRoundTripper func(req *http.Request) (*http.Response, error)

func (f MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

var testConfig = config.AzkivamConfig{
	Enabled:     true,
	BaseURL:     "https://azki.test/api",
	MerchantID:  "m-1",
	APIKey:      "api-key",
	SecretHex:   testSecret,
	ProviderID:  "77",
	RedirectURL: "https://shop.test/azki/ok",
	FallbackURL: "https://shop.test/azki/fail",
	ProductURL:  "https://shop.test/products",
	Paths: config.AzkivamPaths{
		Purchase: "/payment/purchase",
		Verify:   "/payment/verify",
		Reverse:  "/payment/reverse",
		Cancel:   "/payment/cancel",
		Status:   "/payment/status",
	},
}

func newTestAdapter(t *testing.T, rt http.RoundTripper, attempts int, now func() time.Time) *Adapter {
	exec := transport.NewExecutor("azkivam", &http.Client{Transport: rt},
		transport.Policy{MaxAttempts: attempts},
		transport.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	a, err := New(testConfig, exec)
	require.NoError(t, err)
	if now != nil {
		a.signer.now = now
	}
	return a
}

func testOrder() *order.Order {
	return &order.Order{
		ID:               9,
		TrackingNumber:   "ADO_AZKI",
		ReceiverPhone:    "09121234567",
		PaymentReference: order.GatewayAzkivam,
		PaymentStatus:    order.StatusPending,
		Items: []order.Item{
			{ProductID: 4, Name: "Oil filter", Quantity: 1, SoldPrice: decimal.NewFromInt(50000)},
		},
	}
}

func TestAdapter_Initiate(t *testing.T) {
	var sent purchasePayload
	a := newTestAdapter(t, MockRoundTripper(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "https://azki.test/api/payment/purchase", req.URL.String())
		assert.Equal(t, "m-1", req.Header.Get("MerchantId"))
		assert.NotEmpty(t, req.Header.Get("Signature"))
		require.NoError(t, json.NewDecoder(req.Body).Decode(&sent))
		return jsonResponse(http.StatusOK,
			`{"rsCode":0,"result":{"ticket_id":"T-1","payment_uri":"https://azki.test/pay/T-1"}}`), nil
	}), 1, nil)

	res, err := a.Initiate(context.Background(), payment.Request{Order: testOrder(), Payable: 500000})
	require.NoError(t, err)

	assert.Equal(t, int64(500000), sent.Amount)
	assert.Equal(t, "77", sent.ProviderID)
	require.Len(t, sent.Items, 1)
	assert.Equal(t, int64(500000), sent.Items[0].Amount)
	assert.Equal(t, "https://shop.test/products/4", sent.Items[0].URL)

	assert.Equal(t, "T-1", res.PaymentToken)
	assert.Equal(t, "https://azki.test/pay/T-1", res.PaymentURL)
	d := res.Details.(receipt.AzkivamDetails)
	assert.Equal(t, "T-1", d.TicketID)
	require.NotNil(t, d.RsCode)
	assert.Equal(t, 0, *d.RsCode)
}

func TestAdapter_RetryRegeneratesSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	var signatures []string
	a := newTestAdapter(t, MockRoundTripper(func(req *http.Request) (*http.Response, error) {
		signatures = append(signatures, req.Header.Get("Signature"))
		if len(signatures) == 1 {
			now = now.Add(2 * time.Second)
			return nil, errors.New("connection reset")
		}
		return jsonResponse(http.StatusOK, `{"rsCode":0,"result":{}}`), nil
	}), 2, func() time.Time { return now })

	o := testOrder()
	o.PaymentToken = "T-1"
	_, err := a.Verify(context.Background(), payment.Request{Order: o})
	require.NoError(t, err)

	require.Len(t, signatures, 2)
	assert.NotEqual(t, signatures[0], signatures[1])
	assert.Equal(t, "/payment/verify#1700000002#POST#api-key", decrypt(t, signatures[1]))
}

func TestAdapter_BusinessCodes(t *testing.T) {
	a := newTestAdapter(t, MockRoundTripper(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"rsCode":21,"message":"credit"}`), nil
	}), 1, nil)

	o := testOrder()
	o.PaymentToken = "T-1"
	_, err := a.Verify(context.Background(), payment.Request{Order: o})

	var be *payment.BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "21", be.Code)
	assert.Equal(t, "Insufficient Credit (credit)", be.Message)
	d := be.Details.(receipt.AzkivamDetails)
	require.NotNil(t, d.RsCode)
	assert.Equal(t, 21, *d.RsCode)
}

func TestAdapter_NonOKStatus(t *testing.T) {
	a := newTestAdapter(t, MockRoundTripper(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnauthorized, `{"error":"unauthorized"}`), nil
	}), 1, nil)

	o := testOrder()
	o.PaymentToken = "T-1"
	_, err := a.Cancel(context.Background(), payment.Request{Order: o})

	var be *payment.BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "401", be.Code)
}

func TestAdapter_Status(t *testing.T) {
	a := newTestAdapter(t, MockRoundTripper(func(req *http.Request) (*http.Response, error) {
		var body ticketPayload
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "T-1", body.TicketID)
		return jsonResponse(http.StatusOK, `{"rsCode":0,"result":{"status":2}}`), nil
	}), 1, nil)

	o := testOrder()
	o.PaymentToken = "T-1"
	res, err := a.Status(context.Background(), payment.Request{Order: o})
	require.NoError(t, err)
	assert.Equal(t, "Verified", res.RemoteStatus)
	assert.Equal(t, "Verified", res.Details.(receipt.AzkivamDetails).Status)
}

func TestAdapter_MissingTicket(t *testing.T) {
	a := newTestAdapter(t, MockRoundTripper(func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	}), 1, nil)

	_, err := a.Revert(context.Background(), payment.Request{Order: testOrder()})
	assert.Equal(t, payment.KindIntegrity, payment.KindOf(err))
}
