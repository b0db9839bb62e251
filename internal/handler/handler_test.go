package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"adora-payments/internal/money"
	"adora-payments/internal/order"
	"adora-payments/internal/payment"
	"adora-payments/internal/receipt"
	"adora-payments/internal/transport"
	"adora-payments/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) Checkout(ctx context.Context, in order.CheckoutInput) (*order.Order, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*order.Order, error) {
	args := m.Called(ctx, trackingNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) Wait() {}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Record(ctx context.Context, orderID int64, gateway order.Gateway, a receipt.Attempt) error {
	return m.Called(ctx, orderID, gateway, a).Error(0)
}

func (m *MockLedger) Get(ctx context.Context, orderID int64) (*receipt.Receipt, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*receipt.Receipt), args.Error(1)
}

type MockPayments struct {
	mock.Mock
	registry *payment.Registry
}

func (m *MockPayments) Execute(ctx context.Context, cmd payment.Command) (*payment.Outcome, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Outcome), args.Error(1)
}

func (m *MockPayments) HandleCallback(ctx context.Context, gateway order.Gateway, authority string, paid bool) (*payment.Outcome, error) {
	args := m.Called(ctx, gateway, authority, paid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Outcome), args.Error(1)
}

func (m *MockPayments) Registry() *payment.Registry { return m.registry }

type stubGateway struct{ name order.Gateway }

func (g stubGateway) Name() order.Gateway      { return g.name }
func (g stubGateway) Currency() money.Currency { return money.Major }
func (g stubGateway) Initiate(context.Context, payment.Request) (*payment.Result, error) {
	return &payment.Result{}, nil
}
func (g stubGateway) Verify(context.Context, payment.Request) (*payment.Result, error) {
	return &payment.Result{}, nil
}

type fixture struct {
	orders   *MockOrderService
	ledger   *MockLedger
	payments *MockPayments
	router   chi.Router
}

// newFixture builds the router; ctxFn, when set, stands in for the auth middleware.
func newFixture(ctxFn func(context.Context) context.Context) *fixture {
	f := &fixture{
		orders:   new(MockOrderService),
		ledger:   new(MockLedger),
		payments: &MockPayments{registry: payment.NewRegistry(stubGateway{name: order.GatewayZarinpal})},
	}
	r := chi.NewRouter()
	if ctxFn != nil {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(ctxFn(req.Context())))
			})
		})
	}
	NewHandler(f.orders, f.ledger, f.payments).Routes(r)
	f.router = r
	return f
}

func (f *fixture) do(method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func asUser(ctx context.Context) context.Context {
	return utils.SetUserContext(ctx, 7, "+989120000000", "user")
}

func asInternal(ctx context.Context) context.Context {
	return utils.WithInternalRequest(ctx)
}

func TestHandler_Checkout(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		f := newFixture(asUser)

		f.orders.On("Checkout", mock.Anything, mock.MatchedBy(func(in order.CheckoutInput) bool {
			return in.ProfileID == 7 &&
				in.ReceiverPhone == "09120000000" &&
				in.PaymentReference == order.GatewayZarinpal &&
				in.DeliveryCost.Equal(decimal.NewFromInt(30000)) &&
				len(in.Items) == 1 && in.Items[0].Quantity == 2
		})).Return(&order.Order{
			TrackingNumber: "ADO_AAAAAAAAAAAAAAAA",
			TotalPrice:     decimal.NewFromInt(130000),
			OrderReward:    decimal.NewFromInt(500),
			PaymentStatus:  order.StatusPending,
			PaymentPageURL: "https://payment.zarinpal.com/pg/StartPay/A1",
		}, nil)

		w := f.do("POST", "/orders", map[string]any{
			"receiver_name":     "Sara",
			"delivery_cost":     30000,
			"payment_method":    "online",
			"payment_reference": "zarinpal",
			"items":             []map[string]any{{"product_id": 1, "quantity": 2}},
		})

		require.Equal(t, http.StatusCreated, w.Code)
		body := decode(t, w)
		assert.Equal(t, "ADO_AAAAAAAAAAAAAAAA", body["tracking_number"])
		assert.Equal(t, "130000", body["total_price"])
		assert.Equal(t, "P", body["payment_status"])
		assert.Equal(t, "https://payment.zarinpal.com/pg/StartPay/A1", body["payment_url"])
		f.orders.AssertExpectations(t)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		f := newFixture(nil)
		w := f.do("POST", "/orders", map[string]any{"payment_reference": "zarinpal"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		f.orders.AssertNotCalled(t, "Checkout", mock.Anything, mock.Anything)
	})

	t.Run("ValidationError", func(t *testing.T) {
		f := newFixture(asUser)
		f.orders.On("Checkout", mock.Anything, mock.Anything).Return(nil, order.ErrEmptyCart)

		w := f.do("POST", "/orders", map[string]any{"payment_reference": "zarinpal"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		f := newFixture(asUser)
		req := httptest.NewRequest("POST", "/orders", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_PaymentInfo(t *testing.T) {
	const tn = "ADO_AAAAAAAAAAAAAAAA"
	base := func() *order.Order {
		return &order.Order{
			ID:               42,
			TrackingNumber:   tn,
			PaymentReference: order.GatewayTorobPay,
			PaymentStatus:    order.StatusPending,
		}
	}

	t.Run("MissingTrackingNumber", func(t *testing.T) {
		f := newFixture(nil)
		w := f.do("GET", "/orders/payment-info", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("OrderNotFound", func(t *testing.T) {
		f := newFixture(nil)
		f.orders.On("GetByTrackingNumber", mock.Anything, tn).Return(nil, order.ErrOrderNotFound)

		w := f.do("GET", "/orders/payment-info?tracking_number="+tn, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("NoReceiptYet", func(t *testing.T) {
		f := newFixture(nil)
		f.orders.On("GetByTrackingNumber", mock.Anything, tn).Return(base(), nil)
		f.ledger.On("Get", mock.Anything, int64(42)).Return(nil, receipt.ErrReceiptNotFound)

		w := f.do("GET", "/orders/payment-info?tracking_number="+tn, nil)
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("PaymentPageReady", func(t *testing.T) {
		f := newFixture(nil)
		o := base()
		o.PaymentToken = "pt-1"
		o.PaymentPageURL = "https://torobpay.com/pay/pt-1"
		o.AuthorizedAmount = 1300000
		f.orders.On("GetByTrackingNumber", mock.Anything, tn).Return(o, nil)
		f.ledger.On("Get", mock.Anything, int64(42)).Return(&receipt.Receipt{OrderID: 42, Gateway: order.GatewayTorobPay}, nil)

		w := f.do("GET", "/orders/payment-info?tracking_number="+tn, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "https://torobpay.com/pay/pt-1", body["payment_url"])
		assert.Equal(t, float64(1300000), body["amount"])
	})

	t.Run("InitiationFailed", func(t *testing.T) {
		f := newFixture(nil)
		o := base()
		o.PaymentStatus = order.StatusFailed
		f.orders.On("GetByTrackingNumber", mock.Anything, tn).Return(o, nil)
		f.ledger.On("Get", mock.Anything, int64(42)).Return(&receipt.Receipt{
			OrderID:      42,
			Gateway:      order.GatewayTorobPay,
			ErrorCode:    "E42",
			ErrorMessage: "[business] initiate: E42 credit limit exceeded",
		}, nil)

		w := f.do("GET", "/orders/payment-info?tracking_number="+tn, nil)
		require.Equal(t, http.StatusPaymentRequired, w.Code)
		body := decode(t, w)
		assert.Equal(t, "E42 credit limit exceeded", body["message"])
		assert.Equal(t, "E42", body["error_code"])
	})

	t.Run("TransportFailureIsGeneric", func(t *testing.T) {
		f := newFixture(nil)
		f.orders.On("GetByTrackingNumber", mock.Anything, tn).Return(base(), nil)
		f.ledger.On("Get", mock.Anything, int64(42)).Return(&receipt.Receipt{
			ErrorMessage: "[transport] initiate: dial tcp: connection refused",
		}, nil)

		w := f.do("GET", "/orders/payment-info?tracking_number="+tn, nil)
		require.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})
}

func TestHandler_Providers(t *testing.T) {
	f := newFixture(nil)

	w := f.do("GET", "/payments/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Providers []provider `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Providers, 1)
	assert.Equal(t, "zarinpal", body.Providers[0].Name)
	assert.Equal(t, []string{"initiate", "verify"}, body.Providers[0].Actions)
}

func TestHandler_ZarinpalCallback(t *testing.T) {
	done := &payment.Outcome{
		Order: &order.Order{
			TrackingNumber:   "ADO_AAAAAAAAAAAAAAAA",
			PaymentReference: order.GatewayZarinpal,
			PaymentStatus:    order.StatusComplete,
		},
		Action: payment.ActionVerify,
		Result: &payment.Result{TransactionID: "201"},
	}

	t.Run("Paid", func(t *testing.T) {
		f := newFixture(nil)
		f.payments.On("HandleCallback", mock.Anything, order.GatewayZarinpal, "A1", true).Return(done, nil)

		w := f.do("GET", "/payments/zarinpal/callback?Authority=A1&Status=OK", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "C", body["payment_status"])
		assert.Equal(t, "201", body["transaction_id"])
	})

	t.Run("Declined", func(t *testing.T) {
		f := newFixture(nil)
		f.payments.On("HandleCallback", mock.Anything, order.GatewayZarinpal, "A1", false).
			Return(nil, &payment.BusinessError{Code: "NOK", Message: "payment was not completed by the customer"})

		w := f.do("GET", "/payments/zarinpal/callback?authority=A1&payment_status=NOK", nil)
		require.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.Equal(t, "NOK", decode(t, w)["code"])
	})

	t.Run("MissingParams", func(t *testing.T) {
		f := newFixture(nil)
		w := f.do("GET", "/payments/zarinpal/callback?Authority=A1", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("AuthorityMismatch", func(t *testing.T) {
		f := newFixture(nil)
		f.payments.On("HandleCallback", mock.Anything, order.GatewayZarinpal, "A2", true).
			Return(nil, payment.ErrAuthorityMismatch)

		w := f.do("GET", "/payments/zarinpal/callback?Authority=A2&Status=OK", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_Action(t *testing.T) {
	const tn = "ADO_AAAAAAAAAAAAAAAA"
	settled := &payment.Outcome{
		Order: &order.Order{
			TrackingNumber:   tn,
			PaymentReference: order.GatewayTorobPay,
			PaymentStatus:    order.StatusComplete,
		},
		Action: payment.ActionSettle,
	}

	t.Run("InternalSettle", func(t *testing.T) {
		f := newFixture(asInternal)
		f.payments.On("Execute", mock.Anything, payment.Command{
			TrackingNumber: tn,
			Gateway:        order.GatewayTorobPay,
			Action:         payment.ActionSettle,
		}).Return(settled, nil)

		w := f.do("POST", "/payments/torobpay/settle", map[string]any{"tracking_number": tn})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "C", decode(t, w)["payment_status"])
	})

	t.Run("CustomerCannotSettle", func(t *testing.T) {
		f := newFixture(asUser)
		w := f.do("POST", "/payments/torobpay/settle", map[string]any{"tracking_number": tn})
		assert.Equal(t, http.StatusForbidden, w.Code)
		f.payments.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	})

	t.Run("CustomerVerifyFromQuery", func(t *testing.T) {
		f := newFixture(nil)
		f.payments.On("Execute", mock.Anything, mock.MatchedBy(func(c payment.Command) bool {
			return c.TrackingNumber == tn && c.Action == payment.ActionVerify
		})).Return(&payment.Outcome{Order: settled.Order, Action: payment.ActionVerify, Noop: true}, nil)

		w := f.do("POST", "/payments/torobpay/verify?tracking_number="+tn, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decode(t, w)["noop"])
	})

	t.Run("ReverseAlias", func(t *testing.T) {
		f := newFixture(asInternal)
		f.payments.On("Execute", mock.Anything, mock.MatchedBy(func(c payment.Command) bool {
			return c.Gateway == order.GatewayAzkivam && c.Action == payment.ActionRevert
		})).Return(nil, payment.ErrActionNotAllowed)

		w := f.do("POST", "/payments/azkivam/reverse", map[string]any{"tracking_number": tn})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("UpdateCarriesCart", func(t *testing.T) {
		f := newFixture(asInternal)
		f.payments.On("Execute", mock.Anything, mock.MatchedBy(func(c payment.Command) bool {
			return c.Update != nil &&
				len(c.Update.Items) == 1 &&
				c.Update.Total().Equal(decimal.NewFromInt(80000))
		})).Return(nil, payment.Integrity("new payable 800000 exceeds authorized 700000", nil))

		w := f.do("POST", "/payments/snapppay/update", map[string]any{
			"tracking_number": tn,
			"items":           []map[string]any{{"product_id": 1, "quantity": 1, "sold_price": 70000}},
			"delivery_cost":   10000,
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		f.payments.AssertExpectations(t)
	})

	t.Run("TransportFailure", func(t *testing.T) {
		f := newFixture(asInternal)
		f.payments.On("Execute", mock.Anything, mock.Anything).
			Return(nil, &transport.Error{Attempts: 3, Err: errors.New("timeout")})

		w := f.do("POST", "/payments/snapppay/cancel", map[string]any{"tracking_number": tn})
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("UnknownGatewayOrAction", func(t *testing.T) {
		f := newFixture(asInternal)
		assert.Equal(t, http.StatusNotFound, f.do("POST", "/payments/paypal/verify", nil).Code)
		assert.Equal(t, http.StatusNotFound, f.do("POST", "/payments/torobpay/refund", nil).Code)
	})

	t.Run("MissingTrackingNumber", func(t *testing.T) {
		f := newFixture(asInternal)
		w := f.do("POST", "/payments/torobpay/cancel", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
