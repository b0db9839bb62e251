package payment

import (
	"context"
	"sync"

	"adora-payments/internal/money"
	"adora-payments/internal/order"
	"adora-payments/internal/receipt"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// fakeOrders keeps orders in memory and applies the same transition and
// wallet rules as the postgres repository.
type fakeOrders struct {
	mu       sync.Mutex
	orders   map[string]*order.Order
	balances map[int64]decimal.Decimal
}

func newFakeOrders(orders ...*order.Order) *fakeOrders {
	f := &fakeOrders{orders: make(map[string]*order.Order), balances: make(map[int64]decimal.Decimal)}
	for _, o := range orders {
		f.orders[o.TrackingNumber] = o
	}
	return f
}

func (f *fakeOrders) get(tn string) order.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.orders[tn]
}

func (f *fakeOrders) GetByTrackingNumber(_ context.Context, tn string) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[tn]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) GetByPaymentToken(_ context.Context, gateway order.Gateway, tok string) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.PaymentReference == gateway && o.PaymentToken == tok {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (f *fakeOrders) TrackingNumberExists(_ context.Context, tn string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.orders[tn]
	return ok, nil
}

func (f *fakeOrders) Create(_ context.Context, o *order.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.orders[o.TrackingNumber] = &cp
	return nil
}

func (f *fakeOrders) Transition(_ context.Context, o *order.Order, to order.PaymentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !order.CanTransition(o.PaymentStatus, to) {
		return order.ErrInvalidTransition
	}
	stored := f.orders[o.TrackingNumber]
	if stored.PaymentStatus != o.PaymentStatus {
		return order.ErrStaleStatus
	}
	if to.IsPaid() {
		bal := f.balances[stored.ProfileID]
		used, err := order.AuthorizedWalletShare(stored, bal)
		if err != nil {
			return err
		}
		f.balances[stored.ProfileID] = bal.Sub(used).Add(stored.OrderReward)
		stored.AmountUsedWalletBalance = used
		o.AmountUsedWalletBalance = used
	}
	stored.PaymentStatus = to
	o.PaymentStatus = to
	return nil
}

func (f *fakeOrders) SetPaymentToken(_ context.Context, orderID int64, tok, pageURL string, authorized int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ID == orderID {
			o.PaymentToken, o.PaymentPageURL, o.AuthorizedAmount = tok, pageURL, authorized
			return nil
		}
	}
	return order.ErrOrderNotFound
}

func (f *fakeOrders) ReplaceItems(_ context.Context, orderID int64, items []order.Item, total decimal.Decimal, authorized int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ID == orderID {
			o.Items, o.TotalPrice, o.AuthorizedAmount = items, total, authorized
			return nil
		}
	}
	return order.ErrOrderNotFound
}

func (f *fakeOrders) WalletBalance(_ context.Context, profileID int64) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[profileID], nil
}

// fakeLedger folds attempts the way the receipt upsert does.
type fakeLedger struct {
	mu       sync.Mutex
	attempts []receipt.Attempt
	receipts map[int64]*receipt.Receipt
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{receipts: make(map[int64]*receipt.Receipt)}
}

func (l *fakeLedger) Record(_ context.Context, orderID int64, gateway order.Gateway, a receipt.Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a.Details != nil && a.Details.Gateway() != gateway {
		return receipt.ErrGatewayMismatch
	}
	l.attempts = append(l.attempts, a)

	rc, ok := l.receipts[orderID]
	if !ok {
		rc = &receipt.Receipt{OrderID: orderID, Gateway: gateway}
		l.receipts[orderID] = rc
	}
	if a.TransactionID != "" {
		rc.TransactionID = a.TransactionID
	}
	rc.ErrorCode = a.ErrorCode
	if line := a.Line(); line != "" {
		if rc.ErrorMessage != "" {
			rc.ErrorMessage += "\n"
		}
		rc.ErrorMessage += line
	}
	if a.Details != nil {
		rc.Details = a.Details
	}
	return nil
}

func (l *fakeLedger) Get(_ context.Context, orderID int64) (*receipt.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rc, ok := l.receipts[orderID]
	if !ok {
		return nil, receipt.ErrReceiptNotFound
	}
	cp := *rc
	return &cp, nil
}

func (l *fakeLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}

type handler func(req Request) (*Result, error)

// fakeGateway implements every capability. Which ones a gateway really
// supports is decided by its flow table entry.
type fakeGateway struct {
	name     order.Gateway
	currency money.Currency
	zero     bool

	mu       sync.Mutex
	calls    map[Action]int
	requests []Request
	handlers map[Action]handler
}

func newFakeGateway(name order.Gateway, c money.Currency) *fakeGateway {
	return &fakeGateway{name: name, currency: c, calls: make(map[Action]int), handlers: make(map[Action]handler)}
}

func (g *fakeGateway) on(a Action, h handler) *fakeGateway {
	g.handlers[a] = h
	return g
}

func (g *fakeGateway) called(a Action) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[a]
}

func (g *fakeGateway) handle(a Action, req Request) (*Result, error) {
	g.mu.Lock()
	g.calls[a]++
	g.requests = append(g.requests, req)
	h := g.handlers[a]
	g.mu.Unlock()
	if h == nil {
		return &Result{}, nil
	}
	return h(req)
}

func (g *fakeGateway) Name() order.Gateway      { return g.name }
func (g *fakeGateway) Currency() money.Currency { return g.currency }
func (g *fakeGateway) AllowsZeroAmount() bool   { return g.zero }

func (g *fakeGateway) Initiate(_ context.Context, req Request) (*Result, error) {
	return g.handle(ActionInitiate, req)
}

func (g *fakeGateway) Verify(_ context.Context, req Request) (*Result, error) {
	return g.handle(ActionVerify, req)
}

func (g *fakeGateway) Settle(_ context.Context, req Request) (*Result, error) {
	return g.handle(ActionSettle, req)
}

func (g *fakeGateway) Revert(_ context.Context, req Request) (*Result, error) {
	return g.handle(ActionRevert, req)
}

func (g *fakeGateway) Cancel(_ context.Context, req Request) (*Result, error) {
	return g.handle(ActionCancel, req)
}

func (g *fakeGateway) Status(_ context.Context, req Request) (*Result, error) {
	return g.handle(ActionStatus, req)
}

func (g *fakeGateway) Update(_ context.Context, req Request) (*Result, error) {
	return g.handle(ActionUpdate, req)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) OrderStatusChanged(ctx context.Context, o *order.Order) error {
	return m.Called(ctx, o).Error(0)
}
