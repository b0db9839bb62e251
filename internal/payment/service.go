package payment

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"adora-payments/internal/logger"
	"adora-payments/internal/metrics"
	"adora-payments/internal/money"
	"adora-payments/internal/order"
	"adora-payments/internal/receipt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Notifier is told about orders that reached complete or failed.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, o *order.Order) error
}

// Command asks for one action on one order.
type Command struct {
	TrackingNumber string
	// Gateway, when set, must match the order's payment reference.
	Gateway   order.Gateway
	Action    Action
	Authority string
	Update    *CartUpdate
}

// Outcome reports what an action did. Err mirrors the error returned by
// Execute so callers can render both from one value.
type Outcome struct {
	Order  *order.Order
	Action Action
	Result *Result
	// Noop is set when the order was already past this action.
	Noop bool
	Kind Kind
	Err  error
}

type Service struct {
	orders   order.Repository
	ledger   receipt.Ledger
	registry *Registry
	notifier Notifier
	metrics  *metrics.Metrics
	locks    *keyedMutex
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(orders order.Repository, ledger receipt.Ledger, registry *Registry, opts ...Option) *Service {
	s := &Service{
		orders:   orders,
		ledger:   ledger,
		registry: registry,
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Registry() *Registry { return s.registry }

// Start initiates payment for a new order.
func (s *Service) Start(ctx context.Context, o *order.Order) error {
	_, err := s.Execute(ctx, Command{
		TrackingNumber: o.TrackingNumber,
		Gateway:        o.PaymentReference,
		Action:         ActionInitiate,
	})
	return err
}

// Execute runs one action. Actions on the same order never overlap.
func (s *Service) Execute(ctx context.Context, cmd Command) (*Outcome, error) {
	unlock := s.locks.Lock(cmd.TrackingNumber)
	defer unlock()

	o, err := s.orders.GetByTrackingNumber(ctx, cmd.TrackingNumber)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, o, cmd)
}

// HandleCallback verifies a redirect-based payment once the customer comes
// back from the gateway. paid is false when the gateway reported the payment
// as abandoned or declined.
func (s *Service) HandleCallback(ctx context.Context, gateway order.Gateway, authority string, paid bool) (*Outcome, error) {
	o, err := s.orders.GetByPaymentToken(ctx, gateway, authority)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(o.TrackingNumber)
	defer unlock()

	// Reload under the lock; a concurrent callback may have moved it.
	if o, err = s.orders.GetByTrackingNumber(ctx, o.TrackingNumber); err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(o.PaymentToken), []byte(authority)) != 1 {
		logger.ForPayment(ctx, o.TrackingNumber, string(gateway), string(ActionVerify)).
			Warn("callback authority does not match stored authority")
		return nil, ErrAuthorityMismatch
	}

	cmd := Command{TrackingNumber: o.TrackingNumber, Gateway: gateway, Action: ActionVerify, Authority: authority}
	if !paid {
		return s.abandon(ctx, o, cmd)
	}
	return s.execute(ctx, o, cmd)
}

// abandon fails a pending order whose customer did not pay, without asking
// the gateway.
func (s *Service) abandon(ctx context.Context, o *order.Order, cmd Command) (*Outcome, error) {
	flow, ok := FlowFor(o.PaymentReference, cmd.Action)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnsupportedAction, o.PaymentReference, cmd.Action)
	}
	out := &Outcome{Order: o, Action: cmd.Action}
	if flow.isNoop(o.PaymentStatus) || !flow.allows(o.PaymentStatus) {
		out.Noop = true
		return out, nil
	}

	err := &BusinessError{
		Gateway: o.PaymentReference,
		Action:  cmd.Action,
		Code:    "NOK",
		Message: "payment was not completed by the customer",
	}
	s.record(ctx, o, cmd.Action, nil, err)
	_ = s.move(ctx, o, flow.Failure)
	out.Kind, out.Err = KindBusiness, err
	return out, err
}

func (s *Service) execute(ctx context.Context, o *order.Order, cmd Command) (*Outcome, error) {
	log := logger.ForPayment(ctx, o.TrackingNumber, string(o.PaymentReference), string(cmd.Action))

	if cmd.Gateway != "" && cmd.Gateway != o.PaymentReference {
		return nil, fmt.Errorf("%w: %s", ErrWrongGateway, o.PaymentReference)
	}
	g, ok := s.registry.Get(o.PaymentReference)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGatewayDisabled, o.PaymentReference)
	}
	if !Supports(g, cmd.Action) {
		return nil, fmt.Errorf("%w: %s %s", ErrUnsupportedAction, o.PaymentReference, cmd.Action)
	}
	flow, _ := FlowFor(o.PaymentReference, cmd.Action)

	out := &Outcome{Order: o, Action: cmd.Action}
	if flow.isNoop(o.PaymentStatus) || (cmd.Action == ActionInitiate && o.PaymentToken != "") {
		log.Info("action already done", zap.String("status", string(o.PaymentStatus)))
		out.Noop = true
		s.metrics.ActionDone(string(o.PaymentReference), string(cmd.Action), "noop")
		return out, nil
	}
	if !flow.allows(o.PaymentStatus) {
		return nil, fmt.Errorf("%w: %s from %s", ErrActionNotAllowed, cmd.Action, o.PaymentStatus)
	}

	if cmd.Authority != "" && subtle.ConstantTimeCompare([]byte(cmd.Authority), []byte(o.PaymentToken)) != 1 {
		log.Warn("authority does not match the stored payment token")
		return nil, ErrAuthorityMismatch
	}

	req := Request{Order: o, Authority: cmd.Authority, Update: cmd.Update}
	var res *Result
	err := s.prepare(ctx, g, cmd.Action, &req)
	if err == nil {
		res, err = s.call(ctx, log, g, cmd.Action, req)
	}

	kind := KindOf(err)
	out.Result, out.Kind, out.Err = res, kind, err
	s.metrics.ActionDone(string(o.PaymentReference), string(cmd.Action), kind.String())

	s.record(ctx, o, cmd.Action, res, err)

	switch kind {
	case KindNone:
		log.Info("gateway action succeeded")
		if serr := s.applySuccess(ctx, o, cmd.Action, req, res); serr != nil {
			log.Error("failed to persist gateway result", zap.Error(serr))
			out.Err = serr
			return out, serr
		}
		if merr := s.move(ctx, o, flow.Success); errors.Is(merr, order.ErrWalletShortfall) {
			err = Integrity("wallet no longer covers the authorized share", merr)
			out.Kind, out.Err = KindIntegrity, err
		}
	case KindTransport, KindBusiness:
		log.Warn("gateway action failed", zap.String("kind", kind.String()), zap.Error(err))
		_ = s.move(ctx, o, flow.Failure)
	case KindIntegrity:
		log.Error("gateway action rejected locally", zap.Error(err))
	default:
		log.Error("unexpected error during gateway action", zap.Error(err), zap.Stack("stack"))
	}

	return out, err
}

// prepare fills the payable amount and runs the checks that must pass before
// any network call.
func (s *Service) prepare(ctx context.Context, g Gateway, action Action, req *Request) error {
	o := req.Order

	switch action {
	case ActionInitiate:
		payable, err := s.payable(ctx, o, o.TotalPrice, g.Currency())
		if err != nil {
			return err
		}
		req.Payable = payable
		if req.Payable <= 0 && !allowsZero(g) {
			return Integrity(fmt.Sprintf("payable amount is %d", req.Payable), nil)
		}
	case ActionVerify:
		// Verification must repeat the amount the gateway authorized.
		req.Payable = o.AuthorizedAmount
	case ActionUpdate:
		if req.Update == nil || len(req.Update.Items) == 0 {
			return Integrity("update has no items", nil)
		}
		payable, err := s.payable(ctx, o, req.Update.Total(), g.Currency())
		if err != nil {
			return err
		}
		req.Payable = payable
	}
	return nil
}

// payable is what the gateway charges for total once the live wallet balance
// is taken off.
func (s *Service) payable(ctx context.Context, o *order.Order, total decimal.Decimal, c money.Currency) (int64, error) {
	balance := decimal.Zero
	if o.UseWalletBalance {
		b, err := s.orders.WalletBalance(ctx, o.ProfileID)
		if err != nil {
			return 0, err
		}
		balance = b
	}
	return money.PayableAmount(total, o.UseWalletBalance, balance, c), nil
}

func allowsZero(g Gateway) bool {
	z, ok := g.(ZeroAmountAllower)
	return ok && z.AllowsZeroAmount()
}

// call runs the adapter and turns a panic into an unexpected error so the
// attempt still reaches the ledger.
func (s *Service) call(ctx context.Context, log *zap.Logger, g Gateway, action Action, req Request) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("gateway adapter panicked", zap.Any("panic", r), zap.Stack("stack"))
			res, err = nil, fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return dispatch(ctx, g, action, req)
}

func (s *Service) applySuccess(ctx context.Context, o *order.Order, action Action, req Request, res *Result) error {
	switch action {
	case ActionInitiate:
		if res == nil || res.PaymentToken == "" {
			return nil
		}
		if err := s.orders.SetPaymentToken(ctx, o.ID, res.PaymentToken, res.PaymentURL, req.Payable); err != nil {
			return err
		}
		o.PaymentToken, o.PaymentPageURL, o.AuthorizedAmount = res.PaymentToken, res.PaymentURL, req.Payable
	case ActionUpdate:
		total := req.Update.Total()
		if err := s.orders.ReplaceItems(ctx, o.ID, req.Update.Items, total, req.Payable); err != nil {
			return err
		}
		o.Items, o.TotalPrice, o.AuthorizedAmount = req.Update.Items, total, req.Payable
	}
	return nil
}

// move applies a flow target. Empty targets and targets equal to the current
// status leave the order alone.
func (s *Service) move(ctx context.Context, o *order.Order, to order.PaymentStatus) error {
	if to == "" || to == o.PaymentStatus {
		return nil
	}
	log := logger.ForPayment(ctx, o.TrackingNumber, string(o.PaymentReference), "transition")
	from := o.PaymentStatus

	if err := s.orders.Transition(ctx, o, to); err != nil {
		if errors.Is(err, order.ErrStaleStatus) {
			log.Warn("order changed during action, status left as is", zap.Error(err))
			return err
		}
		log.Error("failed to change payment status", zap.Error(err))
		return err
	}
	s.metrics.Transitioned(string(o.PaymentReference), string(from), string(to))

	if s.notifier != nil && (to == order.StatusComplete || to == order.StatusFailed) {
		if err := s.notifier.OrderStatusChanged(ctx, o); err != nil {
			log.Warn("failed to publish order status", zap.Error(err))
		}
	}
	return nil
}

// record writes the attempt to the receipt. A ledger failure is logged and
// does not undo the gateway outcome.
func (s *Service) record(ctx context.Context, o *order.Order, action Action, res *Result, err error) {
	a := attemptFrom(action, res, err)
	if lerr := s.ledger.Record(ctx, o.ID, o.PaymentReference, a); lerr != nil {
		logger.ForPayment(ctx, o.TrackingNumber, string(o.PaymentReference), string(action)).
			Error("failed to record receipt", zap.Error(lerr))
	}
}

const unexpectedMessage = "internal error while processing payment"

func attemptFrom(action Action, res *Result, err error) receipt.Attempt {
	a := receipt.Attempt{Action: string(action)}
	if res != nil {
		a.TransactionID = res.TransactionID
		a.Details = res.Details
		a.RawResponse = res.Raw
	}

	kind := KindOf(err)
	if kind == KindNone {
		return a
	}
	a.Marker = kind.Marker()

	switch kind {
	case KindBusiness:
		var be *BusinessError
		errors.As(err, &be)
		a.ErrorCode = be.Code
		a.ErrorMessage = be.Message
		if be.Details != nil {
			a.Details = be.Details
		}
		if len(be.Raw) > 0 {
			a.RawResponse = be.Raw
		}
	case KindUnexpected:
		a.ErrorMessage = unexpectedMessage
	default:
		a.ErrorMessage = err.Error()
	}
	if a.ErrorMessage == "" && a.ErrorCode == "" {
		a.ErrorMessage = kind.String() + " failure"
	}
	return a
}
