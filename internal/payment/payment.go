// Package payment drives orders through their gateway's payment protocol.
package payment

import (
	"context"
	"encoding/json"

	"adora-payments/internal/money"
	"adora-payments/internal/order"
	"adora-payments/internal/receipt"

	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionInitiate Action = "initiate"
	ActionVerify   Action = "verify"
	ActionSettle   Action = "settle"
	ActionRevert   Action = "revert"
	ActionCancel   Action = "cancel"
	ActionStatus   Action = "status"
	ActionUpdate   Action = "update"
)

var Actions = []Action{
	ActionInitiate, ActionVerify, ActionSettle, ActionRevert,
	ActionCancel, ActionStatus, ActionUpdate,
}

func ParseAction(s string) (Action, bool) {
	// azkivam calls its revert step "reverse"
	if s == "reverse" {
		return ActionRevert, true
	}
	for _, a := range Actions {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// Gateway is implemented by every adapter. The actions an adapter supports
// are the capability interfaces below that it implements.
type Gateway interface {
	Name() order.Gateway
	Currency() money.Currency
}

type Initiator interface {
	Gateway
	Initiate(ctx context.Context, req Request) (*Result, error)
}

type Verifier interface {
	Gateway
	Verify(ctx context.Context, req Request) (*Result, error)
}

type Settler interface {
	Gateway
	Settle(ctx context.Context, req Request) (*Result, error)
}

type Reverter interface {
	Gateway
	Revert(ctx context.Context, req Request) (*Result, error)
}

type Canceler interface {
	Gateway
	Cancel(ctx context.Context, req Request) (*Result, error)
}

type StatusChecker interface {
	Gateway
	Status(ctx context.Context, req Request) (*Result, error)
}

type Updater interface {
	Gateway
	Update(ctx context.Context, req Request) (*Result, error)
}

// ZeroAmountAllower is implemented by gateways that accept a zero payable
// amount. Everyone else gets zero amounts rejected before any call.
type ZeroAmountAllower interface {
	AllowsZeroAmount() bool
}

// Request is the input of one adapter call.
type Request struct {
	Order *order.Order
	// Payable is the amount to charge, already in the gateway's unit.
	Payable int64
	// Authority is the session id echoed back by a redirect callback.
	Authority string
	Update    *CartUpdate
}

// CartUpdate replaces an order's cart before settlement.
type CartUpdate struct {
	Items        []order.Item
	DeliveryCost decimal.Decimal
	Discount     decimal.Decimal
}

// Total is the new major-unit order total.
func (u *CartUpdate) Total() decimal.Decimal {
	return order.ItemsTotal(u.Items).Add(u.DeliveryCost).Sub(u.Discount)
}

// Result is a successful adapter call.
type Result struct {
	TransactionID string
	PaymentToken  string
	PaymentURL    string
	// RemoteStatus is the gateway's own status string, for status calls.
	RemoteStatus string
	Details      receipt.Details
	Raw          json.RawMessage
}
