package order

import (
	"time"

	"adora-payments/internal/money"

	"github.com/shopspring/decimal"
)

// Gateway is the payment provider an order was placed with. The value is
// persisted as orders.payment_reference.
type Gateway string

const (
	GatewayZarinpal Gateway = "zarinpal"
	GatewayTorobPay Gateway = "torobpay"
	GatewayAzkivam  Gateway = "azkivam"
	GatewaySnappPay Gateway = "snapppay"
)

func (g Gateway) Valid() bool {
	switch g {
	case GatewayZarinpal, GatewayTorobPay, GatewayAzkivam, GatewaySnappPay:
		return true
	}
	return false
}

// Currency is the unit the gateway charges in.
func (g Gateway) Currency() money.Currency {
	if g == GatewayZarinpal {
		return money.Major
	}
	return money.Minor
}

type PaymentMethod string

const (
	PaymentOnline PaymentMethod = "online"
	PaymentCash   PaymentMethod = "cash"
)

type Order struct {
	ID             int64
	TrackingNumber string
	ProfileID      int64

	ReceiverName    string
	ReceiverPhone   string
	DeliveryAddress string
	Description     string

	DeliveryCost            decimal.Decimal
	TotalPrice              decimal.Decimal
	OrderReward             decimal.Decimal
	UseWalletBalance        bool
	AmountUsedWalletBalance decimal.Decimal

	PaymentMethod    PaymentMethod
	PaymentReference Gateway
	PaymentStatus    PaymentStatus

	// PaymentToken holds the gateway session id: the zarinpal authority,
	// the azkivam ticket id or the torob/snapp payment token.
	PaymentToken   string
	PaymentPageURL string
	// AuthorizedAmount is the payable amount accepted at initiate, in the
	// gateway's own unit.
	AuthorizedAmount int64

	CreatedAt time.Time
	UpdatedAt time.Time

	Items []Item
}

type Item struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Name      string
	Category  string
	Quantity  int
	SoldPrice decimal.Decimal
}

// Subtotal is the locked sold price times quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.SoldPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemsTotal sums the subtotals of every item.
func ItemsTotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}
