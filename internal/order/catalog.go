package order

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Product is the pricing view of a catalog product used at checkout.
type Product struct {
	ID                   int64
	Name                 string
	Category             string
	Price                decimal.Decimal
	PriceDiscountPercent decimal.Decimal
	WalletDiscount       decimal.Decimal
}

// Catalog reads what checkout needs from the product catalog.
type Catalog interface {
	Products(ctx context.Context, ids []int64) (map[int64]Product, error)
	// CashDiscountPercent is the latest zarinpal cash discount, zero if unset.
	CashDiscountPercent(ctx context.Context) (decimal.Decimal, error)
}

type catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) Catalog {
	return &catalog{db: db}
}

func (c *catalog) Products(ctx context.Context, ids []int64) (map[int64]Product, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT p.id, p.name, COALESCE(p.category, ''), p.price, p.price_discount_percent, p.wallet_discount
		FROM products p
		WHERE p.id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.PriceDiscountPercent, &p.WalletDiscount); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (c *catalog) CashDiscountPercent(ctx context.Context) (decimal.Decimal, error) {
	var pct decimal.Decimal
	err := c.db.QueryRowContext(ctx, `
		SELECT zarinpal_discount_percent
		FROM cash_discount_percents
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&pct)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	return pct, err
}

var hundred = decimal.NewFromInt(100)

// SoldPrice is the unit price locked into an order item: the product
// discount first, then the cash discount when paying through zarinpal,
// rounded to a whole unit.
func SoldPrice(p Product, gateway Gateway, cashDiscount decimal.Decimal) decimal.Decimal {
	price := p.Price.Mul(decimal.NewFromInt(1).Sub(p.PriceDiscountPercent.Div(hundred)))
	if gateway == GatewayZarinpal && cashDiscount.Sign() > 0 {
		price = price.Mul(decimal.NewFromInt(1).Sub(cashDiscount.Div(hundred)))
	}
	return price.Round(0)
}

// Reward is the wallet credit earned by buying qty units of p.
func Reward(p Product, qty int) decimal.Decimal {
	return p.Price.Mul(p.WalletDiscount).Div(hundred).Mul(decimal.NewFromInt(int64(qty)))
}
