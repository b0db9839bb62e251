package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"adora-payments/internal/logger"
	"adora-payments/internal/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Repository interface {
	GetByTrackingNumber(ctx context.Context, trackingNumber string) (*Order, error)
	GetByPaymentToken(ctx context.Context, gateway Gateway, token string) (*Order, error)
	TrackingNumberExists(ctx context.Context, trackingNumber string) (bool, error)
	Create(ctx context.Context, o *Order) error
	Transition(ctx context.Context, o *Order, to PaymentStatus) error
	SetPaymentToken(ctx context.Context, orderID int64, token, pageURL string, authorized int64) error
	ReplaceItems(ctx context.Context, orderID int64, items []Item, total decimal.Decimal, authorized int64) error
	WalletBalance(ctx context.Context, profileID int64) (decimal.Decimal, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const orderColumns = `
	id, tracking_number, profile_id,
	receiver_name, receiver_phone, delivery_address, description,
	delivery_cost, total_price, order_reward,
	use_wallet_balance, amount_used_wallet_balance,
	payment_method, payment_reference, payment_status,
	payment_token, payment_page_url, authorized_amount,
	created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*Order, error) {
	var (
		o       Order
		token   sql.NullString
		pageURL sql.NullString
		desc    sql.NullString
	)
	err := row.Scan(
		&o.ID, &o.TrackingNumber, &o.ProfileID,
		&o.ReceiverName, &o.ReceiverPhone, &o.DeliveryAddress, &desc,
		&o.DeliveryCost, &o.TotalPrice, &o.OrderReward,
		&o.UseWalletBalance, &o.AmountUsedWalletBalance,
		&o.PaymentMethod, &o.PaymentReference, &o.PaymentStatus,
		&token, &pageURL, &o.AuthorizedAmount,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Description = desc.String
	o.PaymentToken = token.String
	o.PaymentPageURL = pageURL.String
	return &o, nil
}

func (r *repository) GetByTrackingNumber(ctx context.Context, trackingNumber string) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "GetByTrackingNumber"),
		zap.String("tracking_number", trackingNumber),
	)

	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE tracking_number = $1`, trackingNumber)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		log.Error("failed to load order", zap.Error(err))
		return nil, err
	}

	if o.Items, err = r.items(ctx, o.ID); err != nil {
		log.Error("failed to load order items", zap.Error(err))
		return nil, err
	}
	return o, nil
}

func (r *repository) GetByPaymentToken(ctx context.Context, gateway Gateway, token string) (*Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE payment_reference = $1 AND payment_token = $2`,
		gateway, token,
	)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	if o.Items, err = r.items(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repository) items(ctx context.Context, orderID int64) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, name, category, quantity, sold_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.Category, &it.Quantity, &it.SoldPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repository) TrackingNumberExists(ctx context.Context, trackingNumber string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM orders WHERE tracking_number = $1)`,
		trackingNumber,
	).Scan(&exists)
	return exists, err
}

// Create inserts the order and its items in one transaction. Sold prices
// are written once here and never updated afterwards.
func (r *repository) Create(ctx context.Context, o *Order) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "Create"),
		zap.String("tracking_number", o.TrackingNumber),
		zap.Int("item_count", len(o.Items)),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", zap.Error(err))
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (
			tracking_number, profile_id,
			receiver_name, receiver_phone, delivery_address, description,
			delivery_cost, total_price, order_reward, use_wallet_balance,
			payment_method, payment_reference, payment_status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`,
		o.TrackingNumber, o.ProfileID,
		o.ReceiverName, o.ReceiverPhone, o.DeliveryAddress, o.Description,
		o.DeliveryCost, o.TotalPrice, o.OrderReward, o.UseWalletBalance,
		o.PaymentMethod, o.PaymentReference, o.PaymentStatus,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		log.Error("failed to insert order", zap.Error(err))
		return err
	}

	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, product_id, name, category, quantity, sold_price)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, o.ID, it.ProductID, it.Name, it.Category, it.Quantity, it.SoldPrice).Scan(&it.ID)
		if err != nil {
			log.Error("failed to insert order item",
				zap.Int("item_index", i),
				zap.Int64("product_id", it.ProductID),
				zap.Error(err),
			)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		log.Error("failed to commit order", zap.Error(err))
		return err
	}

	log.Info("order created", zap.Int64("order_id", o.ID))
	return nil
}

// Transition moves the order from its current status to `to`. The update is
// conditional on the status the caller loaded, so a concurrent writer makes
// it fail with ErrStaleStatus. Entering a paid status settles the wallet in
// the same transaction.
func (r *repository) Transition(ctx context.Context, o *Order, to PaymentStatus) error {
	from := o.PaymentStatus
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "Transition"),
		zap.Int64("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", zap.Error(err))
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $1, updated_at = now()
		WHERE id = $2 AND payment_status = $3
	`, to, o.ID, from)
	if err != nil {
		log.Error("failed to update payment status", zap.Error(err))
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		err = ErrStaleStatus
		log.Warn("payment status changed underneath")
		return err
	}

	var used decimal.Decimal
	if to.IsPaid() {
		if used, err = settleWallet(ctx, tx, o); err != nil {
			log.Error("failed to settle wallet", zap.Error(err))
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		log.Error("failed to commit transition", zap.Error(err))
		return err
	}

	o.PaymentStatus = to
	if to.IsPaid() {
		o.AmountUsedWalletBalance = used
	}
	log.Info("payment status changed")
	return nil
}

// AuthorizedWalletShare is the wallet deduction matching what the gateway
// charged at initiate. It fails when the live balance can no longer cover it.
func AuthorizedWalletShare(o *Order, balance decimal.Decimal) (decimal.Decimal, error) {
	used := money.AuthorizedDeduction(o.TotalPrice, o.UseWalletBalance, o.AuthorizedAmount, o.PaymentReference.Currency())
	if used.GreaterThan(balance.Ceil()) {
		return decimal.Zero, fmt.Errorf("%w: need %s, have %s", ErrWalletShortfall, used, balance)
	}
	if used.GreaterThan(balance) {
		used = balance
	}
	return used, nil
}

// settleWallet deducts the wallet share of the order and credits its reward.
// The profile row stays locked until the surrounding transaction ends.
func settleWallet(ctx context.Context, tx *sql.Tx, o *Order) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx,
		`SELECT wallet_balance FROM profiles WHERE id = $1 FOR UPDATE`,
		o.ProfileID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrProfileNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}

	used, err := AuthorizedWalletShare(o, balance)
	if err != nil {
		return decimal.Zero, err
	}
	next := balance.Sub(used).Add(o.OrderReward)

	if _, err := tx.ExecContext(ctx,
		`UPDATE profiles SET wallet_balance = $1 WHERE id = $2`,
		next, o.ProfileID,
	); err != nil {
		return decimal.Zero, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET amount_used_wallet_balance = $1 WHERE id = $2`,
		used, o.ID,
	); err != nil {
		return decimal.Zero, err
	}
	return used, nil
}

func (r *repository) SetPaymentToken(ctx context.Context, orderID int64, token, pageURL string, authorized int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_token = $1, payment_page_url = $2, authorized_amount = $3, updated_at = now()
		WHERE id = $4
	`, token, pageURL, authorized, orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ReplaceItems swaps the cart of an order after the gateway accepted an
// update. Replacement items keep the sold prices they were given.
func (r *repository) ReplaceItems(ctx context.Context, orderID int64, items []Item, total decimal.Decimal, authorized int64) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "ReplaceItems"),
		zap.Int64("order_id", orderID),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		log.Error("failed to delete items", zap.Error(err))
		return err
	}

	for _, it := range items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, name, category, quantity, sold_price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, orderID, it.ProductID, it.Name, it.Category, it.Quantity, it.SoldPrice); err != nil {
			log.Error("failed to insert item", zap.Int64("product_id", it.ProductID), zap.Error(err))
			return err
		}
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE orders SET total_price = $1, authorized_amount = $2, updated_at = now() WHERE id = $3`,
		total, authorized, orderID,
	); err != nil {
		log.Error("failed to update total", zap.Error(err))
		return err
	}

	return tx.Commit()
}

func (r *repository) WalletBalance(ctx context.Context, profileID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`SELECT wallet_balance FROM profiles WHERE id = $1`,
		profileID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrProfileNotFound
	}
	return balance, err
}
