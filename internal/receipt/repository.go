package receipt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"adora-payments/internal/logger"
	"adora-payments/internal/order"

	"go.uber.org/zap"
)

// Ledger records gateway attempts against an order's receipt.
type Ledger interface {
	Record(ctx context.Context, orderID int64, gateway order.Gateway, a Attempt) error
	Get(ctx context.Context, orderID int64) (*Receipt, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Ledger {
	return &repository{db: db}
}

// The first attempt creates the receipt. Later attempts append to the error
// history and overwrite the current state. Details are merged key by key so
// fields from earlier steps survive. The WHERE clause refuses the update when
// the stored receipt belongs to another gateway.
const upsertReceipt = `
	INSERT INTO order_receipts (
		order_id, gateway, transaction_id, error_code, error_message, details, raw_response
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (order_id) DO UPDATE SET
		transaction_id = COALESCE(NULLIF(EXCLUDED.transaction_id, ''), order_receipts.transaction_id),
		error_code = EXCLUDED.error_code,
		error_message = CASE
			WHEN EXCLUDED.error_message = '' THEN order_receipts.error_message
			WHEN order_receipts.error_message = '' THEN EXCLUDED.error_message
			ELSE order_receipts.error_message || E'\n' || EXCLUDED.error_message
		END,
		details = COALESCE(order_receipts.details, '{}'::jsonb) || COALESCE(EXCLUDED.details, '{}'::jsonb),
		raw_response = COALESCE(EXCLUDED.raw_response, order_receipts.raw_response),
		updated_at = now()
	WHERE order_receipts.gateway = EXCLUDED.gateway
	RETURNING id
`

func (r *repository) Record(ctx context.Context, orderID int64, gateway order.Gateway, a Attempt) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "Record"),
		zap.Int64("order_id", orderID),
		zap.String("gateway", string(gateway)),
		zap.String("action", a.Action),
	)

	if a.Details != nil && a.Details.Gateway() != gateway {
		log.Error("details variant does not match gateway",
			zap.String("details_gateway", string(a.Details.Gateway())),
		)
		return ErrGatewayMismatch
	}

	var details []byte
	if a.Details != nil {
		b, err := json.Marshal(a.Details)
		if err != nil {
			return fmt.Errorf("encode receipt details: %w", err)
		}
		details = b
	}

	var raw []byte
	if len(a.RawResponse) > 0 && json.Valid(a.RawResponse) {
		raw = a.RawResponse
	}

	var id int64
	err := r.db.QueryRowContext(ctx, upsertReceipt,
		orderID, gateway, a.TransactionID, a.ErrorCode, a.Line(), nullJSON(details), nullJSON(raw),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		log.Error("receipt belongs to another gateway")
		return ErrGatewayMismatch
	}
	if err != nil {
		log.Error("failed to record attempt", zap.Error(err))
		return err
	}

	log.Debug("attempt recorded", zap.Int64("receipt_id", id), zap.String("marker", string(a.Marker)))
	return nil
}

func (r *repository) Get(ctx context.Context, orderID int64) (*Receipt, error) {
	var (
		rc      Receipt
		details []byte
		raw     []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, gateway, transaction_id, error_code, error_message,
		       details, raw_response, created_at, updated_at
		FROM order_receipts
		WHERE order_id = $1
	`, orderID).Scan(
		&rc.ID, &rc.OrderID, &rc.Gateway, &rc.TransactionID, &rc.ErrorCode, &rc.ErrorMessage,
		&details, &raw, &rc.CreatedAt, &rc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}

	if rc.Details, err = decodeDetails(rc.Gateway, details); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		rc.RawResponse = json.RawMessage(raw)
	}
	return &rc, nil
}

// nullJSON maps an empty document to SQL NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
