package order

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrProfileNotFound   = errors.New("profile not found")
	ErrWalletShortfall   = errors.New("wallet balance is below the authorized deduction")
	ErrInvalidTransition = errors.New("invalid payment status transition")
	ErrStaleStatus       = errors.New("order payment status changed concurrently")
	ErrEmptyCart         = errors.New("order has no items")
	ErrInvalidQuantity   = errors.New("item quantity must be positive")
	ErrUnknownGateway    = errors.New("unknown payment gateway")
	ErrTrackingExhausted = errors.New("could not allocate a unique tracking number")
)
