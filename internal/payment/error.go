package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"adora-payments/internal/order"
	"adora-payments/internal/receipt"
	"adora-payments/internal/token"
	"adora-payments/internal/transport"
)

var (
	ErrUnsupportedAction = errors.New("action not supported by gateway")
	ErrActionNotAllowed  = errors.New("action not allowed in current payment status")
	ErrGatewayDisabled   = errors.New("gateway is not enabled")
	ErrWrongGateway      = errors.New("order was placed with another gateway")
	ErrAuthorityMismatch = errors.New("callback authority does not match order")
)

// TransportError is a call that never produced a usable response.
type TransportError = transport.Error

// BusinessError is a well-formed gateway response rejecting the request.
type BusinessError struct {
	Gateway    order.Gateway
	Action     Action
	Code       string
	Message    string
	HTTPStatus int
	Details    receipt.Details
	Raw        json.RawMessage
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("%s %s rejected: code=%s %s", e.Gateway, e.Action, e.Code, e.Message)
}

// IntegrityError is a local invariant violation. It never moves the order.
type IntegrityError struct {
	Reason string
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *IntegrityError) Unwrap() error { return e.Err }

func Integrity(reason string, err error) error {
	return &IntegrityError{Reason: reason, Err: err}
}

type Kind int

const (
	KindNone Kind = iota
	KindTransport
	KindBusiness
	KindIntegrity
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindBusiness:
		return "business"
	case KindIntegrity:
		return "integrity"
	}
	return "unexpected"
}

func (k Kind) Marker() receipt.Marker {
	switch k {
	case KindTransport:
		return receipt.MarkerTransport
	case KindBusiness:
		return receipt.MarkerBusiness
	case KindIntegrity:
		return receipt.MarkerIntegrity
	}
	return receipt.MarkerUnexpected
}

// KindOf classifies an adapter error.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var be *BusinessError
	if errors.As(err, &be) {
		return KindBusiness
	}
	var ie *IntegrityError
	if errors.As(err, &ie) {
		return KindIntegrity
	}
	if errors.Is(err, token.ErrTokenUnavailable) || errors.Is(err, receipt.ErrGatewayMismatch) ||
		errors.Is(err, order.ErrWalletShortfall) {
		return KindIntegrity
	}
	var te *transport.Error
	if errors.As(err, &te) {
		return KindTransport
	}
	return KindUnexpected
}
