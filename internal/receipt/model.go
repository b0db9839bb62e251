package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"adora-payments/internal/order"
)

var (
	ErrReceiptNotFound = errors.New("receipt not found")
	// ErrGatewayMismatch means a write tried to put one gateway's fields on
	// a receipt owned by another gateway.
	ErrGatewayMismatch = errors.New("receipt belongs to another gateway")
)

// Marker tags each appended error line with the failure class.
type Marker string

const (
	MarkerTransport  Marker = "transport"
	MarkerBusiness   Marker = "business"
	MarkerIntegrity  Marker = "integrity"
	MarkerUnexpected Marker = "unexpected"
)

// Details is the gateway-owned part of a receipt. Exactly one variant
// exists per receipt, selected by the order's payment reference.
type Details interface {
	Gateway() order.Gateway
}

type ZarinpalDetails struct {
	Authority      string `json:"authority,omitempty"`
	RequestCode    int    `json:"request_code,omitempty"`
	RequestMessage string `json:"request_message,omitempty"`
	VerifyCode     int    `json:"verify_code,omitempty"`
	VerifyMessage  string `json:"verify_message,omitempty"`
	RefID          int64  `json:"ref_id,omitempty"`
	Fee            int64  `json:"fee,omitempty"`
	FeeType        string `json:"fee_type,omitempty"`
	CardPan        string `json:"card_pan,omitempty"`
	CardHash       string `json:"card_hash,omitempty"`
}

func (ZarinpalDetails) Gateway() order.Gateway { return order.GatewayZarinpal }

type TorobPayDetails struct {
	PaymentToken   string `json:"payment_token,omitempty"`
	PaymentPageURL string `json:"payment_page_url,omitempty"`
	LastAction     string `json:"last_action,omitempty"`
}

func (TorobPayDetails) Gateway() order.Gateway { return order.GatewayTorobPay }

type AzkivamDetails struct {
	TicketID   string `json:"ticket_id,omitempty"`
	PaymentURI string `json:"payment_uri,omitempty"`
	RsCode     *int   `json:"rs_code,omitempty"`
	Status     string `json:"status,omitempty"`
	LastAction string `json:"last_action,omitempty"`
}

func (AzkivamDetails) Gateway() order.Gateway { return order.GatewayAzkivam }

type SnappPayDetails struct {
	PaymentToken     string `json:"payment_token,omitempty"`
	PaymentPageURL   string `json:"payment_page_url,omitempty"`
	AuthorizedAmount int64  `json:"authorized_amount,omitempty"`
	Status           string `json:"status,omitempty"`
	LastAction       string `json:"last_action,omitempty"`
}

func (SnappPayDetails) Gateway() order.Gateway { return order.GatewaySnappPay }

// Receipt is the per-order audit record of every gateway interaction.
type Receipt struct {
	ID            int64
	OrderID       int64
	Gateway       order.Gateway
	TransactionID string
	ErrorCode     string
	// ErrorMessage keeps every error line ever recorded, oldest first.
	ErrorMessage string
	Details      Details
	RawResponse  json.RawMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Attempt is the outcome of one gateway call as it is written to the ledger.
type Attempt struct {
	Action        string
	TransactionID string
	ErrorCode     string
	ErrorMessage  string
	Marker        Marker
	Details       Details
	RawResponse   json.RawMessage
}

// Line is the history entry appended for a failed attempt, or "" when the
// attempt carries no error.
func (a Attempt) Line() string {
	if a.ErrorMessage == "" && a.ErrorCode == "" {
		return ""
	}
	marker := a.Marker
	if marker == "" {
		marker = MarkerUnexpected
	}
	msg := a.ErrorMessage
	if a.ErrorCode != "" {
		msg = strings.TrimSpace(a.ErrorCode + " " + msg)
	}
	return fmt.Sprintf("[%s] %s: %s", marker, a.Action, msg)
}

const genericFailure = "payment could not be completed, please try again later"

// UserMessage is the text shown to the customer for the latest failure.
// Only gateway business messages are shown verbatim.
func (r *Receipt) UserMessage() string {
	if r == nil || r.ErrorMessage == "" {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(r.ErrorMessage), "\n")
	last := lines[len(lines)-1]

	prefix := "[" + string(MarkerBusiness) + "] "
	if !strings.HasPrefix(last, prefix) {
		return genericFailure
	}
	rest := strings.TrimPrefix(last, prefix)
	if i := strings.Index(rest, ": "); i >= 0 {
		rest = rest[i+2:]
	}
	return rest
}

// decodeDetails rebuilds the variant owned by gateway. Variants are always
// handed out as values.
func decodeDetails(gateway order.Gateway, raw []byte) (Details, error) {
	var err error
	switch gateway {
	case order.GatewayZarinpal:
		var d ZarinpalDetails
		if err = unmarshalDetails(gateway, raw, &d); err == nil {
			return d, nil
		}
	case order.GatewayTorobPay:
		var d TorobPayDetails
		if err = unmarshalDetails(gateway, raw, &d); err == nil {
			return d, nil
		}
	case order.GatewayAzkivam:
		var d AzkivamDetails
		if err = unmarshalDetails(gateway, raw, &d); err == nil {
			return d, nil
		}
	case order.GatewaySnappPay:
		var d SnappPayDetails
		if err = unmarshalDetails(gateway, raw, &d); err == nil {
			return d, nil
		}
	default:
		err = fmt.Errorf("%w: %q", order.ErrUnknownGateway, gateway)
	}
	return nil, err
}

func unmarshalDetails(gateway order.Gateway, raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s receipt details: %w", gateway, err)
	}
	return nil
}
