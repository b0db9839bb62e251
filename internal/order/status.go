package order

// PaymentStatus is the persisted payment state of an order. The short codes
// are stored as-is in orders.payment_status.
type PaymentStatus string

const (
	StatusPending  PaymentStatus = "P"
	StatusComplete PaymentStatus = "C"
	StatusFailed   PaymentStatus = "F"

	StatusTorobVerified PaymentStatus = "TV"
	StatusTorobCanceled PaymentStatus = "TC"
	StatusTorobReverted PaymentStatus = "TR"

	StatusAzkiVerified PaymentStatus = "AV"
	StatusAzkiCanceled PaymentStatus = "AC"
	StatusAzkiReversed PaymentStatus = "AR"

	StatusSnappVerified PaymentStatus = "SV"
	StatusSnappCanceled PaymentStatus = "SC"
	StatusSnappReverted PaymentStatus = "SR"
)

var statusLabels = map[PaymentStatus]string{
	StatusPending:       "pending",
	StatusComplete:      "complete",
	StatusFailed:        "failed",
	StatusTorobVerified: "torob verified",
	StatusTorobCanceled: "torob canceled",
	StatusTorobReverted: "torob reverted",
	StatusAzkiVerified:  "azkivam verified",
	StatusAzkiCanceled:  "azkivam canceled",
	StatusAzkiReversed:  "azkivam reversed",
	StatusSnappVerified: "snapp verified",
	StatusSnappCanceled: "snapp canceled",
	StatusSnappReverted: "snapp reverted",
}

// Transitions only move forward; nothing leads back to pending.
var transitions = map[PaymentStatus][]PaymentStatus{
	StatusPending: {
		StatusComplete, StatusFailed,
		StatusTorobVerified, StatusTorobCanceled,
		StatusAzkiVerified, StatusAzkiCanceled,
		StatusSnappVerified, StatusSnappCanceled,
	},
	StatusTorobVerified: {StatusComplete, StatusTorobReverted, StatusTorobCanceled},
	StatusAzkiVerified:  {StatusAzkiReversed},
	StatusSnappVerified: {StatusComplete, StatusSnappReverted, StatusSnappCanceled},
}

func (s PaymentStatus) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

func (s PaymentStatus) String() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// IsPaid reports whether funds are considered captured in this state.
// Entering a paid state settles the wallet.
func (s PaymentStatus) IsPaid() bool {
	return s == StatusComplete || s == StatusAzkiVerified
}

// IsTerminal reports whether no transition leaves s.
func (s PaymentStatus) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

func CanTransition(from, to PaymentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
