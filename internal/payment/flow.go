package payment

import "adora-payments/internal/order"

// Flow describes how one gateway action moves an order. An empty Success or
// Failure means the order keeps its status. A nil From accepts any status.
type Flow struct {
	From    []order.PaymentStatus
	Noop    []order.PaymentStatus
	Success order.PaymentStatus
	Failure order.PaymentStatus
}

func (f Flow) allows(s order.PaymentStatus) bool {
	if f.From == nil {
		return true
	}
	return contains(f.From, s)
}

func (f Flow) isNoop(s order.PaymentStatus) bool {
	return contains(f.Noop, s)
}

func contains(list []order.PaymentStatus, s order.PaymentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type statuses = []order.PaymentStatus

var flows = map[order.Gateway]map[Action]Flow{
	order.GatewayZarinpal: {
		ActionInitiate: {From: statuses{order.StatusPending}, Failure: order.StatusFailed},
		ActionVerify: {
			From:    statuses{order.StatusPending},
			Noop:    statuses{order.StatusComplete},
			Success: order.StatusComplete,
			Failure: order.StatusFailed,
		},
	},
	order.GatewayTorobPay: {
		ActionInitiate: {From: statuses{order.StatusPending}, Failure: order.StatusFailed},
		ActionVerify: {
			From:    statuses{order.StatusPending},
			Noop:    statuses{order.StatusTorobVerified, order.StatusComplete},
			Success: order.StatusTorobVerified,
			Failure: order.StatusFailed,
		},
		ActionSettle: {
			From:    statuses{order.StatusTorobVerified},
			Noop:    statuses{order.StatusComplete},
			Success: order.StatusComplete,
		},
		ActionRevert: {
			From:    statuses{order.StatusTorobVerified},
			Noop:    statuses{order.StatusTorobReverted},
			Success: order.StatusTorobReverted,
		},
		ActionCancel: {
			From:    statuses{order.StatusPending, order.StatusTorobVerified},
			Noop:    statuses{order.StatusTorobCanceled},
			Success: order.StatusTorobCanceled,
		},
	},
	order.GatewayAzkivam: {
		ActionInitiate: {From: statuses{order.StatusPending}, Failure: order.StatusFailed},
		ActionVerify: {
			From:    statuses{order.StatusPending},
			Noop:    statuses{order.StatusAzkiVerified, order.StatusComplete},
			Success: order.StatusAzkiVerified,
			Failure: order.StatusFailed,
		},
		ActionRevert: {
			From:    statuses{order.StatusAzkiVerified},
			Noop:    statuses{order.StatusAzkiReversed},
			Success: order.StatusAzkiReversed,
		},
		ActionCancel: {
			From:    statuses{order.StatusPending},
			Noop:    statuses{order.StatusAzkiCanceled},
			Success: order.StatusAzkiCanceled,
		},
		ActionStatus: {},
	},
	order.GatewaySnappPay: {
		ActionInitiate: {From: statuses{order.StatusPending}, Failure: order.StatusFailed},
		ActionVerify: {
			From:    statuses{order.StatusPending},
			Noop:    statuses{order.StatusSnappVerified, order.StatusComplete},
			Success: order.StatusSnappVerified,
			Failure: order.StatusFailed,
		},
		ActionSettle: {
			From:    statuses{order.StatusSnappVerified},
			Noop:    statuses{order.StatusComplete},
			Success: order.StatusComplete,
		},
		ActionRevert: {
			From:    statuses{order.StatusSnappVerified},
			Noop:    statuses{order.StatusSnappReverted},
			Success: order.StatusSnappReverted,
		},
		ActionCancel: {
			From:    statuses{order.StatusPending, order.StatusSnappVerified},
			Noop:    statuses{order.StatusSnappCanceled},
			Success: order.StatusSnappCanceled,
		},
		ActionStatus: {},
		ActionUpdate: {From: statuses{order.StatusPending, order.StatusSnappVerified}},
	},
}

// FlowFor returns the flow of action on gateway.
func FlowFor(gateway order.Gateway, action Action) (Flow, bool) {
	f, ok := flows[gateway][action]
	return f, ok
}
