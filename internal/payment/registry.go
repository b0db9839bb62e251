package payment

import (
	"context"
	"fmt"
	"sort"

	"adora-payments/internal/order"
)

// Registry holds the enabled gateway adapters.
type Registry struct {
	gateways map[order.Gateway]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[order.Gateway]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
	}
	return r
}

func (r *Registry) Get(name order.Gateway) (Gateway, bool) {
	g, ok := r.gateways[name]
	return g, ok
}

// Names lists the enabled gateways in a stable order.
func (r *Registry) Names() []order.Gateway {
	names := make([]order.Gateway, 0, len(r.gateways))
	for n := range r.gateways {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Supports reports whether g implements action and has a flow for it.
func Supports(g Gateway, action Action) bool {
	if _, ok := FlowFor(g.Name(), action); !ok {
		return false
	}
	switch action {
	case ActionInitiate:
		_, ok := g.(Initiator)
		return ok
	case ActionVerify:
		_, ok := g.(Verifier)
		return ok
	case ActionSettle:
		_, ok := g.(Settler)
		return ok
	case ActionRevert:
		_, ok := g.(Reverter)
		return ok
	case ActionCancel:
		_, ok := g.(Canceler)
		return ok
	case ActionStatus:
		_, ok := g.(StatusChecker)
		return ok
	case ActionUpdate:
		_, ok := g.(Updater)
		return ok
	}
	return false
}

// SupportedActions lists the actions g can perform.
func SupportedActions(g Gateway) []Action {
	var out []Action
	for _, a := range Actions {
		if Supports(g, a) {
			out = append(out, a)
		}
	}
	return out
}

func dispatch(ctx context.Context, g Gateway, action Action, req Request) (*Result, error) {
	switch action {
	case ActionInitiate:
		if a, ok := g.(Initiator); ok {
			return a.Initiate(ctx, req)
		}
	case ActionVerify:
		if a, ok := g.(Verifier); ok {
			return a.Verify(ctx, req)
		}
	case ActionSettle:
		if a, ok := g.(Settler); ok {
			return a.Settle(ctx, req)
		}
	case ActionRevert:
		if a, ok := g.(Reverter); ok {
			return a.Revert(ctx, req)
		}
	case ActionCancel:
		if a, ok := g.(Canceler); ok {
			return a.Cancel(ctx, req)
		}
	case ActionStatus:
		if a, ok := g.(StatusChecker); ok {
			return a.Status(ctx, req)
		}
	case ActionUpdate:
		if a, ok := g.(Updater); ok {
			return a.Update(ctx, req)
		}
	}
	return nil, fmt.Errorf("%w: %s %s", ErrUnsupportedAction, g.Name(), action)
}
