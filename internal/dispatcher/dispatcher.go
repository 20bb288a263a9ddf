// Package dispatcher routes decoded envelopes to a fixed set of handler hooks.
package dispatcher

import (
	"github.com/quantrail/shoonya-stream/errs"
	"github.com/quantrail/shoonya-stream/internal/schema"
)

// Hooks is the fixed-shape handler record invoked by Route. Any hook may be
// nil; routing to a nil hook discards the envelope.
type Hooks struct {
	OnConnectAck  func(schema.ConnectAck)
	OnTick        func(schema.Tick)
	OnOrderUpdate func(schema.OrderUpdate)
	OnError       func(error)
	OnUnknown     func(*schema.Envelope)
}

// Route invokes exactly one hook for the envelope. A connect acknowledgement
// with a failing status routes to OnError, not OnConnectAck. Routing is purely
// type-field equality and holds no state.
func Route(env *schema.Envelope, hooks Hooks) {
	if env == nil {
		return
	}
	switch env.Kind {
	case schema.KindConnectAck:
		if env.ConnectAck == nil {
			routeUnknown(env, hooks)
			return
		}
		if !env.ConnectAck.OK() {
			if hooks.OnError != nil {
				hooks.OnError(errs.New("dispatcher.connect_ack", errs.CodeAuth,
					errs.WithMessage("connect acknowledgement rejected"),
					errs.WithRawCode(env.ConnectAck.Status),
					errs.WithRawMessage(env.ConnectAck.Message)))
			}
			return
		}
		if hooks.OnConnectAck != nil {
			hooks.OnConnectAck(*env.ConnectAck)
		}
	case schema.KindTick, schema.KindDepth:
		if env.Tick == nil {
			routeUnknown(env, hooks)
			return
		}
		if hooks.OnTick != nil {
			hooks.OnTick(*env.Tick)
		}
	case schema.KindOrderUpdate:
		if env.Order == nil {
			routeUnknown(env, hooks)
			return
		}
		if hooks.OnOrderUpdate != nil {
			hooks.OnOrderUpdate(*env.Order)
		}
	case schema.KindHeartbeat:
		// Heartbeats are answered inside the transport receive loop; nothing
		// to route here.
	case schema.KindUnknown:
		routeUnknown(env, hooks)
	default:
		routeUnknown(env, hooks)
	}
}

func routeUnknown(env *schema.Envelope, hooks Hooks) {
	if hooks.OnUnknown != nil {
		hooks.OnUnknown(env)
	}
}
