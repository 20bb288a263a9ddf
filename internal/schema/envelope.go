// Package schema defines the canonical message types exchanged with the
// Shoonya streaming feed.
package schema

import "github.com/shopspring/decimal"

// Kind discriminates decoded envelope variants.
type Kind string

const (
	// KindConnectAck is the vendor's reply to the connect handshake.
	KindConnectAck Kind = "connect_ack"
	// KindTick carries a touchline update for a subscribed instrument.
	KindTick Kind = "tick"
	// KindDepth carries a market-depth update; routed identically to ticks.
	KindDepth Kind = "depth"
	// KindOrderUpdate carries an order-lifecycle event.
	KindOrderUpdate Kind = "order_update"
	// KindHeartbeat is the vendor's keepalive probe.
	KindHeartbeat Kind = "heartbeat"
	// KindUnknown marks frames with an unrecognised type tag.
	KindUnknown Kind = "unknown"
)

// Trade sides as reported by the vendor.
const (
	SideBuy  = "B"
	SideSell = "S"
)

// OrderStatusComplete is the terminal fill status reported by the vendor.
const OrderStatusComplete = "COMPLETE"

// Envelope is one decoded inbound message, tagged by Kind. Exactly one of the
// payload pointers matching the Kind is populated.
type Envelope struct {
	Kind       Kind
	ConnectAck *ConnectAck
	Tick       *Tick
	Order      *OrderUpdate
	Raw        []byte
}

// ConnectAck acknowledges the authenticate-on-connect handshake.
type ConnectAck struct {
	Status  string
	UserID  string
	Message string
}

// OK reports whether the handshake succeeded.
func (a ConnectAck) OK() bool { return a.Status == "OK" }

// Tick is a touchline or depth update for one instrument.
type Tick struct {
	Exchange     string
	SymbolCode   string
	LastPrice    decimal.Decimal
	HasLastPrice bool
}

// OrderUpdate is one order-lifecycle event from the vendor feed.
type OrderUpdate struct {
	OrderNo       string
	Remarks       string
	Status        string
	ReportType    string
	Side          string
	Exchange      string
	TradingSymbol string
	SymbolCode    string
	FillQty       int64
	FillPrice     decimal.Decimal
	HasFill       bool
}

// Credentials identifies the session used for the connect handshake.
type Credentials struct {
	UserID       string
	AccountID    string
	SessionToken string
	Source       string
}
