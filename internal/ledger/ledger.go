package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/quantrail/shoonya-stream/errs"
	"github.com/quantrail/shoonya-stream/internal/observability"
	"github.com/quantrail/shoonya-stream/internal/schema"
)

// Fill sentinels: quantity and price are either both unknown or both known.
const (
	UnknownQty   = int64(-1)
	unknownPrice = "-1"
)

// Ledger owns the order, symbol-mapping, and last-traded-price tables for one
// run instance. All operations are idempotent upserts with last-write-wins
// semantics on conflicting fields.
type Ledger struct {
	store    Store
	instance string
	clock    func() time.Time
}

// New creates a ledger over the given store, namespaced by instance.
func New(store Store, instance string) *Ledger {
	return &Ledger{store: store, instance: instance, clock: time.Now}
}

// WithClock overrides the ledger clock, primarily for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	if clock != nil {
		l.clock = clock
	}
	return l
}

// Instance returns the identity namespacing this ledger's keys.
func (l *Ledger) Instance() string { return l.instance }

// OwnsRemark reports whether a vendor remark originated from this run.
func (l *Ledger) OwnsRemark(remark string) bool {
	return strings.HasPrefix(remark, l.instance)
}

// OnOrderUpdate upserts the order record keyed by order number and records the
// trading-symbol to order-number mapping. A later order on the same symbol
// overwrites the mapping; the model assumes one live order per symbol per
// instance.
func (l *Ledger) OnOrderUpdate(ctx context.Context, evt schema.OrderUpdate) error {
	if evt.OrderNo == "" {
		return errs.New("ledger.on_order", errs.CodeInvalid, errs.WithMessage("missing order number"))
	}

	record := orderRecord{
		OrderNo:       evt.OrderNo,
		TradingSymbol: evt.TradingSymbol,
		Side:          evt.Side,
		Qty:           UnknownQty,
		AvgPrice:      unknownPrice,
		Status:        evt.Status,
		SymbolCode:    evt.SymbolCode,
		LTP:           "",
		CreatedAt:     l.clock().UTC().Format(time.RFC3339Nano),
		Instance:      l.instance,
	}
	if evt.HasFill {
		record.Qty = evt.FillQty
		record.AvgPrice = evt.FillPrice.String()
	}

	existing, found, err := l.loadOrder(ctx, evt.OrderNo)
	if err != nil {
		return err
	}
	if found {
		// Creation time and fields resolved by other entry points survive
		// re-application of order updates.
		record.CreatedAt = existing.CreatedAt
		if record.SymbolCode == "" {
			record.SymbolCode = existing.SymbolCode
		}
		record.LTP = existing.LTP
	}

	if err := l.saveOrder(ctx, record); err != nil {
		return err
	}
	if evt.TradingSymbol != "" {
		if err := l.store.Set(ctx, symbolOrderKey(l.instance, evt.TradingSymbol), evt.OrderNo); err != nil {
			return errs.New("ledger.on_order", errs.CodeStore, errs.WithCause(err))
		}
	}
	observability.Log().Debug("order upserted",
		observability.F("order_no", evt.OrderNo),
		observability.F("status", evt.Status))
	return nil
}

// OnPlacementConfirmed resolves the order's symbol code and records the
// code-to-symbol mapping. Confirmations whose remarks are not prefixed by this
// instance belong to another process sharing the feed and are ignored.
func (l *Ledger) OnPlacementConfirmed(ctx context.Context, evt schema.OrderUpdate) error {
	if !l.OwnsRemark(evt.Remarks) {
		observability.Log().Debug("ignoring foreign placement confirmation",
			observability.F("remarks", evt.Remarks))
		return nil
	}
	if evt.SymbolCode == "" || evt.TradingSymbol == "" {
		return nil
	}

	if err := l.store.Set(ctx, symbolCodeKey(l.instance, evt.SymbolCode), evt.TradingSymbol); err != nil {
		return errs.New("ledger.on_placed", errs.CodeStore, errs.WithCause(err))
	}

	orderNo, found, err := l.getValue(ctx, symbolOrderKey(l.instance, evt.TradingSymbol), "ledger.on_placed")
	if err != nil || !found {
		return err
	}
	record, found, err := l.loadOrder(ctx, orderNo)
	if err != nil || !found {
		return err
	}
	record.SymbolCode = evt.SymbolCode
	return l.saveOrder(ctx, record)
}

// OnTick resolves symbol code to trading symbol to order number and updates
// that order's last traded price. A miss anywhere in the chain means the tick
// preceded the placement confirmation; it is dropped without error. The
// returned flag reports whether an order record was updated.
func (l *Ledger) OnTick(ctx context.Context, evt schema.Tick) (bool, error) {
	if !evt.HasLastPrice || evt.SymbolCode == "" {
		return false, nil
	}

	tradingSymbol, found, err := l.getValue(ctx, symbolCodeKey(l.instance, evt.SymbolCode), "ledger.on_tick")
	if err != nil || !found {
		return false, err
	}
	orderNo, found, err := l.getValue(ctx, symbolOrderKey(l.instance, tradingSymbol), "ledger.on_tick")
	if err != nil || !found {
		return false, err
	}
	record, found, err := l.loadOrder(ctx, orderNo)
	if err != nil || !found {
		return false, err
	}

	record.LTP = evt.LastPrice.String()
	if err := l.saveOrder(ctx, record); err != nil {
		return false, err
	}
	return true, nil
}

// PnL scans this instance's order records and computes aggregate profit and
// loss over completed orders with known fills and a live price. The breakdown
// is a trail of running cumulative totals in scan order; keys are sorted so
// the trail is stable within one call.
func (l *Ledger) PnL(ctx context.Context) (float64, []string, error) {
	pattern := fmt.Sprintf("%s_*_order_tbl", l.instance)
	keys, err := l.store.Keys(ctx, pattern)
	if err != nil {
		return 0, nil, errs.New("ledger.pnl", errs.CodeStore, errs.WithCause(err))
	}
	sort.Strings(keys)

	total := decimal.Zero
	breakdown := make([]string, 0, len(keys))
	for _, key := range keys {
		// Symbol-mapping keys match the scan pattern too; their values are
		// bare order numbers, not order records.
		if strings.HasSuffix(key, symbolOrderSuffix) {
			continue
		}
		value, found, err := l.getValue(ctx, key, "ledger.pnl")
		if err != nil {
			return 0, nil, err
		}
		if !found {
			continue
		}
		var record orderRecord
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			return 0, nil, errs.New("ledger.pnl", errs.CodeDecode, errs.WithCause(err))
		}
		if !record.settled() {
			continue
		}

		avgPrice, err := decimal.NewFromString(record.AvgPrice)
		if err != nil {
			continue
		}
		ltp, err := decimal.NewFromString(record.LTP)
		if err != nil {
			continue
		}
		qty := decimal.NewFromInt(record.Qty)

		var pnl decimal.Decimal
		var sideWord string
		switch record.Side {
		case schema.SideBuy:
			pnl = ltp.Sub(avgPrice).Mul(qty)
			sideWord = "BUY"
		case schema.SideSell:
			pnl = avgPrice.Sub(ltp).Mul(qty)
			sideWord = "SELL"
		default:
			continue
		}

		total = total.Add(pnl)
		breakdown = append(breakdown, fmt.Sprintf("%s %s x %d : %s",
			sideWord, record.TradingSymbol, record.Qty, total.StringFixed(2)))
	}

	return total.InexactFloat64(), breakdown, nil
}

func (l *Ledger) loadOrder(ctx context.Context, orderNo string) (orderRecord, bool, error) {
	value, found, err := l.getValue(ctx, orderKey(l.instance, orderNo), "ledger.load_order")
	if err != nil || !found {
		return orderRecord{}, false, err
	}
	var record orderRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return orderRecord{}, false, errs.New("ledger.load_order", errs.CodeDecode, errs.WithCause(err))
	}
	return record, true, nil
}

func (l *Ledger) saveOrder(ctx context.Context, record orderRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errs.New("ledger.save_order", errs.CodeInvalid, errs.WithCause(err))
	}
	if err := l.store.Set(ctx, orderKey(l.instance, record.OrderNo), string(data)); err != nil {
		return errs.New("ledger.save_order", errs.CodeStore, errs.WithCause(err))
	}
	return nil
}

func (l *Ledger) getValue(ctx context.Context, key, op string) (string, bool, error) {
	value, found, err := l.store.Get(ctx, key)
	if err != nil {
		return "", false, errs.New(op, errs.CodeStore, errs.WithCause(err))
	}
	return value, found, nil
}

// orderRecord is the persisted shape of one order, keyed by order number.
type orderRecord struct {
	OrderNo       string `json:"norenordno"`
	TradingSymbol string `json:"tradingsymbol"`
	Side          string `json:"buysell"`
	Qty           int64  `json:"qty"`
	AvgPrice      string `json:"avgprice"`
	Status        string `json:"status"`
	SymbolCode    string `json:"symbolcode"`
	LTP           string `json:"ltp"`
	CreatedAt     string `json:"utc_timestamp"`
	Instance      string `json:"instance"`
}

// settled reports whether the record participates in PnL: completed, with
// known fill quantity and price, and a live last traded price.
func (r orderRecord) settled() bool {
	return r.Status == schema.OrderStatusComplete &&
		r.Qty != UnknownQty &&
		r.AvgPrice != unknownPrice &&
		r.LTP != ""
}
