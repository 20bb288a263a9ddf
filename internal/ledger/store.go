// Package ledger reconciles order and tick events into per-order fill state
// and computes aggregate PnL, backed by an external key-value store.
package ledger

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Store is the key-value capability the ledger needs. Implementations provide
// single-key atomicity only; multi-key sequences are not transactional.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// NewInstanceID mints a process-lifetime identity namespacing all ledger keys
// so that concurrent or successive runs never collide.
func NewInstanceID(clock func() time.Time) string {
	if clock == nil {
		clock = time.Now
	}
	return fmt.Sprintf("shoonya_%d_%d", os.Getpid(), clock().UTC().UnixMilli())
}

// symbolOrderSuffix also ends in _order_tbl, so scans over order records must
// filter it out explicitly.
const symbolOrderSuffix = "_tradingsymbol_order_tbl"

func orderKey(instance, orderNo string) string {
	return fmt.Sprintf("%s_%s_order_tbl", instance, orderNo)
}

func symbolOrderKey(instance, tradingSymbol string) string {
	return fmt.Sprintf("%s_%s%s", instance, tradingSymbol, symbolOrderSuffix)
}

func symbolCodeKey(instance, symbolCode string) string {
	return fmt.Sprintf("%s_%s_symb_tbl", instance, symbolCode)
}
