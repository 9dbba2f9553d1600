// Package inventory is the only writer of InventoryItem.stock.
package inventory

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
)

type Ledger struct {
	store orders.Store
	log   *zap.Logger
}

func NewLedger(store orders.Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, log: log.Named("ledger")}
}

// Merge folds repeated SKUs into one line, keeping first-seen order.
func Merge(lines []orders.LineQty) []orders.LineQty {
	idx := make(map[string]int, len(lines))
	out := make([]orders.LineQty, 0, len(lines))
	for _, l := range lines {
		if i, ok := idx[l.SKU]; ok {
			out[i].Qty += l.Qty
			continue
		}
		idx[l.SKU] = len(out)
		out = append(out, l)
	}
	return out
}

func skusOf(lines []orders.LineQty) []string {
	skus := make([]string, 0, len(lines))
	for _, l := range lines {
		skus = append(skus, l.SKU)
	}
	sort.Strings(skus)
	return skus
}

// validate returns the first failing line in request order.
func validate(lines []orders.LineQty, items map[string]orders.InventoryItem) error {
	for _, l := range lines {
		if l.Qty <= 0 {
			return &orders.ValidationError{Field: "qty", Reason: fmt.Sprintf("must be positive for %s", l.SKU)}
		}
		it, ok := items[l.SKU]
		if !ok || !it.Active {
			return &orders.UnknownSKUError{SKU: l.SKU}
		}
		if it.Stock < l.Qty {
			return &orders.InsufficientStockError{SKU: l.SKU, Available: it.Stock, Requested: l.Qty}
		}
	}
	return nil
}

// CheckAvailability is advisory: it reads stock at call time and reserves nothing.
func (l *Ledger) CheckAvailability(ctx context.Context, lines []orders.LineQty) error {
	lines = Merge(lines)
	items, err := l.store.Items(ctx, skusOf(lines))
	if err != nil {
		return fmt.Errorf("%w: reading stock: %v", orders.ErrUnavailable, err)
	}
	return validate(lines, items)
}

// CommitDecrement re-validates and decrements every line inside tx. On any
// error the caller must abort tx, which leaves every line untouched. The
// returned rows reflect stock after the decrement.
func (l *Ledger) CommitDecrement(ctx context.Context, tx orders.Tx, lines []orders.LineQty) (map[string]orders.InventoryItem, error) {
	lines = Merge(lines)
	items, err := tx.LockItems(ctx, skusOf(lines))
	if err != nil {
		return nil, fmt.Errorf("locking stock: %w", err)
	}
	if err := validate(lines, items); err != nil {
		return nil, err
	}

	// Decrement in SKU order, the same order locks were taken in.
	sorted := append([]orders.LineQty(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SKU < sorted[j].SKU })
	for _, line := range sorted {
		ok, err := tx.Decrement(ctx, line.SKU, line.Qty)
		if err != nil {
			return nil, fmt.Errorf("decrementing %s: %w", line.SKU, err)
		}
		if !ok {
			// Only reachable on stores without row locks, where a concurrent
			// checkout got between the read and the guarded update.
			return nil, &orders.InsufficientStockError{SKU: line.SKU, Available: items[line.SKU].Stock, Requested: line.Qty}
		}
		it := items[line.SKU]
		it.Stock -= line.Qty
		it.TotalSold += int64(line.Qty)
		items[line.SKU] = it
	}
	return items, nil
}

// Commit is CommitDecrement in a unit of its own.
func (l *Ledger) Commit(ctx context.Context, lines []orders.LineQty) error {
	return l.store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		_, err := l.CommitDecrement(ctx, tx, lines)
		return err
	})
}

// Release puts stock back for a cancelled order. totalSold is left as is.
func (l *Ledger) Release(ctx context.Context, tx orders.Tx, lines []orders.LineQty) error {
	for _, line := range Merge(lines) {
		if err := tx.Increment(ctx, line.SKU, line.Qty); err != nil {
			return fmt.Errorf("releasing %s: %w", line.SKU, err)
		}
	}
	return nil
}

func (l *Ledger) LowStock(ctx context.Context) ([]orders.InventoryItem, error) {
	items, err := l.store.LowStock(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing low stock: %v", orders.ErrUnavailable, err)
	}
	return items, nil
}
