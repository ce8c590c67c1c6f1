// Package inventory summarizes stock levels and applies quantity
// adjustments. Every adjustment is followed by a full reload; nothing is
// updated optimistically.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"storefront/internal/changefeed"
	"storefront/internal/domain"
	"storefront/internal/metrics"
	"storefront/internal/repository"
)

var ErrInvalidInput = errors.New("invalid input")

// Summary are the stat cards of the inventory page.
type Summary struct {
	TotalProducts int   `json:"totalProducts"`
	TotalStock    int64 `json:"totalStock"`
	LowStockCount int   `json:"lowStockCount"`
	InStockCount  int   `json:"inStockCount"`
}

// Snapshot is one fetch of the stock table, newest update first.
type Snapshot struct {
	Entries  []domain.StockEntry `json:"entries"`
	LoadedAt time.Time           `json:"loaded_at"`
}

// LowStock yields the entries at or below their restock level.
func (s *Snapshot) LowStock() iter.Seq[domain.StockEntry] {
	return func(yield func(domain.StockEntry) bool) {
		for _, e := range s.Entries {
			if e.LowStock() && !yield(e) {
				return
			}
		}
	}
}

func (s *Snapshot) Summary() Summary {
	var sum Summary
	sum.TotalProducts = len(s.Entries)
	for _, e := range s.Entries {
		sum.TotalStock += e.Quantity
		if e.LowStock() {
			sum.LowStockCount++
		}
	}
	sum.InStockCount = sum.TotalProducts - sum.LowStockCount
	return sum
}

// Search filters by product name, case-insensitively. An empty term
// matches everything.
func (s *Snapshot) Search(term string) []domain.StockEntry {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]domain.StockEntry, 0, len(s.Entries))
	for _, e := range s.Entries {
		if strings.Contains(strings.ToLower(e.ProductName), term) {
			out = append(out, e)
		}
	}
	return out
}

type Service struct {
	stock    repository.StockRepository
	products repository.ProductRepository
	feed     changefeed.Feed
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// NewService wires the inventory service. feed and m may be nil.
func NewService(store repository.Store, feed changefeed.Feed, m *metrics.Metrics, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		stock:    store.Stock(),
		products: store.Products(),
		feed:     feed,
		metrics:  m,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Load(ctx context.Context) (*Snapshot, error) {
	entries, err := s.stock.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stock: %w", err)
	}
	snap := &Snapshot{Entries: entries, LoadedAt: s.now()}
	s.metrics.LowStockEntries(snap.Summary().LowStockCount)
	return snap, nil
}

// Adjust adds delta to an entry's quantity, clamping at zero, and returns
// the reloaded snapshot.
func (s *Service) Adjust(ctx context.Context, id, delta int64) (*Snapshot, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	e, err := s.stock.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	qty := max(e.Quantity+delta, 0)
	if err := s.stock.SetQuantity(ctx, id, qty, s.now()); err != nil {
		return nil, fmt.Errorf("update stock %d: %w", id, err)
	}
	s.metrics.StockAdjusted()
	s.log.InfoContext(ctx, "stock adjusted", "entry_id", id, "product", e.ProductName, "from", e.Quantity, "to", qty)
	s.publish(ctx, changefeed.OpUpdate, id)
	return s.Load(ctx)
}

// AddEntry starts tracking a product. A product has at most one entry.
func (s *Service) AddEntry(ctx context.Context, productID, quantity, restockLevel int64) (*domain.StockEntry, error) {
	if productID <= 0 || quantity < 0 || restockLevel < 0 {
		return nil, ErrInvalidInput
	}
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return nil, err
	}
	e := domain.StockEntry{ProductID: productID, Quantity: quantity, RestockLevel: restockLevel, UpdatedAt: s.now()}
	if err := s.stock.Create(ctx, &e); err != nil {
		return nil, err
	}
	s.publish(ctx, changefeed.OpInsert, e.ID)
	return &e, nil
}

func (s *Service) publish(ctx context.Context, op changefeed.Op, id int64) {
	if s.feed == nil {
		return
	}
	ev := changefeed.Event{Table: changefeed.TableStock, Op: op, ID: id, At: s.now()}
	if err := s.feed.Publish(ctx, ev); err != nil {
		s.log.WarnContext(ctx, "change event not published", "table", ev.Table, "err", err)
	}
}
