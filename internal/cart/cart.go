// Package cart is the shopper's cart: an ordered set of lines, at most one per
// product, persisted in the session after every mutation.
package cart

import (
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

// Persister is the slice of the session the cart needs.
type Persister interface {
	CartLines(ctx context.Context) []domain.CartLine
	SaveCart(ctx context.Context, lines []domain.CartLine) error
}

// Store operates on one session's cart. It is not safe for concurrent use;
// concurrent requests of the same session are last-writer-wins.
type Store struct {
	p     Persister
	lines []domain.CartLine
}

// Open loads the persisted cart. A corrupt cart reads as empty.
func Open(ctx context.Context, p Persister) *Store {
	return &Store{p: p, lines: sanitize(p.CartLines(ctx))}
}

// sanitize discards a persisted cart if any line is invalid or repeated.
func sanitize(lines []domain.CartLine) []domain.CartLine {
	seen := make(map[int64]struct{}, len(lines))
	for _, l := range lines {
		if l.Quantity < 1 || l.Price.IsNegative() {
			return nil
		}
		if _, dup := seen[l.ProductID]; dup {
			return nil
		}
		seen[l.ProductID] = struct{}{}
	}
	return lines
}

func (s *Store) save(ctx context.Context) error {
	return s.p.SaveCart(ctx, s.lines)
}

func (s *Store) index(productID int64) int {
	return slices.IndexFunc(s.lines, func(l domain.CartLine) bool { return l.ProductID == productID })
}

// Add increments the line for p, or appends a new line with quantity 1.
func (s *Store) Add(ctx context.Context, p domain.Product) error {
	if i := s.index(p.ID); i >= 0 {
		s.lines[i].Quantity++
	} else {
		s.lines = append(s.lines, domain.NewCartLine(p))
	}
	return s.save(ctx)
}

// Remove deletes the line if present.
func (s *Store) Remove(ctx context.Context, productID int64) error {
	i := s.index(productID)
	if i < 0 {
		return nil
	}
	s.lines = slices.Delete(s.lines, i, i+1)
	return s.save(ctx)
}

// Increment is a no-op for an absent line.
func (s *Store) Increment(ctx context.Context, productID int64) error {
	i := s.index(productID)
	if i < 0 {
		return nil
	}
	s.lines[i].Quantity++
	return s.save(ctx)
}

// Decrement removes the line instead of leaving it at zero.
func (s *Store) Decrement(ctx context.Context, productID int64) error {
	i := s.index(productID)
	if i < 0 {
		return nil
	}
	if s.lines[i].Quantity <= 1 {
		s.lines = slices.Delete(s.lines, i, i+1)
	} else {
		s.lines[i].Quantity--
	}
	return s.save(ctx)
}

func (s *Store) Clear(ctx context.Context) error {
	s.lines = nil
	return s.save(ctx)
}

// Total is exact; round only when presenting.
func (s *Store) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

// Lines returns a copy in insertion order.
func (s *Store) Lines() []domain.CartLine { return slices.Clone(s.lines) }

// Count is the number of items, summing quantities.
func (s *Store) Count() int64 {
	var n int64
	for _, l := range s.lines {
		n += l.Quantity
	}
	return n
}

func (s *Store) Empty() bool { return len(s.lines) == 0 }
