// Package analytics aggregates completed orders into the sales dashboard:
// period comparison, a time series, top products and overall totals.
package analytics

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

type Granularity string

const (
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// ParseGranularity falls back to Monthly for anything unknown.
func ParseGranularity(s string) Granularity {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Daily, Weekly, Monthly:
		return g
	}
	return Monthly
}

// Range bounds the current and the comparison period. Both are inclusive.
type Range struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	PreviousStart time.Time `json:"previous_start"`
	PreviousEnd   time.Time `json:"previous_end"`
}

// RangeFor derives the periods for g in now's location. Weeks start on
// Sunday at midnight.
func RangeFor(g Granularity, now time.Time) Range {
	y, m, d := now.Date()
	loc := now.Location()
	var start, prev time.Time
	switch g {
	case Daily:
		start = time.Date(y, m, d, 0, 0, 0, 0, loc)
		prev = start.AddDate(0, 0, -1)
	case Weekly:
		start = time.Date(y, m, d-int(now.Weekday()), 0, 0, 0, 0, loc)
		prev = start.AddDate(0, 0, -7)
	default:
		start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		prev = time.Date(y, m-1, 1, 0, 0, 0, 0, loc)
	}
	return Range{Start: start, End: now, PreviousStart: prev, PreviousEnd: start.Add(-time.Millisecond)}
}

type PeriodSales struct {
	Current       decimal.Decimal `json:"currentSales"`
	Previous      decimal.Decimal `json:"previousSales"`
	PercentChange float64         `json:"percentChange"`
}

type Bucket struct {
	Label string          `json:"label"`
	Total decimal.Decimal `json:"total"`
}

type ProductSales struct {
	Name         string          `json:"name"`
	QuantitySold int64           `json:"quantity"`
	Revenue      decimal.Decimal `json:"revenue"`
}

type Totals struct {
	TotalSales        decimal.Decimal `json:"totalSales"`
	TotalOrders       int             `json:"totalOrders"`
	AverageOrderValue decimal.Decimal `json:"averageOrderValue"`
}

// Aggregator is a pure view over one fetch of orders and lines.
type Aggregator struct {
	g      Granularity
	now    time.Time
	rng    Range
	orders []domain.Order
	lines  []domain.OrderLine
}

// New keeps only completed orders. Lines are used as given.
func New(orders []domain.Order, lines []domain.OrderLine, g Granularity, now time.Time) *Aggregator {
	completed := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if o.Status == domain.OrderStatusCompleted {
			completed = append(completed, o)
		}
	}
	return &Aggregator{g: g, now: now, rng: RangeFor(g, now), orders: completed, lines: lines}
}

func (a *Aggregator) Range() Range { return a.rng }

func (a *Aggregator) sumBetween(from, to time.Time) decimal.Decimal {
	sum := decimal.Zero
	for _, o := range a.orders {
		if !o.CreatedAt.Before(from) && !o.CreatedAt.After(to) {
			sum = sum.Add(o.Total)
		}
	}
	return sum
}

// PeriodSales compares the current period with the previous one. The change
// is zero when there were no previous sales.
func (a *Aggregator) PeriodSales() PeriodSales {
	ps := PeriodSales{
		Current:  a.sumBetween(a.rng.Start, a.rng.End),
		Previous: a.sumBetween(a.rng.PreviousStart, a.rng.PreviousEnd),
	}
	if ps.Previous.IsPositive() {
		ps.PercentChange = ps.Current.Sub(ps.Previous).Div(ps.Previous).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	return ps
}

var weekdays = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// TimeSeries buckets current-period sales by hour, weekday or day of month.
func (a *Aggregator) TimeSeries() []Bucket {
	var (
		buckets []Bucket
		slot    func(t time.Time) int
	)
	switch a.g {
	case Daily:
		buckets = make([]Bucket, 24)
		for h := range buckets {
			buckets[h].Label = fmt.Sprintf("%d:00", h)
		}
		slot = func(t time.Time) int { return t.Hour() }
	case Weekly:
		buckets = make([]Bucket, 7)
		for d := range buckets {
			buckets[d].Label = weekdays[d]
		}
		slot = func(t time.Time) int { return int(t.Weekday()) }
	default:
		y, m, _ := a.now.Date()
		days := time.Date(y, m+1, 0, 0, 0, 0, 0, a.now.Location()).Day()
		buckets = make([]Bucket, days)
		for d := range buckets {
			buckets[d].Label = strconv.Itoa(d + 1)
		}
		slot = func(t time.Time) int { return t.Day() - 1 }
	}
	for i := range buckets {
		buckets[i].Total = decimal.Zero
	}

	loc := a.now.Location()
	for _, o := range a.orders {
		if o.CreatedAt.Before(a.rng.Start) || o.CreatedAt.After(a.rng.End) {
			continue
		}
		if i := slot(o.CreatedAt.In(loc)); i >= 0 && i < len(buckets) {
			buckets[i].Total = buckets[i].Total.Add(o.Total)
		}
	}
	return buckets
}

const unknownProduct = "Unknown"

// TopProducts groups lines by product name and ranks them by revenue, then
// by name.
func (a *Aggregator) TopProducts(n int) []ProductSales {
	byName := make(map[string]*ProductSales)
	for _, l := range a.lines {
		name := l.ProductName
		if name == "" {
			name = unknownProduct
		}
		ps, ok := byName[name]
		if !ok {
			ps = &ProductSales{Name: name, Revenue: decimal.Zero}
			byName[name] = ps
		}
		ps.QuantitySold += l.Quantity
		ps.Revenue = ps.Revenue.Add(l.Total)
	}

	out := make([]ProductSales, 0, len(byName))
	for _, ps := range byName {
		out = append(out, *ps)
	}
	slices.SortFunc(out, func(x, y ProductSales) int {
		if c := y.Revenue.Cmp(x.Revenue); c != 0 {
			return c
		}
		return cmp.Compare(x.Name, y.Name)
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func (a *Aggregator) Totals() Totals {
	t := Totals{TotalSales: decimal.Zero, TotalOrders: len(a.orders), AverageOrderValue: decimal.Zero}
	for _, o := range a.orders {
		t.TotalSales = t.TotalSales.Add(o.Total)
	}
	if t.TotalOrders > 0 {
		t.AverageOrderValue = t.TotalSales.DivRound(decimal.NewFromInt(int64(t.TotalOrders)), 2)
	}
	return t
}
