package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

// DefaultTopN is how many products the dashboard ranks.
const DefaultTopN = 5

type Report struct {
	Granularity Granularity    `json:"granularity"`
	Range       Range          `json:"range"`
	Sales       PeriodSales    `json:"sales"`
	Series      []Bucket       `json:"series"`
	TopProducts []ProductSales `json:"topProducts"`
	Totals      Totals         `json:"totals"`
}

type Service struct {
	orders repository.OrderRepository
	loc    *time.Location
	log    *slog.Logger
	now    func() time.Time
}

// NewService reports in loc, or UTC when loc is nil.
func NewService(orders repository.OrderRepository, loc *time.Location, log *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{orders: orders, loc: loc, log: log, now: time.Now}
}

// Report fetches orders and lines concurrently and aggregates them.
func (s *Service) Report(ctx context.Context, g Granularity) (*Report, error) {
	var (
		orders []domain.Order
		lines  []domain.OrderLine
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		if orders, err = s.orders.List(egCtx); err != nil {
			return fmt.Errorf("list orders: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		if lines, err = s.orders.ListLines(egCtx); err != nil {
			return fmt.Errorf("list order lines: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	a := New(orders, lines, g, s.now().In(s.loc))
	r := &Report{
		Granularity: g,
		Range:       a.Range(),
		Sales:       a.PeriodSales(),
		Series:      a.TimeSeries(),
		TopProducts: a.TopProducts(DefaultTopN),
		Totals:      a.Totals(),
	}
	s.log.DebugContext(ctx, "analytics report built", "granularity", g, "orders", len(orders), "lines", len(lines))
	return r, nil
}
