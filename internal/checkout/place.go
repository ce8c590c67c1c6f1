package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/changefeed"
	"storefront/internal/domain"
	"storefront/internal/repository"
	"storefront/internal/session"
)

const unknownField = "Unknown"

func (w *Workflow) place(ctx context.Context) (*Outcome, error) {
	s := w.svc
	method := w.draft.Method
	lines := w.cart.Lines()

	ctx, span := s.tracer.Start(ctx, "checkout.place", trace.WithAttributes(
		attribute.String("payment.method", string(method)),
		attribute.Int("cart.lines", len(lines)),
	))
	defer span.End()

	resume := w.draft
	claim := w.draft
	claim.State = StateSubmitting
	claim.Claim = session.NewID()
	claim.ClaimedAt = s.now().UnixMilli()
	ok, err := w.swap(ctx, claim)
	if err != nil {
		return nil, err
	}
	if !ok {
		// another request moved the draft on, most likely by placing it
		return nil, fmt.Errorf("%w: checkout changed by another request", ErrInvalidState)
	}

	// the outcome is recorded even if the caller goes away mid-placement
	saveCtx := context.WithoutCancel(ctx)

	order, err := s.placeOrder(ctx, w.sess, w.draft, lines)
	if err != nil {
		if ok, serr := w.swap(saveCtx, resume); serr != nil || !ok {
			s.log.WarnContext(ctx, "could not restore checkout draft", "swapped", ok, "err", serr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.CheckoutOutcome(string(method), "failed")
		s.log.WarnContext(ctx, "order placement failed", "method", method, "err", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("order.id", order.ID))

	// the order exists, so the cart goes even if the workflow was abandoned
	if err := w.cart.Clear(saveCtx); err != nil {
		s.log.WarnContext(ctx, "could not clear cart after order", "order_id", order.ID, "err", err)
	}
	s.publishPlaced(saveCtx, order)

	done := w.draft
	done.State = StateCompleted
	done.OrderID = order.ID
	done.Claim, done.ClaimedAt = "", 0
	ok, err = w.swap(saveCtx, done)
	switch {
	case err != nil:
		s.log.WarnContext(ctx, "could not save completed draft", "order_id", order.ID, "err", err)
		w.draft = done
	case !ok:
		var current Draft
		if w.sess.Load(saveCtx, keyDraft, &current) && current.State == StateCancelled {
			w.draft = current
			w.stored = &current
			s.metrics.CheckoutOutcome(string(method), "completed_after_cancel")
			s.log.InfoContext(ctx, "order completed after checkout was cancelled", "order_id", order.ID)
			return &Outcome{State: StateCancelled, Order: order}, nil
		}
		s.log.WarnContext(ctx, "checkout draft changed during placement", "order_id", order.ID)
		w.draft = done
	}
	s.metrics.CheckoutOutcome(string(method), "completed")
	s.log.InfoContext(ctx, "order placed", "order_id", order.ID, "total", order.Total.StringFixed(2), "method", method)

	return &Outcome{
		State:           StateCompleted,
		Message:         successMessage(method, w.draft.Details.Phone),
		Order:           order,
		Redirect:        "/",
		RedirectAfterMs: s.cfg.RedirectDelay.Milliseconds(),
	}, nil
}

func successMessage(m domain.PaymentMethod, phone string) string {
	if m.MobileMoney() {
		return fmt.Sprintf("Payment Successful! Thank you for your purchase using %s (%s)", m, phone)
	}
	return fmt.Sprintf("Payment Successful! Thank you for your purchase using %s", m)
}

// placeOrder reprices the cart from the catalog and writes the stock
// decrements, the header and its lines in one transaction.
func (s *Service) placeOrder(ctx context.Context, sess *session.Store, d Draft, lines []domain.CartLine) (*domain.Order, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	priced, err := s.reprice(ctx, lines)
	if err != nil {
		return nil, classify(err)
	}
	order := buildOrder(d, priced)
	if c, ok := sess.Customer(ctx); ok {
		id := c.ID
		order.CustomerID = &id
	}
	if err := order.CheckTotals(); err != nil {
		return nil, fmt.Errorf("order totals: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	start := s.now()
	err = s.tx.WithTransaction(callCtx, func(ctx context.Context) error {
		if err := s.reserveStock(ctx, order.Lines); err != nil {
			return err
		}
		header := *order
		header.Lines = nil
		if err := s.orders.Create(ctx, &header); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if err := s.orders.CreateLines(ctx, header.ID, order.Lines); err != nil {
			return fmt.Errorf("insert order lines: %w", err)
		}
		order.ID = header.ID
		order.CreatedAt = header.CreatedAt
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	s.metrics.OrderPlaced(order.Total, s.now().Sub(start).Seconds())
	return order, nil
}

func (s *Service) reprice(ctx context.Context, lines []domain.CartLine) ([]domain.OrderLine, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	out := make([]domain.OrderLine, 0, len(lines))
	for _, l := range lines {
		p, err := s.products.GetByID(ctx, l.ProductID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, l.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("load product %d: %w", l.ProductID, err)
		}
		out = append(out, domain.OrderLine{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    l.Quantity,
			Price:       p.Price,
			Total:       p.Price.Mul(decimal.NewFromInt(l.Quantity)),
		})
	}
	return out, nil
}

func buildOrder(d Draft, lines []domain.OrderLine) *domain.Order {
	det := d.Details
	o := &domain.Order{
		CustomerName:  orUnknown(det.Name),
		CustomerEmail: orUnknown(det.Email),
		Address:       orUnknown(det.Address),
		PaymentMethod: d.Method,
		Status:        domain.OrderStatusCompleted,
		Total:         decimal.Zero,
		Lines:         lines,
	}
	if det.Phone != "" {
		phone := det.Phone
		o.Phone = &phone
	}
	for _, l := range lines {
		o.Total = o.Total.Add(l.Total)
	}
	return o
}

func orUnknown(v string) string {
	if v == "" {
		return unknownField
	}
	return v
}

// reserveStock decrements tracked products and marks their lines. Products
// without a stock entry are not tracked.
func (s *Service) reserveStock(ctx context.Context, lines []domain.OrderLine) error {
	for i := range lines {
		l := &lines[i]
		e, err := s.stock.GetByProduct(ctx, l.ProductID)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load stock for product %d: %w", l.ProductID, err)
		}
		if e.Quantity < l.Quantity {
			return fmt.Errorf("%w: %s has %d left", ErrNotEnoughStock, l.ProductName, e.Quantity)
		}
		if err := s.stock.SetQuantity(ctx, e.ID, e.Quantity-l.Quantity, s.now()); err != nil {
			return fmt.Errorf("update stock %d: %w", e.ID, err)
		}
		l.StockTracked = true
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func (s *Service) publishPlaced(ctx context.Context, o *domain.Order) {
	if s.feed == nil {
		return
	}
	events := []changefeed.Event{{Table: changefeed.TableOrders, Op: changefeed.OpInsert, ID: o.ID}}
	for _, l := range o.Lines {
		events = append(events, changefeed.Event{Table: changefeed.TableStock, Op: changefeed.OpUpdate, ID: l.ProductID})
	}
	for _, ev := range events {
		if err := s.feed.Publish(ctx, ev); err != nil {
			s.log.WarnContext(ctx, "change event not published", "table", ev.Table, "err", err)
		}
	}
}
