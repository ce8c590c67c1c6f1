package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"storefront/internal/changefeed"
	"storefront/internal/domain"
	"storefront/internal/repository"
)

// OrderService реализует администрирование заказов: просмотр, фильтр, смену статуса
type OrderService struct {
	orders repository.OrderRepository
	stock  repository.StockRepository
	users  repository.UserRepository
	tx     repository.TxManager
	feed   changefeed.Feed
	log    *slog.Logger
	now    func() time.Time
}

func NewOrderService(store repository.Store, feed changefeed.Feed, log *slog.Logger) *OrderService {
	if log == nil {
		log = slog.Default()
	}
	return &OrderService{
		orders: store.Orders(),
		stock:  store.Stock(),
		users:  store.Users(),
		tx:     store.Tx(),
		feed:   feed,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var ErrInvalidState = errors.New("invalid state")

// OrderFilter пустой Status или "All" пропускает все заказы
type OrderFilter struct {
	Status string
	Search string
}

func (f OrderFilter) match(o domain.Order) bool {
	if f.Status != "" && !strings.EqualFold(f.Status, "All") && !strings.EqualFold(f.Status, string(o.Status)) {
		return false
	}
	term := strings.ToLower(strings.TrimSpace(f.Search))
	if term == "" {
		return true
	}
	fields := []string{o.CustomerName, o.CustomerEmail, string(o.Status)}
	for _, l := range o.Lines {
		fields = append(fields, l.ProductName)
	}
	for _, v := range fields {
		if strings.Contains(strings.ToLower(v), term) {
			return true
		}
	}
	return false
}

// List собирает заказы вместе с позициями и данными покупателя, новые первыми
func (s *OrderService) List(ctx context.Context, f OrderFilter) ([]domain.Order, error) {
	var (
		orders []domain.Order
		lines  []domain.OrderLine
		users  []domain.User
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		orders, err = s.orders.List(egCtx)
		return err
	})
	eg.Go(func() (err error) {
		lines, err = s.orders.ListLines(egCtx)
		return err
	})
	eg.Go(func() (err error) {
		users, err = s.users.List(egCtx)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}

	byOrder := make(map[int64][]domain.OrderLine)
	for _, l := range lines {
		byOrder[l.OrderID] = append(byOrder[l.OrderID], l)
	}
	byUser := make(map[int64]domain.User, len(users))
	for _, u := range users {
		byUser[u.ID] = u
	}

	out := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		o.Lines = byOrder[o.ID]
		if o.CustomerID != nil {
			if u, ok := byUser[*o.CustomerID]; ok {
				o.CustomerName = u.Name
				o.CustomerEmail = u.Email
			}
		}
		if f.match(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

// GetOrder возвращает заказ по id
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	return s.orders.GetByID(ctx, id)
}

// UpdateStatus меняет статус заказа. При отмене товары возвращаются на склад;
// отменённый заказ больше не меняется
func (s *OrderService) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) (*domain.Order, error) {
	if id <= 0 || !status.Valid() {
		return nil, ErrInvalidInput
	}
	var updated *domain.Order
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if o.Status == status {
			updated = o
			return nil
		}
		if o.Status == domain.OrderStatusCancelled {
			return ErrInvalidState
		}
		if status == domain.OrderStatusCancelled {
			if err := s.restock(ctx, o.Lines); err != nil {
				return err
			}
		}
		if err := s.orders.UpdateStatus(ctx, id, status); err != nil {
			return err
		}
		o.Status = status
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "order status changed", "order_id", id, "status", status)
	publish(ctx, s.feed, s.log, changefeed.TableOrders, changefeed.OpUpdate, id)
	return updated, nil
}

// restock возвращает на склад только то, что было списано при оформлении
func (s *OrderService) restock(ctx context.Context, lines []domain.OrderLine) error {
	for _, l := range lines {
		if !l.StockTracked {
			continue
		}
		e, err := s.stock.GetByProduct(ctx, l.ProductID)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := s.stock.SetQuantity(ctx, e.ID, e.Quantity+l.Quantity, s.now()); err != nil {
			return err
		}
	}
	return nil
}
