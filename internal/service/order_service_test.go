package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

type fixture struct {
	store  *repository.MemoryStore
	orders *OrderService
	users  *UserService
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	return &fixture{
		store:  store,
		orders: NewOrderService(store, nil, nil),
		users:  NewUserService(store.Users(), nil, nil),
	}
}

// placeOrder writes a completed order the way checkout does.
func (f *fixture) placeOrder(t *testing.T, name string, customerID *int64, at time.Time, lines ...domain.OrderLine) *domain.Order {
	t.Helper()
	ctx := context.Background()
	o := domain.Order{
		CustomerID:    customerID,
		CustomerName:  name,
		CustomerEmail: "Unknown",
		Address:       "Unknown",
		PaymentMethod: domain.PaymentCashOnDelivery,
		Status:        domain.OrderStatusCompleted,
		CreatedAt:     at,
	}
	for _, l := range lines {
		o.Total = o.Total.Add(l.Total)
	}
	if err := f.store.Orders().Create(ctx, &o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := f.store.Orders().CreateLines(ctx, o.ID, lines); err != nil {
		t.Fatalf("create lines: %v", err)
	}
	return &o
}

func (f *fixture) product(t *testing.T, name string, stock int64) domain.Product {
	t.Helper()
	ctx := context.Background()
	p := domain.Product{Name: name, Price: price("10")}
	if err := f.store.Products().Create(ctx, &p); err != nil {
		t.Fatal(err)
	}
	if stock >= 0 {
		if err := f.store.Stock().Create(ctx, &domain.StockEntry{ProductID: p.ID, Quantity: stock}); err != nil {
			t.Fatal(err)
		}
	}
	return p
}

func line(p domain.Product, qty int64) domain.OrderLine {
	return domain.OrderLine{ProductID: p.ID, Quantity: qty, Price: p.Price, Total: p.Price.Mul(decimal.NewFromInt(qty)), StockTracked: true}
}

func TestCancelOrder_RestoresStock(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	p1 := f.product(t, "A", 3)
	p2 := f.product(t, "B", -1) // untracked
	o := f.placeOrder(t, "John", nil, time.Now(), line(p1, 2), line(p2, 1))

	o2, err := f.orders.UpdateStatus(ctx, o.ID, domain.OrderStatusCancelled)
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if o2.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled")
	}

	e, _ := f.store.Stock().GetByProduct(ctx, p1.ID)
	if e.Quantity != 5 {
		t.Fatalf("stock not restored: %v", e.Quantity)
	}
	if _, err := f.store.Stock().GetByProduct(ctx, p2.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("untracked product got a stock entry")
	}
}

func TestCancelOrder_SkipsStockTrackedAfterPlacement(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	p := f.product(t, "A", -1)
	l := line(p, 2)
	l.StockTracked = false
	o := f.placeOrder(t, "John", nil, time.Now(), l)

	// stock tracking starts after the order was placed
	if err := f.store.Stock().Create(ctx, &domain.StockEntry{ProductID: p.ID, Quantity: 4}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.orders.UpdateStatus(ctx, o.ID, domain.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	e, err := f.store.Stock().GetByProduct(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if e.Quantity != 4 {
		t.Fatalf("restocked units that were never taken: %v", e.Quantity)
	}
}

func TestUpdateStatus_CancelledIsFinal(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	p1 := f.product(t, "A", 10)
	o := f.placeOrder(t, "Jane", nil, time.Now(), line(p1, 2))

	if _, err := f.orders.UpdateStatus(ctx, o.ID, domain.OrderStatusPending); err != nil {
		t.Fatalf("to pending: %v", err)
	}
	if _, err := f.orders.UpdateStatus(ctx, o.ID, domain.OrderStatusCancelled); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	// same status again is a no-op
	if _, err := f.orders.UpdateStatus(ctx, o.ID, domain.OrderStatusCancelled); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if _, err := f.orders.UpdateStatus(ctx, o.ID, domain.OrderStatusCompleted); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	e, _ := f.store.Stock().GetByProduct(ctx, p1.ID)
	if e.Quantity != 12 {
		t.Fatalf("stock restored twice or not at all: %v", e.Quantity)
	}
}

func TestUpdateStatus_InvalidInput(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	if _, err := f.orders.UpdateStatus(ctx, 1, domain.OrderStatus("Shipped")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := f.orders.UpdateStatus(ctx, 99, domain.OrderStatusPending); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.orders.GetOrder(ctx, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestListOrders_JoinAndFilter(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	u, err := f.users.Create(ctx, UserInput{Name: "Amina", Email: "amina@x.com", Role: domain.RoleCustomer, Password: "secret1"})
	if err != nil {
		t.Fatal(err)
	}
	rice := f.product(t, "Rice", -1)
	tea := f.product(t, "Tea", -1)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	first := f.placeOrder(t, "Unknown", &u.ID, base, line(rice, 1))
	second := f.placeOrder(t, "Bob", nil, base.Add(time.Hour), line(tea, 2))
	if _, err := f.orders.UpdateStatus(ctx, second.ID, domain.OrderStatusPending); err != nil {
		t.Fatal(err)
	}

	all, err := f.orders.List(ctx, OrderFilter{Status: "All"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != second.ID {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if all[1].CustomerName != "Amina" || all[1].CustomerEmail != "amina@x.com" {
		t.Fatalf("customer not joined: %+v", all[1])
	}
	if len(all[1].Lines) != 1 || all[1].Lines[0].ProductName != "Rice" {
		t.Fatalf("lines not joined: %+v", all[1].Lines)
	}

	pending, _ := f.orders.List(ctx, OrderFilter{Status: "pending"})
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Fatalf("status filter failed: %+v", pending)
	}

	byProduct, _ := f.orders.List(ctx, OrderFilter{Search: "rice"})
	if len(byProduct) != 1 || byProduct[0].ID != first.ID {
		t.Fatalf("product search failed: %+v", byProduct)
	}

	byName, _ := f.orders.List(ctx, OrderFilter{Search: "AMI"})
	if len(byName) != 1 || byName[0].ID != first.ID {
		t.Fatalf("customer search failed: %+v", byName)
	}
}
