package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

func TestMemoryStore_ProductCRUD(t *testing.T) {
	ctx := context.Background()
	products := NewMemoryStore().Products()

	p := domain.Product{Name: "A", Price: decimal.NewFromInt(10)}
	if err := products.Create(ctx, &p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID == 0 {
		t.Fatalf("no id")
	}

	got, err := products.GetByID(ctx, p.ID)
	if err != nil || got.ID != p.ID {
		t.Fatalf("get: %v", err)
	}

	p.Price = decimal.NewFromInt(12)
	if err := products.Update(ctx, &p); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := products.Delete(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := products.GetByID(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryTx_CommitsHeaderAndLines(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	orders := store.Orders()

	p := domain.Product{Name: "Widget", Price: decimal.NewFromInt(10)}
	if err := store.Products().Create(ctx, &p); err != nil {
		t.Fatal(err)
	}

	o := domain.Order{CustomerName: "Jane", Total: decimal.NewFromInt(20), Status: domain.OrderStatusCompleted}
	err := store.Tx().WithTransaction(ctx, func(ctx context.Context) error {
		if err := orders.Create(ctx, &o); err != nil {
			return err
		}
		return orders.CreateLines(ctx, o.ID, []domain.OrderLine{
			{ProductID: p.ID, Quantity: 2, Price: p.Price, Total: decimal.NewFromInt(20)},
		})
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	got, err := orders.GetByID(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Lines) != 1 || got.Lines[0].ProductName != "Widget" {
		t.Fatalf("lines not joined: %+v", got.Lines)
	}
}

func TestMemoryTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	orders := store.Orders()
	boom := errors.New("lines failed")

	err := store.Tx().WithTransaction(ctx, func(ctx context.Context) error {
		o := domain.Order{CustomerName: "Jane", Status: domain.OrderStatusCompleted}
		if err := orders.Create(ctx, &o); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	list, _ := orders.List(ctx)
	if len(list) != 0 {
		t.Fatalf("header survived rollback: %+v", list)
	}

	// ids are rolled back too
	o := domain.Order{CustomerName: "Jane"}
	if err := orders.Create(ctx, &o); err != nil {
		t.Fatal(err)
	}
	if o.ID != 1 {
		t.Fatalf("expected id 1 after rollback, got %d", o.ID)
	}
}

func TestList_Filtering(t *testing.T) {
	ctx := context.Background()
	products := NewMemoryStore().Products()
	add := func(n string, price int64) {
		p := domain.Product{Name: n, Price: decimal.NewFromInt(price)}
		if err := products.Create(ctx, &p); err != nil {
			t.Fatal(err)
		}
	}
	add("Aspirin", 100)
	add("Paracetamol", 50)
	add("Ibuprofen", 150)

	// name contains
	list, _ := products.List(ctx, ProductFilter{NameSubstring: "IN"})
	if len(list) != 2 {
		t.Fatalf("name filter: %d", len(list))
	}

	// min
	min := decimal.NewFromInt(100)
	list, _ = products.List(ctx, ProductFilter{MinPrice: &min})
	for _, p := range list {
		if p.Price.LessThan(min) {
			t.Fatalf("min filter fail")
		}
	}

	// max
	max := decimal.NewFromInt(100)
	list, _ = products.List(ctx, ProductFilter{MaxPrice: &max})
	for _, p := range list {
		if p.Price.GreaterThan(max) {
			t.Fatalf("max filter fail")
		}
	}
}

func TestMemoryStock_OnePerProductAndOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	stock := store.Stock()

	p := domain.Product{Name: "Widget", Price: decimal.NewFromInt(1)}
	_ = store.Products().Create(ctx, &p)
	q := domain.Product{Name: "Gadget", Price: decimal.NewFromInt(1)}
	_ = store.Products().Create(ctx, &q)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e1 := domain.StockEntry{ProductID: p.ID, Quantity: 5, RestockLevel: 5, UpdatedAt: base}
	if err := stock.Create(ctx, &e1); err != nil {
		t.Fatal(err)
	}
	if err := stock.Create(ctx, &domain.StockEntry{ProductID: p.ID}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	e2 := domain.StockEntry{ProductID: q.ID, Quantity: 1, UpdatedAt: base.Add(time.Hour)}
	_ = stock.Create(ctx, &e2)

	if err := stock.SetQuantity(ctx, e1.ID, 6, base.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	list, _ := stock.List(ctx)
	if len(list) != 2 || list[0].ID != e1.ID || list[0].Quantity != 6 || list[0].ProductName != "Widget" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestMemoryUsers_UniqueEmail(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryStore().Users()
	u := domain.User{Name: "Jane", Email: "jane@x.com", Role: domain.RoleCustomer}
	if err := users.Create(ctx, &u); err != nil {
		t.Fatal(err)
	}
	if err := users.Create(ctx, &domain.User{Email: "JANE@x.com"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, err := users.GetByEmail(ctx, "Jane@X.com")
	if err != nil || got.ID != u.ID {
		t.Fatalf("get by email: %v", err)
	}
}
