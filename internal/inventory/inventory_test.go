package inventory

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/changefeed"
	"storefront/internal/domain"
	"storefront/internal/repository"
)

func seed(t *testing.T, store *repository.MemoryStore, name string) domain.Product {
	t.Helper()
	p := domain.Product{Name: name, Price: decimal.NewFromInt(1)}
	require.NoError(t, store.Products().Create(context.Background(), &p))
	return p
}

func TestLowStock_InclusiveBoundary(t *testing.T) {
	snap := &Snapshot{Entries: []domain.StockEntry{
		{ID: 1, ProductName: "At", Quantity: 3, RestockLevel: 3},
		{ID: 2, ProductName: "Above", Quantity: 4, RestockLevel: 3},
		{ID: 3, ProductName: "Empty", Quantity: 0, RestockLevel: 0},
	}}

	low := slices.Collect(snap.LowStock())
	require.Len(t, low, 2)
	assert.Equal(t, int64(1), low[0].ID)
	assert.Equal(t, int64(3), low[1].ID)

	assert.Equal(t, Summary{TotalProducts: 3, TotalStock: 7, LowStockCount: 2, InStockCount: 1}, snap.Summary())
}

func TestSearch_CaseInsensitive(t *testing.T) {
	snap := &Snapshot{Entries: []domain.StockEntry{
		{ID: 1, ProductName: "Red Widget"},
		{ID: 2, ProductName: "Gadget"},
	}}
	got := snap.Search("WIDG")
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Len(t, snap.Search(""), 2)
}

func TestScenarioB_AdjustLeavesLowStock(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	broker := changefeed.NewBroker()
	defer broker.Close()
	svc := NewService(store, broker, nil, nil)

	p := seed(t, store, "Widget")
	e, err := svc.AddEntry(ctx, p.ID, 5, 5)
	require.NoError(t, err)

	snap, err := svc.Load(ctx)
	require.NoError(t, err)
	require.Len(t, slices.Collect(snap.LowStock()), 1)

	sub, err := broker.Subscribe(ctx, changefeed.TableStock)
	require.NoError(t, err)
	defer sub.Close()

	snap, err = svc.Adjust(ctx, e.ID, +1)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, int64(6), snap.Entries[0].Quantity)
	assert.Empty(t, slices.Collect(snap.LowStock()))

	select {
	case ev := <-sub.C:
		assert.Equal(t, changefeed.OpUpdate, ev.Op)
		assert.Equal(t, e.ID, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("no stock event")
	}
}

func TestAdjust_ClampsAtZeroAndStampsTime(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := NewService(store, nil, nil, nil)
	stamp := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return stamp }

	p := seed(t, store, "Widget")
	e, err := svc.AddEntry(ctx, p.ID, 2, 1)
	require.NoError(t, err)

	stamp = stamp.Add(time.Hour)
	snap, err := svc.Adjust(ctx, e.ID, -10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Entries[0].Quantity)
	assert.True(t, snap.Entries[0].UpdatedAt.Equal(stamp))
}

func TestAddEntry_Validation(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := NewService(store, nil, nil, nil)
	p := seed(t, store, "Widget")

	_, err := svc.AddEntry(ctx, p.ID, -1, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.AddEntry(ctx, 999, 1, 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = svc.AddEntry(ctx, p.ID, 1, 1)
	require.NoError(t, err)
	_, err = svc.AddEntry(ctx, p.ID, 1, 1)
	assert.ErrorIs(t, err, repository.ErrConflict)

	_, err = svc.Adjust(ctx, 42, 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
