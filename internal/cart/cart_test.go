package cart

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
	"storefront/internal/session"
)

func newCart(t *testing.T) (*Store, *session.Store) {
	t.Helper()
	sess := session.New(session.NewMemoryKV(), "s", nil)
	return Open(context.Background(), sess), sess
}

func widget() domain.Product {
	return domain.Product{ID: 1, Name: "Widget", Price: decimal.RequireFromString("10.00")}
}

func TestAdd_SameProductTwiceMerges(t *testing.T) {
	ctx := context.Background()
	c, sess := newCart(t)
	require.NoError(t, c.Add(ctx, widget()))
	require.NoError(t, c.Add(ctx, widget()))

	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, int64(2), lines[0].Quantity)

	// persisted
	reopened := Open(ctx, sess).Lines()
	require.Len(t, reopened, 1)
	assert.Equal(t, int64(2), reopened[0].Quantity)
	assert.True(t, reopened[0].Price.Equal(decimal.NewFromInt(10)))
}

func TestDecrement_RemovesAtOne(t *testing.T) {
	ctx := context.Background()
	c, _ := newCart(t)
	require.NoError(t, c.Add(ctx, widget()))
	require.NoError(t, c.Decrement(ctx, 1))
	assert.True(t, c.Empty())

	require.NoError(t, c.Decrement(ctx, 1))
	require.NoError(t, c.Increment(ctx, 1))
	require.NoError(t, c.Remove(ctx, 1))
	assert.True(t, c.Empty())
}

func TestTotal_MatchesRecomputation(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(1, 2))
	for round := 0; round < 50; round++ {
		c, _ := newCart(t)
		products := make([]domain.Product, 5)
		for i := range products {
			cents := rng.Int64N(100000)
			products[i] = domain.Product{ID: int64(i + 1), Price: decimal.New(cents, -2)}
		}
		for op := 0; op < 40; op++ {
			p := products[rng.IntN(len(products))]
			switch rng.IntN(4) {
			case 0:
				require.NoError(t, c.Add(ctx, p))
			case 1:
				require.NoError(t, c.Increment(ctx, p.ID))
			case 2:
				require.NoError(t, c.Decrement(ctx, p.ID))
			case 3:
				if rng.IntN(5) == 0 {
					require.NoError(t, c.Remove(ctx, p.ID))
				}
			}
		}
		want := decimal.Zero
		for _, l := range c.Lines() {
			require.Greater(t, l.Quantity, int64(0))
			want = want.Add(l.Price.Mul(decimal.NewFromInt(l.Quantity)))
		}
		assert.True(t, want.Equal(c.Total()), "round %d: %s != %s", round, want, c.Total())
	}
}

func TestOpen_CorruptCartIsEmpty(t *testing.T) {
	ctx := context.Background()
	sess := session.New(session.NewMemoryKV(), "s", nil)
	require.NoError(t, sess.Save(ctx, "cart", []domain.CartLine{
		{ProductID: 1, Price: decimal.NewFromInt(1), Quantity: 1},
		{ProductID: 1, Price: decimal.NewFromInt(1), Quantity: 2},
	}))
	assert.True(t, Open(ctx, sess).Empty())

	require.NoError(t, sess.Save(ctx, "cart", []domain.CartLine{{ProductID: 1, Quantity: 0}}))
	assert.True(t, Open(ctx, sess).Empty())

	require.NoError(t, sess.Save(ctx, "cart", "garbage"))
	assert.True(t, Open(ctx, sess).Empty())
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	c, sess := newCart(t)
	require.NoError(t, c.Add(ctx, widget()))
	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, int64(0), c.Count())
	assert.Nil(t, sess.CartLines(ctx))
}
