package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	return Event{}
}

func TestBroker_DeliversOnlyToTable(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()
	defer b.Close()

	products, err := b.Subscribe(ctx, TableProducts)
	require.NoError(t, err)
	stock, err := b.Subscribe(ctx, TableStock)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, Event{Table: TableProducts, Op: OpInsert, ID: 7}))

	ev := receive(t, products)
	assert.Equal(t, int64(7), ev.ID)
	assert.False(t, ev.At.IsZero())
	select {
	case ev := <-stock.C:
		t.Fatalf("unexpected stock event %+v", ev)
	default:
	}
}

func TestBroker_CloseUnsubscribes(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()
	sub, err := b.Subscribe(ctx, TableProducts)
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, ok := <-sub.C
	assert.False(t, ok)
	require.NoError(t, b.Publish(ctx, Event{Table: TableProducts}))
}

func TestBroker_ContextCancelUnsubscribes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBroker()
	sub, err := b.Subscribe(ctx, TableProducts)
	require.NoError(t, err)
	cancel()
	select {
	case _, ok := <-sub.C:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}

func TestBroker_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()
	sub, err := b.Subscribe(ctx, TableProducts)
	require.NoError(t, err)
	for i := 0; i < subscriberBuffer*2; i++ {
		require.NoError(t, b.Publish(ctx, Event{Table: TableProducts, ID: int64(i)}))
	}
	assert.Len(t, sub.C, subscriberBuffer)
}

func TestRedisFeed_PublishSubscribe(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	feed := NewRedisFeedWithClient(client, "test", nil)
	defer feed.Close()

	ctx := context.Background()
	sub, err := feed.Subscribe(ctx, TableProducts)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, feed.Publish(ctx, Event{Table: TableProducts, Op: OpUpdate, ID: 3}))

	ev := receive(t, sub)
	assert.Equal(t, TableProducts, ev.Table)
	assert.Equal(t, OpUpdate, ev.Op)
	assert.Equal(t, int64(3), ev.ID)
}
