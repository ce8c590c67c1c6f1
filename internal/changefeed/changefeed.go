// Package changefeed delivers table change notifications. An event is only a
// cue to reload; subscribers must never merge its contents into local state.
package changefeed

import (
	"context"
	"sync"
	"time"
)

const (
	TableProducts = "products"
	TableOrders   = "orders"
	TableStock    = "stock"
	TableUsers    = "users"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

type Event struct {
	Table string    `json:"table"`
	Op    Op        `json:"op"`
	ID    int64     `json:"id"`
	At    time.Time `json:"at"`
}

// Feed is the publish/subscribe surface of the data backend.
type Feed interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, table string) (*Subscription, error)
}

// Subscription receives events for one table until Close is called or the
// subscribing context ends.
type Subscription struct {
	C <-chan Event

	once   sync.Once
	cancel func()
}

func newSubscription(c <-chan Event, cancel func()) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// subscriberBuffer bounds undelivered events per subscriber. A full buffer
// already holds a pending reload cue, so further events are dropped.
const subscriberBuffer = 16

// Broker is the in-process Feed.
type Broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Event
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]chan Event)}
}

var _ Feed = (*Broker)(nil)

func (b *Broker) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[ev.Table] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, table string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return newSubscription(ch, func() {}), nil
	}
	id := b.nextID
	b.nextID++
	if b.subs[table] == nil {
		b.subs[table] = make(map[int]chan Event)
	}
	b.subs[table][id] = ch

	stop := make(chan struct{})
	var once sync.Once
	remove := func() {
		once.Do(func() {
			close(stop)
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[table][id]; ok {
				delete(b.subs[table], id)
				close(c)
			}
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			remove()
		case <-stop:
		}
	}()
	return newSubscription(ch, remove), nil
}

// Close ends every subscription.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.subs {
		for id, ch := range m {
			delete(m, id)
			close(ch)
		}
	}
	b.closed = true
	return nil
}
