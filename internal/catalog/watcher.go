// Package catalog keeps a live snapshot of the product list. Every change
// event triggers a full reload; a fetch already in flight when the event
// arrived is not trusted to reflect it.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"storefront/internal/changefeed"
	"storefront/internal/domain"
	"storefront/internal/metrics"
	"storefront/internal/repository"
)

// fetchTimeout bounds one shared product fetch.
const fetchTimeout = 10 * time.Second

type Watcher struct {
	repo    repository.ProductRepository
	feed    changefeed.Feed
	metrics *metrics.Metrics
	log     *slog.Logger

	group singleflight.Group

	mu       sync.RWMutex
	products []domain.Product
	gen      uint64
	subs     map[chan uint64]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher feed may be nil; the snapshot then changes only on Reload.
func NewWatcher(repo repository.ProductRepository, feed changefeed.Feed, m *metrics.Metrics, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{repo: repo, feed: feed, metrics: m, log: log, subs: make(map[chan uint64]struct{})}
}

// Start loads the catalog and follows the products feed until Close.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.Reload(ctx); err != nil {
		return err
	}
	if w.feed == nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := w.feed.Subscribe(runCtx, changefeed.TableProducts)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to products: %w", err)
	}
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx, sub)
	return nil
}

func (w *Watcher) run(ctx context.Context, sub *changefeed.Subscription) {
	defer close(w.done)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			w.log.DebugContext(ctx, "catalog change", "op", ev.Op, "id", ev.ID)
			if err := w.refresh(ctx); err != nil && ctx.Err() == nil {
				w.log.WarnContext(ctx, "catalog reload failed", "err", err)
			}
		}
	}
}

// Reload fetches the full product list. Concurrent callers share one fetch.
func (w *Watcher) Reload(ctx context.Context) error {
	_, err := w.load(ctx)
	return err
}

// refresh reloads after a change event. A shared fetch may have started
// before the event, so it runs once more.
func (w *Watcher) refresh(ctx context.Context) error {
	shared, err := w.load(ctx)
	if err == nil && shared {
		_, err = w.load(ctx)
	}
	return err
}

// load runs the fetch detached from ctx: callers that join it must not fail
// because the one that started it went away.
func (w *Watcher) load(ctx context.Context) (bool, error) {
	_, err, shared := w.group.Do("products", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		list, err := w.repo.List(fetchCtx, repository.ProductFilter{})
		if err != nil {
			w.metrics.CatalogReload("error")
			return nil, fmt.Errorf("list products: %w", err)
		}
		w.install(list)
		w.metrics.CatalogReload("ok")
		return nil, nil
	})
	return shared, err
}

func (w *Watcher) install(list []domain.Product) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.products = list
	w.gen++
	for ch := range w.subs {
		select {
		case ch <- w.gen:
		default:
		}
	}
}

// Products returns a copy of the snapshot and its generation.
func (w *Watcher) Products() ([]domain.Product, uint64) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.products), w.gen
}

// Get looks a product up in the snapshot.
func (w *Watcher) Get(id int64) (domain.Product, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	i := slices.IndexFunc(w.products, func(p domain.Product) bool { return p.ID == id })
	if i < 0 {
		return domain.Product{}, false
	}
	return w.products[i], true
}

// Subscribe is notified with the generation after every reload.
// Notifications coalesce; a slow reader may skip generations.
func (w *Watcher) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)
	w.mu.Lock()
	w.subs[ch] = struct{}{}
	w.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, ch)
			w.mu.Unlock()
		})
	}
}

func (w *Watcher) Close() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}
