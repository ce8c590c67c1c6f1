package repository

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"storefront/internal/domain"
)

// MemoryStore объединённое in-memory хранилище и простой генератор ID
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	tables memoryTables
}

type memoryTables struct {
	nextProdID  int64
	nextOrderID int64
	nextLineID  int64
	nextStockID int64
	nextUserID  int64

	productsByID map[int64]domain.Product
	ordersByID   map[int64]domain.Order
	linesByID    map[int64]domain.OrderLine
	stockByID    map[int64]domain.StockEntry
	usersByID    map[int64]domain.User
}

func (t memoryTables) clone() memoryTables {
	cp := t
	cp.productsByID = maps.Clone(t.productsByID)
	cp.ordersByID = maps.Clone(t.ordersByID)
	cp.linesByID = maps.Clone(t.linesByID)
	cp.stockByID = maps.Clone(t.stockByID)
	cp.usersByID = maps.Clone(t.usersByID)
	return cp
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now: func() time.Time { return time.Now().UTC() },
		tables: memoryTables{
			nextProdID:   1,
			nextOrderID:  1,
			nextLineID:   1,
			nextStockID:  1,
			nextUserID:   1,
			productsByID: make(map[int64]domain.Product),
			ordersByID:   make(map[int64]domain.Order),
			linesByID:    make(map[int64]domain.OrderLine),
			stockByID:    make(map[int64]domain.StockEntry),
			usersByID:    make(map[int64]domain.User),
		},
	}
}

// SetClock overrides the timestamp source; tests use it to pin created_at.
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Products() ProductRepository { return &MemoryProducts{store: m} }
func (m *MemoryStore) Orders() OrderRepository     { return &MemoryOrders{store: m} }
func (m *MemoryStore) Stock() StockRepository      { return &MemoryStock{store: m} }
func (m *MemoryStore) Users() UserRepository       { return &MemoryUsers{store: m} }
func (m *MemoryStore) Tx() TxManager               { return NewMemoryTx(m) }
func (m *MemoryStore) Close() error                { return nil }

// transaction-aware locking helpers
type txKey struct{}

func isTx(ctx context.Context) bool {
	v := ctx.Value(txKey{})
	if v == nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func (m *MemoryStore) rlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RLock()
	}
}
func (m *MemoryStore) runlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RUnlock()
	}
}
func (m *MemoryStore) wlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Lock()
	}
}
func (m *MemoryStore) wunlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Unlock()
	}
}

func (m *MemoryStore) productName(id int64) string {
	return m.tables.productsByID[id].Name
}

// MemoryProducts implements ProductRepository.
type MemoryProducts struct{ store *MemoryStore }

var _ ProductRepository = (*MemoryProducts)(nil)

func (mp *MemoryProducts) Create(ctx context.Context, p *domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := mp.store
	m.wlock(ctx)
	defer m.wunlock(ctx)
	p.ID = m.tables.nextProdID
	m.tables.nextProdID++
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	m.tables.productsByID[p.ID] = *p
	return nil
}

func (mp *MemoryProducts) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := mp.store
	m.rlock(ctx)
	defer m.runlock(ctx)
	p, ok := m.tables.productsByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	// return copy
	cp := p
	return &cp, nil
}

func (mp *MemoryProducts) Update(ctx context.Context, p *domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := mp.store
	m.wlock(ctx)
	defer m.wunlock(ctx)
	old, ok := m.tables.productsByID[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.CreatedAt = old.CreatedAt
	m.tables.productsByID[p.ID] = *p
	return nil
}

func (mp *MemoryProducts) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := mp.store
	m.wlock(ctx)
	defer m.wunlock(ctx)
	if _, ok := m.tables.productsByID[id]; !ok {
		return ErrNotFound
	}
	delete(m.tables.productsByID, id)
	return nil
}

func (mp *MemoryProducts) List(ctx context.Context, f ProductFilter) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := mp.store
	m.rlock(ctx)
	defer m.runlock(ctx)
	out := make([]domain.Product, 0)
	for _, p := range m.tables.productsByID {
		if !f.Match(p) {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// MemoryOrders implements OrderRepository on the shared store
type MemoryOrders struct{ store *MemoryStore }

var _ OrderRepository = (*MemoryOrders)(nil)

func (mo *MemoryOrders) Create(ctx context.Context, o *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	o.ID = mo.store.tables.nextOrderID
	mo.store.tables.nextOrderID++
	if o.CreatedAt.IsZero() {
		o.CreatedAt = mo.store.now()
	}
	header := *o
	header.Lines = nil
	mo.store.tables.ordersByID[o.ID] = header
	return nil
}

func (mo *MemoryOrders) CreateLines(ctx context.Context, orderID int64, lines []domain.OrderLine) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	if _, ok := mo.store.tables.ordersByID[orderID]; !ok {
		return ErrNotFound
	}
	for i := range lines {
		lines[i].ID = mo.store.tables.nextLineID
		lines[i].OrderID = orderID
		mo.store.tables.nextLineID++
		mo.store.tables.linesByID[lines[i].ID] = lines[i]
	}
	return nil
}

func (mo *MemoryOrders) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	o, ok := mo.store.tables.ordersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := o
	cp.Lines = nil
	for _, l := range mo.sortedLines() {
		if l.OrderID == id {
			cp.Lines = append(cp.Lines, l)
		}
	}
	return &cp, nil
}

func (mo *MemoryOrders) List(ctx context.Context) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	out := slices.Collect(maps.Values(mo.store.tables.ordersByID))
	slices.SortFunc(out, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (mo *MemoryOrders) ListLines(ctx context.Context) ([]domain.OrderLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	return mo.sortedLines(), nil
}

// sortedLines expects the caller to hold a lock.
func (mo *MemoryOrders) sortedLines() []domain.OrderLine {
	out := make([]domain.OrderLine, 0, len(mo.store.tables.linesByID))
	for _, l := range mo.store.tables.linesByID {
		l.ProductName = mo.store.productName(l.ProductID)
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b domain.OrderLine) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (mo *MemoryOrders) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	o, ok := mo.store.tables.ordersByID[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	mo.store.tables.ordersByID[id] = o
	return nil
}

// MemoryStock implements StockRepository.
type MemoryStock struct{ store *MemoryStore }

var _ StockRepository = (*MemoryStock)(nil)

func (ms *MemoryStock) Create(ctx context.Context, e *domain.StockEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.store.wlock(ctx)
	defer ms.store.wunlock(ctx)
	for _, other := range ms.store.tables.stockByID {
		if other.ProductID == e.ProductID {
			return ErrConflict
		}
	}
	e.ID = ms.store.tables.nextStockID
	ms.store.tables.nextStockID++
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = ms.store.now()
	}
	e.ProductName = ""
	ms.store.tables.stockByID[e.ID] = *e
	e.ProductName = ms.store.productName(e.ProductID)
	return nil
}

func (ms *MemoryStock) GetByID(ctx context.Context, id int64) (*domain.StockEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.store.rlock(ctx)
	defer ms.store.runlock(ctx)
	e, ok := ms.store.tables.stockByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.ProductName = ms.store.productName(e.ProductID)
	return &e, nil
}

func (ms *MemoryStock) GetByProduct(ctx context.Context, productID int64) (*domain.StockEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.store.rlock(ctx)
	defer ms.store.runlock(ctx)
	for _, e := range ms.store.tables.stockByID {
		if e.ProductID == productID {
			e.ProductName = ms.store.productName(e.ProductID)
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (ms *MemoryStock) List(ctx context.Context) ([]domain.StockEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms.store.rlock(ctx)
	defer ms.store.runlock(ctx)
	out := make([]domain.StockEntry, 0, len(ms.store.tables.stockByID))
	for _, e := range ms.store.tables.stockByID {
		e.ProductName = ms.store.productName(e.ProductID)
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b domain.StockEntry) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (ms *MemoryStock) SetQuantity(ctx context.Context, id, quantity int64, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.store.wlock(ctx)
	defer ms.store.wunlock(ctx)
	e, ok := ms.store.tables.stockByID[id]
	if !ok {
		return ErrNotFound
	}
	e.Quantity = quantity
	e.UpdatedAt = updatedAt
	ms.store.tables.stockByID[id] = e
	return nil
}

// MemoryUsers implements UserRepository.
type MemoryUsers struct{ store *MemoryStore }

var _ UserRepository = (*MemoryUsers)(nil)

func (mu *MemoryUsers) emailTaken(email string, exceptID int64) bool {
	for _, u := range mu.store.tables.usersByID {
		if u.ID != exceptID && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

func (mu *MemoryUsers) Create(ctx context.Context, u *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mu.store.wlock(ctx)
	defer mu.store.wunlock(ctx)
	if mu.emailTaken(u.Email, 0) {
		return ErrConflict
	}
	u.ID = mu.store.tables.nextUserID
	mu.store.tables.nextUserID++
	if u.CreatedAt.IsZero() {
		u.CreatedAt = mu.store.now()
	}
	mu.store.tables.usersByID[u.ID] = *u
	return nil
}

func (mu *MemoryUsers) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mu.store.rlock(ctx)
	defer mu.store.runlock(ctx)
	u, ok := mu.store.tables.usersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (mu *MemoryUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mu.store.rlock(ctx)
	defer mu.store.runlock(ctx)
	for _, u := range mu.store.tables.usersByID {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (mu *MemoryUsers) Update(ctx context.Context, u *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mu.store.wlock(ctx)
	defer mu.store.wunlock(ctx)
	old, ok := mu.store.tables.usersByID[u.ID]
	if !ok {
		return ErrNotFound
	}
	if mu.emailTaken(u.Email, u.ID) {
		return ErrConflict
	}
	u.CreatedAt = old.CreatedAt
	mu.store.tables.usersByID[u.ID] = *u
	return nil
}

func (mu *MemoryUsers) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mu.store.wlock(ctx)
	defer mu.store.wunlock(ctx)
	if _, ok := mu.store.tables.usersByID[id]; !ok {
		return ErrNotFound
	}
	delete(mu.store.tables.usersByID, id)
	return nil
}

func (mu *MemoryUsers) List(ctx context.Context) ([]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mu.store.rlock(ctx)
	defer mu.store.runlock(ctx)
	out := slices.Collect(maps.Values(mu.store.tables.usersByID))
	slices.SortFunc(out, func(a, b domain.User) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// MemoryTx holds the write lock for the whole transaction and restores
// a snapshot of every table when fn fails.
type MemoryTx struct{ store *MemoryStore }

func NewMemoryTx(store *MemoryStore) *MemoryTx { return &MemoryTx{store: store} }

func (tx *MemoryTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if isTx(ctx) {
		// nested: join the outer transaction
		return fn(ctx)
	}
	// Для in-memory используем блокировку записи и помечаем контекст, чтобы репозитории пропускали внутренние локи
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	snapshot := tx.store.tables.clone()
	ctx = context.WithValue(ctx, txKey{}, true)
	if err := fn(ctx); err != nil {
		tx.store.tables = snapshot
		return err
	}
	return nil
}
