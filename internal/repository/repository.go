package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

var (
	// ErrNotFound возвращается, когда сущность не найдена
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique key (user email, stock product) is taken.
	ErrConflict = errors.New("already exists")
)

// ProductFilter параметры фильтрации списка товаров
type ProductFilter struct {
	NameSubstring string
	MinPrice      *decimal.Decimal
	MaxPrice      *decimal.Decimal
}

// Match reports whether p passes the filter.
func (f ProductFilter) Match(p domain.Product) bool {
	if !containsIgnoreCase(p.Name, f.NameSubstring) {
		return false
	}
	if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	return true
}

// ProductRepository интерфейс репозитория товаров
type ProductRepository interface {
	Create(ctx context.Context, p *domain.Product) error
	GetByID(ctx context.Context, id int64) (*domain.Product, error)
	Update(ctx context.Context, p *domain.Product) error
	Delete(ctx context.Context, id int64) error
	// List returns products newest first.
	List(ctx context.Context, f ProductFilter) ([]domain.Product, error)
}

// OrderRepository stores order headers and their lines as separate rows.
type OrderRepository interface {
	// Create inserts the header only and assigns o.ID and o.CreatedAt.
	Create(ctx context.Context, o *domain.Order) error
	// CreateLines inserts lines for an existing header and assigns their ids.
	CreateLines(ctx context.Context, orderID int64, lines []domain.OrderLine) error
	// GetByID returns the header with its lines, product names joined.
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	// List returns headers newest first, without lines.
	List(ctx context.Context) ([]domain.Order, error)
	// ListLines returns every order line with product names joined.
	ListLines(ctx context.Context) ([]domain.OrderLine, error)
	UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) error
}

// StockRepository stores inventory entries, at most one per product.
type StockRepository interface {
	Create(ctx context.Context, e *domain.StockEntry) error
	GetByID(ctx context.Context, id int64) (*domain.StockEntry, error)
	GetByProduct(ctx context.Context, productID int64) (*domain.StockEntry, error)
	// List returns entries joined with product names, most recently updated first.
	List(ctx context.Context) ([]domain.StockEntry, error)
	SetQuantity(ctx context.Context, id, quantity int64, updatedAt time.Time) error
}

// UserRepository stores accounts; email is unique.
type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, u *domain.User) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]domain.User, error)
}

// TxManager абстракция транзакции. Work done by fn is committed only if fn returns nil.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store bundles every repository a backend provides.
type Store interface {
	Products() ProductRepository
	Orders() OrderRepository
	Stock() StockRepository
	Users() UserRepository
	Tx() TxManager
	Close() error
}

// helper: case-insensitive contains
func containsIgnoreCase(s, substr string) bool {
	if substr == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
