package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"storefront/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store over database/sql with the lib/pq driver.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens and pings the database. The schema is applied by Migrate.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// Migrate creates missing tables. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Products() ProductRepository { return &pgProducts{s} }
func (s *PostgresStore) Orders() OrderRepository     { return &pgOrders{s} }
func (s *PostgresStore) Stock() StockRepository      { return &pgStock{s} }
func (s *PostgresStore) Users() UserRepository       { return &pgUsers{s} }
func (s *PostgresStore) Tx() TxManager               { return s }
func (s *PostgresStore) Close() error                { return s.db.Close() }

type pgTxKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns the transaction carried by ctx, or the pool.
func (s *PostgresStore) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(pgTxKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// WithTransaction runs fn inside one sql.Tx; a nested call joins the outer one.
func (s *PostgresStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pgTxKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(context.WithValue(ctx, pgTxKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func mapPgError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrConflict
	}
	return err
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

type pgProducts struct{ s *PostgresStore }

const productColumns = `id, name, price, description, image_url, created_at`

func scanProduct(r rowScanner) (domain.Product, error) {
	var p domain.Product
	err := r.Scan(&p.ID, &p.Name, &p.Price, &p.Description, &p.ImageURL, &p.CreatedAt)
	return p, err
}

func (r *pgProducts) Create(ctx context.Context, p *domain.Product) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	err := r.s.q(ctx).QueryRowContext(ctx,
		`INSERT INTO products (name, price, description, image_url, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		p.Name, p.Price, p.Description, p.ImageURL, p.CreatedAt).Scan(&p.ID)
	return mapPgError(err)
}

func (r *pgProducts) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(r.s.q(ctx).QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		return nil, mapPgError(err)
	}
	return &p, nil
}

func (r *pgProducts) Update(ctx context.Context, p *domain.Product) error {
	err := r.s.q(ctx).QueryRowContext(ctx,
		`UPDATE products SET name = $2, price = $3, description = $4, image_url = $5
		 WHERE id = $1 RETURNING created_at`,
		p.ID, p.Name, p.Price, p.Description, p.ImageURL).Scan(&p.CreatedAt)
	return mapPgError(err)
}

func (r *pgProducts) Delete(ctx context.Context, id int64) error {
	res, err := r.s.q(ctx).ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err)
	}
	return expectOneRow(res)
}

func (r *pgProducts) List(ctx context.Context, f ProductFilter) ([]domain.Product, error) {
	var (
		where []string
		args  []any
	)
	if f.NameSubstring != "" {
		args = append(args, "%"+f.NameSubstring+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if f.MinPrice != nil {
		args = append(args, *f.MinPrice)
		where = append(where, fmt.Sprintf("price >= $%d", len(args)))
	}
	if f.MaxPrice != nil {
		args = append(args, *f.MaxPrice)
		where = append(where, fmt.Sprintf("price <= $%d", len(args)))
	}
	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type pgOrders struct{ s *PostgresStore }

const orderColumns = `id, user_id, customer_name, customer_email, customer_address,
	payment_method, phone_number, total_price, status, created_at`

func scanOrder(r rowScanner) (domain.Order, error) {
	var (
		o      domain.Order
		userID sql.NullInt64
		phone  sql.NullString
		method string
		status string
	)
	err := r.Scan(&o.ID, &userID, &o.CustomerName, &o.CustomerEmail, &o.Address,
		&method, &phone, &o.Total, &status, &o.CreatedAt)
	if err != nil {
		return o, err
	}
	if userID.Valid {
		o.CustomerID = &userID.Int64
	}
	if phone.Valid {
		o.Phone = &phone.String
	}
	o.PaymentMethod = domain.PaymentMethod(method)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func (r *pgOrders) Create(ctx context.Context, o *domain.Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	var phone sql.NullString
	if o.Phone != nil {
		phone = sql.NullString{String: *o.Phone, Valid: true}
	}
	var userID sql.NullInt64
	if o.CustomerID != nil {
		userID = sql.NullInt64{Int64: *o.CustomerID, Valid: true}
	}
	err := r.s.q(ctx).QueryRowContext(ctx,
		`INSERT INTO orders_main (user_id, customer_name, customer_email, customer_address,
		   payment_method, phone_number, total_price, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		userID, o.CustomerName, o.CustomerEmail, o.Address, string(o.PaymentMethod),
		phone, o.Total, string(o.Status), o.CreatedAt).Scan(&o.ID)
	return mapPgError(err)
}

func (r *pgOrders) CreateLines(ctx context.Context, orderID int64, lines []domain.OrderLine) error {
	for i := range lines {
		l := &lines[i]
		err := r.s.q(ctx).QueryRowContext(ctx,
			`INSERT INTO orders_items (order_id, product_id, quantity, price, total_price, stock_tracked)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			orderID, l.ProductID, l.Quantity, l.Price, l.Total, l.StockTracked).Scan(&l.ID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
				return ErrNotFound
			}
			return mapPgError(err)
		}
		l.OrderID = orderID
	}
	return nil
}

const lineSelect = `SELECT i.id, i.order_id, i.product_id, COALESCE(p.name, ''), i.quantity, i.price, i.total_price, i.stock_tracked
	FROM orders_items i LEFT JOIN products p ON p.id = i.product_id`

func (r *pgOrders) queryLines(ctx context.Context, query string, args ...any) ([]domain.OrderLine, error) {
	rows, err := r.s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.OrderLine, 0)
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.Quantity, &l.Price, &l.Total, &l.StockTracked); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *pgOrders) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	o, err := scanOrder(r.s.q(ctx).QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders_main WHERE id = $1`, id))
	if err != nil {
		return nil, mapPgError(err)
	}
	lines, err := r.queryLines(ctx, lineSelect+` WHERE i.order_id = $1 ORDER BY i.id`, id)
	if err != nil {
		return nil, err
	}
	if len(lines) > 0 {
		o.Lines = lines
	}
	return &o, nil
}

func (r *pgOrders) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.s.q(ctx).QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders_main ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *pgOrders) ListLines(ctx context.Context) ([]domain.OrderLine, error) {
	return r.queryLines(ctx, lineSelect+` ORDER BY i.id`)
}

func (r *pgOrders) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	res, err := r.s.q(ctx).ExecContext(ctx,
		`UPDATE orders_main SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return mapPgError(err)
	}
	return expectOneRow(res)
}

type pgStock struct{ s *PostgresStore }

const stockSelect = `SELECT s.id, s.product_id, COALESCE(p.name, ''), s.quantity, s.restock_level, s.updated_at
	FROM stock s LEFT JOIN products p ON p.id = s.product_id`

func scanStock(r rowScanner) (domain.StockEntry, error) {
	var e domain.StockEntry
	err := r.Scan(&e.ID, &e.ProductID, &e.ProductName, &e.Quantity, &e.RestockLevel, &e.UpdatedAt)
	return e, err
}

func (r *pgStock) Create(ctx context.Context, e *domain.StockEntry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	err := r.s.q(ctx).QueryRowContext(ctx,
		`INSERT INTO stock (product_id, quantity, restock_level, updated_at)
		 VALUES ($1, $2, $3, $4) RETURNING id,
		   COALESCE((SELECT name FROM products WHERE id = $1), '')`,
		e.ProductID, e.Quantity, e.RestockLevel, e.UpdatedAt).Scan(&e.ID, &e.ProductName)
	return mapPgError(err)
}

func (r *pgStock) GetByID(ctx context.Context, id int64) (*domain.StockEntry, error) {
	e, err := scanStock(r.s.q(ctx).QueryRowContext(ctx, stockSelect+` WHERE s.id = $1`, id))
	if err != nil {
		return nil, mapPgError(err)
	}
	return &e, nil
}

func (r *pgStock) GetByProduct(ctx context.Context, productID int64) (*domain.StockEntry, error) {
	e, err := scanStock(r.s.q(ctx).QueryRowContext(ctx, stockSelect+` WHERE s.product_id = $1`, productID))
	if err != nil {
		return nil, mapPgError(err)
	}
	return &e, nil
}

func (r *pgStock) List(ctx context.Context) ([]domain.StockEntry, error) {
	rows, err := r.s.q(ctx).QueryContext(ctx, stockSelect+` ORDER BY s.updated_at DESC, s.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.StockEntry, 0)
	for rows.Next() {
		e, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *pgStock) SetQuantity(ctx context.Context, id, quantity int64, updatedAt time.Time) error {
	res, err := r.s.q(ctx).ExecContext(ctx,
		`UPDATE stock SET quantity = $2, updated_at = $3 WHERE id = $1`, id, quantity, updatedAt)
	if err != nil {
		return mapPgError(err)
	}
	return expectOneRow(res)
}

type pgUsers struct{ s *PostgresStore }

const userColumns = `id, name, email, phone, address, role, password_hash, is_banned, created_at`

func scanUser(r rowScanner) (domain.User, error) {
	var (
		u    domain.User
		role string
	)
	err := r.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Address, &role, &u.PasswordHash, &u.Banned, &u.CreatedAt)
	u.Role = domain.Role(role)
	return u, err
}

func (r *pgUsers) Create(ctx context.Context, u *domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	err := r.s.q(ctx).QueryRowContext(ctx,
		`INSERT INTO users (name, email, phone, address, role, password_hash, is_banned, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		u.Name, u.Email, u.Phone, u.Address, string(u.Role), u.PasswordHash, u.Banned, u.CreatedAt).Scan(&u.ID)
	return mapPgError(err)
}

func (r *pgUsers) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(r.s.q(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, mapPgError(err)
	}
	return &u, nil
}

func (r *pgUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := scanUser(r.s.q(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return nil, mapPgError(err)
	}
	return &u, nil
}

func (r *pgUsers) Update(ctx context.Context, u *domain.User) error {
	err := r.s.q(ctx).QueryRowContext(ctx,
		`UPDATE users SET name = $2, email = $3, phone = $4, address = $5, role = $6,
		   password_hash = $7, is_banned = $8
		 WHERE id = $1 RETURNING created_at`,
		u.ID, u.Name, u.Email, u.Phone, u.Address, string(u.Role), u.PasswordHash, u.Banned).Scan(&u.CreatedAt)
	return mapPgError(err)
}

func (r *pgUsers) Delete(ctx context.Context, id int64) error {
	res, err := r.s.q(ctx).ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err)
	}
	return expectOneRow(res)
}

func (r *pgUsers) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.s.q(ctx).QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
