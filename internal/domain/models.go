package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog item. Shoppers only read it; admins mutate it.
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CartLine is a product snapshot plus quantity held in a shopper's session.
type CartLine struct {
	ProductID   int64           `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image,omitempty"`
	Description string          `json:"description,omitempty"`
	Quantity    int64           `json:"quantity"`
}

// LineTotal is price × quantity, unrounded.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(l.Quantity))
}

// NewCartLine snapshots p with quantity 1.
func NewCartLine(p Product) CartLine {
	return CartLine{
		ProductID:   p.ID,
		Name:        p.Name,
		Price:       p.Price,
		ImageURL:    p.ImageURL,
		Description: p.Description,
		Quantity:    1,
	}
}

// OrderStatus тип статуса заказа
type OrderStatus string

const (
	OrderStatusCompleted OrderStatus = "Completed"
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// Valid reports whether s belongs to the closed status set.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusPending, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentMethod tags how an order was paid.
type PaymentMethod string

const (
	PaymentEVCPlus        PaymentMethod = "EVC+"
	PaymentSahal          PaymentMethod = "SAHAL"
	PaymentCashOnDelivery PaymentMethod = "Cash on Delivery"
)

// Valid reports whether m is one of the accepted methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentEVCPlus, PaymentSahal, PaymentCashOnDelivery:
		return true
	}
	return false
}

// MobileMoney reports whether m goes through the phone + PIN confirmation.
func (m PaymentMethod) MobileMoney() bool {
	return m == PaymentEVCPlus || m == PaymentSahal
}

// OrderLine is one itemized row of an order.
type OrderLine struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Total       decimal.Decimal `json:"total_price"`
	// StockTracked is set when placement decremented stock for the line.
	StockTracked bool `json:"stock_tracked"`
}

// Order is the header row plus its lines.
type Order struct {
	ID            int64           `json:"id"`
	CustomerID    *int64          `json:"user_id,omitempty"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	Address       string          `json:"customer_address"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Phone         *string         `json:"phone_number,omitempty"`
	Total         decimal.Decimal `json:"total_price"`
	Status        OrderStatus     `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	Lines         []OrderLine     `json:"items,omitempty"`
}

// CheckTotals verifies that the line totals add up to the header total
// and that each line total equals price × quantity.
func (o *Order) CheckTotals() error {
	sum := decimal.Zero
	for _, l := range o.Lines {
		if !l.Total.Equal(l.Price.Mul(decimal.NewFromInt(l.Quantity))) {
			return fmt.Errorf("line for product %d: total %s != %s x %d", l.ProductID, l.Total, l.Price, l.Quantity)
		}
		sum = sum.Add(l.Total)
	}
	if !sum.Equal(o.Total) {
		return fmt.Errorf("order total %s != sum of lines %s", o.Total, sum)
	}
	return nil
}

// StockEntry tracks on-hand quantity for one product.
type StockEntry struct {
	ID           int64     `json:"id"`
	ProductID    int64     `json:"product_id"`
	ProductName  string    `json:"product_name,omitempty"`
	Quantity     int64     `json:"quantity"`
	RestockLevel int64     `json:"restock_level"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LowStock is inclusive: quantity equal to the restock level counts.
func (e StockEntry) LowStock() bool {
	return e.Quantity <= e.RestockLevel
}

// Role grants capabilities to a User.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

// User is an account managed by admins or created by signup.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	Address      string    `json:"address,omitempty"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	Banned       bool      `json:"is_banned"`
	CreatedAt    time.Time `json:"created_at"`
}

// Customer is the shopper identity kept in a session after login.
type Customer struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AdminGrant is the admin capability kept in a session after admin login.
type AdminGrant struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
}
