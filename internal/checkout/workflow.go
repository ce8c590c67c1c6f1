// Package checkout turns a session's cart into a placed order.
//
// A Workflow moves through CollectingMethod, AwaitingPin (mobile money only),
// Submitting and Completed. Cancelled is reachable from any state before
// completion; Empty is the terminal state of a workflow begun on an empty
// cart. The order header and its lines are written in one transaction, so a
// failed placement leaves nothing behind and the workflow stays retryable.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/cart"
	"storefront/internal/changefeed"
	"storefront/internal/domain"
	"storefront/internal/metrics"
	"storefront/internal/repository"
	"storefront/internal/session"
)

type State string

const (
	StateEmpty            State = "Empty"
	StateCollectingMethod State = "CollectingMethod"
	StateAwaitingPin      State = "AwaitingPin"
	StateSubmitting       State = "Submitting"
	StateCompleted        State = "Completed"
	StateCancelled        State = "Cancelled"
)

var (
	ErrEmptyCart      = errors.New("cart is empty")
	ErrInvalidState   = errors.New("invalid checkout state")
	ErrNotEnoughStock = errors.New("not enough stock")
	ErrUnknownProduct = errors.New("product no longer available")
	// ErrTimeout is retryable.
	ErrTimeout = errors.New("data service timed out")
)

// ValidationError names the first missing or invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func missing(field, msg string) error { return &ValidationError{Field: field, Message: msg} }

// Details are the delivery and contact fields of the form.
type Details struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	Phone   string `json:"phone_number"`
}

func (d Details) trimmed() Details {
	return Details{
		Name:    strings.TrimSpace(d.Name),
		Email:   strings.TrimSpace(d.Email),
		Address: strings.TrimSpace(d.Address),
		Phone:   strings.TrimSpace(d.Phone),
	}
}

// Draft is the persisted form of a Workflow. It survives between requests.
type Draft struct {
	State   State                `json:"state"`
	Method  domain.PaymentMethod `json:"payment_method,omitempty"`
	Details Details              `json:"details"`
	OrderID int64                `json:"order_id,omitempty"`
	// Claim identifies the request placing the order while State is
	// Submitting; ClaimedAt is when it started, in unix milliseconds.
	Claim     string `json:"claim,omitempty"`
	ClaimedAt int64  `json:"claimed_at,omitempty"`
}

const keyDraft = "checkout"

// Outcome reports where a step left the workflow.
type Outcome struct {
	State    State         `json:"state"`
	Message  string        `json:"message,omitempty"`
	Order    *domain.Order `json:"order,omitempty"`
	Redirect string        `json:"redirect,omitempty"`
	// RedirectAfterMs is the delay before following Redirect.
	RedirectAfterMs int64 `json:"redirect_after_ms,omitempty"`
}

type Config struct {
	// CallTimeout bounds each call to the data service.
	CallTimeout time.Duration
	// RedirectDelay is how long the success message shows before leaving.
	RedirectDelay time.Duration
}

func DefaultConfig() Config {
	return Config{CallTimeout: 5 * time.Second, RedirectDelay: 2 * time.Second}
}

// Service holds the dependencies shared by every workflow.
type Service struct {
	products repository.ProductRepository
	orders   repository.OrderRepository
	stock    repository.StockRepository
	tx       repository.TxManager
	feed     changefeed.Feed
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

// NewService wires a checkout service. feed and m may be nil.
func NewService(store repository.Store, feed changefeed.Feed, m *metrics.Metrics, cfg Config, log *slog.Logger) *Service {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	if cfg.RedirectDelay <= 0 {
		cfg.RedirectDelay = DefaultConfig().RedirectDelay
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		products: store.Products(),
		orders:   store.Orders(),
		stock:    store.Stock(),
		tx:       store.Tx(),
		feed:     feed,
		metrics:  m,
		tracer:   otel.Tracer("storefront/checkout"),
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Workflow is one session's checkout.
type Workflow struct {
	svc   *Service
	sess  *session.Store
	cart  *cart.Store
	draft Draft
	// stored is the draft as last read from or written to the session; nil
	// when none is stored.
	stored *Draft
}

// staleClaim is how long a placement may hold the draft before another
// request treats it as dead. Placement makes two calls bounded by
// CallTimeout.
func (s *Service) staleClaim() time.Duration { return 3 * s.cfg.CallTimeout }

// Begin resumes the session's draft, or starts a new one prefilled from the
// customer identity. An empty cart yields StateEmpty unless a completed
// order is still on display.
func (s *Service) Begin(ctx context.Context, sess *session.Store) *Workflow {
	w := &Workflow{svc: s, sess: sess, cart: cart.Open(ctx, sess)}
	var d Draft
	loaded := sess.Load(ctx, keyDraft, &d)
	if loaded {
		stored := d
		w.stored = &stored
	}

	switch {
	case w.cart.Empty() && loaded && d.State == StateCompleted:
		w.draft = d
	case w.cart.Empty():
		w.draft = Draft{State: StateEmpty}
	case loaded && (d.State == StateCollectingMethod || d.State == StateAwaitingPin):
		w.draft = d
	case loaded && d.State == StateSubmitting:
		w.draft = d
		if s.now().Sub(time.UnixMilli(d.ClaimedAt)) > s.staleClaim() {
			// the placing request died; its transaction rolled back
			w.draft.State = StateCollectingMethod
			w.draft.Claim, w.draft.ClaimedAt = "", 0
		}
	default:
		w.draft = Draft{State: StateCollectingMethod}
		if c, ok := sess.Customer(ctx); ok {
			w.draft.Details.Name = c.Name
			w.draft.Details.Email = c.Email
		}
	}
	return w
}

func (w *Workflow) State() State { return w.draft.State }

func (w *Workflow) Draft() Draft { return w.draft }

func (w *Workflow) Cart() *cart.Store { return w.cart }

func (w *Workflow) save(ctx context.Context) error {
	if err := w.sess.Save(ctx, keyDraft, w.draft); err != nil {
		return err
	}
	saved := w.draft
	w.stored = &saved
	return nil
}

// swap saves next only if the stored draft is still the one this workflow
// last saw.
func (w *Workflow) swap(ctx context.Context, next Draft) (bool, error) {
	var old any
	if w.stored != nil {
		old = *w.stored
	}
	ok, err := w.sess.Swap(ctx, keyDraft, old, next)
	if err != nil || !ok {
		return false, err
	}
	w.draft = next
	w.stored = &next
	return true, nil
}

func (w *Workflow) requireCollecting() error {
	switch w.draft.State {
	case StateEmpty:
		return ErrEmptyCart
	case StateCollectingMethod, StateAwaitingPin:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidState, w.draft.State)
}

// SelectPaymentMethod chooses the method. Changing it while a PIN is awaited
// goes back to collecting.
func (w *Workflow) SelectPaymentMethod(ctx context.Context, m domain.PaymentMethod) error {
	if err := w.requireCollecting(); err != nil {
		return err
	}
	if !m.Valid() {
		return missing("payment_method", "Please select a payment method!")
	}
	w.draft.Method = m
	w.draft.State = StateCollectingMethod
	return w.save(ctx)
}

func (w *Workflow) SetDetails(ctx context.Context, d Details) error {
	if err := w.requireCollecting(); err != nil {
		return err
	}
	w.draft.Details = d.trimmed()
	return w.save(ctx)
}

// Submit validates the form. Cash on Delivery places the order right away;
// mobile money moves to AwaitingPin.
func (w *Workflow) Submit(ctx context.Context) (*Outcome, error) {
	if w.draft.State != StateCollectingMethod {
		if err := w.requireCollecting(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, w.draft.State)
	}
	d := w.draft.Details
	switch {
	case w.draft.Method == "":
		return nil, missing("payment_method", "Please select a payment method!")
	case w.draft.Method == domain.PaymentCashOnDelivery:
		for _, f := range []struct{ name, val string }{{"name", d.Name}, {"email", d.Email}, {"address", d.Address}} {
			if f.val == "" {
				return nil, missing(f.name, "Please fill in your delivery information!")
			}
		}
		return w.place(ctx)
	case w.draft.Method.MobileMoney():
		if d.Phone == "" {
			return nil, missing("phone_number", fmt.Sprintf("Please enter your %s number!", w.draft.Method))
		}
		w.draft.State = StateAwaitingPin
		if err := w.save(ctx); err != nil {
			return nil, err
		}
		return &Outcome{State: StateAwaitingPin}, nil
	}
	return nil, missing("payment_method", "Please select a payment method!")
}

// SubmitPin accepts any non-empty PIN; it is never verified.
func (w *Workflow) SubmitPin(ctx context.Context, pin string) (*Outcome, error) {
	if w.draft.State != StateAwaitingPin {
		if err := w.requireCollecting(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: no PIN requested", ErrInvalidState)
	}
	if strings.TrimSpace(pin) == "" {
		return nil, missing("pin", "Please enter your PIN!")
	}
	return w.place(ctx)
}

// Cancel abandons the workflow. Cancelling a completed checkout is a no-op.
func (w *Workflow) Cancel(ctx context.Context) error {
	if w.draft.State == StateCompleted || w.draft.State == StateCancelled {
		return nil
	}
	w.draft = Draft{State: StateCancelled}
	w.svc.metrics.CheckoutOutcome("", "cancelled")
	return w.save(ctx)
}

// Finish forgets a completed or cancelled draft so the next Begin starts
// fresh.
func (w *Workflow) Finish(ctx context.Context) error {
	if w.draft.State != StateCompleted && w.draft.State != StateCancelled {
		return fmt.Errorf("%w: %s", ErrInvalidState, w.draft.State)
	}
	if err := w.sess.Delete(ctx, keyDraft); err != nil {
		return err
	}
	w.stored = nil
	return nil
}
