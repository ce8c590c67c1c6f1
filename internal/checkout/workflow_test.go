package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/changefeed"
	"storefront/internal/domain"
	"storefront/internal/repository"
	"storefront/internal/session"
)

// countingOrders counts writes and can fail line inserts.
type countingOrders struct {
	repository.OrderRepository
	writes    int
	failLines error
}

func (c *countingOrders) Create(ctx context.Context, o *domain.Order) error {
	c.writes++
	return c.OrderRepository.Create(ctx, o)
}

func (c *countingOrders) CreateLines(ctx context.Context, id int64, lines []domain.OrderLine) error {
	c.writes++
	if c.failLines != nil {
		return c.failLines
	}
	return c.OrderRepository.CreateLines(ctx, id, lines)
}

type testStore struct {
	*repository.MemoryStore
	orders *countingOrders
}

func (s testStore) Orders() repository.OrderRepository { return s.orders }

type fixture struct {
	store  testStore
	svc    *Service
	sess   *session.Store
	widget domain.Product
	gadget domain.Product
	ctx    context.Context
	broker *changefeed.Broker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	store := testStore{MemoryStore: mem, orders: &countingOrders{OrderRepository: mem.Orders()}}

	widget := domain.Product{Name: "Widget", Price: decimal.RequireFromString("10.00")}
	require.NoError(t, mem.Products().Create(ctx, &widget))
	gadget := domain.Product{Name: "Gadget", Price: decimal.RequireFromString("2.50")}
	require.NoError(t, mem.Products().Create(ctx, &gadget))

	broker := changefeed.NewBroker()
	t.Cleanup(func() { broker.Close() })
	return &fixture{
		store:  store,
		svc:    NewService(store, broker, nil, DefaultConfig(), nil),
		sess:   session.New(session.NewMemoryKV(), "s", nil),
		widget: widget,
		gadget: gadget,
		ctx:    ctx,
		broker: broker,
	}
}

func (f *fixture) addToCart(t *testing.T, p domain.Product, n int) {
	t.Helper()
	c := f.svc.Begin(f.ctx, f.sess).Cart()
	for i := 0; i < n; i++ {
		require.NoError(t, c.Add(f.ctx, p))
	}
}

func TestBegin_EmptyCartIsTerminal(t *testing.T) {
	f := newFixture(t)
	w := f.svc.Begin(f.ctx, f.sess)
	assert.Equal(t, StateEmpty, w.State())

	assert.ErrorIs(t, w.SelectPaymentMethod(f.ctx, domain.PaymentCashOnDelivery), ErrEmptyCart)
	_, err := w.Submit(f.ctx)
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Zero(t, f.store.orders.writes)
}

func TestSubmit_CashOnDeliveryRequiresAddress(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, f.widget, 1)

	w := f.svc.Begin(f.ctx, f.sess)
	require.NoError(t, w.SelectPaymentMethod(f.ctx, domain.PaymentCashOnDelivery))
	require.NoError(t, w.SetDetails(f.ctx, Details{Name: "Jane", Email: "jane@x.com", Address: "  "}))

	_, err := w.Submit(f.ctx)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "address", verr.Field)
	assert.Zero(t, f.store.orders.writes)
	assert.Equal(t, StateCollectingMethod, w.State())
}

func TestSubmit_RequiresMethod(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, f.widget, 1)
	w := f.svc.Begin(f.ctx, f.sess)

	_, err := w.Submit(f.ctx)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "payment_method", verr.Field)

	assert.Error(t, w.SelectPaymentMethod(f.ctx, domain.PaymentMethod("PayPal")))
}

func TestScenarioA_CashOnDelivery(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, f.widget, 2)

	w := f.svc.Begin(f.ctx, f.sess)
	require.NoError(t, w.SelectPaymentMethod(f.ctx, domain.PaymentCashOnDelivery))
	require.NoError(t, w.SetDetails(f.ctx, Details{Name: "Jane", Email: "jane@x.com", Address: "123 St"}))

	out, err := w.Submit(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, "/", out.Redirect)
	assert.Equal(t, int64(2000), out.RedirectAfterMs)

	orders, err := f.store.orders.List(f.ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	got, err := f.store.orders.GetByID(f.ctx, orders[0].ID)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("20.00")))
	assert.Equal(t, domain.OrderStatusCompleted, got.Status)
	require.Len(t, got.Lines, 1)
	line := got.Lines[0]
	assert.Equal(t, int64(2), line.Quantity)
	assert.True(t, line.Price.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, line.Total.Equal(decimal.RequireFromString("20.00")))
	assert.Nil(t, got.Phone)

	assert.Empty(t, f.sess.CartLines(f.ctx))
	assert.True(t, w.Cart().Empty())

	// the completed receipt survives a reload until finished
	again := f.svc.Begin(f.ctx, f.sess)
	assert.Equal(t, StateCompleted, again.State())
	require.NoError(t, again.Finish(f.ctx))
	assert.Equal(t, StateEmpty, f.svc.Begin(f.ctx, f.sess).State())
}

func TestCompletedOrders_LinesSumToHeader(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.addToCart(t, f.widget, i+1)
		f.addToCart(t, f.gadget, 3)
		w := f.svc.Begin(f.ctx, f.sess)
		require.NoError(t, w.SelectPaymentMethod(f.ctx, domain.PaymentCashOnDelivery))
		require.NoError(t, w.SetDetails(f.ctx, Details{Name: "J", Email: "j@x.com", Address: "A"}))
		_, err := w.Submit(f.ctx)
		require.NoError(t, err)
		require.NoError(t, w.Finish(f.ctx))
	}

	orders, _ := f.store.orders.List(f.ctx)
	require.Len(t, orders, 3)
	for _, o := range orders {
		full, err := f.store.orders.GetByID(f.ctx, o.ID)
		require.NoError(t, err)
		sum := decimal.Zero
		for _, l := range full.Lines {
			sum = sum.Add(l.Total)
		}
		assert.Equal(t, full.Total.StringFixed(2), sum.StringFixed(2))
	}
}

func TestMobileMoney_PhoneThenPin(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, f.gadget, 1)

	w := f.svc.Begin(f.ctx, f.sess)
	require.NoError(t, w.SelectPaymentMethod(f.ctx, domain.PaymentEVCPlus))

	_, err := w.Submit(f.ctx)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "phone_number", verr.Field)

	require.NoError(t, w.SetDetails(f.ctx, Details{Phone: "615000000"}))
	out, err := w.Submit(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPin, out.State)
	assert.Zero(t, f.store.orders.writes)

	// resumed from the session in a later request
	w = f.svc.Begin(f.ctx, f.sess)
	require.Equal(t, StateAwaitingPin, w.State())

	_, err = w.SubmitPin(f.ctx, "")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "pin", verr.Field)

	out, err = w.SubmitPin(f.ctx, "0000")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, out.State)
	assert.Contains(t, out.Message, "EVC+ (615000000)")
	require.NotNil(t, out.Order.Phone)
	assert.Equal(t, "615000000", *out.Order.Phone)
	assert.Equal(t, "Unknown", out.Order.CustomerName)
}

func TestSubmitPin_OnlyWhenAwaiting(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, f.gadget, 1)
	w := f.svc.Begin(f.ctx, f.sess)
	_, err := w.SubmitPin(f.ctx, "1234")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestPlacement_LineFailureRollsBackHeader(t *testing.T) {
	f := newFixture(t)
	f.store.orders.failLines = errors.New("lines rejected")
	f.addToCart(t, f.widget, 1)

	w := f.svc.Begin(f.ctx, f.sess)
	require.NoError(t, w.SelectPaymentMethod(f.ctx, domain.PaymentCashOnDelivery))
	require.NoError(t, w.SetDetails(f.ctx, Details{Name: "Jane", Email: "jane@x.com", Address: "123 St"}))

	_, err := w.Submit(f.ctx)
	require.Error(t, err)
	assert.Equal(t, StateCollectingMethod, w.State())

	orders, _ := f.store.orders.List(f.ctx)
	assert.Empty(t, orders)
	assert.Len(t, f.sess.CartLines(f.ctx), 1)

	// retry succeeds once the backend recovers
	f.store.orders.failLines = nil
	out, err := w.Submit(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, out.State)
}

func TestPlacement_UsesCatalogPriceAndTracksStock(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, f.widget, 2)

	// price changed after the product was carted
	f.widget.Price = decimal.RequireFromString("12.00")
	require.NoError(t, f.store.Products().Update(f.ctx, &f.widget))
	entry := domain.StockEntry{ProductID: f.widget.ID, Quantity: 3, RestockLevel: 1}
	require.NoError(t, f.store.Stock().Create(f.ctx, &entry))

	w := f.svc.Begin(f.ctx, f.sess)
	require.NoError(t, w.SelectPaymentMethod(f.ctx, domain.PaymentCashOnDelivery))
	require.NoError(t, w.SetDetails(f.ctx, Details{Name: "Jane", Email: "jane@x.com", Address: "123 St"}))
	out, err := w.Submit(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "24.00", out.Order.Total.StringFixed(2))

	e, err := f.store.Stock().GetByID(f.ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Quantity)

	stored, err := f.store.orders.GetByID(f.ctx, out.Order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 1)
	assert.True(t, stored.Lines[0].StockTracked)
}

func TestPlacement_UntrackedLinesAreMarked(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, f.gadget, 1)
	w := f.readyForCOD(t)
	out, err := w.Submit(f.ctx)
	require.NoError(t, err)

	stored, err := f.store.orders.GetByID(f.ctx, out.Order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 1)
	assert.False(t, stored.Lines[0].StockTracked)
}

func TestPlacement_NotEnoughStock(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, f.widget, 2)
	entry := domain.StockEntry{ProductID: f.widget.ID, Quantity: 1}
	require.NoError(t, f.store.Stock().Create(f.ctx, &entry))

	w := f.svc.Begin(f.ctx, f.sess)
	require.NoError(t, w.SelectPaymentMethod(f.ctx, domain.PaymentCashOnDelivery))
	require.NoError(t, w.SetDetails(f.ctx, Details{Name: "Jane", Email: "jane@x.com", Address: "123 St"}))
	_, err := w.Submit(f.ctx)
	assert.ErrorIs(t, err, ErrNotEnoughStock)

	orders, _ := f.store.orders.List(f.ctx)
	assert.Empty(t, orders)
}

func TestCancel_ThenStrayCompletion(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, f.widget, 1)

	w := f.svc.Begin(f.ctx, f.sess)
	require.NoError(t, w.SelectPaymentMethod(f.ctx, domain.PaymentCashOnDelivery))
	require.NoError(t, w.SetDetails(f.ctx, Details{Name: "Jane", Email: "jane@x.com", Address: "123 St"}))

	// another request cancels while this one is writing
	f.store.orders.OrderRepository = cancelDuringCreate{
		OrderRepository: f.store.orders.OrderRepository,
		cancel: func() {
			require.NoError(t, f.svc.Begin(f.ctx, f.sess).Cancel(f.ctx))
		},
	}
	out, err := w.Submit(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, out.State)
	assert.Equal(t, StateCancelled, w.State())
	assert.Empty(t, f.sess.CartLines(f.ctx))
}

type cancelDuringCreate struct {
	repository.OrderRepository
	cancel func()
}

func (c cancelDuringCreate) Create(ctx context.Context, o *domain.Order) error {
	c.cancel()
	return c.OrderRepository.Create(ctx, o)
}

func (f *fixture) readyForCOD(t *testing.T) *Workflow {
	t.Helper()
	w := f.svc.Begin(f.ctx, f.sess)
	require.NoError(t, w.SelectPaymentMethod(f.ctx, domain.PaymentCashOnDelivery))
	require.NoError(t, w.SetDetails(f.ctx, Details{Name: "Jane", Email: "jane@x.com", Address: "123 St"}))
	return w
}

func TestPlacement_SecondSubmitOfSameDraftFails(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, f.widget, 1)
	f.readyForCOD(t)

	a := f.svc.Begin(f.ctx, f.sess)
	b := f.svc.Begin(f.ctx, f.sess)
	_, errA := a.Submit(f.ctx)
	_, errB := b.Submit(f.ctx)
	require.NoError(t, errA)
	assert.ErrorIs(t, errB, ErrInvalidState)

	orders, err := f.store.orders.List(f.ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestPlacement_SubmitDuringPlacementFails(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, f.widget, 1)
	a := f.readyForCOD(t)
	b := f.svc.Begin(f.ctx, f.sess)

	var errB error
	f.store.orders.OrderRepository = cancelDuringCreate{
		OrderRepository: f.store.orders.OrderRepository,
		cancel:          func() { _, errB = b.Submit(f.ctx) },
	}
	out, err := a.Submit(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, out.State)
	assert.ErrorIs(t, errB, ErrInvalidState)

	orders, err := f.store.orders.List(f.ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestBegin_SubmittingDraftHeldUntilStale(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, f.widget, 1)
	f.readyForCOD(t)
	var d Draft
	require.True(t, f.sess.Load(f.ctx, keyDraft, &d))
	d.State = StateSubmitting
	d.Claim = "other-request"
	d.ClaimedAt = f.svc.now().UnixMilli()
	require.NoError(t, f.sess.Save(f.ctx, keyDraft, d))

	w := f.svc.Begin(f.ctx, f.sess)
	assert.Equal(t, StateSubmitting, w.State())
	_, err := w.Submit(f.ctx)
	assert.ErrorIs(t, err, ErrInvalidState)

	f.svc.now = func() time.Time { return time.Now().UTC().Add(time.Minute) }
	w = f.svc.Begin(f.ctx, f.sess)
	assert.Equal(t, StateCollectingMethod, w.State())
	out, err := w.Submit(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, out.State)
	orders, err := f.store.orders.List(f.ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

type slowProducts struct{ repository.ProductRepository }

func (slowProducts) GetByID(ctx context.Context, _ int64) (*domain.Product, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPlacement_TimeoutIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, f.widget, 1)
	f.svc.cfg.CallTimeout = 10 * time.Millisecond
	f.svc.products = slowProducts{f.svc.products}

	w := f.svc.Begin(f.ctx, f.sess)
	require.NoError(t, w.SelectPaymentMethod(f.ctx, domain.PaymentCashOnDelivery))
	require.NoError(t, w.SetDetails(f.ctx, Details{Name: "Jane", Email: "jane@x.com", Address: "123 St"}))
	_, err := w.Submit(f.ctx)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StateCollectingMethod, w.State())
}

func TestPlacement_PublishesOrderEvent(t *testing.T) {
	f := newFixture(t)
	sub, err := f.broker.Subscribe(f.ctx, changefeed.TableOrders)
	require.NoError(t, err)
	f.addToCart(t, f.widget, 1)

	w := f.svc.Begin(f.ctx, f.sess)
	require.NoError(t, w.SelectPaymentMethod(f.ctx, domain.PaymentCashOnDelivery))
	require.NoError(t, w.SetDetails(f.ctx, Details{Name: "Jane", Email: "jane@x.com", Address: "123 St"}))
	out, err := w.Submit(f.ctx)
	require.NoError(t, err)

	select {
	case ev := <-sub.C:
		assert.Equal(t, out.Order.ID, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("no order event")
	}
}

func TestBegin_PrefillsFromCustomer(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sess.SetCustomer(f.ctx, domain.Customer{ID: 5, Name: "Jane", Email: "jane@x.com"}))
	f.addToCart(t, f.widget, 1)

	w := f.svc.Begin(f.ctx, f.sess)
	assert.Equal(t, "Jane", w.Draft().Details.Name)

	require.NoError(t, w.SelectPaymentMethod(f.ctx, domain.PaymentCashOnDelivery))
	require.NoError(t, w.SetDetails(f.ctx, Details{Name: "Jane", Email: "jane@x.com", Address: "1 Rd"}))
	out, err := w.Submit(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, out.Order.CustomerID)
	assert.Equal(t, int64(5), *out.Order.CustomerID)
}
