package orders_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-instrument-store/internal/apperr"
	"github.com/ariefcatur/go-instrument-store/internal/catalog"
	"github.com/ariefcatur/go-instrument-store/internal/memstore"
	"github.com/ariefcatur/go-instrument-store/internal/orders"
)

const (
	alice  = "cust-alice"
	bob    = "cust-bob"
	guitar = "inst-guitar"
	amp    = "inst-amp"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []orders.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, _ []byte, env orders.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, env)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type fixture struct {
	db  *memstore.DB
	mgr *orders.Manager
	pub *recordingPublisher
}

func newFixture(t *testing.T, log *zap.Logger) *fixture {
	db := memstore.New()
	db.PutCustomer(orders.Customer{ID: alice, Name: "Alice", Email: "alice@example.com"})
	db.PutCustomer(orders.Customer{ID: bob, Name: "Bob", Email: "bob@example.com"})
	db.PutInstrument(catalog.Instrument{ID: guitar, Name: "Telecaster", Brand: "Fender", Stock: 5})
	db.PutInstrument(catalog.Instrument{ID: amp, Name: "Blues Junior", Brand: "Fender", Stock: 10})
	at := time.Now().Add(-time.Hour)
	db.PutPrice(catalog.PriceRecord{ID: "p1", InstrumentID: guitar, Price: decimal.RequireFromString("1000.50"), EffectiveFrom: at})
	db.PutPrice(catalog.PriceRecord{ID: "p2", InstrumentID: amp, Price: decimal.RequireFromString("250.25"), EffectiveFrom: at})

	pub := &recordingPublisher{}
	cat := catalog.NewService(db.Catalog(), log)
	return &fixture{
		db:  db,
		mgr: orders.NewManager(db.Orders(), db.Customers(), cat, db, pub, "test", log),
		pub: pub,
	}
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	in, err := f.db.Catalog().GetInstrument(context.Background(), id)
	if err != nil {
		t.Fatalf("get instrument %s: %v", id, err)
	}
	return in.Stock
}

func TestCreateOrderSnapshotsPrices(t *testing.T) {
	f := newFixture(t, zaptest.NewLogger(t))
	ctx := context.Background()

	o, err := f.mgr.CreateOrder(ctx, alice, []orders.LineInput{
		{InstrumentID: guitar, Quantity: 2},
		{InstrumentID: amp, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Status != orders.StatusPendingPayment {
		t.Fatalf("status = %s", o.Status)
	}
	if !o.Total.Equal(decimal.RequireFromString("2251.25")) {
		t.Fatalf("total = %s", o.Total)
	}
	if len(o.Lines) != 2 || o.Lines[0].Position != 0 || o.Lines[1].Position != 1 {
		t.Fatalf("lines = %+v", o.Lines)
	}
	if got := f.stock(t, guitar); got != 5 {
		t.Fatalf("creation must not touch stock, got %d", got)
	}

	// later price changes do not rewrite the order
	f.db.PutPrice(catalog.PriceRecord{ID: "p3", InstrumentID: guitar, Price: decimal.RequireFromString("1200"), EffectiveFrom: time.Now()})
	got, err := f.mgr.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Lines[0].UnitPrice.Equal(decimal.RequireFromString("1000.50")) {
		t.Fatalf("unit price = %s", got.Lines[0].UnitPrice)
	}
	if types := f.pub.types(); len(types) != 1 || types[0] != orders.EventOrderCreated {
		t.Fatalf("events = %v", types)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t, zaptest.NewLogger(t))
	tests := []struct {
		name     string
		customer string
		lines    []orders.LineInput
	}{
		{"no customer", "", []orders.LineInput{{InstrumentID: guitar, Quantity: 1}}},
		{"unknown customer", "cust-nobody", []orders.LineInput{{InstrumentID: guitar, Quantity: 1}}},
		{"no lines", alice, nil},
		{"zero quantity", alice, []orders.LineInput{{InstrumentID: guitar, Quantity: 0}}},
		{"negative quantity", alice, []orders.LineInput{{InstrumentID: guitar, Quantity: -2}}},
		{"unknown instrument", alice, []orders.LineInput{{InstrumentID: "inst-kazoo", Quantity: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mgr.CreateOrder(context.Background(), tt.customer, tt.lines)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("want validation error, got %v", err)
			}
		})
	}
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	f := newFixture(t, zaptest.NewLogger(t))

	_, err := f.mgr.CreateOrder(context.Background(), alice, []orders.LineInput{
		{InstrumentID: guitar, Quantity: 3},
		{InstrumentID: amp, Quantity: 1},
		{InstrumentID: guitar, Quantity: 3},
	})
	var se *apperr.StockError
	if !errors.As(err, &se) {
		t.Fatalf("want stock error, got %v", err)
	}
	if se.Requested != 6 || se.Available != 5 || se.Name != "Telecaster" {
		t.Fatalf("stock error = %+v", se)
	}
	if !errors.Is(err, apperr.ErrInsufficientStock) {
		t.Fatalf("stock error should match ErrInsufficientStock")
	}
	if !strings.Contains(err.Error(), "available 5, requested 6") {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestCreateOrderOnePendingPerCustomer(t *testing.T) {
	f := newFixture(t, zaptest.NewLogger(t))
	ctx := context.Background()

	first, err := f.mgr.CreateOrder(ctx, alice, []orders.LineInput{{InstrumentID: amp, Quantity: 1}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = f.mgr.CreateOrder(ctx, alice, []orders.LineInput{{InstrumentID: amp, Quantity: 1}})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("want conflict, got %v", err)
	}
	if !strings.Contains(err.Error(), first.ID) {
		t.Fatalf("conflict should name the pending order: %v", err)
	}

	pending, err := f.mgr.PendingOrder(ctx, alice)
	if err != nil || pending.ID != first.ID {
		t.Fatalf("pending = %v, %v", pending.ID, err)
	}
	if _, err := f.mgr.PendingOrder(ctx, bob); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("bob has no pending order, got %v", err)
	}

	// once paid, a new order may be placed
	if _, err := f.mgr.ConfirmPayment(ctx, first.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := f.mgr.CreateOrder(ctx, alice, []orders.LineInput{{InstrumentID: amp, Quantity: 1}}); err != nil {
		t.Fatalf("create after payment: %v", err)
	}
}

func TestConfirmPaymentCommitsStockOnce(t *testing.T) {
	f := newFixture(t, zaptest.NewLogger(t))
	ctx := context.Background()

	o, err := f.mgr.CreateOrder(ctx, alice, []orders.LineInput{
		{InstrumentID: guitar, Quantity: 2},
		{InstrumentID: amp, Quantity: 4},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	paid, err := f.mgr.ConfirmPayment(ctx, o.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if paid.Status != orders.StatusPaid {
		t.Fatalf("status = %s", paid.Status)
	}
	if f.stock(t, guitar) != 3 || f.stock(t, amp) != 6 {
		t.Fatalf("stock = %d/%d", f.stock(t, guitar), f.stock(t, amp))
	}

	_, err = f.mgr.ConfirmPayment(ctx, o.ID)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("duplicate confirm should be a validation error, got %v", err)
	}
	if f.stock(t, guitar) != 3 || f.stock(t, amp) != 6 {
		t.Fatalf("duplicate confirm changed stock")
	}
}

func TestConfirmPaymentRollsBackWhenStockIsGone(t *testing.T) {
	f := newFixture(t, zaptest.NewLogger(t))
	ctx := context.Background()

	o, err := f.mgr.CreateOrder(ctx, alice, []orders.LineInput{
		{InstrumentID: amp, Quantity: 2},
		{InstrumentID: guitar, Quantity: 4},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// stock sold elsewhere between creation and payment
	if err := f.db.Catalog().ReserveStock(ctx, guitar, 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	_, err = f.mgr.ConfirmPayment(ctx, o.ID)
	if !errors.Is(err, apperr.ErrInsufficientStock) {
		t.Fatalf("want insufficient stock, got %v", err)
	}
	got, _ := f.mgr.GetOrder(ctx, o.ID)
	if got.Status != orders.StatusPendingPayment {
		t.Fatalf("status after failed confirm = %s", got.Status)
	}
	if f.stock(t, amp) != 10 || f.stock(t, guitar) != 2 {
		t.Fatalf("partial reservation leaked: amp=%d guitar=%d", f.stock(t, amp), f.stock(t, guitar))
	}
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, zaptest.NewLogger(t))
	ctx := context.Background()

	pending, err := f.mgr.CreateOrder(ctx, alice, []orders.LineInput{{InstrumentID: guitar, Quantity: 2}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c, err := f.mgr.CancelOrder(ctx, pending.ID, "changed my mind")
	if err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if c.Status != orders.StatusCancelled || c.CancelReason != "changed my mind" {
		t.Fatalf("cancelled = %+v", c)
	}
	if f.stock(t, guitar) != 5 {
		t.Fatalf("cancelling an unpaid order must not touch stock")
	}

	paid, err := f.mgr.CreateOrder(ctx, alice, []orders.LineInput{{InstrumentID: guitar, Quantity: 2}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.mgr.ConfirmPayment(ctx, paid.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := f.mgr.UpdateStatus(ctx, paid.ID, orders.StatusShipped); err != nil {
		t.Fatalf("ship: %v", err)
	}
	if _, err := f.mgr.CancelOrder(ctx, paid.ID, "lost in transit"); err != nil {
		t.Fatalf("cancel shipped: %v", err)
	}
	if f.stock(t, guitar) != 5 {
		t.Fatalf("stock not restored, got %d", f.stock(t, guitar))
	}

	if _, err := f.mgr.CancelOrder(ctx, paid.ID, ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("cancelling twice should fail, got %v", err)
	}
	got, _ := f.mgr.GetOrder(ctx, paid.ID)
	if got.CancelReason != "lost in transit" {
		t.Fatalf("reason overwritten: %q", got.CancelReason)
	}
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, zaptest.NewLogger(t))
	ctx := context.Background()

	o, err := f.mgr.CreateOrder(ctx, alice, []orders.LineInput{{InstrumentID: guitar, Quantity: 1}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.mgr.UpdateStatus(ctx, o.ID, orders.StatusShipped); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("PENDING_PAYMENT -> SHIPPED should fail, got %v", err)
	}
	if _, err := f.mgr.UpdateStatus(ctx, o.ID, orders.Status("LOST")); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("unknown status should fail, got %v", err)
	}

	// PAID through the admin path still commits stock
	if _, err := f.mgr.UpdateStatus(ctx, o.ID, orders.StatusPaid); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if f.stock(t, guitar) != 4 {
		t.Fatalf("stock = %d", f.stock(t, guitar))
	}
	for _, to := range []orders.Status{orders.StatusShipped, orders.StatusDelivered} {
		got, err := f.mgr.UpdateStatus(ctx, o.ID, to)
		if err != nil || got.Status != to {
			t.Fatalf("move to %s: %v", to, err)
		}
	}
	if _, err := f.mgr.UpdateStatus(ctx, o.ID, orders.StatusCancelled); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("delivered orders are final, got %v", err)
	}
	if _, err := f.mgr.CancelOrder(ctx, o.ID, ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("delivered orders cannot be cancelled, got %v", err)
	}

	want := []string{orders.EventOrderCreated, orders.EventOrderPaid, orders.EventOrderStatusChanged, orders.EventOrderStatusChanged}
	if got := f.pub.types(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestDeleteOrder(t *testing.T) {
	f := newFixture(t, zaptest.NewLogger(t))
	ctx := context.Background()

	o, _ := f.mgr.CreateOrder(ctx, alice, []orders.LineInput{{InstrumentID: amp, Quantity: 1}})
	if err := f.mgr.DeleteOrder(ctx, o.ID); err != nil {
		t.Fatalf("delete pending: %v", err)
	}
	if _, err := f.mgr.GetOrder(ctx, o.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("deleted order still there: %v", err)
	}

	p, _ := f.mgr.CreateOrder(ctx, alice, []orders.LineInput{{InstrumentID: amp, Quantity: 1}})
	if _, err := f.mgr.ConfirmPayment(ctx, p.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := f.mgr.DeleteOrder(ctx, p.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("paid orders cannot be deleted, got %v", err)
	}
}

func TestListOrdersAndStats(t *testing.T) {
	f := newFixture(t, zaptest.NewLogger(t))
	ctx := context.Background()
	now := time.Now()
	f.mgr.Now = func() time.Time { return now }

	a, _ := f.mgr.CreateOrder(ctx, alice, []orders.LineInput{{InstrumentID: guitar, Quantity: 1}})
	now = now.Add(time.Second)
	b, _ := f.mgr.CreateOrder(ctx, bob, []orders.LineInput{{InstrumentID: amp, Quantity: 2}})
	if _, err := f.mgr.ConfirmPayment(ctx, a.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	all, err := f.mgr.ListOrders(ctx, orders.Filter{})
	if err != nil || len(all) != 2 || all[0].ID != b.ID {
		t.Fatalf("list = %v, %v", all, err)
	}
	paid, _ := f.mgr.ListOrders(ctx, orders.Filter{Status: orders.StatusPaid})
	if len(paid) != 1 || paid[0].ID != a.ID {
		t.Fatalf("paid = %v", paid)
	}
	mine, _ := f.mgr.ListOrders(ctx, orders.Filter{CustomerID: bob})
	if len(mine) != 1 || mine[0].ID != b.ID {
		t.Fatalf("bob's = %v", mine)
	}
	if _, err := f.mgr.ListOrders(ctx, orders.Filter{Status: "nope"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("bad filter: %v", err)
	}

	st, err := f.mgr.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Counts[orders.StatusPaid] != 1 || st.Counts[orders.StatusPendingPayment] != 1 || st.Counts[orders.StatusDelivered] != 0 {
		t.Fatalf("counts = %v", st.Counts)
	}
	if !st.TotalSales.Equal(decimal.RequireFromString("1000.50")) {
		t.Fatalf("sales = %s", st.TotalSales)
	}
}

func TestConcurrentConfirmationsNeverOversell(t *testing.T) {
	f := newFixture(t, zaptest.NewLogger(t))
	ctx := context.Background()

	a, err := f.mgr.CreateOrder(ctx, alice, []orders.LineInput{{InstrumentID: guitar, Quantity: 3}})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := f.mgr.CreateOrder(ctx, bob, []orders.LineInput{{InstrumentID: guitar, Quantity: 3}})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.mgr.ConfirmPayment(ctx, id)
		}(i, id)
	}
	wg.Wait()

	ok, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || short != 1 {
		t.Fatalf("ok=%d short=%d", ok, short)
	}
	if got := f.stock(t, guitar); got != 2 {
		t.Fatalf("stock = %d, want 2", got)
	}
}

func TestConcurrentDuplicateConfirmations(t *testing.T) {
	f := newFixture(t, zaptest.NewLogger(t))
	ctx := context.Background()

	o, err := f.mgr.CreateOrder(ctx, alice, []orders.LineInput{{InstrumentID: guitar, Quantity: 2}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 16
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mgr.ConfirmPayment(ctx, o.ID)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 {
		t.Fatalf("%d confirmations succeeded", ok)
	}
	if got := f.stock(t, guitar); got != 3 {
		t.Fatalf("stock = %d, want 3", got)
	}
}
