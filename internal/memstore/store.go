// Package memstore keeps every store in process memory. It backs the dev mode and the
// service tests; InTx gives the same all-or-nothing behaviour as a database transaction.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/ariefcatur/go-instrument-store/internal/catalog"
	"github.com/ariefcatur/go-instrument-store/internal/orders"
	"github.com/ariefcatur/go-instrument-store/internal/payments"
)

type state struct {
	categories  map[string]catalog.Category
	instruments map[string]catalog.Instrument
	prices      map[string][]catalog.PriceRecord // instrument id -> ledger, oldest first
	customers   map[string]orders.Customer
	orders      map[string]orders.Order
	payments    map[string]payments.Payment
}

func newState() state {
	return state{
		categories:  map[string]catalog.Category{},
		instruments: map[string]catalog.Instrument{},
		prices:      map[string][]catalog.PriceRecord{},
		customers:   map[string]orders.Customer{},
		orders:      map[string]orders.Order{},
		payments:    map[string]payments.Payment{},
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.instruments {
		c.instruments[k] = v
	}
	for k, v := range s.prices {
		c.prices[k] = append([]catalog.PriceRecord(nil), v...)
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	return c
}

func cloneOrder(o orders.Order) orders.Order {
	o.Lines = append([]orders.Line(nil), o.Lines...)
	return o
}

// DB holds all state behind one mutex.
type DB struct {
	mu sync.Mutex
	st state
}

func New() *DB { return &DB{st: newState()} }

type txKey struct{ db *DB }

// lock takes the mutex unless ctx already runs inside this DB's transaction.
func (d *DB) lock(ctx context.Context) func() {
	if ctx.Value(txKey{d}) != nil {
		return func() {}
	}
	d.mu.Lock()
	return d.mu.Unlock
}

// InTx serializes fn against every other access and restores the previous state if it fails.
func (d *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{d}) != nil {
		return fn(ctx)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	snapshot := d.st.clone()
	if err := fn(context.WithValue(ctx, txKey{d}, true)); err != nil {
		d.st = snapshot
		return err
	}
	return nil
}

func (d *DB) Catalog() *Catalog     { return &Catalog{d} }
func (d *DB) Orders() *Orders       { return &Orders{d} }
func (d *DB) Customers() *Customers { return &Customers{d} }
func (d *DB) Payments() *Payments   { return &Payments{d} }

// Seeding helpers for dev mode and tests.

func (d *DB) PutCategory(c catalog.Category) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st.categories[c.ID] = c
}

func (d *DB) PutInstrument(in catalog.Instrument) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st.instruments[in.ID] = in
}

func (d *DB) PutPrice(p catalog.PriceRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st.prices[p.InstrumentID] = insertPrice(d.st.prices[p.InstrumentID], p)
}

func (d *DB) PutCustomer(c orders.Customer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st.customers[c.ID] = c
}

func insertPrice(ledger []catalog.PriceRecord, p catalog.PriceRecord) []catalog.PriceRecord {
	ledger = append(ledger, p)
	sort.SliceStable(ledger, func(i, j int) bool {
		return ledger[i].EffectiveFrom.Before(ledger[j].EffectiveFrom)
	})
	return ledger
}
