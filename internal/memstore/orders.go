package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-instrument-store/internal/apperr"
	"github.com/ariefcatur/go-instrument-store/internal/orders"
)

type Orders struct{ d *DB }

var _ orders.Store = (*Orders)(nil)

func (s *Orders) Create(ctx context.Context, o orders.Order) error {
	defer s.d.lock(ctx)()
	if _, ok := s.d.st.orders[o.ID]; ok {
		return apperr.Conflict("order %s already exists", o.ID)
	}
	if o.Status == orders.StatusPendingPayment && s.pendingID(o.CustomerID) != "" {
		return apperr.Conflict("customer %s already has an order pending payment", o.CustomerID)
	}
	s.d.st.orders[o.ID] = cloneOrder(o)
	return nil
}

// pendingID plays the role of the partial unique index; callers hold the lock.
func (s *Orders) pendingID(customerID string) string {
	for id, o := range s.d.st.orders {
		if o.CustomerID == customerID && o.Status == orders.StatusPendingPayment {
			return id
		}
	}
	return ""
}

func (s *Orders) Get(ctx context.Context, id string) (orders.Order, error) {
	defer s.d.lock(ctx)()
	o, ok := s.d.st.orders[id]
	if !ok {
		return orders.Order{}, apperr.NotFound("order %s not found", id)
	}
	return cloneOrder(o), nil
}

func (s *Orders) List(ctx context.Context, f orders.Filter) ([]orders.Order, error) {
	defer s.d.lock(ctx)()
	var out []orders.Order
	for _, o := range s.d.st.orders {
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Orders) PendingForCustomer(ctx context.Context, customerID string) (orders.Order, error) {
	defer s.d.lock(ctx)()
	id := s.pendingID(customerID)
	if id == "" {
		return orders.Order{}, apperr.NotFound("customer %s has no order pending payment", customerID)
	}
	return cloneOrder(s.d.st.orders[id]), nil
}

func (s *Orders) CompareAndSetStatus(ctx context.Context, id string, from, to orders.Status, at time.Time, reason string) (bool, error) {
	defer s.d.lock(ctx)()
	o, ok := s.d.st.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status, o.StatusChangedAt = to, at
	if reason != "" {
		o.CancelReason = reason
	}
	s.d.st.orders[id] = o
	return true, nil
}

func (s *Orders) DeleteIfPending(ctx context.Context, id string) (bool, error) {
	defer s.d.lock(ctx)()
	o, ok := s.d.st.orders[id]
	if !ok || o.Status != orders.StatusPendingPayment {
		return false, nil
	}
	delete(s.d.st.orders, id)
	return true, nil
}

func (s *Orders) Stats(ctx context.Context) (orders.Stats, error) {
	defer s.d.lock(ctx)()
	st := orders.Stats{Counts: map[orders.Status]int{}, TotalSales: decimal.Zero}
	for _, status := range orders.AllStatuses {
		st.Counts[status] = 0
	}
	for _, o := range s.d.st.orders {
		st.Counts[o.Status]++
		if o.Status.Sold() {
			st.TotalSales = st.TotalSales.Add(o.Total)
		}
	}
	return st, nil
}

type Customers struct{ d *DB }

var _ orders.CustomerDirectory = (*Customers)(nil)

func (s *Customers) GetCustomer(ctx context.Context, id string) (orders.Customer, error) {
	defer s.d.lock(ctx)()
	c, ok := s.d.st.customers[id]
	if !ok {
		return orders.Customer{}, apperr.NotFound("customer %s not found", id)
	}
	return c, nil
}
