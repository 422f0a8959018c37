package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-instrument-store/internal/apperr"
	"github.com/ariefcatur/go-instrument-store/internal/catalog"
	"github.com/ariefcatur/go-instrument-store/internal/obs"
)

// Catalog is the part of the catalog the lifecycle needs.
type Catalog interface {
	GetInstrument(ctx context.Context, id string) (catalog.Instrument, error)
	CurrentPrice(ctx context.Context, instrumentID string) (decimal.Decimal, error)
	ReserveStock(ctx context.Context, instrumentID string, qty int) error
	ReleaseStock(ctx context.Context, instrumentID string, qty int) error
}

// Manager drives orders through their state machine. Stock is only checked at creation and
// committed at payment confirmation.
type Manager struct {
	Orders    Store
	Customers CustomerDirectory
	Catalog   Catalog
	Tx        Transactor
	Events    Publisher
	Service   string
	Log       *zap.Logger
	Now       func() time.Time
}

func NewManager(store Store, customers CustomerDirectory, cat Catalog, tx Transactor, events Publisher, service string, log *zap.Logger) *Manager {
	if events == nil {
		events = NopPublisher{}
	}
	return &Manager{
		Orders:    store,
		Customers: customers,
		Catalog:   cat,
		Tx:        tx,
		Events:    events,
		Service:   service,
		Log:       obs.OrNop(log),
		Now:       time.Now,
	}
}

func (m *Manager) CreateOrder(ctx context.Context, customerID string, lines []LineInput) (Order, error) {
	if customerID == "" {
		return Order{}, apperr.Validation("customer id is required")
	}
	if len(lines) == 0 {
		return Order{}, apperr.Validation("order must have at least one line")
	}
	if _, err := m.Customers.GetCustomer(ctx, customerID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Order{}, apperr.Validation("unknown customer %s", customerID)
		}
		return Order{}, err
	}

	instruments := make(map[string]catalog.Instrument, len(lines))
	for i, l := range lines {
		if l.Quantity <= 0 {
			return Order{}, apperr.Validation("line %d: quantity must be positive, got %d", i+1, l.Quantity)
		}
		if _, seen := instruments[l.InstrumentID]; seen {
			continue
		}
		in, err := m.Catalog.GetInstrument(ctx, l.InstrumentID)
		if errors.Is(err, apperr.ErrNotFound) {
			return Order{}, apperr.Validation("line %d: unknown instrument %s", i+1, l.InstrumentID)
		}
		if err != nil {
			return Order{}, err
		}
		instruments[l.InstrumentID] = in
	}

	pending, err := m.Orders.PendingForCustomer(ctx, customerID)
	switch {
	case err == nil:
		return Order{}, apperr.Conflict("customer %s already has order %s pending payment; pay or cancel it first", customerID, pending.ID)
	case !errors.Is(err, apperr.ErrNotFound):
		return Order{}, err
	}

	// Lines for the same instrument are checked against stock together.
	requested := make(map[string]int, len(instruments))
	for _, l := range lines {
		requested[l.InstrumentID] += l.Quantity
		in := instruments[l.InstrumentID]
		if !in.HasStock(requested[l.InstrumentID]) {
			return Order{}, &apperr.StockError{InstrumentID: in.ID, Name: in.Name, Requested: requested[l.InstrumentID], Available: in.Stock}
		}
	}

	now := m.Now().UTC()
	o := Order{
		ID:              uuid.NewString(),
		CustomerID:      customerID,
		Status:          StatusPendingPayment,
		CreatedAt:       now,
		StatusChangedAt: now,
		Lines:           make([]Line, 0, len(lines)),
	}
	prices := make(map[string]decimal.Decimal, len(instruments))
	for i, l := range lines {
		price, ok := prices[l.InstrumentID]
		if !ok {
			if price, err = m.Catalog.CurrentPrice(ctx, l.InstrumentID); err != nil {
				return Order{}, err
			}
			prices[l.InstrumentID] = price
		}
		o.Lines = append(o.Lines, Line{
			ID:           uuid.NewString(),
			OrderID:      o.ID,
			Position:     i,
			InstrumentID: l.InstrumentID,
			Quantity:     l.Quantity,
			UnitPrice:    price,
		})
	}
	o.Total = o.ComputeTotal()

	if err := m.Orders.Create(ctx, o); err != nil {
		return Order{}, err
	}
	obs.OrderTransitionsTotal.WithLabelValues(string(StatusPendingPayment)).Inc()
	m.Log.Info("order created",
		obs.TraceField(ctx),
		zap.String("order_id", o.ID),
		zap.String("customer_id", customerID),
		zap.Int("lines", len(o.Lines)),
		zap.String("total", o.Total.String()))

	m.publish(ctx, TopicOrderCreated, EventOrderCreated, o.ID, OrderCreatedPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Lines:      linePayloads(o.Lines),
		Total:      o.Total,
	})
	return o, nil
}

// ConfirmPayment moves a PENDING_PAYMENT order to PAID and commits stock for every line in
// one transaction. Any other starting status fails with apperr.ErrValidation, which callers
// reconciling duplicate notifications treat as already handled.
func (m *Manager) ConfirmPayment(ctx context.Context, orderID string) (Order, error) {
	var out Order
	err := m.Tx.InTx(ctx, func(ctx context.Context) error {
		o, err := m.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusPendingPayment {
			return transitionError(o.ID, o.Status, StatusPaid)
		}
		now := m.Now().UTC()
		ok, err := m.Orders.CompareAndSetStatus(ctx, o.ID, StatusPendingPayment, StatusPaid, now, "")
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Validation("order %s is no longer %s", o.ID, StatusPendingPayment)
		}
		for _, l := range o.Lines {
			if err := m.Catalog.ReserveStock(ctx, l.InstrumentID, l.Quantity); err != nil {
				return fmt.Errorf("confirm order %s: %w", o.ID, err)
			}
		}
		o.Status, o.StatusChangedAt = StatusPaid, now
		out = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	obs.OrderTransitionsTotal.WithLabelValues(string(StatusPaid)).Inc()
	m.Log.Info("order paid", obs.TraceField(ctx), zap.String("order_id", out.ID))
	m.publish(ctx, TopicOrderStatusChanged, EventOrderPaid, out.ID, OrderStatusChangedPayload{
		OrderID: out.ID, From: StatusPendingPayment, To: StatusPaid,
	})
	return out, nil
}

// CancelOrder cancels any non-terminal order. Stock committed at confirmation is released.
func (m *Manager) CancelOrder(ctx context.Context, orderID, reason string) (Order, error) {
	var (
		out  Order
		from Status
	)
	err := m.Tx.InTx(ctx, func(ctx context.Context) error {
		o, err := m.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status.IsTerminal() {
			return apperr.Validation("order %s is %s and cannot be cancelled", o.ID, o.Status)
		}
		now := m.Now().UTC()
		ok, err := m.Orders.CompareAndSetStatus(ctx, o.ID, o.Status, StatusCancelled, now, reason)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("order %s changed while cancelling, retry", o.ID)
		}
		if o.Status == StatusPaid || o.Status == StatusShipped {
			for _, l := range o.Lines {
				if err := m.Catalog.ReleaseStock(ctx, l.InstrumentID, l.Quantity); err != nil {
					return fmt.Errorf("cancel order %s: %w", o.ID, err)
				}
			}
		}
		from = o.Status
		o.Status, o.StatusChangedAt, o.CancelReason = StatusCancelled, now, reason
		out = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	obs.OrderTransitionsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	m.Log.Info("order cancelled",
		obs.TraceField(ctx),
		zap.String("order_id", out.ID),
		zap.String("from", string(from)),
		zap.String("reason", reason))
	m.publish(ctx, TopicOrderStatusChanged, EventOrderCancelled, out.ID, OrderStatusChangedPayload{
		OrderID: out.ID, From: from, To: StatusCancelled, Reason: reason,
	})
	return out, nil
}

// UpdateStatus is the administrative transition. Moves to PAID and CANCELLED go through
// ConfirmPayment and CancelOrder so stock stays consistent.
func (m *Manager) UpdateStatus(ctx context.Context, orderID string, to Status) (Order, error) {
	if !to.Valid() {
		return Order{}, apperr.Validation("unknown order status %q", to)
	}
	o, err := m.Orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !o.Status.CanTransitionTo(to) {
		return Order{}, transitionError(o.ID, o.Status, to)
	}

	switch to {
	case StatusPaid:
		return m.ConfirmPayment(ctx, orderID)
	case StatusCancelled:
		return m.CancelOrder(ctx, orderID, "cancelled by administrator")
	}

	now := m.Now().UTC()
	ok, err := m.Orders.CompareAndSetStatus(ctx, o.ID, o.Status, to, now, "")
	if err != nil {
		return Order{}, err
	}
	if !ok {
		return Order{}, apperr.Conflict("order %s changed while updating, retry", o.ID)
	}
	from := o.Status
	o.Status, o.StatusChangedAt = to, now

	obs.OrderTransitionsTotal.WithLabelValues(string(to)).Inc()
	m.Log.Info("order status updated",
		obs.TraceField(ctx),
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	m.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, o.ID, OrderStatusChangedPayload{
		OrderID: o.ID, From: from, To: to,
	})
	return o, nil
}

// DeleteOrder removes an order that never moved money or stock.
func (m *Manager) DeleteOrder(ctx context.Context, orderID string) error {
	o, err := m.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusPendingPayment {
		return apperr.Validation("order %s is %s; only %s orders can be deleted", o.ID, o.Status, StatusPendingPayment)
	}
	ok, err := m.Orders.DeleteIfPending(ctx, o.ID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("order %s changed while deleting, retry", o.ID)
	}
	m.Log.Info("order deleted", obs.TraceField(ctx), zap.String("order_id", o.ID))
	return nil
}

func (m *Manager) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return m.Orders.Get(ctx, orderID)
}

func (m *Manager) ListOrders(ctx context.Context, f Filter) ([]Order, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("unknown order status %q", f.Status)
	}
	return m.Orders.List(ctx, f)
}

func (m *Manager) PendingOrder(ctx context.Context, customerID string) (Order, error) {
	return m.Orders.PendingForCustomer(ctx, customerID)
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	return m.Orders.Stats(ctx)
}

func (m *Manager) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	env, err := NewEnvelope(eventType, m.Service, orderID, payload)
	if err == nil {
		err = m.Events.Publish(ctx, topic, PartitionKey(orderID), env)
	}
	if err != nil {
		m.Log.Warn("publish order event",
			zap.String("event_type", eventType),
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}
