package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-instrument-store/internal/apperr"
	"github.com/ariefcatur/go-instrument-store/internal/catalog"
	"github.com/ariefcatur/go-instrument-store/internal/obs"
	"github.com/ariefcatur/go-instrument-store/internal/orders"
)

const maxItemTitle = 60

const (
	sourceWebhook = "webhook"
	sourcePoll    = "poll"
)

// Orders is the part of the order lifecycle the engine drives.
type Orders interface {
	GetOrder(ctx context.Context, id string) (orders.Order, error)
	ConfirmPayment(ctx context.Context, id string) (orders.Order, error)
}

type Instruments interface {
	GetInstrument(ctx context.Context, id string) (catalog.Instrument, error)
}

// Checkout is the per-store part of every payment intent.
type Checkout struct {
	SuccessURL          string
	FailureURL          string
	PendingURL          string
	NotificationURL     string
	Currency            string
	StatementDescriptor string
	Sandbox             bool
}

type InitiateResult struct {
	PaymentID   string `json:"payment_id"`
	IntentRef   string `json:"intent_ref"`
	RedirectURL string `json:"redirect_url"`
	OrderID     string `json:"order_id"`
}

// Engine reconciles local payments with the gateway. It never holds a database transaction
// while talking to the gateway.
type Engine struct {
	Payments  Store
	Orders    Orders
	Catalog   Instruments
	Customers orders.CustomerDirectory
	Gateway   Gateway
	Cache     StatusCache
	Events    orders.Publisher
	Checkout  Checkout
	HotWindow time.Duration
	Service   string
	Log       *zap.Logger
	Now       func() time.Time

	tracer trace.Tracer
}

type EngineDeps struct {
	Payments  Store
	Orders    Orders
	Catalog   Instruments
	Customers orders.CustomerDirectory
	Gateway   Gateway
	Cache     StatusCache
	Events    orders.Publisher
}

func NewEngine(d EngineDeps, checkout Checkout, hotWindow time.Duration, service string, log *zap.Logger) *Engine {
	if d.Events == nil {
		d.Events = orders.NopPublisher{}
	}
	if hotWindow <= 0 {
		hotWindow = 5 * time.Second
	}
	return &Engine{
		Payments:  d.Payments,
		Orders:    d.Orders,
		Catalog:   d.Catalog,
		Customers: d.Customers,
		Gateway:   d.Gateway,
		Cache:     d.Cache,
		Events:    d.Events,
		Checkout:  checkout,
		HotWindow: hotWindow,
		Service:   service,
		Log:       obs.OrNop(log),
		Now:       time.Now,
		tracer:    otel.Tracer("payments"),
	}
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if e.tracer == nil {
		e.tracer = otel.Tracer("payments")
	}
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// InitiatePayment records a pending payment and opens a payment intent at the gateway.
func (e *Engine) InitiatePayment(ctx context.Context, orderID string) (InitiateResult, error) {
	ctx, span := e.startSpan(ctx, "payments.initiate", attribute.String("order_id", orderID))
	defer span.End()

	o, err := e.Orders.GetOrder(ctx, orderID)
	if errors.Is(err, apperr.ErrNotFound) {
		return InitiateResult{}, apperr.Validation("order %s not found", orderID)
	}
	if err != nil {
		return InitiateResult{}, err
	}
	if o.Status != orders.StatusPendingPayment {
		return InitiateResult{}, apperr.Validation("order %s is %s; only %s orders can be paid", o.ID, o.Status, orders.StatusPendingPayment)
	}
	if !o.Total.IsPositive() {
		return InitiateResult{}, apperr.Validation("order %s has no amount to pay", o.ID)
	}
	if len(o.Lines) == 0 {
		return InitiateResult{}, apperr.Validation("order %s has no lines", o.ID)
	}
	approved, err := e.Payments.HasApproved(ctx, o.ID)
	if err != nil {
		return InitiateResult{}, err
	}
	if approved {
		return InitiateResult{}, apperr.Validation("order %s already has an approved payment", o.ID)
	}

	req, err := e.intentRequest(ctx, o)
	if err != nil {
		return InitiateResult{}, err
	}

	now := e.Now().UTC()
	p := Payment{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		Amount:    o.Total,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Payments.Create(ctx, p); err != nil {
		return InitiateResult{}, err
	}

	var intent Intent
	err = e.callGateway(ctx, "create_intent", func(ctx context.Context) error {
		var gerr error
		intent, gerr = e.Gateway.CreateIntent(ctx, req)
		return gerr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create intent")
		e.Log.Error("gateway rejected payment intent",
			obs.TraceField(ctx), zap.String("order_id", o.ID), zap.String("payment_id", p.ID), zap.Error(err))
		return InitiateResult{}, apperr.Gateway(err, "create payment intent for order %s", o.ID)
	}
	if intent.ID == "" {
		return InitiateResult{}, apperr.Gateway(nil, "gateway returned an intent without id for order %s", o.ID)
	}

	if err := e.Payments.AttachIntent(ctx, p.ID, intent.ID, e.Now().UTC()); err != nil {
		return InitiateResult{}, err
	}
	e.Cache.SetStatus(ctx, intent.ID, StatusPending)

	redirect := intent.RedirectURL
	if e.Checkout.Sandbox && intent.SandboxRedirectURL != "" {
		redirect = intent.SandboxRedirectURL
	}
	e.Log.Info("payment initiated",
		obs.TraceField(ctx),
		zap.String("order_id", o.ID),
		zap.String("payment_id", p.ID),
		zap.String("intent_ref", intent.ID),
		zap.String("amount", p.Amount.String()))
	return InitiateResult{PaymentID: p.ID, IntentRef: intent.ID, RedirectURL: redirect, OrderID: o.ID}, nil
}

func (e *Engine) intentRequest(ctx context.Context, o orders.Order) (IntentRequest, error) {
	cust, err := e.Customers.GetCustomer(ctx, o.CustomerID)
	if err != nil {
		return IntentRequest{}, err
	}
	items := make([]IntentItem, 0, len(o.Lines))
	for _, l := range o.Lines {
		in, err := e.Catalog.GetInstrument(ctx, l.InstrumentID)
		if err != nil {
			return IntentRequest{}, err
		}
		items = append(items, IntentItem{
			ID:          in.ID,
			Title:       itemTitle(in.Name),
			Description: in.Brand,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Currency:    e.Checkout.Currency,
		})
	}
	return IntentRequest{
		Description: "Order #" + o.ID,
		Items:       items,
		Buyer:       Buyer{Name: cust.Name, Email: cust.Email},
		BackURLs: BackURLs{
			Success: withOrderID(e.Checkout.SuccessURL, o.ID),
			Failure: withOrderID(e.Checkout.FailureURL, o.ID),
			Pending: withOrderID(e.Checkout.PendingURL, o.ID),
		},
		ExternalReference:   o.ID,
		NotificationURL:     e.Checkout.NotificationURL,
		StatementDescriptor: e.Checkout.StatementDescriptor,
	}, nil
}

func itemTitle(name string) string {
	r := []rune(name)
	if len(r) <= maxItemTitle {
		return name
	}
	return string(r[:maxItemTitle-3]) + "..."
}

func withOrderID(base, orderID string) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "order_id=" + url.QueryEscape(orderID)
}

// IngestNotification reconciles one pushed transaction. Nothing it finds is fatal: missing
// references, unknown payments or statuses are logged and dropped. The returned error only
// tells the worker that the gateway could not be reached.
func (e *Engine) IngestNotification(ctx context.Context, transactionID string) error {
	ctx, span := e.startSpan(ctx, "payments.ingest_notification", attribute.String("transaction_id", transactionID))
	defer span.End()

	if transactionID == "" {
		return nil
	}
	tx, err := e.getTransaction(ctx, transactionID)
	if err != nil {
		span.RecordError(err)
		e.Log.Warn("notification: transaction lookup failed",
			obs.TraceField(ctx), zap.String("transaction_id", transactionID), zap.Error(err))
		return apperr.Gateway(err, "fetch transaction %s", transactionID)
	}

	orderID := tx.ExternalReference
	if uuid.Validate(orderID) != nil {
		e.Log.Warn("notification: transaction has no usable order reference",
			zap.String("transaction_id", tx.ID), zap.String("external_reference", orderID))
		return nil
	}

	p, err := e.Payments.OpenForOrder(ctx, orderID)
	if errors.Is(err, apperr.ErrNotFound) {
		e.Log.Info("notification: no open payment to reconcile",
			zap.String("transaction_id", tx.ID), zap.String("order_id", orderID), zap.String("status", tx.Status))
		return nil
	}
	if err != nil {
		return err
	}

	to, ok := ParseStatus(tx.Status)
	if !ok {
		e.Log.Warn("notification: unrecognized transaction status",
			zap.String("transaction_id", tx.ID), zap.String("status", tx.Status), zap.String("detail", tx.StatusDetail))
		return nil
	}
	_, err = e.apply(ctx, p, to, tx.ID, sourceWebhook)
	return err
}

// ResolveStatus answers a polling client, consulting the cheapest authoritative source first.
// Once the payment is known, gateway failures degrade to the stored status.
func (e *Engine) ResolveStatus(ctx context.Context, intentRef string) (Status, error) {
	if c, ok := e.Cache.Status(ctx, intentRef); ok {
		if c.Status == StatusApproved {
			obs.StatusResolutions.WithLabelValues("cache_approved").Inc()
			return c.Status, nil
		}
		if e.Now().Sub(c.At) < e.HotWindow {
			obs.StatusResolutions.WithLabelValues("cache_hot").Inc()
			return c.Status, nil
		}
	}

	ctx, span := e.startSpan(ctx, "payments.resolve_status", attribute.String("intent_ref", intentRef))
	defer span.End()

	p, err := e.Payments.GetByIntentRef(ctx, intentRef)
	if err != nil {
		return "", err
	}
	if p.Status == StatusApproved {
		e.Cache.SetStatus(ctx, p.IntentRef, p.Status)
		obs.StatusResolutions.WithLabelValues("store").Inc()
		return p.Status, nil
	}

	st, err := e.resolveRemote(ctx, p)
	if err != nil {
		span.RecordError(err)
		e.Log.Warn("status resolution fell back to stored status",
			obs.TraceField(ctx),
			zap.String("intent_ref", intentRef),
			zap.String("status", string(p.Status)),
			zap.Error(err))
		e.Cache.SetStatus(ctx, p.IntentRef, p.Status)
		obs.StatusResolutions.WithLabelValues("fallback").Inc()
		return p.Status, nil
	}
	return st, nil
}

func (e *Engine) resolveRemote(ctx context.Context, p Payment) (Status, error) {
	txID, ok := e.Cache.TransactionID(ctx, p.IntentRef)
	if !ok {
		txID = p.TransactionID
	}

	var tx Transaction
	if txID != "" {
		var err error
		if tx, err = e.getTransaction(ctx, txID); err != nil {
			return "", err
		}
		obs.StatusResolutions.WithLabelValues("gateway_lookup").Inc()
	} else {
		var txs []Transaction
		err := e.callGateway(ctx, "search_transactions", func(ctx context.Context) error {
			var gerr error
			txs, gerr = e.Gateway.SearchTransactions(ctx, p.OrderID)
			return gerr
		})
		if err != nil {
			return "", err
		}
		obs.StatusResolutions.WithLabelValues("gateway_search").Inc()
		latest, found := latestTransaction(txs)
		if !found {
			e.Cache.SetStatus(ctx, p.IntentRef, p.Status)
			return p.Status, nil
		}
		tx = latest
	}

	to, ok := ParseStatus(tx.Status)
	if !ok {
		return "", fmt.Errorf("transaction %s has unrecognized status %q", tx.ID, tx.Status)
	}
	np, err := e.apply(ctx, p, to, tx.ID, sourcePoll)
	if err != nil {
		return "", err
	}
	return np.Status, nil
}

// apply records a gateway-reported status on p, refreshes the cache and fires the order
// confirmation on the first move into approved.
func (e *Engine) apply(ctx context.Context, p Payment, to Status, txID, source string) (Payment, error) {
	prev := p.Status
	if prev == to && (txID == "" || txID == p.TransactionID) {
		e.refreshCache(ctx, p.IntentRef, to, p.TransactionID)
		return p, nil
	}

	now := e.Now().UTC()
	ok, err := e.Payments.UpdateStatus(ctx, p.ID, prev, to, txID, now)
	if err != nil {
		return p, err
	}
	if !ok {
		// Another path moved it first and owns the side effects.
		cur, err := e.Payments.GetByIntentRef(ctx, p.IntentRef)
		if err != nil {
			return p, err
		}
		e.refreshCache(ctx, cur.IntentRef, cur.Status, cur.TransactionID)
		e.Log.Info("payment already reconciled by a concurrent path",
			zap.String("payment_id", p.ID), zap.String("status", string(cur.Status)), zap.String("source", source))
		return cur, nil
	}
	p.Status, p.UpdatedAt = to, now
	if txID != "" {
		p.TransactionID = txID
	}
	e.refreshCache(ctx, p.IntentRef, p.Status, p.TransactionID)

	if prev != to {
		obs.PaymentTransitionsTotal.WithLabelValues(source, string(to)).Inc()
		e.Log.Info("payment status changed",
			obs.TraceField(ctx),
			zap.String("payment_id", p.ID),
			zap.String("order_id", p.OrderID),
			zap.String("transaction_id", p.TransactionID),
			zap.String("from", string(prev)),
			zap.String("to", string(to)),
			zap.String("source", source))
		e.publish(ctx, p, prev, source)
	}

	switch to {
	case StatusApproved:
		if prev != StatusApproved {
			e.confirmOrder(ctx, p)
		}
	case StatusRejected, StatusCancelled:
		e.Log.Info("payment not completed; order stays pending so the customer can retry",
			zap.String("order_id", p.OrderID), zap.String("status", string(to)))
	default:
		e.Log.Debug("payment still in progress", zap.String("order_id", p.OrderID), zap.String("status", string(to)))
	}
	return p, nil
}

func (e *Engine) confirmOrder(ctx context.Context, p Payment) {
	_, err := e.Orders.ConfirmPayment(ctx, p.OrderID)
	switch {
	case err == nil:
		e.Log.Info("order confirmed by payment",
			obs.TraceField(ctx), zap.String("order_id", p.OrderID), zap.String("payment_id", p.ID))
	case errors.Is(err, apperr.ErrValidation):
		e.Log.Info("order confirmation already handled",
			zap.String("order_id", p.OrderID), zap.String("payment_id", p.ID), zap.Error(err))
	default:
		e.Log.Error("approved payment could not confirm its order",
			obs.TraceField(ctx), zap.String("order_id", p.OrderID), zap.String("payment_id", p.ID), zap.Error(err))
	}
}

func (e *Engine) refreshCache(ctx context.Context, intentRef string, s Status, txID string) {
	e.Cache.SetStatus(ctx, intentRef, s)
	if txID != "" {
		e.Cache.SetTransactionID(ctx, intentRef, txID)
	}
}

func (e *Engine) getTransaction(ctx context.Context, id string) (Transaction, error) {
	var tx Transaction
	err := e.callGateway(ctx, "get_transaction", func(ctx context.Context) error {
		var gerr error
		tx, gerr = e.Gateway.GetTransaction(ctx, id)
		return gerr
	})
	return tx, err
}

func (e *Engine) callGateway(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := e.startSpan(ctx, "gateway."+op)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, op)
	}
	obs.GatewayCallDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	return err
}

func (e *Engine) publish(ctx context.Context, p Payment, from Status, source string) {
	env, err := orders.NewEnvelope(orders.EventPaymentStatusChanged, e.Service, p.OrderID, orders.PaymentStatusChangedPayload{
		PaymentID:     p.ID,
		OrderID:       p.OrderID,
		IntentRef:     p.IntentRef,
		TransactionID: p.TransactionID,
		From:          string(from),
		To:            string(p.Status),
		Source:        source,
	})
	if err == nil {
		err = e.Events.Publish(ctx, orders.TopicPaymentStatusChanged, orders.PartitionKey(p.OrderID), env)
	}
	if err != nil {
		e.Log.Warn("publish payment event", zap.String("payment_id", p.ID), zap.Error(err))
	}
}

func (e *Engine) PaymentsForOrder(ctx context.Context, orderID string) ([]Payment, error) {
	return e.Payments.ListByOrder(ctx, orderID)
}

func (e *Engine) LatestPayment(ctx context.Context, orderID string) (Payment, error) {
	ps, err := e.Payments.ListByOrder(ctx, orderID)
	if err != nil {
		return Payment{}, err
	}
	if len(ps) == 0 {
		return Payment{}, apperr.NotFound("order %s has no payments", orderID)
	}
	return ps[0], nil
}

func (e *Engine) HasApprovedPayment(ctx context.Context, orderID string) (bool, error) {
	return e.Payments.HasApproved(ctx, orderID)
}
