package orders

import (
	"context"
	"time"
)

type Store interface {
	// Create persists the order and its lines. A second PENDING_PAYMENT order for the same
	// customer fails with apperr.ErrConflict.
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	PendingForCustomer(ctx context.Context, customerID string) (Order, error)
	// CompareAndSetStatus moves the order to `to` only if it is still in `from`.
	CompareAndSetStatus(ctx context.Context, id string, from, to Status, at time.Time, reason string) (bool, error)
	DeleteIfPending(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (Stats, error)
}

type CustomerDirectory interface {
	GetCustomer(ctx context.Context, id string) (Customer, error)
}

// Transactor runs fn atomically; stores called with the inner context join the transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
