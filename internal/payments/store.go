package payments

import (
	"context"
	"time"
)

// Store persists payment attempts. Rows are never deleted.
type Store interface {
	Create(ctx context.Context, p Payment) error
	AttachIntent(ctx context.Context, id, intentRef string, at time.Time) error
	GetByIntentRef(ctx context.Context, intentRef string) (Payment, error)
	// OpenForOrder returns the newest pending or in_process payment that has an intent.
	OpenForOrder(ctx context.Context, orderID string) (Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
	HasApproved(ctx context.Context, orderID string) (bool, error)
	// UpdateStatus writes only if the stored status is still `from`. An empty txID keeps the
	// stored transaction id.
	UpdateStatus(ctx context.Context, id string, from, to Status, txID string, at time.Time) (bool, error)
}
