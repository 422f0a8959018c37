package payments

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusInProcess Status = "in_process"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// ParseStatus accepts the gateway's status vocabulary; anything else is reported as unknown.
func ParseStatus(v string) (Status, bool) {
	switch s := Status(v); s {
	case StatusPending, StatusInProcess, StatusApproved, StatusRejected, StatusCancelled:
		return s, true
	}
	return "", false
}

// Open payments can still be moved by a notification.
func (s Status) Open() bool { return s == StatusPending || s == StatusInProcess }

// Final statuses need no further reconciliation for business purposes.
func (s Status) Final() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

type Payment struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	IntentRef     string          `json:"intent_ref,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
