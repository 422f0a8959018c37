package payments

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway is the external payment provider.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	// SearchTransactions lists transactions carrying the external reference.
	SearchTransactions(ctx context.Context, externalReference string) ([]Transaction, error)
}

type IntentItem struct {
	ID          string
	Title       string
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
	Currency    string
}

type Buyer struct {
	Name  string
	Email string
}

type BackURLs struct {
	Success string
	Failure string
	Pending string
}

type IntentRequest struct {
	Description         string
	Items               []IntentItem
	Buyer               Buyer
	BackURLs            BackURLs
	ExternalReference   string
	NotificationURL     string
	StatementDescriptor string
}

type Intent struct {
	ID                 string
	RedirectURL        string
	SandboxRedirectURL string
}

type Transaction struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
	Amount            decimal.Decimal
	CreatedAt         time.Time
}

// latestTransaction picks the most recently created transaction.
func latestTransaction(txs []Transaction) (Transaction, bool) {
	if len(txs) == 0 {
		return Transaction{}, false
	}
	best := txs[0]
	for _, t := range txs[1:] {
		if t.CreatedAt.After(best.CreatedAt) {
			best = t
		}
	}
	return best, true
}
