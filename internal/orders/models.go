package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Order struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customer_id"`
	Status          Status          `json:"status"`
	Total           decimal.Decimal `json:"total"`
	Lines           []Line          `json:"lines"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StatusChangedAt time.Time       `json:"status_changed_at"`
}

// Line is owned by its order. UnitPrice is the catalog price when the order was created.
type Line struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	Position     int             `json:"position"`
	InstrumentID string          `json:"instrument_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ComputeTotal is the sum of line subtotals; Total always equals it.
func (o Order) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

type LineInput struct {
	InstrumentID string `json:"instrument_id"`
	Quantity     int    `json:"quantity"`
}

type Filter struct {
	CustomerID string
	Status     Status
}

type Stats struct {
	Counts     map[Status]int  `json:"counts"`
	TotalSales decimal.Decimal `json:"total_sales"`
}
