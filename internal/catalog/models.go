package catalog

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-instrument-store/internal/apperr"
)

// PriceTolerance is the smallest price change worth a new ledger entry.
var PriceTolerance = decimal.RequireFromString("0.01")

// LowStockThreshold is the default bound for LowStock listings.
const LowStockThreshold = 5

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Instrument struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Brand       string `json:"brand"`
	Description string `json:"description"`
	ImageRef    string `json:"image_ref"`
	CategoryID  string `json:"category_id,omitempty"`
	Stock       int    `json:"stock"`
}

// PriceRecord is one entry of the append-only price ledger.
type PriceRecord struct {
	ID            string          `json:"id"`
	InstrumentID  string          `json:"instrument_id"`
	Price         decimal.Decimal `json:"price"`
	EffectiveFrom time.Time       `json:"effective_from"`
}

func (i Instrument) HasStock(qty int) bool { return qty > 0 && i.Stock >= qty }

// Reserve takes qty units out of stock, never letting it go negative.
func (i *Instrument) Reserve(qty int) error {
	if qty <= 0 {
		return apperr.Validation("quantity must be positive, got %d", qty)
	}
	if i.Stock < qty {
		return &apperr.StockError{InstrumentID: i.ID, Name: i.Name, Requested: qty, Available: i.Stock}
	}
	i.Stock -= qty
	return nil
}

// Release puts qty units back. Restocking has no upper bound.
func (i *Instrument) Release(qty int) error {
	if qty <= 0 {
		return apperr.Validation("quantity must be positive, got %d", qty)
	}
	i.Stock += qty
	return nil
}

// Differs reports whether price moves away from the record by more than PriceTolerance.
func (p PriceRecord) Differs(price decimal.Decimal) bool {
	return p.Price.Sub(price).Abs().GreaterThan(PriceTolerance)
}
