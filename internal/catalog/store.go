package catalog

import "context"

// Store persists instruments and the price ledger. Stock changes only go through
// ReserveStock and ReleaseStock, each a single atomic storage operation.
type Store interface {
	GetInstrument(ctx context.Context, id string) (Instrument, error)
	ListInstruments(ctx context.Context, categoryID string) ([]Instrument, error)
	LowStock(ctx context.Context, threshold int) ([]Instrument, error)

	// CurrentPrice returns the newest record by effective-from, or apperr.ErrNotFound.
	CurrentPrice(ctx context.Context, instrumentID string) (PriceRecord, error)
	PriceHistory(ctx context.Context, instrumentID string) ([]PriceRecord, error)
	AppendPrice(ctx context.Context, rec PriceRecord) error

	ReserveStock(ctx context.Context, instrumentID string, qty int) error
	ReleaseStock(ctx context.Context, instrumentID string, qty int) error
}
