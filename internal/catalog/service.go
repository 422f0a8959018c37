package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-instrument-store/internal/apperr"
	"github.com/ariefcatur/go-instrument-store/internal/obs"
)

type Service struct {
	Store Store
	Log   *zap.Logger
	Now   func() time.Time
}

func NewService(store Store, log *zap.Logger) *Service {
	return &Service{Store: store, Log: obs.OrNop(log), Now: time.Now}
}

func (s *Service) GetInstrument(ctx context.Context, id string) (Instrument, error) {
	return s.Store.GetInstrument(ctx, id)
}

func (s *Service) ListInstruments(ctx context.Context, categoryID string) ([]Instrument, error) {
	return s.Store.ListInstruments(ctx, categoryID)
}

func (s *Service) LowStock(ctx context.Context, threshold int) ([]Instrument, error) {
	if threshold <= 0 {
		threshold = LowStockThreshold
	}
	return s.Store.LowStock(ctx, threshold)
}

// CurrentPrice fails with apperr.ErrNotFound when the instrument has no price yet.
func (s *Service) CurrentPrice(ctx context.Context, instrumentID string) (decimal.Decimal, error) {
	rec, err := s.Store.CurrentPrice(ctx, instrumentID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return rec.Price, nil
}

func (s *Service) PriceHistory(ctx context.Context, instrumentID string) ([]PriceRecord, error) {
	if _, err := s.Store.GetInstrument(ctx, instrumentID); err != nil {
		return nil, err
	}
	return s.Store.PriceHistory(ctx, instrumentID)
}

// RecordPrice appends a ledger entry unless the price is within PriceTolerance of the current
// one, in which case the current record is returned and created is false.
func (s *Service) RecordPrice(ctx context.Context, instrumentID string, price decimal.Decimal) (rec PriceRecord, created bool, err error) {
	price = price.Round(2)
	if !price.IsPositive() {
		return PriceRecord{}, false, apperr.Validation("price must be greater than zero, got %s", price)
	}
	if _, err := s.Store.GetInstrument(ctx, instrumentID); err != nil {
		return PriceRecord{}, false, err
	}

	cur, err := s.Store.CurrentPrice(ctx, instrumentID)
	switch {
	case err == nil:
		if !cur.Differs(price) {
			return cur, false, nil
		}
	case errors.Is(err, apperr.ErrNotFound):
	default:
		return PriceRecord{}, false, err
	}

	rec = PriceRecord{
		ID:            uuid.NewString(),
		InstrumentID:  instrumentID,
		Price:         price,
		EffectiveFrom: s.Now().UTC(),
	}
	if !cur.EffectiveFrom.IsZero() && !rec.EffectiveFrom.After(cur.EffectiveFrom) {
		rec.EffectiveFrom = cur.EffectiveFrom.Add(time.Microsecond)
	}
	if err := s.Store.AppendPrice(ctx, rec); err != nil {
		return PriceRecord{}, false, err
	}
	s.Log.Info("price recorded",
		zap.String("instrument_id", instrumentID),
		zap.String("previous", cur.Price.String()),
		zap.String("price", rec.Price.String()))
	return rec, true, nil
}

func (s *Service) CheckStock(ctx context.Context, instrumentID string, qty int) (bool, error) {
	in, err := s.Store.GetInstrument(ctx, instrumentID)
	if err != nil {
		return false, err
	}
	return in.HasStock(qty), nil
}

func (s *Service) ReserveStock(ctx context.Context, instrumentID string, qty int) error {
	return s.Store.ReserveStock(ctx, instrumentID, qty)
}

func (s *Service) ReleaseStock(ctx context.Context, instrumentID string, qty int) error {
	return s.Store.ReleaseStock(ctx, instrumentID, qty)
}
