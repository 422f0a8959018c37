package memstore

import (
	"context"
	"sort"

	"github.com/ariefcatur/go-instrument-store/internal/apperr"
	"github.com/ariefcatur/go-instrument-store/internal/catalog"
)

type Catalog struct{ d *DB }

var _ catalog.Store = (*Catalog)(nil)

func (c *Catalog) GetInstrument(ctx context.Context, id string) (catalog.Instrument, error) {
	defer c.d.lock(ctx)()
	in, ok := c.d.st.instruments[id]
	if !ok {
		return catalog.Instrument{}, apperr.NotFound("instrument %s not found", id)
	}
	return in, nil
}

func (c *Catalog) ListInstruments(ctx context.Context, categoryID string) ([]catalog.Instrument, error) {
	return c.filter(ctx, func(in catalog.Instrument) bool {
		return categoryID == "" || in.CategoryID == categoryID
	}), nil
}

func (c *Catalog) LowStock(ctx context.Context, threshold int) ([]catalog.Instrument, error) {
	out := c.filter(ctx, func(in catalog.Instrument) bool { return in.Stock < threshold })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Stock < out[j].Stock })
	return out, nil
}

func (c *Catalog) filter(ctx context.Context, keep func(catalog.Instrument) bool) []catalog.Instrument {
	defer c.d.lock(ctx)()
	var out []catalog.Instrument
	for _, in := range c.d.st.instruments {
		if keep(in) {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Catalog) CurrentPrice(ctx context.Context, instrumentID string) (catalog.PriceRecord, error) {
	defer c.d.lock(ctx)()
	ledger := c.d.st.prices[instrumentID]
	if len(ledger) == 0 {
		return catalog.PriceRecord{}, apperr.NotFound("no price recorded for instrument %s", instrumentID)
	}
	return ledger[len(ledger)-1], nil
}

func (c *Catalog) PriceHistory(ctx context.Context, instrumentID string) ([]catalog.PriceRecord, error) {
	defer c.d.lock(ctx)()
	ledger := c.d.st.prices[instrumentID]
	out := make([]catalog.PriceRecord, 0, len(ledger))
	for i := len(ledger) - 1; i >= 0; i-- {
		out = append(out, ledger[i])
	}
	return out, nil
}

func (c *Catalog) AppendPrice(ctx context.Context, rec catalog.PriceRecord) error {
	defer c.d.lock(ctx)()
	if _, ok := c.d.st.instruments[rec.InstrumentID]; !ok {
		return apperr.NotFound("instrument %s not found", rec.InstrumentID)
	}
	c.d.st.prices[rec.InstrumentID] = insertPrice(c.d.st.prices[rec.InstrumentID], rec)
	return nil
}

func (c *Catalog) ReserveStock(ctx context.Context, instrumentID string, qty int) error {
	defer c.d.lock(ctx)()
	in, ok := c.d.st.instruments[instrumentID]
	if !ok {
		return apperr.NotFound("instrument %s not found", instrumentID)
	}
	if err := in.Reserve(qty); err != nil {
		return err
	}
	c.d.st.instruments[instrumentID] = in
	return nil
}

func (c *Catalog) ReleaseStock(ctx context.Context, instrumentID string, qty int) error {
	defer c.d.lock(ctx)()
	in, ok := c.d.st.instruments[instrumentID]
	if !ok {
		return apperr.NotFound("instrument %s not found", instrumentID)
	}
	if err := in.Release(qty); err != nil {
		return err
	}
	c.d.st.instruments[instrumentID] = in
	return nil
}
