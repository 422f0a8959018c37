package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-instrument-store/internal/apperr"
	"github.com/ariefcatur/go-instrument-store/internal/postgres"
)

// Repo is the Postgres Store.
type Repo struct{ DB postgres.Querier }

const instrumentCols = `id, name, brand, description, image_ref, COALESCE(category_id::text, ''), stock`

func scanInstrument(row pgx.Row) (Instrument, error) {
	var in Instrument
	err := row.Scan(&in.ID, &in.Name, &in.Brand, &in.Description, &in.ImageRef, &in.CategoryID, &in.Stock)
	return in, err
}

func (r *Repo) GetInstrument(ctx context.Context, id string) (Instrument, error) {
	if uuid.Validate(id) != nil {
		return Instrument{}, apperr.NotFound("instrument %s not found", id)
	}
	in, err := scanInstrument(postgres.Conn(ctx, r.DB).QueryRow(ctx,
		`SELECT `+instrumentCols+` FROM instruments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Instrument{}, apperr.NotFound("instrument %s not found", id)
	}
	return in, err
}

func (r *Repo) ListInstruments(ctx context.Context, categoryID string) ([]Instrument, error) {
	q := `SELECT ` + instrumentCols + ` FROM instruments`
	var args []any
	if categoryID != "" {
		q += ` WHERE category_id = $1`
		args = append(args, categoryID)
	}
	return r.queryInstruments(ctx, q+` ORDER BY name`, args...)
}

func (r *Repo) LowStock(ctx context.Context, threshold int) ([]Instrument, error) {
	return r.queryInstruments(ctx,
		`SELECT `+instrumentCols+` FROM instruments WHERE stock < $1 ORDER BY stock, name`, threshold)
}

func (r *Repo) queryInstruments(ctx context.Context, q string, args ...any) ([]Instrument, error) {
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Instrument
	for rows.Next() {
		in, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func scanPrice(row pgx.Row) (PriceRecord, error) {
	var (
		p     PriceRecord
		price string
	)
	if err := row.Scan(&p.ID, &p.InstrumentID, &price, &p.EffectiveFrom); err != nil {
		return PriceRecord{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	p.Price = d
	return p, nil
}

func (r *Repo) CurrentPrice(ctx context.Context, instrumentID string) (PriceRecord, error) {
	if uuid.Validate(instrumentID) != nil {
		return PriceRecord{}, apperr.NotFound("no price recorded for instrument %s", instrumentID)
	}
	p, err := scanPrice(postgres.Conn(ctx, r.DB).QueryRow(ctx, `
		SELECT id, instrument_id, price::text, effective_from
		FROM price_records
		WHERE instrument_id = $1
		ORDER BY effective_from DESC
		LIMIT 1`, instrumentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return PriceRecord{}, apperr.NotFound("no price recorded for instrument %s", instrumentID)
	}
	return p, err
}

func (r *Repo) PriceHistory(ctx context.Context, instrumentID string) ([]PriceRecord, error) {
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, `
		SELECT id, instrument_id, price::text, effective_from
		FROM price_records
		WHERE instrument_id = $1
		ORDER BY effective_from DESC`, instrumentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PriceRecord
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) AppendPrice(ctx context.Context, rec PriceRecord) error {
	_, err := postgres.Conn(ctx, r.DB).Exec(ctx, `
		INSERT INTO price_records (id, instrument_id, price, effective_from)
		VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.InstrumentID, rec.Price.String(), rec.EffectiveFrom)
	return err
}

// ReserveStock decrements in one conditional UPDATE so concurrent reservations cannot oversell.
func (r *Repo) ReserveStock(ctx context.Context, instrumentID string, qty int) error {
	if qty <= 0 {
		return apperr.Validation("quantity must be positive, got %d", qty)
	}
	db := postgres.Conn(ctx, r.DB)
	ct, err := db.Exec(ctx,
		`UPDATE instruments SET stock = stock - $2 WHERE id = $1 AND stock >= $2`, instrumentID, qty)
	if postgres.IsCheckViolation(err) {
		// the tx is aborted, so no lookup of what is left
		return &apperr.StockError{InstrumentID: instrumentID, Requested: qty}
	}
	if err != nil {
		return fmt.Errorf("reserve stock %s: %w", instrumentID, err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var (
		name      string
		available int
	)
	err = db.QueryRow(ctx, `SELECT name, stock FROM instruments WHERE id = $1`, instrumentID).Scan(&name, &available)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("instrument %s not found", instrumentID)
	}
	if err != nil {
		return err
	}
	return &apperr.StockError{InstrumentID: instrumentID, Name: name, Requested: qty, Available: available}
}

func (r *Repo) ReleaseStock(ctx context.Context, instrumentID string, qty int) error {
	if qty <= 0 {
		return apperr.Validation("quantity must be positive, got %d", qty)
	}
	ct, err := postgres.Conn(ctx, r.DB).Exec(ctx,
		`UPDATE instruments SET stock = stock + $2 WHERE id = $1`, instrumentID, qty)
	if err != nil {
		return fmt.Errorf("release stock %s: %w", instrumentID, err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("instrument %s not found", instrumentID)
	}
	return nil
}
