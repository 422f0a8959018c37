package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-instrument-store/internal/apperr"
	"github.com/ariefcatur/go-instrument-store/internal/postgres"
)

// Repo is the Postgres Store.
type Repo struct{ DB postgres.Querier }

const paymentCols = `id, order_id, amount::text, COALESCE(intent_ref, ''), COALESCE(transaction_id, ''), status, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p      Payment
		amount string
		status string
	)
	if err := row.Scan(&p.ID, &p.OrderID, &amount, &p.IntentRef, &p.TransactionID, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Payment{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Payment{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	p.Amount, p.Status = d, Status(status)
	return p, nil
}

func (r *Repo) Create(ctx context.Context, p Payment) error {
	_, err := postgres.Conn(ctx, r.DB).Exec(ctx, `
		INSERT INTO payments (id, order_id, amount, intent_ref, transaction_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)`,
		p.ID, p.OrderID, p.Amount.String(), p.IntentRef, p.TransactionID, string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *Repo) AttachIntent(ctx context.Context, id, intentRef string, at time.Time) error {
	ct, err := postgres.Conn(ctx, r.DB).Exec(ctx,
		`UPDATE payments SET intent_ref = $2, updated_at = $3 WHERE id = $1`, id, intentRef, at)
	if postgres.IsUniqueViolation(err, "") {
		return apperr.Conflict("intent %s already belongs to another payment", intentRef)
	}
	if err != nil {
		return fmt.Errorf("attach intent: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("payment %s not found", id)
	}
	return nil
}

func (r *Repo) GetByIntentRef(ctx context.Context, intentRef string) (Payment, error) {
	p, err := scanPayment(postgres.Conn(ctx, r.DB).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE intent_ref = $1`, intentRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, apperr.NotFound("payment for intent %s not found", intentRef)
	}
	return p, err
}

func (r *Repo) OpenForOrder(ctx context.Context, orderID string) (Payment, error) {
	if uuid.Validate(orderID) != nil {
		return Payment{}, apperr.NotFound("no open payment for order %s", orderID)
	}
	p, err := scanPayment(postgres.Conn(ctx, r.DB).QueryRow(ctx, `
		SELECT `+paymentCols+`
		FROM payments
		WHERE order_id = $1 AND status IN ($2, $3) AND intent_ref IS NOT NULL
		ORDER BY created_at DESC
		LIMIT 1`, orderID, string(StatusPending), string(StatusInProcess)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, apperr.NotFound("no open payment for order %s", orderID)
	}
	return p, err
}

func (r *Repo) ListByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	if uuid.Validate(orderID) != nil {
		return nil, nil
	}
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE order_id = $1 ORDER BY created_at DESC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) HasApproved(ctx context.Context, orderID string) (bool, error) {
	var ok bool
	err := postgres.Conn(ctx, r.DB).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE order_id = $1 AND status = $2)`,
		orderID, string(StatusApproved)).Scan(&ok)
	return ok, err
}

func (r *Repo) UpdateStatus(ctx context.Context, id string, from, to Status, txID string, at time.Time) (bool, error) {
	ct, err := postgres.Conn(ctx, r.DB).Exec(ctx, `
		UPDATE payments
		SET status = $3,
		    transaction_id = COALESCE(NULLIF($4::text, ''), transaction_id),
		    updated_at = $5
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), txID, at)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}
