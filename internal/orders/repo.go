package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-instrument-store/internal/apperr"
	"github.com/ariefcatur/go-instrument-store/internal/postgres"
)

const pendingIndex = "orders_one_pending_per_customer"

// Repo is the Postgres Store.
type Repo struct{ DB postgres.DB }

func (r *Repo) Create(ctx context.Context, o Order) error {
	tx := &postgres.Transactor{DB: r.DB}
	return tx.InTx(ctx, func(ctx context.Context) error {
		db := postgres.Conn(ctx, r.DB)
		_, err := db.Exec(ctx, `
			INSERT INTO orders (id, customer_id, status, total, created_at, status_changed_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, o.CustomerID, string(o.Status), o.Total.String(), o.CreatedAt, o.StatusChangedAt)
		if postgres.IsUniqueViolation(err, pendingIndex) {
			return apperr.Conflict("customer %s already has an order pending payment", o.CustomerID)
		}
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for _, l := range o.Lines {
			if _, err := db.Exec(ctx, `
				INSERT INTO order_lines (id, order_id, position, instrument_id, quantity, unit_price)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				l.ID, o.ID, l.Position, l.InstrumentID, l.Quantity, l.UnitPrice.String()); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		return nil
	})
}

const orderCols = `id, customer_id, status, total::text, cancel_reason, created_at, status_changed_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
		total  string
	)
	if err := row.Scan(&o.ID, &o.CustomerID, &status, &total, &o.CancelReason, &o.CreatedAt, &o.StatusChangedAt); err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	d, err := decimal.NewFromString(total)
	if err != nil {
		return Order{}, fmt.Errorf("parse total %q: %w", total, err)
	}
	o.Total = d
	return o, nil
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	if uuid.Validate(id) != nil {
		return Order{}, apperr.NotFound("order %s not found", id)
	}
	o, err := scanOrder(postgres.Conn(ctx, r.DB).QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, apperr.NotFound("order %s not found", id)
	}
	if err != nil {
		return Order{}, err
	}
	lines, err := r.lines(ctx, []string{o.ID})
	if err != nil {
		return Order{}, err
	}
	o.Lines = lines[o.ID]
	return o, nil
}

func (r *Repo) List(ctx context.Context, f Filter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	q := `SELECT ` + orderCols + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`

	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var (
		out []Order
		ids []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	lines, err := r.lines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

func (r *Repo) lines(ctx context.Context, orderIDs []string) (map[string][]Line, error) {
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, `
		SELECT id, order_id, position, instrument_id, quantity, unit_price::text
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]Line, len(orderIDs))
	for rows.Next() {
		var (
			l     Line
			price string
		)
		if err := rows.Scan(&l.ID, &l.OrderID, &l.Position, &l.InstrumentID, &l.Quantity, &price); err != nil {
			return nil, err
		}
		if l.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse unit price %q: %w", price, err)
		}
		out[l.OrderID] = append(out[l.OrderID], l)
	}
	return out, rows.Err()
}

func (r *Repo) PendingForCustomer(ctx context.Context, customerID string) (Order, error) {
	var id string
	err := postgres.Conn(ctx, r.DB).QueryRow(ctx,
		`SELECT id FROM orders WHERE customer_id = $1 AND status = $2`,
		customerID, string(StatusPendingPayment)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, apperr.NotFound("customer %s has no order pending payment", customerID)
	}
	if err != nil {
		return Order{}, err
	}
	return r.Get(ctx, id)
}

// CompareAndSetStatus is a single conditional UPDATE; the row lock it takes serializes
// concurrent transitions of the same order.
func (r *Repo) CompareAndSetStatus(ctx context.Context, id string, from, to Status, at time.Time, reason string) (bool, error) {
	ct, err := postgres.Conn(ctx, r.DB).Exec(ctx, `
		UPDATE orders
		SET status = $3,
		    status_changed_at = $4,
		    cancel_reason = COALESCE(NULLIF($5::text, ''), cancel_reason)
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at, reason)
	if postgres.IsUniqueViolation(err, pendingIndex) {
		return false, apperr.Conflict("order %s cannot return to %s: customer already has a pending order", id, to)
	}
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) DeleteIfPending(ctx context.Context, id string) (bool, error) {
	ct, err := postgres.Conn(ctx, r.DB).Exec(ctx,
		`DELETE FROM orders WHERE id = $1 AND status = $2`, id, string(StatusPendingPayment))
	if err != nil {
		return false, fmt.Errorf("delete order: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) Stats(ctx context.Context) (Stats, error) {
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx,
		`SELECT status, count(*), COALESCE(sum(total), 0)::text FROM orders GROUP BY status`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	st := Stats{Counts: make(map[Status]int, len(AllStatuses)), TotalSales: decimal.Zero}
	for _, s := range AllStatuses {
		st.Counts[s] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
			sum    string
		)
		if err := rows.Scan(&status, &n, &sum); err != nil {
			return Stats{}, err
		}
		st.Counts[Status(status)] = n
		if Status(status).Sold() {
			d, err := decimal.NewFromString(sum)
			if err != nil {
				return Stats{}, err
			}
			st.TotalSales = st.TotalSales.Add(d)
		}
	}
	return st, rows.Err()
}

// CustomerRepo reads the customers table owned by the account service.
type CustomerRepo struct{ DB postgres.Querier }

func (r *CustomerRepo) GetCustomer(ctx context.Context, id string) (Customer, error) {
	if uuid.Validate(id) != nil {
		return Customer{}, apperr.NotFound("customer %s not found", id)
	}
	var c Customer
	err := postgres.Conn(ctx, r.DB).QueryRow(ctx,
		`SELECT id, name, email FROM customers WHERE id = $1`, id).Scan(&c.ID, &c.Name, &c.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, apperr.NotFound("customer %s not found", id)
	}
	return c, err
}
