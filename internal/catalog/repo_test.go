package catalog

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-instrument-store/internal/apperr"
)

const instID = "0d6b9a52-1f0e-4d3a-8c55-2b8e4a7f1001"

var (
	reserveSQL = regexp.QuoteMeta(`UPDATE instruments SET stock = stock - $2 WHERE id = $1 AND stock >= $2`)
	lookupSQL  = regexp.QuoteMeta(`SELECT name, stock FROM instruments WHERE id = $1`)
)

func newMockRepo(t *testing.T) (*Repo, pgxmock.PgxPoolIface) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return &Repo{DB: mock}, mock
}

func TestRepoReserveStock(t *testing.T) {
	t.Run("enough stock", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(reserveSQL).WithArgs(instID, 2).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		if err := repo.ReserveStock(context.Background(), instID, 2); err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("short", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(reserveSQL).WithArgs(instID, 4).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(lookupSQL).WithArgs(instID).
			WillReturnRows(pgxmock.NewRows([]string{"name", "stock"}).AddRow("Telecaster", 1))

		err := repo.ReserveStock(context.Background(), instID, 4)
		var se *apperr.StockError
		if !errors.As(err, &se) || se.Available != 1 || se.Requested != 4 || se.Name != "Telecaster" {
			t.Fatalf("want stock error, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("missing instrument", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(reserveSQL).WithArgs(instID, 1).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(lookupSQL).WithArgs(instID).WillReturnError(pgx.ErrNoRows)

		if err := repo.ReserveStock(context.Background(), instID, 1); !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("want not found, got %v", err)
		}
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		if err := repo.ReserveStock(context.Background(), instID, 0); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("want validation, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestRepoCurrentPrice(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, instrument_id, price::text, effective_from`).WithArgs(instID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "instrument_id", "price", "effective_from"}).
			AddRow("rec-1", instID, "1450000.50", at))

	rec, err := repo.CurrentPrice(context.Background(), instID)
	if err != nil {
		t.Fatalf("current price: %v", err)
	}
	if !rec.Price.Equal(decimal.RequireFromString("1450000.50")) || !rec.EffectiveFrom.Equal(at) {
		t.Fatalf("record = %+v", rec)
	}

	if _, err := repo.CurrentPrice(context.Background(), "not-a-uuid"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("malformed id should be not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
