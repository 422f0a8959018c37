package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestInTxCommits(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE orders`).WithArgs("o-1").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	tr := &Transactor{DB: mock}
	err := tr.InTx(context.Background(), func(ctx context.Context) error {
		if Conn(ctx, mock) == Querier(mock) {
			t.Fatalf("Conn should return the transaction inside InTx")
		}
		_, err := Conn(ctx, mock).Exec(ctx, `UPDATE orders SET status = 'PAID' WHERE id = $1`, "o-1")
		return err
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := (&Transactor{DB: mock}).InTx(context.Background(), func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInTxNestedJoinsOuter(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	tr := &Transactor{DB: mock}
	err := tr.InTx(context.Background(), func(ctx context.Context) error {
		return tr.InTx(ctx, func(context.Context) error { return nil })
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestConnOutsideTx(t *testing.T) {
	mock := newMock(t)
	if Conn(context.Background(), mock) != Querier(mock) {
		t.Fatalf("Conn without a transaction should return the pool")
	}
}

func TestErrorClassification(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "orders_one_pending_per_customer"})
	if !IsUniqueViolation(dup, "orders_one_pending_per_customer") || !IsUniqueViolation(dup, "") {
		t.Fatalf("unique violation not recognised")
	}
	if IsUniqueViolation(dup, "payments_intent_ref_key") {
		t.Fatalf("constraint name ignored")
	}
	if !IsCheckViolation(&pgconn.PgError{Code: "23514"}) || IsCheckViolation(dup) {
		t.Fatalf("check violation misclassified")
	}
}

func TestMigrateAppliesSchema(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS instruments`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	if err := Migrate(context.Background(), mock); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
