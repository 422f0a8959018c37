package orders

import (
	"errors"
	"testing"

	"github.com/ariefcatur/go-instrument-store/internal/apperr"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPendingPayment, StatusPaid}:      true,
		{StatusPendingPayment, StatusCancelled}: true,
		{StatusPaid, StatusShipped}:             true,
		{StatusPaid, StatusCancelled}:           true,
		{StatusShipped, StatusDelivered}:        true,
	}
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range AllStatuses {
		want := s == StatusDelivered || s == StatusCancelled
		if s.IsTerminal() != want {
			t.Errorf("%s.IsTerminal() = %v", s, s.IsTerminal())
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("SHIPPED"); err != nil || s != StatusShipped {
		t.Fatalf("ParseStatus(SHIPPED) = %q, %v", s, err)
	}
	if _, err := ParseStatus("shipped"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("lowercase status should be rejected, got %v", err)
	}
}

func TestComputeTotal(t *testing.T) {
	o := Order{Lines: []Line{
		{Quantity: 2, UnitPrice: dec("1000.50")},
		{Quantity: 3, UnitPrice: dec("0.10")},
	}}
	if got := o.ComputeTotal(); !got.Equal(dec("2001.30")) {
		t.Fatalf("total = %s", got)
	}
}
