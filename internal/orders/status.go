package orders

import "github.com/ariefcatur/go-instrument-store/internal/apperr"

type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusShipped        Status = "SHIPPED"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
)

// AllStatuses in lifecycle order.
var AllStatuses = []Status{StatusPendingPayment, StatusPaid, StatusShipped, StatusDelivered, StatusCancelled}

var validNext = map[Status]map[Status]bool{
	StatusPendingPayment: {StatusPaid: true, StatusCancelled: true},
	StatusPaid:           {StatusShipped: true, StatusCancelled: true},
	StatusShipped:        {StatusDelivered: true},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) CanTransitionTo(to Status) bool { return CanTransition(s, to) }

func (s Status) IsTerminal() bool { return s == StatusDelivered || s == StatusCancelled }

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Sold reports whether an order in this status counts towards sales.
func (s Status) Sold() bool {
	return s == StatusPaid || s == StatusShipped || s == StatusDelivered
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", apperr.Validation("unknown order status %q", v)
	}
	return s, nil
}

func transitionError(orderID string, from, to Status) error {
	return apperr.Validation("order %s cannot move from %s to %s", orderID, from, to)
}
