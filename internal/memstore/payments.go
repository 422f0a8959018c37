package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/ariefcatur/go-instrument-store/internal/apperr"
	"github.com/ariefcatur/go-instrument-store/internal/payments"
)

type Payments struct{ d *DB }

var _ payments.Store = (*Payments)(nil)

func (s *Payments) Create(ctx context.Context, p payments.Payment) error {
	defer s.d.lock(ctx)()
	if _, ok := s.d.st.payments[p.ID]; ok {
		return apperr.Conflict("payment %s already exists", p.ID)
	}
	s.d.st.payments[p.ID] = p
	return nil
}

func (s *Payments) AttachIntent(ctx context.Context, id, intentRef string, at time.Time) error {
	defer s.d.lock(ctx)()
	p, ok := s.d.st.payments[id]
	if !ok {
		return apperr.NotFound("payment %s not found", id)
	}
	for _, other := range s.d.st.payments {
		if other.ID != id && other.IntentRef == intentRef {
			return apperr.Conflict("intent %s already belongs to payment %s", intentRef, other.ID)
		}
	}
	p.IntentRef, p.UpdatedAt = intentRef, at
	s.d.st.payments[id] = p
	return nil
}

func (s *Payments) GetByIntentRef(ctx context.Context, intentRef string) (payments.Payment, error) {
	defer s.d.lock(ctx)()
	for _, p := range s.d.st.payments {
		if intentRef != "" && p.IntentRef == intentRef {
			return p, nil
		}
	}
	return payments.Payment{}, apperr.NotFound("payment for intent %s not found", intentRef)
}

func (s *Payments) OpenForOrder(ctx context.Context, orderID string) (payments.Payment, error) {
	for _, p := range s.byOrder(ctx, orderID) {
		if p.Status.Open() && p.IntentRef != "" {
			return p, nil
		}
	}
	return payments.Payment{}, apperr.NotFound("no open payment for order %s", orderID)
}

func (s *Payments) ListByOrder(ctx context.Context, orderID string) ([]payments.Payment, error) {
	return s.byOrder(ctx, orderID), nil
}

func (s *Payments) HasApproved(ctx context.Context, orderID string) (bool, error) {
	for _, p := range s.byOrder(ctx, orderID) {
		if p.Status == payments.StatusApproved {
			return true, nil
		}
	}
	return false, nil
}

// byOrder returns the order's payments, newest first.
func (s *Payments) byOrder(ctx context.Context, orderID string) []payments.Payment {
	defer s.d.lock(ctx)()
	var out []payments.Payment
	for _, p := range s.d.st.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Payments) UpdateStatus(ctx context.Context, id string, from, to payments.Status, txID string, at time.Time) (bool, error) {
	defer s.d.lock(ctx)()
	p, ok := s.d.st.payments[id]
	if !ok {
		return false, apperr.NotFound("payment %s not found", id)
	}
	if p.Status != from {
		return false, nil
	}
	p.Status, p.UpdatedAt = to, at
	if txID != "" {
		p.TransactionID = txID
	}
	s.d.st.payments[id] = p
	return true, nil
}
