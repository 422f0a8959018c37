package orders_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/ariefcatur/go-instrument-store/internal/apperr"
	"github.com/ariefcatur/go-instrument-store/internal/catalog"
	"github.com/ariefcatur/go-instrument-store/internal/memstore"
	"github.com/ariefcatur/go-instrument-store/internal/orders"
)

// Stock only moves on confirmation and cancellation of paid orders, so at any point
// stock == initial - units held by sold orders, and never negative.
func TestProperty_StockConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		db := memstore.New()
		ids := []string{"i-0", "i-1", "i-2"}
		initial := map[string]int{}
		for i, id := range ids {
			initial[id] = rapid.IntRange(0, 8).Draw(t, fmt.Sprintf("stock-%d", i))
			db.PutInstrument(catalog.Instrument{ID: id, Name: id, Stock: initial[id]})
			cents := rapid.Int64Range(1, 1_000_000).Draw(t, fmt.Sprintf("price-%d", i))
			db.PutPrice(catalog.PriceRecord{ID: "p-" + id, InstrumentID: id, Price: decimal.New(cents, -2), EffectiveFrom: time.Unix(0, 0)})
		}
		customers := []string{"c-0", "c-1", "c-2", "c-3"}
		for _, c := range customers {
			db.PutCustomer(orders.Customer{ID: c, Name: c})
		}
		mgr := orders.NewManager(db.Orders(), db.Customers(), catalog.NewService(db.Catalog(), zap.NewNop()), db, nil, "prop", zap.NewNop())

		var created []string
		steps := rapid.IntRange(1, 25).Draw(t, "steps")
		for s := 0; s < steps; s++ {
			switch rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("op-%d", s)) {
			case 0:
				n := rapid.IntRange(1, 3).Draw(t, fmt.Sprintf("lines-%d", s))
				lines := make([]orders.LineInput, n)
				for i := range lines {
					lines[i] = orders.LineInput{
						InstrumentID: rapid.SampledFrom(ids).Draw(t, fmt.Sprintf("inst-%d-%d", s, i)),
						Quantity:     rapid.IntRange(1, 4).Draw(t, fmt.Sprintf("qty-%d-%d", s, i)),
					}
				}
				o, err := mgr.CreateOrder(ctx, rapid.SampledFrom(customers).Draw(t, fmt.Sprintf("cust-%d", s)), lines)
				if err == nil {
					if !o.Total.Equal(o.ComputeTotal()) {
						t.Fatalf("total %s != sum of lines %s", o.Total, o.ComputeTotal())
					}
					created = append(created, o.ID)
				} else if !errors.Is(err, apperr.ErrConflict) && !errors.Is(err, apperr.ErrInsufficientStock) {
					t.Fatalf("create: %v", err)
				}
			case 1, 2:
				if len(created) == 0 {
					continue
				}
				id := rapid.SampledFrom(created).Draw(t, fmt.Sprintf("target-%d", s))
				_, _ = mgr.ConfirmPayment(ctx, id)
			case 3:
				if len(created) == 0 {
					continue
				}
				id := rapid.SampledFrom(created).Draw(t, fmt.Sprintf("target-%d", s))
				_, _ = mgr.CancelOrder(ctx, id, "")
			}

			held := map[string]int{}
			all, _ := mgr.ListOrders(ctx, orders.Filter{})
			for _, o := range all {
				if !o.Status.Sold() {
					continue
				}
				for _, l := range o.Lines {
					held[l.InstrumentID] += l.Quantity
				}
			}
			for _, id := range ids {
				in, _ := db.Catalog().GetInstrument(ctx, id)
				if in.Stock < 0 {
					t.Fatalf("%s stock went negative: %d", id, in.Stock)
				}
				if in.Stock != initial[id]-held[id] {
					t.Fatalf("%s stock %d, want %d - %d", id, in.Stock, initial[id], held[id])
				}
			}
		}
	})
}
