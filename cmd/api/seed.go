package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-instrument-store/internal/catalog"
	"github.com/ariefcatur/go-instrument-store/internal/memstore"
	"github.com/ariefcatur/go-instrument-store/internal/orders"
)

// seedDemo fills a memory store with enough data to walk through checkout by hand.
func seedDemo(db *memstore.DB) {
	const (
		guitars = "7b0f6c1e-3c51-4c36-9a43-5f9c2d1b0a01"
		drums   = "7b0f6c1e-3c51-4c36-9a43-5f9c2d1b0a02"
	)
	db.PutCategory(catalog.Category{ID: guitars, Name: "Guitars"})
	db.PutCategory(catalog.Category{ID: drums, Name: "Drums"})

	since := time.Now().Add(-24 * time.Hour).UTC()
	for _, d := range []struct {
		in    catalog.Instrument
		price string
	}{
		{catalog.Instrument{ID: "0d6b9a52-1f0e-4d3a-8c55-2b8e4a7f1001", Name: "Stratocaster Player", Brand: "Fender", CategoryID: guitars, Stock: 5}, "1450000.00"},
		{catalog.Instrument{ID: "0d6b9a52-1f0e-4d3a-8c55-2b8e4a7f1002", Name: "Les Paul Standard 60s", Brand: "Gibson", CategoryID: guitars, Stock: 2}, "3890000.00"},
		{catalog.Instrument{ID: "0d6b9a52-1f0e-4d3a-8c55-2b8e4a7f1003", Name: "Export EXX 5-Piece Kit", Brand: "Pearl", CategoryID: drums, Stock: 8}, "980000.00"},
	} {
		db.PutInstrument(d.in)
		db.PutPrice(catalog.PriceRecord{
			ID:            uuid.NewString(),
			InstrumentID:  d.in.ID,
			Price:         decimal.RequireFromString(d.price),
			EffectiveFrom: since,
		})
	}
	db.PutCustomer(orders.Customer{ID: "5a1c2e3f-9b8d-4e7a-a6c5-000000000001", Name: "Demo Customer", Email: "demo@example.com"})
}
