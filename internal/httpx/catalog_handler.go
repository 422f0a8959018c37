package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-instrument-store/internal/apperr"
	"github.com/ariefcatur/go-instrument-store/internal/catalog"
)

type CatalogHandler struct {
	Catalog *catalog.Service
	Log     *zap.Logger
}

func (h *CatalogHandler) Register(r chi.Router) {
	r.Get("/instruments", h.list)
	r.Get("/instruments/low-stock", h.lowStock)
	r.Get("/instruments/{id}", h.get)
	r.Get("/instruments/{id}/price", h.currentPrice)
	r.Get("/instruments/{id}/prices", h.priceHistory)
	r.Post("/instruments/{id}/prices", h.recordPrice)
}

func (h *CatalogHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ins, err := h.Catalog.ListInstruments(ctx, r.URL.Query().Get("category_id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ins))
}

func (h *CatalogHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	threshold := 0
	if v := r.URL.Query().Get("threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, h.Log, apperr.Validation("threshold must be a positive integer"))
			return
		}
		threshold = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ins, err := h.Catalog.LowStock(ctx, threshold)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ins))
}

func (h *CatalogHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	in, err := h.Catalog.GetInstrument(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

type priceResp struct {
	InstrumentID string          `json:"instrument_id"`
	Price        decimal.Decimal `json:"price"`
}

func (h *CatalogHandler) currentPrice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	p, err := h.Catalog.CurrentPrice(ctx, id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResp{InstrumentID: id, Price: p})
}

func (h *CatalogHandler) priceHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	recs, err := h.Catalog.PriceHistory(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

type recordPriceReq struct {
	Price decimal.Decimal `json:"price"`
}

type recordPriceResp struct {
	Record  catalog.PriceRecord `json:"record"`
	Created bool                `json:"created"`
}

func (h *CatalogHandler) recordPrice(w http.ResponseWriter, r *http.Request) {
	var req recordPriceReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, created, err := h.Catalog.RecordPrice(ctx, chi.URLParam(r, "id"), req.Price)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, recordPriceResp{Record: rec, Created: created})
}

// nonNil keeps empty listings as [] on the wire.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
