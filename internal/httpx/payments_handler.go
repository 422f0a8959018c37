package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-instrument-store/internal/obs"
	"github.com/ariefcatur/go-instrument-store/internal/payments"
)

type PaymentsHandler struct {
	Payments *payments.Engine
	Sink     payments.NotificationSink
	Log      *zap.Logger
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/payments/orders/{orderID}", h.initiate)
	r.Get("/payments/orders/{orderID}", h.listForOrder)
	r.Get("/payments/orders/{orderID}/approved", h.approved)
	r.Get("/payments/status/{intentRef}", h.status)
	r.Post("/payments/webhook", h.webhook)
}

func (h *PaymentsHandler) initiate(w http.ResponseWriter, r *http.Request) {
	// gateway round trip included
	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	res, err := h.Payments.InitiatePayment(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *PaymentsHandler) listForOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Payments.PaymentsForOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ps))
}

type approvedResp struct {
	OrderID  string `json:"order_id"`
	Approved bool   `json:"approved"`
}

func (h *PaymentsHandler) approved(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "orderID")
	ok, err := h.Payments.HasApprovedPayment(ctx, id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, approvedResp{OrderID: id, Approved: ok})
}

type statusResp struct {
	IntentRef string          `json:"intent_ref"`
	Status    payments.Status `json:"status"`
}

func (h *PaymentsHandler) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	ref := chi.URLParam(r, "intentRef")
	st, err := h.Payments.ResolveStatus(ctx, ref)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResp{IntentRef: ref, Status: st})
}

// webhookBody covers both notification shapes the provider sends:
// {"type":"payment","data":{"id":"123"}} and {"topic":"payment","id":123}.
type webhookBody struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	ID    json.RawMessage `json:"id"`
	Data  struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// parseNotification extracts the notification kind and resource id. Query parameters win over
// the body.
func parseNotification(r *http.Request) (kind, id string) {
	q := r.URL.Query()
	kind = firstNonEmpty(q.Get("topic"), q.Get("type"))
	id = firstNonEmpty(q.Get("data.id"), q.Get("id"))

	raw, _ := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if len(bytes.TrimSpace(raw)) > 0 {
		var b webhookBody
		if err := json.Unmarshal(raw, &b); err == nil {
			if kind == "" {
				kind = firstNonEmpty(b.Type, b.Topic)
			}
			if id == "" {
				id = firstNonEmpty(rawID(b.Data.ID), rawID(b.ID))
			}
		}
	}
	return strings.ToLower(kind), id
}

// rawID renders a JSON string or number id as text.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

// webhook always answers 200: the provider retries anything else, and reconciliation runs
// in the background.
func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	log := obs.OrNop(h.Log)
	kind, id := parseNotification(r)

	switch {
	case kind != "payment":
		log.Debug("webhook ignored", zap.String("topic", kind), zap.String("id", id))
	case id == "":
		log.Warn("payment webhook without id")
	default:
		if err := h.Sink.Submit(r.Context(), id); err != nil {
			log.Warn("payment webhook not enqueued",
				obs.TraceField(r.Context()), zap.String("transaction_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
