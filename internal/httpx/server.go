package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-instrument-store/internal/apperr"
	"github.com/ariefcatur/go-instrument-store/internal/obs"
)

func NewRouter(log *zap.Logger) *chi.Mux {
	log = obs.OrNop(log)
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(tracing, requestLogger(log), metrics)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeError maps domain errors to status codes. Unclassified errors are logged and hidden.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	code := apperr.HTTPStatus(err)
	kind, ok := apperr.KindOf(err)
	if !ok {
		obs.OrNop(log).Error("request failed",
			obs.TraceField(r.Context()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, code, errorResp{Error: "internal error"})
		return
	}
	writeJSON(w, code, errorResp{Error: err.Error(), Kind: string(kind)})
}

// decodeJSON rejects unknown fields and trailing garbage.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid json: %v", err)
	}
	if dec.More() {
		return apperr.Validation("invalid json: trailing data")
	}
	return nil
}
