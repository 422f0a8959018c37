// Package gateway talks to the hosted-checkout payment provider over its REST API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-instrument-store/internal/obs"
	"github.com/ariefcatur/go-instrument-store/internal/payments"
)

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway answered %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway answered %d: %s", e.StatusCode, e.Message)
}

// Retryable is true for provider-side and throttling failures.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// tripsBreaker counts transport failures and retryable answers; a 4xx is the caller's fault.
func tripsBreaker(err error) bool {
	var api *APIError
	if errors.As(err, &api) {
		return api.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *CircuitBreaker
	log     *zap.Logger
}

type Options struct {
	BaseURL         string
	AccessToken     string
	Timeout         time.Duration
	BreakerFailures int
	BreakerReset    time.Duration
	HTTPClient      *http.Client
}

func NewClient(opts Options, log *zap.Logger) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.AccessToken,
		http:    hc,
		breaker: NewCircuitBreaker(opts.BreakerFailures, opts.BreakerReset, tripsBreaker),
		log:     obs.OrNop(log),
	}
}

var _ payments.Gateway = (*Client)(nil)

// ---- wire types ----

type preferenceItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	CurrencyID  string  `json:"currency_id"`
}

type preferenceRequest struct {
	Items               []preferenceItem `json:"items"`
	Payer               payer            `json:"payer"`
	BackURLs            backURLs         `json:"back_urls"`
	AutoReturn          string           `json:"auto_return,omitempty"`
	ExternalReference   string           `json:"external_reference"`
	NotificationURL     string           `json:"notification_url,omitempty"`
	StatementDescriptor string           `json:"statement_descriptor,omitempty"`
	Metadata            map[string]any   `json:"metadata,omitempty"`
}

type payer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type backURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

type preferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// flexID accepts ids sent as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexID(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*f = flexID(s)
	return nil
}

type paymentResource struct {
	ID                flexID          `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	ExternalReference string          `json:"external_reference"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	DateCreated       time.Time       `json:"date_created"`
}

func (p paymentResource) transaction() payments.Transaction {
	return payments.Transaction{
		ID:                string(p.ID),
		Status:            p.Status,
		StatusDetail:      p.StatusDetail,
		ExternalReference: p.ExternalReference,
		Amount:            p.TransactionAmount,
		CreatedAt:         p.DateCreated,
	}
}

type searchResponse struct {
	Results []paymentResource `json:"results"`
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// ---- operations ----

func (c *Client) CreateIntent(ctx context.Context, req payments.IntentRequest) (payments.Intent, error) {
	body := preferenceRequest{
		Payer: payer{Name: req.Buyer.Name, Email: req.Buyer.Email},
		BackURLs: backURLs{
			Success: req.BackURLs.Success,
			Failure: req.BackURLs.Failure,
			Pending: req.BackURLs.Pending,
		},
		AutoReturn:          "approved",
		ExternalReference:   req.ExternalReference,
		NotificationURL:     req.NotificationURL,
		StatementDescriptor: req.StatementDescriptor,
		Metadata:            map[string]any{"description": req.Description},
	}
	if req.BackURLs.Success == "" {
		body.AutoReturn = ""
	}
	for _, it := range req.Items {
		body.Items = append(body.Items, preferenceItem{
			ID:          it.ID,
			Title:       it.Title,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.InexactFloat64(),
			CurrencyID:  it.Currency,
		})
	}

	var out preferenceResponse
	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", body, &out); err != nil {
		return payments.Intent{}, err
	}
	return payments.Intent{ID: out.ID, RedirectURL: out.InitPoint, SandboxRedirectURL: out.SandboxInitPoint}, nil
}

func (c *Client) GetTransaction(ctx context.Context, id string) (payments.Transaction, error) {
	var out paymentResource
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, &out); err != nil {
		return payments.Transaction{}, err
	}
	return out.transaction(), nil
}

func (c *Client) SearchTransactions(ctx context.Context, externalReference string) ([]payments.Transaction, error) {
	q := url.Values{}
	q.Set("external_reference", externalReference)
	q.Set("sort", "date_created")
	q.Set("criteria", "desc")

	var out searchResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payments/search?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	txs := make([]payments.Transaction, 0, len(out.Results))
	for _, r := range out.Results {
		txs = append(txs, r.transaction())
	}
	return txs, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		var body io.Reader
		if in != nil {
			b, err := json.Marshal(in)
			if err != nil {
				return fmt.Errorf("encode request: %w", err)
			}
			body = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Idempotency-Key", uuid.NewString())
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			var eb errorBody
			_ = json.Unmarshal(raw, &eb)
			if eb.Message == "" {
				eb.Message = strings.TrimSpace(string(raw))
			}
			c.log.Warn("gateway error response",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.String("message", eb.Message))
			return &APIError{StatusCode: resp.StatusCode, Message: eb.Message, Code: eb.Error}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}
