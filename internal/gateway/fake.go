package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/ariefcatur/go-instrument-store/internal/payments"
)

// Fake is an in-memory gateway for local runs and tests. Transactions are injected with
// PutTransaction; failures with SetError.
type Fake struct {
	mu      sync.Mutex
	seq     int
	intents map[string]payments.IntentRequest
	txs     map[string]payments.Transaction
	errs    map[string]error
	calls   map[string]int
	last    payments.IntentRequest
}

const (
	OpCreateIntent       = "create_intent"
	OpGetTransaction     = "get_transaction"
	OpSearchTransactions = "search_transactions"
)

func NewFake() *Fake {
	return &Fake{
		intents: map[string]payments.IntentRequest{},
		txs:     map[string]payments.Transaction{},
		errs:    map[string]error{},
		calls:   map[string]int{},
	}
}

var _ payments.Gateway = (*Fake)(nil)

func (f *Fake) CreateIntent(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[OpCreateIntent]++
	if err := f.errs[OpCreateIntent]; err != nil {
		return payments.Intent{}, err
	}
	f.seq++
	id := fmt.Sprintf("intent-%d", f.seq)
	f.intents[id] = req
	f.last = req
	return payments.Intent{
		ID:                 id,
		RedirectURL:        "https://checkout.gateway.test/" + id,
		SandboxRedirectURL: "https://sandbox.checkout.gateway.test/" + id,
	}, nil
}

func (f *Fake) GetTransaction(_ context.Context, id string) (payments.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[OpGetTransaction]++
	if err := f.errs[OpGetTransaction]; err != nil {
		return payments.Transaction{}, err
	}
	tx, ok := f.txs[id]
	if !ok {
		return payments.Transaction{}, &APIError{StatusCode: 404, Message: "payment not found"}
	}
	return tx, nil
}

func (f *Fake) SearchTransactions(_ context.Context, externalReference string) ([]payments.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[OpSearchTransactions]++
	if err := f.errs[OpSearchTransactions]; err != nil {
		return nil, err
	}
	var out []payments.Transaction
	for _, tx := range f.txs {
		if tx.ExternalReference == externalReference {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *Fake) PutTransaction(tx payments.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[tx.ID] = tx
}

// SetError makes every call of op fail with err until it is reset with nil.
func (f *Fake) SetError(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) LastIntent() payments.IntentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
