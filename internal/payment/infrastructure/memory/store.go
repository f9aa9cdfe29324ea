// Package memory provides in-process implementations of the application
// ports. They back the unit tests and local development without Postgres or
// Redis, and mirror the stores' semantics: the transition compare-and-swap,
// ordered monitor lists, per-key locking.
package memory

import (
	"context"
	"sync"
	"time"

	orderdomain "github.com/commercekit/payment-reconciler/internal/order/domain"
	"github.com/commercekit/payment-reconciler/internal/payment/domain"
	"github.com/commercekit/payment-reconciler/pkg/outbox"
)

type Store struct {
	mu     sync.Mutex
	txs    map[string]domain.Transaction
	Tokens []domain.PaymentToken
	Events []outbox.Record
}

func NewStore() *Store {
	return &Store{txs: make(map[string]domain.Transaction)}
}

func (s *Store) Insert(_ context.Context, t domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[t.Reference] = t
	return nil
}

func (s *Store) GetByReference(_ context.Context, reference string) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[reference]
	if !ok {
		return domain.Transaction{}, domain.ErrUnknownTransaction
	}
	return t, nil
}

func (s *Store) Transition(_ context.Context, reference string, from []domain.State, to domain.State, providerRef string, events []outbox.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[reference]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, f := range from {
		if t.State == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	t.State = to
	if providerRef != "" {
		t.ProviderReference = providerRef
	}
	t.LastTransitionAt = time.Now().UTC()
	s.txs[reference] = t
	s.Events = append(s.Events, events...)
	return true, nil
}

func (s *Store) SaveToken(_ context.Context, token domain.PaymentToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tokens = append(s.Tokens, token)
	return nil
}

type Orders struct {
	mu        sync.Mutex
	m         map[string]orderdomain.Order
	Confirmed []ConfirmCall
	Released  []string
}

type ConfirmCall struct {
	OrderID string
	Opts    orderdomain.ConfirmOptions
}

func NewOrders(orders ...orderdomain.Order) *Orders {
	o := &Orders{m: make(map[string]orderdomain.Order)}
	for _, ord := range orders {
		o.m[ord.ID] = ord
	}
	return o
}

func (o *Orders) Get(_ context.Context, id string) (orderdomain.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ord, ok := o.m[id]
	if !ok {
		return orderdomain.Order{}, orderdomain.ErrNotFound
	}
	return ord, nil
}

func (o *Orders) AttachTransaction(_ context.Context, orderID, reference string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	ord := o.m[orderID]
	ord.LastTransaction = reference
	o.m[orderID] = ord
	return nil
}

func (o *Orders) Confirm(_ context.Context, orderID string, opts orderdomain.ConfirmOptions) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	ord := o.m[orderID]
	if ord.Status == orderdomain.StatusConfirmed {
		return nil
	}
	ord.Status = orderdomain.StatusConfirmed
	ord.Locked = true
	o.m[orderID] = ord
	o.Confirmed = append(o.Confirmed, ConfirmCall{OrderID: orderID, Opts: opts})
	return nil
}

func (o *Orders) Release(_ context.Context, orderID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	ord := o.m[orderID]
	if ord.Status != orderdomain.StatusPending {
		return nil
	}
	ord.Status = orderdomain.StatusReleased
	o.m[orderID] = ord
	o.Released = append(o.Released, orderID)
	return nil
}

type Monitors struct {
	mu   sync.Mutex
	refs map[string][]string
}

func NewMonitors() *Monitors {
	return &Monitors{refs: make(map[string][]string)}
}

func (m *Monitors) Watch(_ context.Context, sessionID, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[sessionID] = append([]string{reference}, m.refs[sessionID]...)
	return nil
}

func (m *Monitors) References(_ context.Context, sessionID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.refs[sessionID]...), nil
}

func (m *Monitors) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refs, sessionID)
	return nil
}

// Locks is a per-key mutex table with the same contract as the Redis lock.
type Locks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func NewLocks() *Locks {
	return &Locks{m: make(map[string]*sync.Mutex)}
}

func (l *Locks) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	mu, ok := l.m[key]
	if !ok {
		mu = &sync.Mutex{}
		l.m[key] = mu
	}
	l.mu.Unlock()
	mu.Lock()
	return mu.Unlock, nil
}

// Deduper is the in-process stand-in for the Redis seen-set.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]struct{})}
}

func (d *Deduper) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[key]
	return ok, nil
}

func (d *Deduper) Mark(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = struct{}{}
	return nil
}
