package application

import (
	"context"
	"errors"
	"log/slog"

	orderdomain "github.com/commercekit/payment-reconciler/internal/order/domain"
	"github.com/commercekit/payment-reconciler/internal/payment/domain"
)

// Monitor is the session poll bridge: a decoupled storefront cannot receive a
// server push, so it polls the state of the transactions its session watches.
// The session identifier is always an explicit parameter.
type Monitor struct {
	log    *slog.Logger
	store  MonitorStore
	txs    TransactionStore
	orders OrderStore
}

func NewMonitor(log *slog.Logger, store MonitorStore, txs TransactionStore, orders OrderStore) *Monitor {
	return &Monitor{log: log, store: store, txs: txs, orders: orders}
}

type PollStatus struct {
	Reference string                `json:"reference"`
	State     domain.State          `json:"state"`
	Terminal  bool                  `json:"terminal"`
	Order     *orderdomain.Snapshot `json:"order,omitempty"`
}

func (m *Monitor) Watch(ctx context.Context, sessionID, reference string) error {
	return m.store.Watch(ctx, sessionID, reference)
}

// Poll reports the most recently watched reference's state. A session may
// hold stale references from abandoned attempts; only the newest one counts.
func (m *Monitor) Poll(ctx context.Context, sessionID string) (PollStatus, error) {
	refs, err := m.store.References(ctx, sessionID)
	if err != nil {
		return PollStatus{}, err
	}
	if len(refs) == 0 {
		return PollStatus{}, domain.ErrNothingMonitored
	}
	reference := refs[0]

	tx, err := m.txs.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTransaction) {
			return PollStatus{}, domain.ErrNothingMonitored
		}
		return PollStatus{}, err
	}

	status := PollStatus{
		Reference: reference,
		State:     tx.State,
		Terminal:  tx.State.Terminal(),
	}
	if status.Terminal && tx.OrderID != "" {
		order, err := m.orders.Get(ctx, tx.OrderID)
		if err != nil {
			m.log.Error("loading order snapshot for poll", "order_id", tx.OrderID, "err", err)
		} else {
			snap := order.Snapshot()
			status.Order = &snap
		}
	}
	return status, nil
}

func (m *Monitor) Clear(ctx context.Context, sessionID string) error {
	return m.store.Clear(ctx, sessionID)
}
