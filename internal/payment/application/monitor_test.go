package application

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orderdomain "github.com/commercekit/payment-reconciler/internal/order/domain"
	"github.com/commercekit/payment-reconciler/internal/payment/domain"
	"github.com/commercekit/payment-reconciler/internal/payment/infrastructure/memory"
)

func newMonitorFixture(t *testing.T) (*Monitor, *memory.Store, *memory.Monitors) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	monitors := memory.NewMonitors()
	orders := memory.NewOrders(orderdomain.Order{
		ID:       "SO1",
		Total:    decimal.RequireFromString("49.99"),
		Currency: "EUR",
		Status:   orderdomain.StatusConfirmed,
	})
	return NewMonitor(log, monitors, store, orders), store, monitors
}

func TestMonitor_PollReportsNewestReference(t *testing.T) {
	m, store, _ := newMonitorFixture(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, domain.Transaction{Reference: "SO1-old", State: domain.StateError}))
	require.NoError(t, store.Insert(ctx, domain.Transaction{Reference: "SO1-new", State: domain.StatePending}))
	require.NoError(t, m.Watch(ctx, "sess", "SO1-old"))
	require.NoError(t, m.Watch(ctx, "sess", "SO1-new"))

	// An abandoned earlier attempt must not shadow the active one.
	status, err := m.Poll(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, "SO1-new", status.Reference)
	assert.Equal(t, domain.StatePending, status.State)
	assert.False(t, status.Terminal)
	assert.Nil(t, status.Order)
}

func TestMonitor_PollTerminalAttachesOrderSnapshot(t *testing.T) {
	m, store, _ := newMonitorFixture(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, domain.Transaction{
		Reference: "SO1-a", State: domain.StateDone, OrderID: "SO1",
	}))
	require.NoError(t, m.Watch(ctx, "sess", "SO1-a"))

	status, err := m.Poll(ctx, "sess")
	require.NoError(t, err)
	assert.True(t, status.Terminal)
	require.NotNil(t, status.Order)
	assert.Equal(t, "SO1", status.Order.ID)
	assert.Equal(t, orderdomain.StatusConfirmed, status.Order.Status)
}

func TestMonitor_PollNothingMonitored(t *testing.T) {
	m, _, _ := newMonitorFixture(t)
	ctx := context.Background()

	_, err := m.Poll(ctx, "sess")
	assert.ErrorIs(t, err, domain.ErrNothingMonitored)

	// A watched reference whose transaction vanished counts the same.
	require.NoError(t, m.Watch(ctx, "sess", "gone"))
	_, err = m.Poll(ctx, "sess")
	assert.ErrorIs(t, err, domain.ErrNothingMonitored)
}

func TestMonitor_Clear(t *testing.T) {
	m, store, monitors := newMonitorFixture(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, domain.Transaction{Reference: "SO1-a", State: domain.StateDone}))
	require.NoError(t, m.Watch(ctx, "sess", "SO1-a"))
	require.NoError(t, m.Clear(ctx, "sess"))

	refs, err := monitors.References(ctx, "sess")
	require.NoError(t, err)
	assert.Empty(t, refs)
}
