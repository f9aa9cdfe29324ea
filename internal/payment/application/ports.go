package application

import (
	"context"

	orderdomain "github.com/commercekit/payment-reconciler/internal/order/domain"
	"github.com/commercekit/payment-reconciler/internal/payment/domain"
	"github.com/commercekit/payment-reconciler/pkg/outbox"
)

type TransactionStore interface {
	Insert(ctx context.Context, tx domain.Transaction) error

	// GetByReference returns domain.ErrUnknownTransaction when no transaction
	// carries the reference.
	GetByReference(ctx context.Context, reference string) (domain.Transaction, error)

	// Transition applies a compare-and-swap state change: the update only
	// lands when the current state is one of `from`, and the given outbox
	// records are written in the same database transaction. The returned
	// bool reports whether this caller won the transition.
	Transition(ctx context.Context, reference string, from []domain.State, to domain.State, providerRef string, events []outbox.Record) (bool, error)

	SaveToken(ctx context.Context, token domain.PaymentToken) error
}

type OrderStore interface {
	Get(ctx context.Context, id string) (orderdomain.Order, error)
	AttachTransaction(ctx context.Context, orderID, reference string) error

	// Confirm is idempotent; options decide which host side effects
	// (confirmation email, cart clearing, invoice) are recorded.
	Confirm(ctx context.Context, orderID string, opts orderdomain.ConfirmOptions) error

	// Release frees the cart hold after a failed payment.
	Release(ctx context.Context, orderID string) error
}

// MonitorStore keeps the ordered list of references a session is watching.
type MonitorStore interface {
	Watch(ctx context.Context, sessionID, reference string) error

	// References returns the watched references, most recently added first.
	References(ctx context.Context, sessionID string) ([]string, error)

	Clear(ctx context.Context, sessionID string) error
}

// Locker serializes reconciliation per transaction reference.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}
