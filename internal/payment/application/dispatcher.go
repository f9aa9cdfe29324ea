package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	orderdomain "github.com/commercekit/payment-reconciler/internal/order/domain"
	"github.com/commercekit/payment-reconciler/internal/payment/domain"
)

// Dispatcher owns the order-level side effects of a terminal transaction.
// It is invoked exactly once per transaction, by whichever channel won the
// state transition.
type Dispatcher struct {
	log    *slog.Logger
	orders OrderStore
	txs    TransactionStore
}

func NewDispatcher(log *slog.Logger, orders OrderStore, txs TransactionStore) *Dispatcher {
	return &Dispatcher{log: log, orders: orders, txs: txs}
}

// confirmOptions picks the host-flow behavior per origin. The storefront owns
// its own confirmation UX: it may need to show an error page instead of
// silently emailing a quote, so frontend-created transactions confirm the
// order without the default email or cart clearing. Pay-by-link orders are
// backend-created but storefront-consumed, so only the email is suppressed.
func confirmOptions(origin domain.Origin) orderdomain.ConfirmOptions {
	switch origin {
	case domain.OriginFrontend:
		return orderdomain.ConfirmOptions{SendEmail: false, ClearCart: false, Invoice: true}
	case domain.OriginPayLink:
		return orderdomain.ConfirmOptions{SendEmail: false, ClearCart: true, Invoice: true}
	default:
		return orderdomain.ConfirmOptions{SendEmail: true, ClearCart: true, Invoice: true}
	}
}

func (d *Dispatcher) OnTerminal(ctx context.Context, tx domain.Transaction) error {
	log := d.log.With("reference", tx.Reference, "state", tx.State, "origin", tx.Origin)

	if tx.OrderID == "" {
		log.Debug("terminal transaction without order, nothing to dispatch")
		return nil
	}

	switch tx.State {
	case domain.StateDone:
		if err := d.orders.Confirm(ctx, tx.OrderID, confirmOptions(tx.Origin)); err != nil {
			return fmt.Errorf("confirming order %s: %w", tx.OrderID, err)
		}
		log.Info("order confirmed", "order_id", tx.OrderID)
		if tx.Tokenize && tx.ProviderReference != "" {
			if err := d.txs.SaveToken(ctx, domain.PaymentToken{
				PayerID:      tx.PayerID,
				ProviderCode: tx.ProviderCode,
				TokenRef:     tx.ProviderReference,
				CreatedAt:    time.Now().UTC(),
			}); err != nil {
				log.Error("storing payment token failed", "err", err)
			}
		}
	case domain.StateCancelled, domain.StateError:
		if err := d.orders.Release(ctx, tx.OrderID); err != nil {
			return fmt.Errorf("releasing order %s: %w", tx.OrderID, err)
		}
		log.Info("order released", "order_id", tx.OrderID)
	}
	return nil
}
