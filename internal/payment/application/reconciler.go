package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/commercekit/payment-reconciler/internal/payment/domain"
	"github.com/commercekit/payment-reconciler/pkg/outbox"
)

// Event is one outcome delivery from any ingress channel. SignatureOK is set
// by the webhook ingress after provider signature verification; the
// reconciler refuses unverified webhook events outright.
type Event struct {
	Reference   string
	Outcome     domain.Outcome
	Channel     domain.Channel
	SignatureOK bool
}

// Result reports the state after the event was applied and whether this
// delivery performed the transition. Only the transitioning delivery fires
// side effects.
type Result struct {
	State        domain.State
	Transitioned bool
}

// Reconciler is the state machine core. The three ingress channels are
// concurrent and unordered; whichever delivery wins the per-reference lock
// and the store's compare-and-swap decides the transition, every other
// delivery of the same outcome degrades to an acknowledged no-op.
type Reconciler struct {
	log        *slog.Logger
	store      TransactionStore
	locks      Locker
	dispatcher *Dispatcher
}

func NewReconciler(log *slog.Logger, store TransactionStore, locks Locker, dispatcher *Dispatcher) *Reconciler {
	return &Reconciler{log: log, store: store, locks: locks, dispatcher: dispatcher}
}

// transitionSources lists the states a target may be entered from. Anything
// else is a no-op, which keeps transitions monotonic.
func transitionSources(target domain.State) []domain.State {
	switch target {
	case domain.StatePending:
		return []domain.State{domain.StateDraft}
	case domain.StateAuthorized:
		return []domain.State{domain.StateDraft, domain.StatePending}
	default:
		return []domain.State{domain.StateDraft, domain.StatePending, domain.StateAuthorized}
	}
}

func (r *Reconciler) Apply(ctx context.Context, ev Event) (Result, error) {
	log := r.log.With("reference", ev.Reference, "channel", ev.Channel, "outcome", ev.Outcome.Code)

	if ev.Channel == domain.ChannelWebhook && !ev.SignatureOK {
		log.Warn("dropping webhook event with invalid signature")
		return Result{}, domain.ErrSignatureInvalid
	}

	release, err := r.locks.Lock(ctx, "tx:"+ev.Reference)
	if err != nil {
		return Result{}, err
	}
	defer release()

	tx, err := r.store.GetByReference(ctx, ev.Reference)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTransaction) {
			log.Warn("dropping event for unknown reference")
		}
		return Result{}, err
	}

	// Terminal transactions never move again; the event is still
	// acknowledged so providers stop retrying.
	if tx.State.Terminal() {
		log.Debug("ignoring event for terminal transaction", "state", tx.State)
		return Result{State: tx.State}, nil
	}

	target, ok := ev.Outcome.TargetState(tx.CaptureMode)
	if !ok {
		return Result{State: tx.State}, fmt.Errorf("unmapped outcome code %q", ev.Outcome.Code)
	}

	var records []outbox.Record
	if target.Terminal() {
		payload, err := json.Marshal(terminalEvent{
			Reference:         tx.Reference,
			State:             target,
			ProviderCode:      tx.ProviderCode,
			ProviderReference: ev.Outcome.ProviderReference,
			OrderID:           tx.OrderID,
			Origin:            tx.Origin,
			Channel:           ev.Channel,
		})
		if err != nil {
			return Result{State: tx.State}, err
		}
		records = append(records, outbox.Record{
			AggregateType: "payment_transaction",
			AggregateID:   tx.Reference,
			Type:          "payment." + string(target),
			Payload:       payload,
		})
	}

	won, err := r.store.Transition(ctx, ev.Reference, transitionSources(target), target, ev.Outcome.ProviderReference, records)
	if err != nil {
		return Result{State: tx.State}, err
	}
	if !won {
		// A concurrent channel got there first; report what it decided.
		current, err := r.store.GetByReference(ctx, ev.Reference)
		if err != nil {
			return Result{}, err
		}
		log.Info("transition lost to concurrent channel", "state", current.State)
		return Result{State: current.State}, nil
	}

	log.Info("transaction transitioned", "from", tx.State, "to", target)

	if target.Terminal() {
		tx.State = target
		if ev.Outcome.ProviderReference != "" {
			tx.ProviderReference = ev.Outcome.ProviderReference
		}
		if err := r.dispatcher.OnTerminal(ctx, tx); err != nil {
			// The transition is committed; side-effect failures are logged
			// and left to the outbox-driven consumers, never retried here.
			log.Error("terminal side effects failed", "err", err)
		}
	}
	return Result{State: target, Transitioned: true}, nil
}

type terminalEvent struct {
	Reference         string         `json:"reference"`
	State             domain.State   `json:"state"`
	ProviderCode      string         `json:"provider_code"`
	ProviderReference string         `json:"provider_reference"`
	OrderID           string         `json:"order_id,omitempty"`
	Origin            domain.Origin  `json:"origin"`
	Channel           domain.Channel `json:"channel"`
}
