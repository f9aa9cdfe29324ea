package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/commercekit/payment-reconciler/internal/payment/domain"
	"github.com/commercekit/payment-reconciler/internal/provider"
	"github.com/commercekit/payment-reconciler/pkg/money"
	"github.com/commercekit/payment-reconciler/pkg/tamper"
)

// Service is the transaction factory and the synchronous (API channel) side
// of reconciliation: it creates transactions for an order, performs direct
// payment calls and feeds their responses through the reconciler.
type Service struct {
	log        *slog.Logger
	store      TransactionStore
	orders     OrderStore
	registry   *provider.Registry
	guard      *tamper.Guard
	monitor    *Monitor
	reconciler *Reconciler
	urls       provider.ReturnURLs
}

func NewService(
	log *slog.Logger,
	store TransactionStore,
	orders OrderStore,
	registry *provider.Registry,
	guard *tamper.Guard,
	monitor *Monitor,
	reconciler *Reconciler,
	urls provider.ReturnURLs,
) *Service {
	return &Service{
		log:        log,
		store:      store,
		orders:     orders,
		registry:   registry,
		guard:      guard,
		monitor:    monitor,
		reconciler: reconciler,
		urls:       urls,
	}
}

type CreateInput struct {
	Provider  string
	OrderID   string
	SessionID string
	Origin    domain.Origin
	Tokenize  bool
}

// CreateResult carries everything the storefront needs to complete the
// payment: the reference, the converted amount the tamper token binds, and
// the provider payload for the client-side flow.
type CreateResult struct {
	Reference    string          `json:"reference"`
	Provider     string          `json:"provider"`
	Amount       string          `json:"amount"`
	MinorAmount  int64           `json:"minor_amount"`
	Currency     string          `json:"currency"`
	AccessToken  string          `json:"access_token"`
	ClientAction json.RawMessage `json:"client_action"`
}

func (s *Service) CreateTransaction(ctx context.Context, in CreateInput) (CreateResult, error) {
	adapter, cfg, err := s.registry.Adapter(in.Provider)
	if err != nil {
		return CreateResult{}, err
	}
	order, err := s.orders.Get(ctx, in.OrderID)
	if err != nil {
		return CreateResult{}, fmt.Errorf("loading order %s: %w", in.OrderID, err)
	}
	if !cfg.SupportsCurrency(order.Currency) {
		return CreateResult{}, fmt.Errorf("%w: %s/%s", domain.ErrInvalidCurrency, cfg.Code, order.Currency)
	}
	minor, err := money.ToMinorUnits(order.Total, order.Currency, cfg.DecimalOverrides)
	if err != nil {
		return CreateResult{}, fmt.Errorf("%w: %s", domain.ErrInvalidCurrency, order.Currency)
	}

	origin := in.Origin
	if origin == "" {
		origin = domain.OriginBackend
	}
	now := time.Now().UTC()
	tx := domain.Transaction{
		Reference:        newReference(order.ID),
		Amount:           order.Total,
		Currency:         order.Currency,
		PayerID:          order.Customer,
		ProviderCode:     cfg.Code,
		State:            domain.StateDraft,
		CaptureMode:      cfg.CaptureMode,
		Origin:           origin,
		Tokenize:         in.Tokenize,
		OrderID:          order.ID,
		CreatedAt:        now,
		LastTransitionAt: now,
	}
	if err := s.store.Insert(ctx, tx); err != nil {
		return CreateResult{}, fmt.Errorf("storing transaction: %w", err)
	}
	if err := s.orders.AttachTransaction(ctx, order.ID, tx.Reference); err != nil {
		return CreateResult{}, err
	}
	if in.SessionID != "" {
		if err := s.monitor.Watch(ctx, in.SessionID, tx.Reference); err != nil {
			s.log.Error("watching transaction for session failed", "reference", tx.Reference, "err", err)
		}
	}

	req, err := adapter.BuildRequest(tx, minor, s.urls)
	if err != nil {
		return CreateResult{}, err
	}
	action, err := json.Marshal(map[string]any{
		"url":     req.URL,
		"payload": json.RawMessage(req.Body),
	})
	if err != nil {
		return CreateResult{}, err
	}

	s.log.Info("transaction created",
		"reference", tx.Reference, "provider", cfg.Code,
		"order_id", order.ID, "origin", origin)

	return CreateResult{
		Reference:    tx.Reference,
		Provider:     cfg.Code,
		Amount:       order.Total.String(),
		MinorAmount:  minor,
		Currency:     order.Currency,
		AccessToken:  s.guard.Issue(tx.Reference, minor, tx.PayerID),
		ClientAction: action,
	}, nil
}

type PayInput struct {
	Provider    string
	Reference   string
	AccessToken string
	MinorAmount int64
}

type PayResult struct {
	State  domain.State    `json:"state"`
	Action json.RawMessage `json:"action,omitempty"`
}

// Pay performs the direct provider call for a transaction. The tamper token
// must match the amount the client claims to pay; a mismatch forces the
// transaction to error and is fatal to the caller.
func (s *Service) Pay(ctx context.Context, in PayInput) (PayResult, error) {
	adapter, cfg, err := s.registry.Adapter(in.Provider)
	if err != nil {
		return PayResult{}, err
	}
	tx, err := s.store.GetByReference(ctx, in.Reference)
	if err != nil {
		return PayResult{}, err
	}
	// A replayed confirmation for a settled transaction must not reach the
	// provider again; that would be a second charge attempt.
	if tx.State.Terminal() {
		return PayResult{State: tx.State}, nil
	}
	minor, err := money.ToMinorUnits(tx.Amount, tx.Currency, cfg.DecimalOverrides)
	if err != nil {
		return PayResult{}, err
	}

	if in.MinorAmount != minor || !s.guard.Verify(in.AccessToken, in.Reference, in.MinorAmount, tx.PayerID) {
		s.forceError(ctx, tx.Reference)
		s.log.Warn("tampered payment request",
			"reference", tx.Reference, "claimed_amount", in.MinorAmount, "amount", minor)
		return PayResult{}, domain.ErrTamperedRequest
	}

	// The transaction leaves draft before the network call, so a provider
	// failure leaves it pending and the webhook can settle it later.
	if _, err := s.store.Transition(ctx, tx.Reference,
		[]domain.State{domain.StateDraft}, domain.StatePending, "", nil); err != nil {
		return PayResult{}, err
	}

	req, err := adapter.BuildRequest(tx, minor, s.urls)
	if err != nil {
		return PayResult{}, err
	}
	resp, err := adapter.Send(ctx, req)
	if err != nil {
		s.log.Error("provider call failed, transaction left pending",
			"reference", tx.Reference, "err", err)
		return PayResult{State: domain.StatePending}, err
	}
	outcome, err := adapter.Parse(resp)
	if err != nil {
		return PayResult{State: domain.StatePending}, err
	}

	result, err := s.reconciler.Apply(ctx, Event{
		Reference: tx.Reference,
		Outcome:   outcome,
		Channel:   domain.ChannelAPI,
	})
	if err != nil {
		return PayResult{}, err
	}
	return PayResult{State: result.State, Action: outcome.Payload}, nil
}

// Capture sends the provider capture request for a manually-authorized
// transaction and reconciles the response like any sync API outcome.
func (s *Service) Capture(ctx context.Context, reference string) (Result, error) {
	return s.captureOrVoid(ctx, reference, false)
}

// Void cancels an uncaptured authorization.
func (s *Service) Void(ctx context.Context, reference string) (Result, error) {
	return s.captureOrVoid(ctx, reference, true)
}

func (s *Service) captureOrVoid(ctx context.Context, reference string, void bool) (Result, error) {
	tx, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return Result{}, err
	}
	if tx.State != domain.StateAuthorized {
		return Result{State: tx.State}, fmt.Errorf("transaction %s is %s, not authorized", reference, tx.State)
	}
	adapter, cfg, err := s.registry.Adapter(tx.ProviderCode)
	if err != nil {
		return Result{}, err
	}
	cv, ok := adapter.(provider.CaptureVoider)
	if !ok {
		return Result{}, fmt.Errorf("provider %s does not support manual capture", tx.ProviderCode)
	}

	var req *provider.Request
	if void {
		req, err = cv.VoidRequest(tx)
	} else {
		var minor int64
		minor, err = money.ToMinorUnits(tx.Amount, tx.Currency, cfg.DecimalOverrides)
		if err == nil {
			req, err = cv.CaptureRequest(tx, minor)
		}
	}
	if err != nil {
		return Result{}, err
	}
	resp, err := adapter.Send(ctx, req)
	if err != nil {
		return Result{State: tx.State}, err
	}
	outcome, err := adapter.Parse(resp)
	if err != nil {
		return Result{State: tx.State}, err
	}
	if void && outcome.Code == domain.OutcomeAuthorized {
		// Cancel endpoints answer with a received/authorised style status;
		// the definitive cancellation is what we asked for.
		outcome.Code = domain.OutcomeCancelled
	}
	return s.reconciler.Apply(ctx, Event{
		Reference: reference,
		Outcome:   outcome,
		Channel:   domain.ChannelAPI,
	})
}

// forceError pushes a transaction to the error state after a tamper check
// failure, through the reconciler so the failure side effects (cart release)
// still fire exactly once. Best effort: the transaction may be terminal.
func (s *Service) forceError(ctx context.Context, reference string) {
	_, err := s.reconciler.Apply(ctx, Event{
		Reference: reference,
		Outcome:   domain.Outcome{Code: domain.OutcomeError},
		Channel:   domain.ChannelAPI,
	})
	if err != nil {
		s.log.Error("forcing transaction to error failed", "reference", reference, "err", err)
	}
}

// newReference derives a unique, never-reused reference from the order id,
// e.g. "SO1-7f3a2b1c".
func newReference(orderID string) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s-%s", orderID, suffix)
}
