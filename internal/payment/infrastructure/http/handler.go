package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	orderdomain "github.com/commercekit/payment-reconciler/internal/order/domain"
	"github.com/commercekit/payment-reconciler/internal/payment/application"
	"github.com/commercekit/payment-reconciler/internal/payment/domain"
	"github.com/commercekit/payment-reconciler/internal/provider"
)

// Deduper drops duplicate webhook deliveries before they hit the store. The
// reconciler stays idempotent without it; this only sheds retry load. Keys
// are marked only after a successful apply so a failed first delivery stays
// retryable.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// Handler is the ingress surface for all three reconciliation channels: the
// synchronous API path, the browser redirect return and the provider
// webhook, plus the storefront-facing creation and poll endpoints.
type Handler struct {
	log        *slog.Logger
	svc        *application.Service
	reconciler *application.Reconciler
	monitor    *application.Monitor
	registry   *provider.Registry
	dedupe     Deduper
	urls       provider.ReturnURLs
	tracer     trace.Tracer
}

func NewHandler(
	log *slog.Logger,
	svc *application.Service,
	reconciler *application.Reconciler,
	monitor *application.Monitor,
	registry *provider.Registry,
	dedupe Deduper,
	urls provider.ReturnURLs,
) *Handler {
	return &Handler{
		log:        log,
		svc:        svc,
		reconciler: reconciler,
		monitor:    monitor,
		registry:   registry,
		dedupe:     dedupe,
		urls:       urls,
		tracer:     otel.Tracer("payment-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/payments/transactions", h.createTransaction)
	r.Post("/payments/{provider}/pay", h.pay)
	r.Get("/payments/{provider}/return", h.redirectReturn)
	r.Post("/payments/{provider}/webhook", h.webhook)
	r.Get("/payments/{provider}/info", h.providerInfo)
	r.Get("/payments/status", h.pollStatus)
	return r
}

type createTransactionReq struct {
	Provider string `json:"provider"`
	OrderID  string `json:"order_id"`
	Origin   string `json:"origin"`
	Tokenize bool   `json:"tokenize"`
}

func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateTransaction")
	defer span.End()

	var req createTransactionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	result, err := h.svc.CreateTransaction(ctx, application.CreateInput{
		Provider:  req.Provider,
		OrderID:   req.OrderID,
		SessionID: sessionID(r),
		Origin:    domain.Origin(req.Origin),
		Tokenize:  req.Tokenize,
	})
	switch {
	case errors.Is(err, domain.ErrInvalidCurrency):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case errors.Is(err, orderdomain.ErrNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
		return
	case err != nil:
		h.log.Error("create transaction failed", "err", err)
		http.Error(w, "could not create transaction", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(result)
}

type payReq struct {
	Reference   string `json:"reference"`
	AccessToken string `json:"access_token"`
	MinorAmount int64  `json:"minor_amount"`
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Pay")
	defer span.End()

	var req payReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	result, err := h.svc.Pay(ctx, application.PayInput{
		Provider:    chi.URLParam(r, "provider"),
		Reference:   req.Reference,
		AccessToken: req.AccessToken,
		MinorAmount: req.MinorAmount,
	})
	switch {
	case errors.Is(err, domain.ErrTamperedRequest):
		http.Error(w, "tampered payment request data", http.StatusForbidden)
		return
	case errors.Is(err, domain.ErrUnknownTransaction):
		http.Error(w, "unknown transaction", http.StatusNotFound)
		return
	case errors.Is(err, domain.ErrProviderUnreachable), errors.Is(err, domain.ErrProviderHTTP):
		// The transaction stays pending; the webhook settles it later.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"state": string(domain.StatePending)})
		return
	case err != nil:
		h.log.Error("pay failed", "reference", req.Reference, "err", err)
		http.Error(w, "payment failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// redirectReturn handles the browser coming back from the provider. It is
// deliberately not CSRF-protected (the provider calls it cross-site) and
// never relies on a session: the transaction is matched purely on the
// reference in the query string.
func (h *Handler) redirectReturn(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RedirectReturn")
	defer span.End()

	code := chi.URLParam(r, "provider")
	adapter, _, err := h.registry.Adapter(code)
	if err != nil {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}

	reference, outcome, err := adapter.ResolveRedirect(ctx, r.URL.Query())
	if err != nil {
		h.log.Warn("redirect return could not be resolved", "provider", code, "err", err)
		h.statusUnknown(w)
		return
	}

	result, err := h.reconciler.Apply(ctx, application.Event{
		Reference: reference,
		Outcome:   outcome,
		Channel:   domain.ChannelRedirect,
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTransaction) {
			h.statusUnknown(w)
			return
		}
		h.log.Error("redirect reconciliation failed", "reference", reference, "err", err)
		h.statusUnknown(w)
		return
	}

	// Even when the webhook already finalized the transaction, the browser
	// still gets sent to the page matching the final state.
	target := h.urls.Success
	if result.State == domain.StateCancelled || result.State == domain.StateError {
		target = h.urls.Error
	}
	http.Redirect(w, r, fmt.Sprintf("%s?reference=%s&state=%s", target, reference, result.State), http.StatusFound)
}

func (h *Handler) statusUnknown(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("payment status unknown"))
}

// webhook ingests provider notifications. Items are processed one by one and
// failures never abort the batch; the fixed acknowledgment goes back
// regardless so the provider's retry policy is not amplified. Events with
// invalid signatures are dropped and logged, nothing else.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Webhook")
	defer span.End()

	code := chi.URLParam(r, "provider")
	adapter, cfg, err := h.registry.Adapter(code)
	if err != nil {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	ev := provider.RawEvent{Body: body, Signature: eventSignature(r)}

	notifications, err := adapter.ParseWebhook(ev, cfg.WebhookSecret)
	if err != nil {
		h.log.Warn("webhook body could not be parsed", "provider", code, "err", err)
		h.ack(w, code)
		return
	}

	for _, n := range notifications {
		log := h.log.With("provider", code, "reference", n.Reference)
		if n.Err != nil {
			log.Warn("webhook item dropped", "err", n.Err)
			continue
		}
		key := fmt.Sprintf("webhook:%s:%s:%s:%s", code, n.Reference, n.Outcome.ProviderReference, n.Outcome.Code)
		if h.dedupe != nil {
			if seen, err := h.dedupe.Seen(ctx, key); err == nil && seen {
				log.Debug("duplicate webhook item skipped")
				continue
			}
		}
		if _, err := h.reconciler.Apply(ctx, application.Event{
			Reference:   n.Reference,
			Outcome:     n.Outcome,
			Channel:     domain.ChannelWebhook,
			SignatureOK: true,
		}); err != nil {
			// Left unmarked: the provider's retry gets another attempt once
			// the failure clears.
			if !errors.Is(err, domain.ErrUnknownTransaction) {
				log.Error("webhook reconciliation failed", "err", err)
			}
			continue
		}
		if h.dedupe != nil {
			if err := h.dedupe.Mark(ctx, key); err != nil {
				log.Warn("marking webhook item as seen failed", "err", err)
			}
		}
	}
	h.ack(w, code)
}

// ack writes the provider's expected fixed acknowledgment.
func (h *Handler) ack(w http.ResponseWriter, code string) {
	if code == provider.CodeAdyen {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("[accepted]"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
}

// providerInfo exposes the non-secret provider configuration the storefront
// drop-in needs.
func (h *Handler) providerInfo(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "provider")
	_, cfg, err := h.registry.Adapter(code)
	if err != nil {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":        cfg.Code,
		"environment": cfg.Environment,
		"currencies":  cfg.SupportedCurrencies,
	})
}

func (h *Handler) pollStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "PollStatus")
	defer span.End()

	session := sessionID(r)
	if session == "" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}
	status, err := h.monitor.Poll(ctx, session)
	if errors.Is(err, domain.ErrNothingMonitored) {
		http.Error(w, "no monitored transaction", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("poll failed", "session", session, "err", err)
		http.Error(w, "poll failed", http.StatusInternalServerError)
		return
	}
	if status.Terminal {
		// The terminal state has been consumed; stop watching.
		if err := h.monitor.Clear(ctx, session); err != nil {
			h.log.Error("clearing monitored session failed", "session", session, "err", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func sessionID(r *http.Request) string {
	if s := r.URL.Query().Get("session"); s != "" {
		return s
	}
	return r.Header.Get("X-Session-Id")
}

func eventSignature(r *http.Request) string {
	if sig := r.Header.Get("Stripe-Signature"); sig != "" {
		return sig
	}
	return r.Header.Get("X-Signature")
}
