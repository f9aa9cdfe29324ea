// Package provider holds the adapters that translate between the canonical
// transaction model and each payment provider's wire format. Adapters build
// requests, talk to the provider and normalize responses; they never touch
// transaction state.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/commercekit/payment-reconciler/internal/payment/domain"
)

// Config is a provider record: credentials, environment and the capture and
// currency rules the factory needs before dispatching. Secrets are held here
// and must never be logged.
type Config struct {
	Code                string
	Environment         string // "test" or "live"
	APIURL              string
	APIKey              string
	MerchantAccount     string
	WebhookSecret       string
	CaptureMode         domain.CaptureMode
	SupportedCurrencies []string
	DecimalOverrides    map[string]int
}

func (c Config) SupportsCurrency(currency string) bool {
	if len(c.SupportedCurrencies) == 0 {
		return true
	}
	for _, cur := range c.SupportedCurrencies {
		if cur == currency {
			return true
		}
	}
	return false
}

// ReturnURLs describe where the shopper lands after the provider flow: Base
// is the service-side payments prefix the provider-scoped return endpoints
// live under, Success and Error are the storefront pages the service
// redirects on to.
type ReturnURLs struct {
	Base    string
	Success string
	Error   string
}

// Return builds the shopper return URL for one provider, matching the
// /payments/{provider}/return route the service serves.
func (u ReturnURLs) Return(code string) string {
	return strings.TrimSuffix(u.Base, "/") + "/" + code + "/return"
}

type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

type RawResponse struct {
	Status int
	Body   []byte
}

// RawEvent is one inbound webhook delivery: the raw body plus the
// transport-level signature header for providers that sign that way.
type RawEvent struct {
	Body      []byte
	Signature string
}

// Notification is one reconcilable item extracted from a webhook delivery.
// Err carries a per-item failure (bad signature, unsupported event) so the
// outer loop can log and skip without failing the batch.
type Notification struct {
	Reference string
	Outcome   domain.Outcome
	Err       error
}

type Adapter interface {
	Code() string

	// BuildRequest produces the provider payload for dispatching a
	// transaction: amount in minor units, reference, return URLs.
	BuildRequest(tx domain.Transaction, minorAmount int64, ret ReturnURLs) (*Request, error)

	// Send performs the network call. It honors the context deadline and
	// fails closed: domain.ErrProviderUnreachable on transport failure,
	// domain.ErrProviderHTTP on a non-2xx status.
	Send(ctx context.Context, req *Request) (*RawResponse, error)

	// Parse normalizes a provider response into a canonical outcome.
	Parse(resp *RawResponse) (domain.Outcome, error)

	// VerifySignature checks the provider signature of one inbound event.
	VerifySignature(ev RawEvent, secret string) bool

	// ParseWebhook splits a webhook delivery into per-item notifications,
	// verifying each item's signature with the configured secret.
	ParseWebhook(ev RawEvent, secret string) ([]Notification, error)

	// ResolveRedirect matches a redirect-return to a reference and, when the
	// provider requires it, queries the provider for the actual outcome.
	ResolveRedirect(ctx context.Context, query url.Values) (string, domain.Outcome, error)
}

// CaptureVoider is implemented by adapters whose provider supports manual
// capture. Responses feed back through the reconciler like any sync response.
type CaptureVoider interface {
	CaptureRequest(tx domain.Transaction, minorAmount int64) (*Request, error)
	VoidRequest(tx domain.Transaction) (*Request, error)
}

// Registry is the closed set of adapters, built once at startup. Provider
// selection is a lookup, never a runtime string branch.
type Registry struct {
	adapters map[string]Adapter
	configs  map[string]Config
}

func NewRegistry(configs []Config, client *http.Client) (*Registry, error) {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	r := &Registry{
		adapters: make(map[string]Adapter, len(configs)),
		configs:  make(map[string]Config, len(configs)),
	}
	for _, cfg := range configs {
		var a Adapter
		switch cfg.Code {
		case CodeDirect:
			a = NewDirect(cfg, client)
		case CodeAdyen:
			a = NewAdyen(cfg, client)
		case CodeStripe:
			a = NewStripe(cfg, client)
		default:
			return nil, fmt.Errorf("unknown provider code %q", cfg.Code)
		}
		r.adapters[cfg.Code] = a
		r.configs[cfg.Code] = cfg
	}
	return r, nil
}

func (r *Registry) Adapter(code string) (Adapter, Config, error) {
	a, ok := r.adapters[code]
	if !ok {
		return nil, Config{}, fmt.Errorf("provider %q not configured", code)
	}
	return a, r.configs[code], nil
}

func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		codes = append(codes, code)
	}
	return codes
}
