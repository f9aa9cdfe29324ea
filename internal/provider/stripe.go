package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/commercekit/payment-reconciler/internal/payment/domain"
)

const CodeStripe = "stripe"

var stripeIntentStatuses = map[string]domain.OutcomeCode{
	"succeeded":               domain.OutcomeDone,
	"processing":              domain.OutcomePending,
	"requires_action":         domain.OutcomePending,
	"requires_confirmation":   domain.OutcomePending,
	"requires_payment_method": domain.OutcomePending,
	"requires_capture":        domain.OutcomeAuthorized,
	"canceled":                domain.OutcomeCancelled,
}

type Stripe struct {
	cfg    Config
	client *http.Client
}

func NewStripe(cfg Config, client *http.Client) *Stripe {
	return &Stripe{cfg: cfg, client: client}
}

func (s *Stripe) Code() string { return CodeStripe }

// BuildRequest creates a payment intent. The API takes form-encoded bodies;
// our reference travels in the intent metadata and comes back on every event.
func (s *Stripe) BuildRequest(tx domain.Transaction, minorAmount int64, ret ReturnURLs) (*Request, error) {
	form := url.Values{}
	form.Set("amount", fmt.Sprintf("%d", minorAmount))
	form.Set("currency", strings.ToLower(tx.Currency))
	form.Set("metadata[reference]", tx.Reference)
	form.Set("description", tx.Reference)
	if tx.Tokenize {
		form.Set("setup_future_usage", "off_session")
	}
	return &Request{
		Method: http.MethodPost,
		URL:    s.cfg.APIURL + "/v1/payment_intents",
		Header: s.headers("application/x-www-form-urlencoded"),
		Body:   []byte(form.Encode()),
	}, nil
}

func (s *Stripe) Send(ctx context.Context, req *Request) (*RawResponse, error) {
	return send(ctx, s.client, req)
}

type stripeIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
	Metadata     struct {
		Reference string `json:"reference"`
	} `json:"metadata"`
}

func (s *Stripe) Parse(resp *RawResponse) (domain.Outcome, error) {
	var intent stripeIntent
	if err := json.Unmarshal(resp.Body, &intent); err != nil {
		return domain.Outcome{}, fmt.Errorf("stripe: decoding response: %w", err)
	}
	code, ok := stripeIntentStatuses[intent.Status]
	if !ok {
		return domain.Outcome{}, fmt.Errorf("stripe: unhandled intent status %q", intent.Status)
	}
	return domain.Outcome{
		Code:              code,
		ProviderReference: intent.ID,
		Payload:           resp.Body,
	}, nil
}

// VerifySignature checks the transport-level signature header,
// `t=<ts>,v1=<hex hmac>` over `<ts>.<body>`.
func (s *Stripe) VerifySignature(ev RawEvent, secret string) bool {
	var ts string
	var sigs []string
	for _, part := range strings.Split(ev.Signature, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(ev.Body)
	want := hex.EncodeToString(mac.Sum(nil))
	for _, sig := range sigs {
		if hmac.Equal([]byte(want), []byte(sig)) {
			return true
		}
	}
	return false
}

type stripeEvent struct {
	Type string `json:"type"`
	Data struct {
		Object stripeIntent `json:"object"`
	} `json:"data"`
}

// ParseWebhook yields at most one notification: the provider sends a single
// event per delivery and signs the whole body.
func (s *Stripe) ParseWebhook(ev RawEvent, secret string) ([]Notification, error) {
	if !s.VerifySignature(ev, secret) {
		return []Notification{{Err: domain.ErrSignatureInvalid}}, nil
	}
	var event stripeEvent
	if err := json.Unmarshal(ev.Body, &event); err != nil {
		return nil, fmt.Errorf("stripe: decoding webhook body: %w", err)
	}
	intent := event.Data.Object
	reference := intent.Metadata.Reference
	if reference == "" {
		return nil, nil
	}

	var code domain.OutcomeCode
	switch event.Type {
	case "payment_intent.succeeded":
		code = domain.OutcomeDone
	case "payment_intent.amount_capturable_updated":
		code = domain.OutcomeAuthorized
	case "payment_intent.payment_failed":
		code = domain.OutcomeError
	case "payment_intent.canceled":
		code = domain.OutcomeCancelled
	case "payment_intent.processing":
		code = domain.OutcomePending
	default:
		return nil, nil
	}
	raw, _ := json.Marshal(intent)
	return []Notification{{
		Reference: reference,
		Outcome: domain.Outcome{
			Code:              code,
			ProviderReference: intent.ID,
			Payload:           raw,
		},
	}}, nil
}

// ResolveRedirect fetches the intent named in the return query, because the
// redirect itself only carries the intent id, never the outcome.
func (s *Stripe) ResolveRedirect(ctx context.Context, query url.Values) (string, domain.Outcome, error) {
	reference := query.Get("reference")
	if reference == "" {
		reference = query.Get("merchantReference")
	}
	intentID := query.Get("payment_intent")
	if reference == "" || intentID == "" {
		return reference, domain.Outcome{}, fmt.Errorf("stripe: redirect return missing reference or payment_intent")
	}
	resp, err := s.Send(ctx, &Request{
		Method: http.MethodGet,
		URL:    s.cfg.APIURL + "/v1/payment_intents/" + url.PathEscape(intentID),
		Header: s.headers(""),
	})
	if err != nil {
		return reference, domain.Outcome{}, err
	}
	outcome, err := s.Parse(resp)
	return reference, outcome, err
}

// CaptureRequest captures a requires_capture intent.
func (s *Stripe) CaptureRequest(tx domain.Transaction, minorAmount int64) (*Request, error) {
	form := url.Values{}
	form.Set("amount_to_capture", fmt.Sprintf("%d", minorAmount))
	return &Request{
		Method: http.MethodPost,
		URL:    s.cfg.APIURL + "/v1/payment_intents/" + url.PathEscape(tx.ProviderReference) + "/capture",
		Header: s.headers("application/x-www-form-urlencoded"),
		Body:   []byte(form.Encode()),
	}, nil
}

// VoidRequest cancels an uncaptured intent.
func (s *Stripe) VoidRequest(tx domain.Transaction) (*Request, error) {
	return &Request{
		Method: http.MethodPost,
		URL:    s.cfg.APIURL + "/v1/payment_intents/" + url.PathEscape(tx.ProviderReference) + "/cancel",
		Header: s.headers(""),
	}, nil
}

func (s *Stripe) headers(contentType string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+s.cfg.APIKey)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return h
}
