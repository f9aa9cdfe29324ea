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

	"github.com/commercekit/payment-reconciler/internal/payment/domain"
)

const CodeDirect = "direct"

// Direct is the generic gateway adapter: a JSON API that already speaks the
// canonical outcome codes. It doubles as the reference wire format for
// providers without a dedicated adapter.
type Direct struct {
	cfg    Config
	client *http.Client
}

func NewDirect(cfg Config, client *http.Client) *Direct {
	return &Direct{cfg: cfg, client: client}
}

func (d *Direct) Code() string { return CodeDirect }

type directPayload struct {
	Reference string `json:"reference"`
	Amount    struct {
		Value    int64  `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	Merchant  string `json:"merchant"`
	ReturnURL string `json:"returnUrl"`
	Capture   bool   `json:"capture"`
	Tokenize  bool   `json:"tokenize,omitempty"`
}

func (d *Direct) BuildRequest(tx domain.Transaction, minorAmount int64, ret ReturnURLs) (*Request, error) {
	var p directPayload
	p.Reference = tx.Reference
	p.Amount.Value = minorAmount
	p.Amount.Currency = tx.Currency
	p.Merchant = d.cfg.MerchantAccount
	p.ReturnURL = ret.Return(CodeDirect) + "?reference=" + url.QueryEscape(tx.Reference)
	p.Capture = d.cfg.CaptureMode != domain.CaptureManual
	p.Tokenize = tx.Tokenize
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+d.cfg.APIKey)
	return &Request{
		Method: http.MethodPost,
		URL:    d.cfg.APIURL + "/payments",
		Header: h,
		Body:   body,
	}, nil
}

func (d *Direct) Send(ctx context.Context, req *Request) (*RawResponse, error) {
	return send(ctx, d.client, req)
}

type directResponse struct {
	Reference         string `json:"reference"`
	Status            string `json:"status"`
	ProviderReference string `json:"providerReference"`
}

func (d *Direct) Parse(resp *RawResponse) (domain.Outcome, error) {
	var r directResponse
	if err := json.Unmarshal(resp.Body, &r); err != nil {
		return domain.Outcome{}, fmt.Errorf("direct: decoding response: %w", err)
	}
	code := domain.OutcomeCode(r.Status)
	switch code {
	case domain.OutcomePending, domain.OutcomeAuthorized, domain.OutcomeDone,
		domain.OutcomeCancelled, domain.OutcomeRefused, domain.OutcomeError:
	default:
		return domain.Outcome{}, fmt.Errorf("direct: unhandled status %q", r.Status)
	}
	return domain.Outcome{
		Code:              code,
		ProviderReference: r.ProviderReference,
		Payload:           resp.Body,
	}, nil
}

// VerifySignature checks the hex HMAC-SHA256 of the whole body, carried in
// the X-Signature header.
func (d *Direct) VerifySignature(ev RawEvent, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(ev.Body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(ev.Signature))
}

type directWebhookBody struct {
	Events []directResponse `json:"events"`
}

func (d *Direct) ParseWebhook(ev RawEvent, secret string) ([]Notification, error) {
	if !d.VerifySignature(ev, secret) {
		return []Notification{{Err: domain.ErrSignatureInvalid}}, nil
	}
	var body directWebhookBody
	if err := json.Unmarshal(ev.Body, &body); err != nil {
		return nil, fmt.Errorf("direct: decoding webhook body: %w", err)
	}
	var out []Notification
	for _, e := range body.Events {
		raw, _ := json.Marshal(e)
		outcome, err := d.Parse(&RawResponse{Body: raw})
		if err != nil {
			out = append(out, Notification{Reference: e.Reference, Err: err})
			continue
		}
		out = append(out, Notification{Reference: e.Reference, Outcome: outcome})
	}
	return out, nil
}

func (d *Direct) ResolveRedirect(_ context.Context, query url.Values) (string, domain.Outcome, error) {
	reference := query.Get("reference")
	if reference == "" {
		return "", domain.Outcome{}, fmt.Errorf("direct: redirect return without reference")
	}
	status := query.Get("status")
	if status == "" {
		return reference, domain.Outcome{Code: domain.OutcomePending}, nil
	}
	raw, _ := json.Marshal(directResponse{
		Reference:         reference,
		Status:            status,
		ProviderReference: query.Get("providerReference"),
	})
	outcome, err := d.Parse(&RawResponse{Body: raw})
	return reference, outcome, err
}
