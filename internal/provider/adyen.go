package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/commercekit/payment-reconciler/internal/payment/domain"
)

const CodeAdyen = "adyen"

// adyenResultCodes maps Adyen checkout result codes to canonical outcomes.
// RedirectShopper and the challenge codes mean the shopper still has to
// complete strong authentication, so the transaction stays pending.
var adyenResultCodes = map[string]domain.OutcomeCode{
	"Authorised":       domain.OutcomeAuthorized,
	"Pending":          domain.OutcomePending,
	"Received":         domain.OutcomePending,
	"RedirectShopper":  domain.OutcomePending,
	"IdentifyShopper":  domain.OutcomePending,
	"ChallengeShopper": domain.OutcomePending,
	"Refused":          domain.OutcomeRefused,
	"Cancelled":        domain.OutcomeCancelled,
	"Error":            domain.OutcomeError,
}

type Adyen struct {
	cfg    Config
	client *http.Client
}

func NewAdyen(cfg Config, client *http.Client) *Adyen {
	return &Adyen{cfg: cfg, client: client}
}

func (a *Adyen) Code() string { return CodeAdyen }

type adyenAmount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

func (a *Adyen) BuildRequest(tx domain.Transaction, minorAmount int64, ret ReturnURLs) (*Request, error) {
	payload := map[string]any{
		"merchantAccount":  a.cfg.MerchantAccount,
		"amount":           adyenAmount{Value: minorAmount, Currency: tx.Currency},
		"reference":        tx.Reference,
		"shopperReference": tx.PayerID,
		"storePaymentMethod": tx.Tokenize,
		"channel":          "web",
		// The reference rides in the return URL as merchantReference, the
		// same key the /payments endpoint answers with, so the redirect
		// return can be matched without a session.
		"returnUrl": ret.Return(CodeAdyen) + "?merchantReference=" + url.QueryEscape(tx.Reference),
	}
	// Force immediate capture on the provider side when we are not set up
	// for manual capture, otherwise an AUTHORISATION event would be recorded
	// here as captured while the provider still holds the funds.
	if a.cfg.CaptureMode != domain.CaptureManual {
		payload["captureDelayHours"] = 0
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Request{
		Method: http.MethodPost,
		URL:    a.cfg.APIURL + "/payments",
		Header: a.headers(),
		Body:   body,
	}, nil
}

func (a *Adyen) Send(ctx context.Context, req *Request) (*RawResponse, error) {
	return send(ctx, a.client, req)
}

type adyenResponse struct {
	ResultCode    string `json:"resultCode"`
	PSPReference  string `json:"pspReference"`
	RefusalReason string `json:"refusalReason"`
}

func (a *Adyen) Parse(resp *RawResponse) (domain.Outcome, error) {
	var r adyenResponse
	if err := json.Unmarshal(resp.Body, &r); err != nil {
		return domain.Outcome{}, fmt.Errorf("adyen: decoding response: %w", err)
	}
	code, ok := adyenResultCodes[r.ResultCode]
	if !ok {
		return domain.Outcome{}, fmt.Errorf("adyen: unhandled result code %q", r.ResultCode)
	}
	return domain.Outcome{
		Code:              code,
		ProviderReference: r.PSPReference,
		Payload:           resp.Body,
	}, nil
}

type adyenNotificationItem struct {
	EventCode           string            `json:"eventCode"`
	Success             string            `json:"success"`
	PSPReference        string            `json:"pspReference"`
	OriginalReference   string            `json:"originalReference"`
	MerchantAccountCode string            `json:"merchantAccountCode"`
	MerchantReference   string            `json:"merchantReference"`
	Amount              adyenAmount       `json:"amount"`
	AdditionalData      map[string]string `json:"additionalData"`
}

type adyenWebhookBody struct {
	NotificationItems []struct {
		Item adyenNotificationItem `json:"NotificationRequestItem"`
	} `json:"notificationItems"`
}

// VerifySignature checks the per-item HMAC the provider puts in
// additionalData.hmacSignature: base64(HMAC-SHA256(key, escaped fields joined
// by ':')), with the shared key transported hex-encoded.
func (a *Adyen) VerifySignature(ev RawEvent, secret string) bool {
	var item adyenNotificationItem
	if err := json.Unmarshal(ev.Body, &item); err != nil {
		return false
	}
	given := item.AdditionalData["hmacSignature"]
	if given == "" {
		return false
	}
	want, err := adyenItemSignature(item, secret)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(given))
}

func adyenItemSignature(item adyenNotificationItem, secret string) (string, error) {
	key, err := hex.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("adyen: webhook secret is not hex: %w", err)
	}
	esc := func(v string) string {
		v = strings.ReplaceAll(v, `\`, `\\`)
		return strings.ReplaceAll(v, `:`, `\:`)
	}
	signing := strings.Join([]string{
		esc(item.PSPReference),
		esc(item.OriginalReference),
		esc(item.MerchantAccountCode),
		esc(item.MerchantReference),
		fmt.Sprintf("%d", item.Amount.Value),
		esc(item.Amount.Currency),
		esc(item.EventCode),
		esc(item.Success),
	}, ":")
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(signing))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// ParseWebhook walks the notification items of one delivery. Items that fail
// the signature check come back with Err set; unsupported event codes and
// failed events are dropped, matching the provider's documented handling.
func (a *Adyen) ParseWebhook(ev RawEvent, secret string) ([]Notification, error) {
	var body adyenWebhookBody
	if err := json.Unmarshal(ev.Body, &body); err != nil {
		return nil, fmt.Errorf("adyen: decoding webhook body: %w", err)
	}
	var out []Notification
	for _, wrapped := range body.NotificationItems {
		item := wrapped.Item
		raw, _ := json.Marshal(item)

		if !a.VerifySignature(RawEvent{Body: raw}, secret) {
			out = append(out, Notification{
				Reference: item.MerchantReference,
				Err:       domain.ErrSignatureInvalid,
			})
			continue
		}

		success := item.Success == "true"
		var code domain.OutcomeCode
		switch {
		case item.EventCode == "AUTHORISATION" && success:
			code = domain.OutcomeAuthorized
		case item.EventCode == "CANCELLATION":
			code = domain.OutcomeCancelled
			if !success {
				code = domain.OutcomeError
			}
		case item.EventCode == "CAPTURE":
			// A successful capture completes a manually-authorized payment.
			code = domain.OutcomeDone
			if !success {
				code = domain.OutcomeError
			}
		case item.EventCode == "REFUND" && !success:
			code = domain.OutcomeError
		default:
			// Unsupported event codes and failed authorisations are not
			// reconciled; the sync response or a later event settles them.
			continue
		}

		out = append(out, Notification{
			Reference: item.MerchantReference,
			Outcome: domain.Outcome{
				Code:              code,
				ProviderReference: item.PSPReference,
				Payload:           raw,
			},
		})
	}
	return out, nil
}

// ResolveRedirect handles the shopper coming back from strong authentication.
// When the provider appended a redirectResult we submit it to
// /payments/details to learn the actual outcome; the reference itself rides
// in the merchantReference query param we put in the return URL.
func (a *Adyen) ResolveRedirect(ctx context.Context, query url.Values) (string, domain.Outcome, error) {
	reference := query.Get("merchantReference")
	if reference == "" {
		return "", domain.Outcome{}, fmt.Errorf("adyen: redirect return without merchantReference")
	}
	redirectResult := query.Get("redirectResult")
	if redirectResult == "" {
		// Nothing to submit; the webhook settles the transaction.
		return reference, domain.Outcome{Code: domain.OutcomePending}, nil
	}
	body, err := json.Marshal(map[string]any{
		"details": map[string]string{"redirectResult": redirectResult},
	})
	if err != nil {
		return reference, domain.Outcome{}, err
	}
	resp, err := a.Send(ctx, &Request{
		Method: http.MethodPost,
		URL:    a.cfg.APIURL + "/payments/details",
		Header: a.headers(),
		Body:   body,
	})
	if err != nil {
		return reference, domain.Outcome{}, err
	}
	outcome, err := a.Parse(resp)
	return reference, outcome, err
}

// CaptureRequest asks the provider to capture a manually-authorized payment.
func (a *Adyen) CaptureRequest(tx domain.Transaction, minorAmount int64) (*Request, error) {
	body, err := json.Marshal(map[string]any{
		"merchantAccount": a.cfg.MerchantAccount,
		"amount":          adyenAmount{Value: minorAmount, Currency: tx.Currency},
		"reference":       tx.Reference,
	})
	if err != nil {
		return nil, err
	}
	return &Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/payments/%s/captures", a.cfg.APIURL, url.PathEscape(tx.ProviderReference)),
		Header: a.headers(),
		Body:   body,
	}, nil
}

// VoidRequest asks the provider to cancel an uncaptured payment.
func (a *Adyen) VoidRequest(tx domain.Transaction) (*Request, error) {
	body, err := json.Marshal(map[string]any{
		"merchantAccount": a.cfg.MerchantAccount,
		"reference":       tx.Reference,
	})
	if err != nil {
		return nil, err
	}
	return &Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/payments/%s/cancels", a.cfg.APIURL, url.PathEscape(tx.ProviderReference)),
		Header: a.headers(),
		Body:   body,
	}, nil
}

func (a *Adyen) headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("X-API-Key", a.cfg.APIKey)
	return h
}
