package provider

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/payment-reconciler/internal/payment/domain"
)

var adyenTestSecret = hex.EncodeToString([]byte("adyen-hmac-test-key"))

func testAdyen(cfg Config) *Adyen {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://checkout-test.example.com/v68"
	}
	cfg.Code = CodeAdyen
	cfg.APIKey = "test-api-key"
	cfg.MerchantAccount = "TestMerchant"
	cfg.WebhookSecret = adyenTestSecret
	return NewAdyen(cfg, &http.Client{})
}

func signedAdyenItem(t *testing.T, item adyenNotificationItem) adyenNotificationItem {
	t.Helper()
	sig, err := adyenItemSignature(item, adyenTestSecret)
	require.NoError(t, err)
	item.AdditionalData = map[string]string{"hmacSignature": sig}
	return item
}

func adyenWebhook(t *testing.T, items ...adyenNotificationItem) RawEvent {
	t.Helper()
	wrapped := make([]map[string]adyenNotificationItem, 0, len(items))
	for _, item := range items {
		wrapped = append(wrapped, map[string]adyenNotificationItem{"NotificationRequestItem": item})
	}
	body, err := json.Marshal(map[string]any{"notificationItems": wrapped})
	require.NoError(t, err)
	return RawEvent{Body: body}
}

func TestAdyen_BuildRequest(t *testing.T) {
	a := testAdyen(Config{CaptureMode: domain.CaptureImmediate})
	tx := domain.Transaction{
		Reference: "SO7-abc123",
		Currency:  "EUR",
		PayerID:   "shopper-1",
	}
	req, err := a.BuildRequest(tx, 4999, ReturnURLs{Base: "https://shop.example.com/payments"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://checkout-test.example.com/v68/payments", req.URL)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &payload))
	assert.Equal(t, "TestMerchant", payload["merchantAccount"])
	assert.Equal(t, "SO7-abc123", payload["reference"])
	// The return URL must hit the adyen-scoped route, not a shared one.
	assert.Contains(t, payload["returnUrl"], "https://shop.example.com/payments/adyen/return?merchantReference=SO7-abc123")
	assert.EqualValues(t, 0, payload["captureDelayHours"])

	amount := payload["amount"].(map[string]any)
	assert.EqualValues(t, 4999, amount["value"])
	assert.Equal(t, "EUR", amount["currency"])
}

func TestAdyen_BuildRequest_ManualCapture(t *testing.T) {
	a := testAdyen(Config{CaptureMode: domain.CaptureManual})
	req, err := a.BuildRequest(domain.Transaction{Reference: "r", Currency: "EUR"}, 100, ReturnURLs{})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &payload))
	assert.NotContains(t, payload, "captureDelayHours")
}

func TestAdyen_Parse(t *testing.T) {
	tests := []struct {
		resultCode string
		want       domain.OutcomeCode
	}{
		{"Authorised", domain.OutcomeAuthorized},
		{"Pending", domain.OutcomePending},
		{"Received", domain.OutcomePending},
		{"RedirectShopper", domain.OutcomePending},
		{"IdentifyShopper", domain.OutcomePending},
		{"ChallengeShopper", domain.OutcomePending},
		{"Refused", domain.OutcomeRefused},
		{"Cancelled", domain.OutcomeCancelled},
		{"Error", domain.OutcomeError},
	}
	a := testAdyen(Config{})
	for _, tt := range tests {
		t.Run(tt.resultCode, func(t *testing.T) {
			body := []byte(`{"resultCode":"` + tt.resultCode + `","pspReference":"PSP1"}`)
			outcome, err := a.Parse(&RawResponse{Status: 200, Body: body})
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome.Code)
			assert.Equal(t, "PSP1", outcome.ProviderReference)
		})
	}

	_, err := a.Parse(&RawResponse{Body: []byte(`{"resultCode":"PartiallyAuthorised"}`)})
	assert.Error(t, err)
}

func TestAdyen_VerifySignature(t *testing.T) {
	a := testAdyen(Config{})
	item := signedAdyenItem(t, adyenNotificationItem{
		EventCode:           "AUTHORISATION",
		Success:             "true",
		PSPReference:        "PSP1",
		MerchantAccountCode: "TestMerchant",
		MerchantReference:   "SO7-abc123",
		Amount:              adyenAmount{Value: 4999, Currency: "EUR"},
	})
	body, err := json.Marshal(item)
	require.NoError(t, err)
	assert.True(t, a.VerifySignature(RawEvent{Body: body}, adyenTestSecret))

	// Flipping any signed field invalidates the item.
	tampered := item
	tampered.Amount.Value = 1
	body, err = json.Marshal(tampered)
	require.NoError(t, err)
	assert.False(t, a.VerifySignature(RawEvent{Body: body}, adyenTestSecret))
}

func TestAdyen_VerifySignature_EscapesSeparators(t *testing.T) {
	a := testAdyen(Config{})
	item := signedAdyenItem(t, adyenNotificationItem{
		EventCode:         "AUTHORISATION",
		Success:           "true",
		PSPReference:      `PSP:with\chars`,
		MerchantReference: "SO7:abc",
		Amount:            adyenAmount{Value: 100, Currency: "EUR"},
	})
	body, err := json.Marshal(item)
	require.NoError(t, err)
	assert.True(t, a.VerifySignature(RawEvent{Body: body}, adyenTestSecret))
}

func TestAdyen_ParseWebhook(t *testing.T) {
	a := testAdyen(Config{})

	authorised := signedAdyenItem(t, adyenNotificationItem{
		EventCode: "AUTHORISATION", Success: "true",
		PSPReference: "PSP1", MerchantReference: "SO1-a",
		Amount: adyenAmount{Value: 100, Currency: "EUR"},
	})
	refusedAuth := signedAdyenItem(t, adyenNotificationItem{
		EventCode: "AUTHORISATION", Success: "false",
		PSPReference: "PSP2", MerchantReference: "SO2-b",
	})
	cancelled := signedAdyenItem(t, adyenNotificationItem{
		EventCode: "CANCELLATION", Success: "true",
		PSPReference: "PSP3", MerchantReference: "SO3-c",
	})
	failedCapture := signedAdyenItem(t, adyenNotificationItem{
		EventCode: "CAPTURE", Success: "false",
		PSPReference: "PSP4", MerchantReference: "SO4-d",
	})
	report := signedAdyenItem(t, adyenNotificationItem{
		EventCode: "REPORT_AVAILABLE", Success: "true",
		MerchantReference: "SO5-e",
	})
	badSig := adyenNotificationItem{
		EventCode: "AUTHORISATION", Success: "true",
		PSPReference: "PSP6", MerchantReference: "SO6-f",
		AdditionalData: map[string]string{"hmacSignature": "forged"},
	}

	out, err := a.ParseWebhook(adyenWebhook(t, authorised, refusedAuth, cancelled, failedCapture, report, badSig), adyenTestSecret)
	require.NoError(t, err)
	require.Len(t, out, 4, "refused authorisation and report items are skipped")

	assert.Equal(t, "SO1-a", out[0].Reference)
	assert.NoError(t, out[0].Err)
	assert.Equal(t, domain.OutcomeAuthorized, out[0].Outcome.Code)
	assert.Equal(t, "PSP1", out[0].Outcome.ProviderReference)

	assert.Equal(t, "SO3-c", out[1].Reference)
	assert.Equal(t, domain.OutcomeCancelled, out[1].Outcome.Code)

	assert.Equal(t, "SO4-d", out[2].Reference)
	assert.Equal(t, domain.OutcomeError, out[2].Outcome.Code)

	assert.Equal(t, "SO6-f", out[3].Reference)
	assert.ErrorIs(t, out[3].Err, domain.ErrSignatureInvalid)
}

func TestAdyen_ParseWebhook_MalformedBody(t *testing.T) {
	a := testAdyen(Config{})
	_, err := a.ParseWebhook(RawEvent{Body: []byte("not json")}, adyenTestSecret)
	assert.Error(t, err)
}

func TestAdyen_ResolveRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/details", r.URL.Path)
		var body map[string]map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "redir-blob", body["details"]["redirectResult"])
		_, _ = w.Write([]byte(`{"resultCode":"Authorised","pspReference":"PSP9"}`))
	}))
	defer srv.Close()

	a := testAdyen(Config{APIURL: srv.URL})
	a.client = srv.Client()

	query := url.Values{}
	query.Set("merchantReference", "SO9-z")
	query.Set("redirectResult", "redir-blob")
	ref, outcome, err := a.ResolveRedirect(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, "SO9-z", ref)
	assert.Equal(t, domain.OutcomeAuthorized, outcome.Code)
	assert.Equal(t, "PSP9", outcome.ProviderReference)
}

func TestAdyen_ResolveRedirect_WithoutResult(t *testing.T) {
	a := testAdyen(Config{})
	query := url.Values{}
	query.Set("merchantReference", "SO9-z")

	ref, outcome, err := a.ResolveRedirect(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, "SO9-z", ref)
	assert.Equal(t, domain.OutcomePending, outcome.Code)

	_, _, err = a.ResolveRedirect(context.Background(), url.Values{})
	assert.Error(t, err)
}

func TestAdyen_CaptureAndVoidRequests(t *testing.T) {
	a := testAdyen(Config{})
	tx := domain.Transaction{Reference: "SO1-a", Currency: "EUR", ProviderReference: "PSP1"}

	capture, err := a.CaptureRequest(tx, 4999)
	require.NoError(t, err)
	assert.Contains(t, capture.URL, "/payments/PSP1/captures")
	assert.Equal(t, "test-api-key", capture.Header.Get("X-API-Key"))

	void, err := a.VoidRequest(tx)
	require.NoError(t, err)
	assert.Contains(t, void.URL, "/payments/PSP1/cancels")
}
