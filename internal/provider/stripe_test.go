package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/payment-reconciler/internal/payment/domain"
)

const stripeTestSecret = "whsec_test"

func testStripe(apiURL string) *Stripe {
	if apiURL == "" {
		apiURL = "https://api.stripe.example.com"
	}
	return NewStripe(Config{
		Code:          CodeStripe,
		APIURL:        apiURL,
		APIKey:        "sk_test_key",
		WebhookSecret: stripeTestSecret,
	}, &http.Client{})
}

func stripeSign(body []byte, ts string) string {
	mac := hmac.New(sha256.New, []byte(stripeTestSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripe_BuildRequest(t *testing.T) {
	s := testStripe("")
	tx := domain.Transaction{Reference: "SO7-abc", Currency: "EUR", Tokenize: true}

	req, err := s.BuildRequest(tx, 4999, ReturnURLs{})
	require.NoError(t, err)
	assert.Equal(t, "https://api.stripe.example.com/v1/payment_intents", req.URL)
	assert.Equal(t, "Bearer sk_test_key", req.Header.Get("Authorization"))
	assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))

	form, err := url.ParseQuery(string(req.Body))
	require.NoError(t, err)
	assert.Equal(t, "4999", form.Get("amount"))
	assert.Equal(t, "eur", form.Get("currency"))
	assert.Equal(t, "SO7-abc", form.Get("metadata[reference]"))
	assert.Equal(t, "off_session", form.Get("setup_future_usage"))
}

func TestStripe_Parse(t *testing.T) {
	tests := []struct {
		status string
		want   domain.OutcomeCode
	}{
		{"succeeded", domain.OutcomeDone},
		{"processing", domain.OutcomePending},
		{"requires_action", domain.OutcomePending},
		{"requires_capture", domain.OutcomeAuthorized},
		{"canceled", domain.OutcomeCancelled},
	}
	s := testStripe("")
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			body := []byte(`{"id":"pi_1","status":"` + tt.status + `"}`)
			outcome, err := s.Parse(&RawResponse{Status: 200, Body: body})
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome.Code)
			assert.Equal(t, "pi_1", outcome.ProviderReference)
		})
	}

	_, err := s.Parse(&RawResponse{Body: []byte(`{"status":"partially_funded"}`)})
	assert.Error(t, err)
}

func TestStripe_VerifySignature(t *testing.T) {
	s := testStripe("")
	body := []byte(`{"type":"payment_intent.succeeded"}`)
	sig := stripeSign(body, "1714000000")

	assert.True(t, s.VerifySignature(RawEvent{Body: body, Signature: sig}, stripeTestSecret))
	assert.False(t, s.VerifySignature(RawEvent{Body: []byte(`{}`), Signature: sig}, stripeTestSecret))
	assert.False(t, s.VerifySignature(RawEvent{Body: body, Signature: "t=1714000000,v1=deadbeef"}, stripeTestSecret))
	assert.False(t, s.VerifySignature(RawEvent{Body: body, Signature: ""}, stripeTestSecret))
}

func TestStripe_ParseWebhook(t *testing.T) {
	s := testStripe("")

	tests := []struct {
		eventType string
		want      domain.OutcomeCode
	}{
		{"payment_intent.succeeded", domain.OutcomeDone},
		{"payment_intent.amount_capturable_updated", domain.OutcomeAuthorized},
		{"payment_intent.payment_failed", domain.OutcomeError},
		{"payment_intent.canceled", domain.OutcomeCancelled},
		{"payment_intent.processing", domain.OutcomePending},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			body := []byte(`{"type":"` + tt.eventType + `","data":{"object":{"id":"pi_1","status":"succeeded","metadata":{"reference":"SO1-a"}}}}`)
			out, err := s.ParseWebhook(RawEvent{Body: body, Signature: stripeSign(body, "1714000000")}, stripeTestSecret)
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, "SO1-a", out[0].Reference)
			assert.Equal(t, tt.want, out[0].Outcome.Code)
			assert.Equal(t, "pi_1", out[0].Outcome.ProviderReference)
		})
	}
}

func TestStripe_ParseWebhook_Drops(t *testing.T) {
	s := testStripe("")

	// Invalid signature comes back as a per-item error.
	body := []byte(`{"type":"payment_intent.succeeded"}`)
	out, err := s.ParseWebhook(RawEvent{Body: body, Signature: "t=1,v1=00"}, stripeTestSecret)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.ErrorIs(t, out[0].Err, domain.ErrSignatureInvalid)

	// Events of other object types and intents without our reference are not
	// reconcilable.
	body = []byte(`{"type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`)
	out, err = s.ParseWebhook(RawEvent{Body: body, Signature: stripeSign(body, "2")}, stripeTestSecret)
	require.NoError(t, err)
	assert.Empty(t, out)

	body = []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_2","metadata":{}}}}`)
	out, err = s.ParseWebhook(RawEvent{Body: body, Signature: stripeSign(body, "3")}, stripeTestSecret)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestStripe_ResolveRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents/pi_7", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"pi_7","status":"succeeded"}`))
	}))
	defer srv.Close()

	s := testStripe(srv.URL)
	s.client = srv.Client()

	query := url.Values{}
	query.Set("reference", "SO7-abc")
	query.Set("payment_intent", "pi_7")
	ref, outcome, err := s.ResolveRedirect(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, "SO7-abc", ref)
	assert.Equal(t, domain.OutcomeDone, outcome.Code)

	_, _, err = s.ResolveRedirect(context.Background(), url.Values{})
	assert.Error(t, err)
}

func TestStripe_CaptureAndVoidRequests(t *testing.T) {
	s := testStripe("")
	tx := domain.Transaction{Reference: "SO1-a", ProviderReference: "pi_9"}

	capture, err := s.CaptureRequest(tx, 4999)
	require.NoError(t, err)
	assert.Contains(t, capture.URL, "/v1/payment_intents/pi_9/capture")
	form, err := url.ParseQuery(string(capture.Body))
	require.NoError(t, err)
	assert.Equal(t, "4999", form.Get("amount_to_capture"))

	void, err := s.VoidRequest(tx)
	require.NoError(t, err)
	assert.Contains(t, void.URL, "/v1/payment_intents/pi_9/cancel")
}
