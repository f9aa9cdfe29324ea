package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/commercekit/payment-reconciler/internal/payment/domain"
)

// send performs one provider call with the adapter's shared client. Transport
// failures and non-2xx statuses map onto the error taxonomy so callers can
// leave the transaction pending and rely on the webhook.
func send(ctx context.Context, client *http.Client, req *Request) (*RawResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", domain.ErrProviderUnreachable, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d", domain.ErrProviderHTTP, resp.StatusCode)
	}
	return &RawResponse{Status: resp.StatusCode, Body: body}, nil
}
