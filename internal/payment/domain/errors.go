package domain

import "errors"

var (
	// ErrUnknownTransaction means an event carried a reference that matches no
	// stored transaction. The event is dropped and acknowledged, never retried.
	ErrUnknownTransaction = errors.New("unknown transaction reference")

	// ErrTamperedRequest means the tamper token did not match the claimed
	// (reference, amount, payer) tuple. Fatal, never retried.
	ErrTamperedRequest = errors.New("tampered payment request data")

	// ErrSignatureInvalid means a webhook event failed provider signature
	// verification. The event is dropped and logged, no state changes.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrProviderUnreachable means the provider could not be reached in time.
	// The transaction stays pending; the webhook remains the source of truth.
	ErrProviderUnreachable = errors.New("payment provider unreachable")

	// ErrProviderHTTP means the provider answered with a non-2xx status.
	ErrProviderHTTP = errors.New("payment provider returned an error status")

	// ErrInvalidCurrency rejects a provider/currency pair before dispatch.
	ErrInvalidCurrency = errors.New("currency not supported by provider")

	// ErrNothingMonitored means the session has no monitored transaction.
	ErrNothingMonitored = errors.New("no monitored transaction for session")
)
