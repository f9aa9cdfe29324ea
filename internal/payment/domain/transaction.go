package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type State string

const (
	StateDraft      State = "draft"
	StatePending    State = "pending"
	StateAuthorized State = "authorized"
	StateDone       State = "done"
	StateCancelled  State = "cancelled"
	StateError      State = "error"
)

// Terminal states accept no further transition.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled || s == StateError
}

type CaptureMode string

const (
	CaptureImmediate CaptureMode = "immediate"
	CaptureManual    CaptureMode = "manual"
)

type Origin string

const (
	// OriginFrontend marks transactions created by the decoupled storefront,
	// which owns its own confirmation UX.
	OriginFrontend Origin = "frontend"
	// OriginBackend marks transactions created by the host commerce flow.
	OriginBackend Origin = "backend"
	// OriginPayLink marks backend-created payment links completed on the
	// storefront. Confirmed server-side, but the default email is suppressed.
	OriginPayLink Origin = "paylink"
)

type Channel string

const (
	ChannelAPI      Channel = "api"
	ChannelRedirect Channel = "redirect"
	ChannelWebhook  Channel = "webhook"
)

// Transaction is the authoritative record for a payment attempt. The reference
// correlates all ingress channels; amount, currency and payer are immutable
// after creation and bound by the tamper token.
type Transaction struct {
	Reference         string
	Amount            decimal.Decimal
	Currency          string
	PayerID           string
	ProviderCode      string
	ProviderReference string
	State             State
	CaptureMode       CaptureMode
	Origin            Origin
	Tokenize          bool
	OrderID           string
	CreatedAt         time.Time
	LastTransitionAt  time.Time
}

// PaymentToken is a stored reusable payment method reference, recorded when a
// tokenize-requested transaction completes.
type PaymentToken struct {
	PayerID      string
	ProviderCode string
	TokenRef     string
	CreatedAt    time.Time
}
