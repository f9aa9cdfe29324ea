package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("order not found")

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusReleased  OrderStatus = "released"
)

// Order is an external collaborator: reconciliation never creates or deletes
// orders, it only confirms or releases them through the side-effect
// dispatcher.
type Order struct {
	ID              string
	Customer        string
	Total           decimal.Decimal
	Currency        string
	Status          OrderStatus
	Locked          bool
	LastTransaction string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ConfirmOptions control the host-flow side effects of a confirmation.
// Storefront-owned checkouts suppress the default email and cart clearing.
type ConfirmOptions struct {
	SendEmail bool
	ClearCart bool
	Invoice   bool
}

// Snapshot is what the poll bridge hands back to a waiting storefront once
// the monitored transaction reached a terminal state.
type Snapshot struct {
	ID       string          `json:"id"`
	Status   OrderStatus     `json:"status"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
}

func (o Order) Snapshot() Snapshot {
	return Snapshot{ID: o.ID, Status: o.Status, Total: o.Total, Currency: o.Currency}
}
