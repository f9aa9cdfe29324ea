package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/commercekit/payment-reconciler/internal/order/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Order, error) {
	var o domain.Order
	var total string
	err := r.pool.QueryRow(ctx, `SELECT id, customer, total::text, currency, status, locked,
			COALESCE(last_transaction, ''), created_at, updated_at
		FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.Customer, &total, &o.Currency, &o.Status, &o.Locked,
			&o.LastTransaction, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, err
	}
	o.Total, err = decimal.NewFromString(total)
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *Repository) AttachTransaction(ctx context.Context, orderID, reference string) error {
	ct, err := r.pool.Exec(ctx, `UPDATE orders SET last_transaction=$2, updated_at=$3 WHERE id=$1`,
		orderID, reference, time.Now().UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Confirm locks the order and records the host-flow events the options ask
// for. The status guard makes it idempotent: a second confirmation, from a
// duplicate terminal dispatch or a manual retry, records nothing.
func (r *Repository) Confirm(ctx context.Context, orderID string, opts domain.ConfirmOptions) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE orders SET status=$2, locked=true, updated_at=$3
		WHERE id=$1 AND status <> $2`,
		orderID, domain.StatusConfirmed, time.Now().UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	events := []string{"order.confirmed"}
	if opts.SendEmail {
		events = append(events, "email.order_confirmation")
	}
	if opts.ClearCart {
		events = append(events, "cart.clear")
	}
	if opts.Invoice {
		events = append(events, "invoice.generate")
	}
	payload, err := json.Marshal(map[string]string{"order_id": orderID})
	if err != nil {
		return err
	}
	for _, eventType := range events {
		_, err = tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, status)
			VALUES ('order',$1,$2,$3,'pending')`, orderID, eventType, payload)
		if err != nil {
			return fmt.Errorf("recording %s: %w", eventType, err)
		}
	}
	return tx.Commit(ctx)
}

// Release frees the cart hold after a failed payment. Confirmed orders are
// never released.
func (r *Repository) Release(ctx context.Context, orderID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE orders SET status=$2, locked=false, updated_at=$3
		WHERE id=$1 AND status = $4`,
		orderID, domain.StatusReleased, time.Now().UTC(), domain.StatusPending)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}
	payload, err := json.Marshal(map[string]string{"order_id": orderID})
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, status)
		VALUES ('order',$1,'cart.release',$2,'pending')`, orderID, payload)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}
