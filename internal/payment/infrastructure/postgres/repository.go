package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/commercekit/payment-reconciler/internal/payment/domain"
	"github.com/commercekit/payment-reconciler/pkg/outbox"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Insert(ctx context.Context, t domain.Transaction) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO payment_transactions
		(reference, amount, currency, payer_id, provider_code, provider_reference,
		 state, capture_mode, origin, tokenize, order_id, created_at, last_transition_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		t.Reference, t.Amount.String(), t.Currency, t.PayerID, t.ProviderCode, t.ProviderReference,
		t.State, t.CaptureMode, t.Origin, t.Tokenize, t.OrderID, t.CreatedAt, t.LastTransitionAt)
	return err
}

func (r *Repository) GetByReference(ctx context.Context, reference string) (domain.Transaction, error) {
	var t domain.Transaction
	var amount string
	err := r.pool.QueryRow(ctx, `SELECT reference, amount::text, currency, payer_id, provider_code,
			provider_reference, state, capture_mode, origin, tokenize, order_id, created_at, last_transition_at
		FROM payment_transactions WHERE reference=$1`, reference).
		Scan(&t.Reference, &amount, &t.Currency, &t.PayerID, &t.ProviderCode,
			&t.ProviderReference, &t.State, &t.CaptureMode, &t.Origin, &t.Tokenize,
			&t.OrderID, &t.CreatedAt, &t.LastTransitionAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, domain.ErrUnknownTransaction
		}
		return domain.Transaction{}, err
	}
	t.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}

// Transition is the authoritative compare-and-swap: the guarded UPDATE only
// lands for one of two racing channels, and the winner's database transaction
// also records the outbox events. Returns false when the guard missed.
func (r *Repository) Transition(ctx context.Context, reference string, from []domain.State, to domain.State, providerRef string, events []outbox.Record) (bool, error) {
	dbtx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = dbtx.Rollback(ctx)
	}()

	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	ct, err := dbtx.Exec(ctx, `UPDATE payment_transactions
		SET state=$2,
		    provider_reference = CASE WHEN $3 <> '' THEN $3 ELSE provider_reference END,
		    last_transition_at=$4
		WHERE reference=$1 AND state = ANY($5)`,
		reference, to, providerRef, time.Now().UTC(), states)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, dbtx.Commit(ctx)
	}

	for _, ev := range events {
		_, err = dbtx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, status)
			VALUES ($1,$2,$3,$4,'pending')`,
			ev.AggregateType, ev.AggregateID, ev.Type, ev.Payload)
		if err != nil {
			return false, err
		}
	}
	return true, dbtx.Commit(ctx)
}

func (r *Repository) SaveToken(ctx context.Context, token domain.PaymentToken) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO payment_tokens (payer_id, provider_code, token_ref, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (provider_code, token_ref) DO NOTHING`,
		token.PayerID, token.ProviderCode, token.TokenRef, token.CreatedAt)
	return err
}
