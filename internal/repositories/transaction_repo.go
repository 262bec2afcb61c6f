package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wedogs/backend/internal/models"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const transactionColumns = `id, rail, tx_hash, amount, asset, fiat_value, COALESCE(counterparty, ''),
		       tx_timestamp, campaign_id, donor_id, corroborated_at, created_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.Rail, &t.TxHash, &t.Amount, &t.Asset, &t.FiatValue, &t.Counterparty,
		&t.Timestamp, &t.CampaignID, &t.DonorID, &t.CorroboratedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	defer rows.Close()
	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// InsertIfAbsent stores t unless a row with the same tx_hash exists. In both
// cases t is overwritten with the stored row; inserted reports which case
// happened. Concurrent callers with one hash converge on a single row.
func (r *TransactionRepo) InsertIfAbsent(ctx context.Context, t *models.Transaction) (bool, error) {
	var counterparty *string
	if t.Counterparty != "" {
		counterparty = &t.Counterparty
	}

	stored, err := scanTransaction(r.pool.QueryRow(ctx, `
		INSERT INTO transactions (rail, tx_hash, amount, asset, fiat_value, counterparty,
		                          tx_timestamp, campaign_id, donor_id, corroborated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tx_hash) DO NOTHING
		RETURNING `+transactionColumns,
		t.Rail, t.TxHash, t.Amount, t.Asset, t.FiatValue, counterparty,
		t.Timestamp, t.CampaignID, t.DonorID, t.CorroboratedAt,
	))
	if err == nil {
		*t = *stored
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}

	existing, err := r.GetByHash(ctx, t.TxHash)
	if err != nil {
		return false, err
	}
	*t = *existing
	return false, nil
}

func (r *TransactionRepo) GetByHash(ctx context.Context, hash string) (*models.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE tx_hash = $1`, hash))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// MarkCorroborated records what the rail reported for the payment. On the
// first corroboration the rail's amount, asset, fiat value and timestamp
// replace the submitted ones; later calls only fill fields still unknown.
func (r *TransactionRepo) MarkCorroborated(ctx context.Context, hash string, obs models.Corroboration) (*models.Transaction, error) {
	var cp *string
	if obs.Counterparty != "" {
		cp = &obs.Counterparty
	}
	t, err := scanTransaction(r.pool.QueryRow(ctx, `
		UPDATE transactions SET
			amount          = CASE WHEN corroborated_at IS NULL AND $2::numeric > 0 THEN $2::numeric ELSE amount END,
			asset           = CASE WHEN corroborated_at IS NULL AND $3::text <> '' THEN $3::text ELSE asset END,
			fiat_value      = CASE WHEN corroborated_at IS NULL AND $2::numeric > 0 THEN $4::numeric ELSE fiat_value END,
			tx_timestamp    = CASE WHEN corroborated_at IS NULL AND $5::timestamptz IS NOT NULL THEN $5::timestamptz ELSE tx_timestamp END,
			counterparty    = COALESCE(counterparty, $6),
			donor_id        = COALESCE(donor_id, $7),
			corroborated_at = COALESCE(corroborated_at, now())
		WHERE tx_hash = $1
		RETURNING `+transactionColumns,
		hash, obs.Amount, obs.Asset, obs.FiatValue, nullTime(obs.ObservedAt), cp, obs.DonorID,
	))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// AttributeDonor sets the donor of a row that has none. It reports whether
// the row changed; a row that already names a donor keeps it.
func (r *TransactionRepo) AttributeDonor(ctx context.Context, hash string, donorID uuid.UUID) (*models.Transaction, bool, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `
		UPDATE transactions SET donor_id = $2
		WHERE tx_hash = $1 AND donor_id IS NULL
		RETURNING `+transactionColumns,
		hash, donorID,
	))
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	existing, err := r.GetByHash(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *TransactionRepo) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE campaign_id = $1
		ORDER BY tx_timestamp DESC, tx_hash
	`, campaignID)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (r *TransactionRepo) ListByDonor(ctx context.Context, donorID uuid.UUID) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE donor_id = $1
		ORDER BY tx_timestamp, tx_hash
	`, donorID)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

// ListUncorroborated returns rows still waiting for their rail that were
// created more than minAge ago, oldest first.
func (r *TransactionRepo) ListUncorroborated(ctx context.Context, minAge time.Duration, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE corroborated_at IS NULL AND created_at < now() - make_interval(secs => $1)
		ORDER BY created_at
		LIMIT $2
	`, minAge.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
