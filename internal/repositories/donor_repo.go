package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/wedogs/backend/internal/models"
)

type DonorRepo struct {
	pool *pgxpool.Pool
}

func NewDonorRepo(pool *pgxpool.Pool) *DonorRepo {
	return &DonorRepo{pool: pool}
}

// Create registers a donor. wallet_address must already be normalized.
func (r *DonorRepo) Create(ctx context.Context, d *models.Donor) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO donors (wallet_address) VALUES ($1)
		RETURNING id, total_donated_fiat, donation_count, campaigns_supported, created_at
	`, d.WalletAddress).Scan(&d.ID, &d.TotalDonatedFiat, &d.DonationCount, &d.CampaignsSupported, &d.CreatedAt)
}

func (r *DonorRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Donor, error) {
	var d models.Donor
	err := r.pool.QueryRow(ctx, `
		SELECT id, wallet_address, total_donated_fiat, donation_count, campaigns_supported, stats_updated_at, created_at
		FROM donors WHERE id = $1
	`, id).Scan(&d.ID, &d.WalletAddress, &d.TotalDonatedFiat, &d.DonationCount, &d.CampaignsSupported, &d.StatsUpdatedAt, &d.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// GetByAddress matches the normalized raw wallet address.
func (r *DonorRepo) GetByAddress(ctx context.Context, address string) (*models.Donor, error) {
	var d models.Donor
	err := r.pool.QueryRow(ctx, `
		SELECT id, wallet_address, total_donated_fiat, donation_count, campaigns_supported, stats_updated_at, created_at
		FROM donors WHERE wallet_address = $1
	`, address).Scan(&d.ID, &d.WalletAddress, &d.TotalDonatedFiat, &d.DonationCount, &d.CampaignsSupported, &d.StatsUpdatedAt, &d.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// UpdateStats overwrites the cached totals with a fresh projection.
func (r *DonorRepo) UpdateStats(ctx context.Context, id uuid.UUID, total decimal.Decimal, count, campaigns int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE donors SET total_donated_fiat = $2, donation_count = $3, campaigns_supported = $4, stats_updated_at = now()
		WHERE id = $1
	`, id, total, count, campaigns)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStale returns donors whose cached totals predate their latest
// attributed transaction.
func (r *DonorRepo) ListStale(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT d.id FROM donors d
		WHERE EXISTS (
			SELECT 1 FROM transactions t
			WHERE t.donor_id = d.id
			  AND (d.stats_updated_at IS NULL OR GREATEST(t.created_at, t.corroborated_at) > d.stats_updated_at)
		)
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
