package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wedogs/backend/internal/models"
)

type CampaignRepo struct {
	pool *pgxpool.Pool
}

func NewCampaignRepo(pool *pgxpool.Pool) *CampaignRepo {
	return &CampaignRepo{pool: pool}
}

const campaignColumns = `id, care_provider_id, dog_id, title, goal_fiat, spent_on_care_fiat,
		       escrow_contract_id, instant_address, status, created_at, updated_at`

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(&c.ID, &c.CareProviderID, &c.DogID, &c.Title, &c.GoalFiat, &c.SpentOnCareFiat,
		&c.EscrowContractID, &c.InstantAddress, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCampaigns(rows pgx.Rows) ([]models.Campaign, error) {
	defer rows.Close()
	var campaigns []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO campaigns (care_provider_id, dog_id, title, goal_fiat, instant_address, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, spent_on_care_fiat, created_at, updated_at
	`, c.CareProviderID, c.DogID, c.Title, c.GoalFiat, c.InstantAddress, c.Status,
	).Scan(&c.ID, &c.SpentOnCareFiat, &c.CreatedAt, &c.UpdatedAt)
}

func (r *CampaignRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	c, err := scanCampaign(r.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// SetEscrowContract links the contract only while no contract is linked.
// It reports whether the row changed.
func (r *CampaignRepo) SetEscrowContract(ctx context.Context, id uuid.UUID, contractID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns SET escrow_contract_id = $2, updated_at = now()
		WHERE id = $1 AND escrow_contract_id IS NULL
	`, id, contractID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type CampaignFilter struct {
	CareProviderID *uuid.UUID
	Status         *string
	Limit          int
	Offset         int
}

func (r *CampaignRepo) List(ctx context.Context, f CampaignFilter) ([]models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.CareProviderID != nil {
		where = append(where, fmt.Sprintf("care_provider_id = $%d", argIdx))
		args = append(args, *f.CareProviderID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanCampaigns(rows)
}

// ListFundable returns active campaigns with at least one rail reference.
func (r *CampaignRepo) ListFundable(ctx context.Context) ([]models.Campaign, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = $1 AND (escrow_contract_id IS NOT NULL OR instant_address IS NOT NULL)
		ORDER BY created_at
	`, models.CampaignStatusActive)
	if err != nil {
		return nil, err
	}
	return scanCampaigns(rows)
}

func (r *CampaignRepo) ListWithInstantAddress(ctx context.Context) ([]models.Campaign, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = $1 AND instant_address IS NOT NULL
		ORDER BY created_at
	`, models.CampaignStatusActive)
	if err != nil {
		return nil, err
	}
	return scanCampaigns(rows)
}
