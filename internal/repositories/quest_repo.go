package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wedogs/backend/internal/models"
)

type QuestRepo struct {
	pool *pgxpool.Pool
}

func NewQuestRepo(pool *pgxpool.Pool) *QuestRepo {
	return &QuestRepo{pool: pool}
}

func (r *QuestRepo) ListActiveQuests(ctx context.Context) ([]models.Quest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, kind, threshold, points, is_active
		FROM quests WHERE is_active
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quests []models.Quest
	for rows.Next() {
		var q models.Quest
		if err := rows.Scan(&q.ID, &q.Name, &q.Kind, &q.Threshold, &q.Points, &q.IsActive); err != nil {
			return nil, err
		}
		quests = append(quests, q)
	}
	return quests, rows.Err()
}

func (r *QuestRepo) ListLevels(ctx context.Context) ([]models.Level, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, rank, min_total_donated, min_donation_count
		FROM levels ORDER BY rank
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var levels []models.Level
	for rows.Next() {
		var l models.Level
		if err := rows.Scan(&l.ID, &l.Name, &l.Rank, &l.MinTotalDonated, &l.MinDonationCount); err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	return levels, rows.Err()
}
