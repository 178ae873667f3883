package repository

import (
	"context"
	"fmt"

	"shortsight/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type VisitorStore struct {
	db *gorm.DB
}

func NewVisitorStore(db *gorm.DB) *VisitorStore {
	return &VisitorStore{db: db}
}

// Insert is idempotent on the event ID so redelivered events do not double count.
func (s *VisitorStore) Insert(ctx context.Context, event *models.VisitorEvent) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(event).Error
	if err != nil {
		return fmt.Errorf("insert visitor event: %w", err)
	}
	return nil
}

type bucket struct {
	Label string
	Total int64
}

func (s *VisitorStore) breakdown(ctx context.Context, slug, column string) (map[string]int64, error) {
	var rows []bucket
	err := s.db.WithContext(ctx).Model(&models.VisitorEvent{}).
		Select("COALESCE("+column+", '') AS label, COUNT(*) AS total").
		Where("slug = ?", slug).
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", column, err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		label := r.Label
		if label == "" {
			label = "Unknown"
		}
		out[label] += r.Total
	}
	return out, nil
}

// Stats aggregates the click history for slug.
func (s *VisitorStore) Stats(ctx context.Context, slug string) (*models.LinkStats, error) {
	stats := &models.LinkStats{Slug: slug}
	if err := s.db.WithContext(ctx).Model(&models.VisitorEvent{}).Where("slug = ?", slug).Count(&stats.TotalClicks).Error; err != nil {
		return nil, fmt.Errorf("count visitor events: %w", err)
	}

	var err error
	if stats.Countries, err = s.breakdown(ctx, slug, "country"); err != nil {
		return nil, err
	}
	if stats.Browsers, err = s.breakdown(ctx, slug, "browser"); err != nil {
		return nil, err
	}
	if stats.Devices, err = s.breakdown(ctx, slug, "device"); err != nil {
		return nil, err
	}
	if stats.Referers, err = s.breakdown(ctx, slug, "referer"); err != nil {
		return nil, err
	}
	return stats, nil
}
