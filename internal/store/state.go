package store

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/JustJay7/court-lead-harvester/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StateStore keeps one JSON state document per scraper name
type StateStore struct {
	db *gorm.DB
}

func NewStateStore(db *gorm.DB) *StateStore {
	return &StateStore{db: db}
}

// Load returns the stored state, or an empty map for a scraper that never ran
func (s *StateStore) Load(ctx context.Context, name string) (map[string]any, error) {
	var st database.ScraperState
	err := s.db.WithContext(ctx).First(&st, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state %s: %w", name, err)
	}
	out := make(map[string]any, len(st.State))
	maps.Copy(out, st.State)
	return out, nil
}

// Update replaces the stored state document
func (s *StateStore) Update(ctx context.Context, name string, state map[string]any) error {
	doc := make(database.JSONMap, len(state))
	maps.Copy(doc, state)

	st := database.ScraperState{Name: name, State: doc}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&st).Error; err != nil {
		return fmt.Errorf("failed to update state %s: %w", name, err)
	}
	return nil
}

// All lists every stored state document
func (s *StateStore) All(ctx context.Context) ([]database.ScraperState, error) {
	var states []database.ScraperState
	if err := s.db.WithContext(ctx).Order("name").Find(&states).Error; err != nil {
		return nil, fmt.Errorf("failed to list scraper states: %w", err)
	}
	return states, nil
}

// Reset deletes a state document so the next run starts from defaults
func (s *StateStore) Reset(ctx context.Context, name string) error {
	if err := s.db.WithContext(ctx).Delete(&database.ScraperState{}, "name = ?", name).Error; err != nil {
		return fmt.Errorf("failed to reset state %s: %w", name, err)
	}
	return nil
}
