// Package store is the case, lead and court repository on gorm. It is the
// integration point between the scrapers and every read path: a case is
// visible to readers as soon as Insert returns.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/cache"
	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid lead status transition")
)

// Store implements the scraper CaseStore plus the read path
type Store struct {
	db     *gorm.DB
	cache  cache.Cache
	logger *logger.Logger
	now    func() time.Time
}

// New returns a store. c may be nil to disable the case cache.
func New(db *gorm.DB, c cache.Cache, log *logger.Logger) *Store {
	return &Store{db: db, cache: c, logger: log, now: time.Now}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Exists reports whether a case is stored. Cases are never deleted, so a
// cache hit is authoritative.
func (s *Store) Exists(ctx context.Context, caseID string) (bool, error) {
	if s.cache != nil {
		if _, ok := s.cache.Get(cache.CaseKey(caseID)); ok {
			return true, nil
		}
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&database.Case{}).Where("case_id = ?", caseID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check case %s: %w", caseID, err)
	}
	return count > 0, nil
}

// Insert stores a case and its documents. Without force an existing case
// is left untouched and inserted is false; concurrent inserts of one id
// leave exactly one row. With force the case is replaced.
func (s *Store) Insert(ctx context.Context, c *database.Case, force bool) (bool, error) {
	if c.CaseID == "" {
		return false, errors.New("case id is required")
	}

	if !force {
		exists, err := s.Exists(ctx, c.CaseID)
		if err != nil {
			return false, err
		}
		if exists {
			s.logger.Info("Case already exists, skipping insert", "case_id", c.CaseID)
			return false, nil
		}
	}

	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conflict := clause.OnConflict{DoNothing: true}
		if force {
			conflict = clause.OnConflict{UpdateAll: true}
		}

		res := tx.Clauses(conflict).Omit(clause.Associations).Create(c)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		inserted = true

		if force {
			if err := tx.Where("case_id = ?", c.CaseID).Delete(&database.CaseDocument{}).Error; err != nil {
				return err
			}
		}
		if len(c.Documents) == 0 {
			return nil
		}
		for i := range c.Documents {
			c.Documents[i].ID = 0
			c.Documents[i].CaseID = c.CaseID
		}
		return tx.Create(&c.Documents).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to insert case %s: %w", c.CaseID, err)
	}

	if !inserted {
		s.logger.Info("Case inserted concurrently, skipping", "case_id", c.CaseID)
		return false, nil
	}
	if s.cache != nil {
		s.cache.Set(cache.CaseKey(c.CaseID), c)
	}
	return true, nil
}

// InsertLead inserts a lead unless one exists for its case id
func (s *Store) InsertLead(ctx context.Context, lead *database.Lead) (bool, error) {
	if lead.Phones == nil {
		lead.Phones = []string{}
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(lead)
	if res.Error != nil {
		return false, fmt.Errorf("failed to insert lead %s: %w", lead.CaseID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// EnsureLead derives the lead of a stored case when it is missing
func (s *Store) EnsureLead(ctx context.Context, caseID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&database.Lead{}).Where("case_id = ?", caseID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check lead %s: %w", caseID, err)
	}
	if count > 0 {
		return false, nil
	}

	c, err := s.GetCase(ctx, caseID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.InsertLead(ctx, database.NewLead(c))
}

// EnsureCourt creates a court the first time it is seen
func (s *Store) EnsureCourt(ctx context.Context, court database.Court) error {
	if court.Code == "" {
		return nil
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&court).Error; err != nil {
		return fmt.Errorf("failed to ensure court %s: %w", court.Code, err)
	}
	return nil
}

// GetCase loads one case with its documents
func (s *Store) GetCase(ctx context.Context, caseID string) (*database.Case, error) {
	if s.cache != nil {
		if c, ok := s.cache.Get(cache.CaseKey(caseID)); ok {
			return c, nil
		}
	}

	var c database.Case
	err := s.db.WithContext(ctx).Preload("Documents").First(&c, "case_id = ?", caseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load case %s: %w", caseID, err)
	}

	if s.cache != nil {
		s.cache.Set(cache.CaseKey(caseID), &c)
	}
	return &c, nil
}

// CaseFilter narrows ListCases; zero fields do not filter
type CaseFilter struct {
	CourtCode string
	From      time.Time
	To        time.Time
	Tag       string
	Limit     int
	Offset    int
}

func (s *Store) ListCases(ctx context.Context, f CaseFilter) ([]database.Case, int64, error) {
	q := s.db.WithContext(ctx).Model(&database.Case{})
	if f.CourtCode != "" {
		q = q.Where("court_code = ?", f.CourtCode)
	}
	if !f.From.IsZero() {
		q = q.Where("filing_date >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("filing_date < ?", f.To.AddDate(0, 0, 1))
	}
	if f.Tag != "" {
		q = q.Where("charges_tag = ?", f.Tag)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count cases: %w", err)
	}

	var cases []database.Case
	err := q.Order("filing_date DESC, case_id").Limit(limitOrDefault(f.Limit)).Offset(f.Offset).Find(&cases).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cases: %w", err)
	}
	return cases, total, nil
}

// LeadFilter narrows ListLeads; zero fields do not filter
type LeadFilter struct {
	Status    string
	CourtCode string
	Tag       string
	Exported  *bool
	Limit     int
	Offset    int
}

func (s *Store) ListLeads(ctx context.Context, f LeadFilter) ([]database.Lead, int64, error) {
	q := s.db.WithContext(ctx).Model(&database.Lead{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.CourtCode != "" {
		q = q.Where("court_code = ?", f.CourtCode)
	}
	if f.Tag != "" {
		q = q.Where("tag = ?", f.Tag)
	}
	if f.Exported != nil {
		q = q.Where("cloudtalk_upload = ?", *f.Exported)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count leads: %w", err)
	}

	var leads []database.Lead
	err := q.Order("filing_date DESC, case_id").Limit(limitOrDefault(f.Limit)).Offset(f.Offset).Find(&leads).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list leads: %w", err)
	}
	return leads, total, nil
}

// UpdateLeadStatus moves a lead along its workflow and records the change
// as an event on the case
func (s *Store) UpdateLeadStatus(ctx context.Context, caseID, status string) (*database.Lead, error) {
	var lead database.Lead
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&lead, "case_id = ?", caseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("lead %s: %w", caseID, ErrNotFound)
			}
			return err
		}
		if !database.CanTransition(lead.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, lead.Status, status)
		}

		from := lead.Status
		lead.Status = status
		if err := tx.Model(&lead).Update("status", status).Error; err != nil {
			return err
		}

		var c database.Case
		if err := tx.First(&c, "case_id = ?", caseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		events := append(c.Events, database.Event{
			ID:          uuid.NewString(),
			Kind:        database.EventStatusChange,
			Description: from + " -> " + status,
			Date:        s.now().UTC(),
		})
		return tx.Model(&c).Select("events").Updates(database.Case{Events: events}).Error
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Delete(cache.CaseKey(caseID))
	}
	return &lead, nil
}

// Courts lists every known court
func (s *Store) Courts(ctx context.Context) ([]database.Court, error) {
	var courts []database.Court
	if err := s.db.WithContext(ctx).Order("code").Find(&courts).Error; err != nil {
		return nil, fmt.Errorf("failed to list courts: %w", err)
	}
	return courts, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
