package store

import (
	"context"
	"fmt"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/database"
	"gorm.io/gorm"
)

// PendingDownloads lists documents with a remote source that were not fetched yet
func (s *Store) PendingDownloads(ctx context.Context, limit int) ([]database.CaseDocument, error) {
	var docs []database.CaseDocument
	q := s.db.WithContext(ctx).Where("source != ? AND downloaded = ?", "", false).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch pending downloads: %w", err)
	}
	return docs, nil
}

func (s *Store) MarkDownloaded(ctx context.Context, id uint, path string) error {
	return s.updateDocument(ctx, id, map[string]any{"downloaded": true, "file_path": path})
}

// PendingArchive lists downloaded documents that have no storage key yet
func (s *Store) PendingArchive(ctx context.Context, limit int) ([]database.CaseDocument, error) {
	var docs []database.CaseDocument
	q := s.db.WithContext(ctx).Where("downloaded = ? AND archived = ? AND file_path != ?", true, false, "").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch pending archives: %w", err)
	}
	return docs, nil
}

func (s *Store) MarkArchived(ctx context.Context, id uint, key string) error {
	return s.updateDocument(ctx, id, map[string]any{"archived": true, "storage_key": key})
}

// StaleLocalFiles lists downloaded documents older than the cutoff that
// still hold a local file. Unarchived files are kept.
func (s *Store) StaleLocalFiles(ctx context.Context, cutoff time.Time) ([]database.CaseDocument, error) {
	var docs []database.CaseDocument
	err := s.db.WithContext(ctx).
		Where("downloaded = ? AND archived = ? AND file_path != ? AND updated_at < ?", true, true, "", cutoff).
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stale documents: %w", err)
	}
	return docs, nil
}

// ClearLocalFile forgets the local copy of an archived document
func (s *Store) ClearLocalFile(ctx context.Context, id uint) error {
	return s.updateDocument(ctx, id, map[string]any{"file_path": ""})
}

func (s *Store) updateDocument(ctx context.Context, id uint, values map[string]any) error {
	res := s.db.WithContext(ctx).Model(&database.CaseDocument{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("failed to update document %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	return nil
}

// ExportLeads hands every lead not yet exported to write and flags them as
// exported in the same transaction. When write fails nothing is flagged.
func (s *Store) ExportLeads(ctx context.Context, write func([]database.Lead) error) (int, error) {
	count := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var leads []database.Lead
		if err := tx.Where("cloudtalk_upload = ?", false).Order("filing_date, case_id").Find(&leads).Error; err != nil {
			return err
		}
		if len(leads) == 0 {
			return nil
		}

		ids := make([]string, len(leads))
		for i, l := range leads {
			ids[i] = l.CaseID
		}
		if err := tx.Model(&database.Lead{}).Where("case_id IN ?", ids).Update("cloudtalk_upload", true).Error; err != nil {
			return err
		}
		if err := write(leads); err != nil {
			return err
		}
		count = len(leads)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to export leads: %w", err)
	}
	return count, nil
}
