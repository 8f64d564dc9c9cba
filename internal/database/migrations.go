package database

import (
	"fmt"

	"gorm.io/gorm"
)

// RunMigrations executes all database migrations
func RunMigrations(db *gorm.DB) error {
	// Create indexes for better performance
	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// createIndexes creates database indexes
func createIndexes(db *gorm.DB) error {
	// Range queries by court and filing date
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_cases_court_filing
		ON cases(court_code, filing_date)
	`).Error; err != nil {
		return err
	}

	// Lead listing and export selection
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_leads_status_export
		ON leads(status, cloudtalk_upload)
	`).Error; err != nil {
		return err
	}

	// Pending document downloads
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_case_documents_pending
		ON case_documents(downloaded, archived)
	`).Error; err != nil {
		return err
	}

	return nil
}
