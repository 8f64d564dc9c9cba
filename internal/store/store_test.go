package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/cache"
	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(openDB(t), cache.NewCache(100, time.Minute), logger.NewNop())
}

func sampleCase(id string) *database.Case {
	return &database.Case{
		CaseID:     id,
		CourtCode:  "MO_SLCO",
		Source:     "missouri_casenet",
		FilingDate: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		FirstName:  "Jane",
		LastName:   "Doe",
		ChargesTag: "dwi",
		Documents:  []database.CaseDocument{{Source: "https://court.test/" + id + ".pdf"}},
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.Insert(ctx, sampleCase("24SL-TR00001"), false)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Insert(ctx, sampleCase("24SL-TR00001"), false)
	require.NoError(t, err)
	assert.False(t, inserted)

	var docs int64
	require.NoError(t, s.DB().Model(&database.CaseDocument{}).Count(&docs).Error)
	assert.Equal(t, int64(1), docs)

	exists, err := s.Exists(ctx, "24SL-TR00001")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.Exists(ctx, "24SL-TR00002")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestConcurrentInsertKeepsOneRow(t *testing.T) {
	// no cache so both writers reach the database
	s := New(openDB(t), nil, logger.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.Insert(ctx, sampleCase("24SL-TR00042"), false)
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	var cases, docs int64
	require.NoError(t, s.DB().Model(&database.Case{}).Count(&cases).Error)
	require.NoError(t, s.DB().Model(&database.CaseDocument{}).Count(&docs).Error)
	assert.Equal(t, int64(1), cases)
	assert.Equal(t, int64(1), docs)
}

func TestForceInsertReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, sampleCase("C1"), false)
	require.NoError(t, err)

	updated := sampleCase("C1")
	updated.CaseStatus = "closed"
	updated.Documents = []database.CaseDocument{{Source: "a.pdf"}, {Source: "b.pdf"}}
	inserted, err := s.Insert(ctx, updated, true)
	require.NoError(t, err)
	assert.True(t, inserted)

	s.cache.Clear()
	got, err := s.GetCase(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "closed", got.CaseStatus)
	assert.Len(t, got.Documents, 2)
}

func TestLeadsAndCourts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := sampleCase("C1")
	_, err := s.Insert(ctx, c, false)
	require.NoError(t, err)

	ok, err := s.InsertLead(ctx, database.NewLead(c))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.InsertLead(ctx, database.NewLead(c))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.EnsureLead(ctx, "C1")
	require.NoError(t, err)
	assert.False(t, ok)

	// a case stored without its lead gets one on the next encounter
	_, err = s.Insert(ctx, sampleCase("C2"), false)
	require.NoError(t, err)
	ok, err = s.EnsureLead(ctx, "C2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.EnsureLead(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	court := database.Court{Code: "MO_SLCO", State: "MO", Name: "St. Louis County", Scraper: "missouri_casenet", Enabled: true}
	require.NoError(t, s.EnsureCourt(ctx, court))
	court.Name = "renamed"
	require.NoError(t, s.EnsureCourt(ctx, court))

	courts, err := s.Courts(ctx)
	require.NoError(t, err)
	require.Len(t, courts, 1)
	assert.Equal(t, "St. Louis County", courts[0].Name)
}

func TestGetCaseNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetCase(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"A", "B", "C"} {
		c := sampleCase(id)
		c.FilingDate = time.Date(2024, 5, 1+i, 0, 0, 0, 0, time.UTC)
		if id == "C" {
			c.CourtCode = "IL_COOK"
			c.ChargesTag = "minor"
		}
		_, err := s.Insert(ctx, c, false)
		require.NoError(t, err)
		_, err = s.InsertLead(ctx, database.NewLead(c))
		require.NoError(t, err)
	}

	cases, total, err := s.ListCases(ctx, CaseFilter{CourtCode: "MO_SLCO"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, "B", cases[0].CaseID)

	_, total, err = s.ListCases(ctx, CaseFilter{
		From: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	leads, total, err := s.ListLeads(ctx, LeadFilter{Tag: "minor"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "C", leads[0].CaseID)

	exported := false
	_, total, err = s.ListLeads(ctx, LeadFilter{Exported: &exported, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestUpdateLeadStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.now = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }

	c := sampleCase("C1")
	_, err := s.Insert(ctx, c, false)
	require.NoError(t, err)
	_, err = s.InsertLead(ctx, database.NewLead(c))
	require.NoError(t, err)

	lead, err := s.UpdateLeadStatus(ctx, "C1", database.LeadStatusContacted)
	require.NoError(t, err)
	assert.Equal(t, database.LeadStatusContacted, lead.Status)

	_, err = s.UpdateLeadStatus(ctx, "C1", database.LeadStatusNew)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.UpdateLeadStatus(ctx, "missing", database.LeadStatusContacted)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetCase(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, got.Events, 1)
	assert.Equal(t, database.EventStatusChange, got.Events[0].Kind)
	assert.Equal(t, "new -> contacted", got.Events[0].Description)
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, sampleCase("C1"), false)
	require.NoError(t, err)

	pending, err := s.PendingDownloads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.MarkDownloaded(ctx, pending[0].ID, "/tmp/C1.pdf"))
	pending, err = s.PendingDownloads(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	toArchive, err := s.PendingArchive(ctx, 0)
	require.NoError(t, err)
	require.Len(t, toArchive, 1)
	require.NoError(t, s.MarkArchived(ctx, toArchive[0].ID, "cases/C1/C1.pdf"))

	stale, err := s.StaleLocalFiles(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.NoError(t, s.ClearLocalFile(ctx, stale[0].ID))

	assert.ErrorIs(t, s.MarkDownloaded(ctx, 999, "x"), ErrNotFound)
}

func TestExportLeads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"A", "B"} {
		c := sampleCase(id)
		_, err := s.Insert(ctx, c, false)
		require.NoError(t, err)
		_, err = s.InsertLead(ctx, database.NewLead(c))
		require.NoError(t, err)
	}

	_, err := s.ExportLeads(ctx, func([]database.Lead) error { return errors.New("disk full") })
	require.Error(t, err)

	var seen []string
	n, err := s.ExportLeads(ctx, func(leads []database.Lead) error {
		for _, l := range leads {
			seen = append(seen, l.CaseID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"A", "B"}, seen)

	n, err = s.ExportLeads(ctx, func([]database.Lead) error {
		t.Fatal("nothing left to export")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStateStore(t *testing.T) {
	states := NewStateStore(openDB(t))
	ctx := context.Background()

	got, err := states.Load(ctx, "missouri_casenet")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, states.Update(ctx, "missouri_casenet", map[string]any{"MO_SLCO": 1532}))
	require.NoError(t, states.Update(ctx, "missouri_casenet", map[string]any{"MO_SLCO": 1533, "MO_JACK": 10}))

	got, err = states.Load(ctx, "missouri_casenet")
	require.NoError(t, err)
	assert.Equal(t, float64(1533), got["MO_SLCO"])
	assert.Equal(t, float64(10), got["MO_JACK"])

	all, err := states.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, states.Reset(ctx, "missouri_casenet"))
	got, err = states.Load(ctx, "missouri_casenet")
	require.NoError(t, err)
	assert.Empty(t, got)
}
