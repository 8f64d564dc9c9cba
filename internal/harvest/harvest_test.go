package harvest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/config"
	"github.com/JustJay7/court-lead-harvester/internal/courts"
	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/JustJay7/court-lead-harvester/internal/review"
	"github.com/JustJay7/court-lead-harvester/internal/scraper"
	"github.com/JustJay7/court-lead-harvester/internal/store"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJurisdiction struct {
	name   string
	court  string
	found  map[int]bool
	closed *atomic.Int32
}

func (f *fakeJurisdiction) Name() string { return f.name }

func (f *fakeJurisdiction) Identifiers(state scraper.State) scraper.IdentifierSource {
	return scraper.Sequential(state, scraper.Sequence{
		Key:    f.court,
		Start:  1,
		End:    6,
		Court:  f.court,
		Format: func(n int) string { return fmt.Sprintf("%s-%d", f.court, n) },
	})
}

func (f *fakeJurisdiction) Fetch(_ context.Context, id scraper.Identifier) scraper.Outcome {
	var n int
	fmt.Sscanf(id.CaseID[len(f.court)+1:], "%d", &n)
	if f.found[n] {
		return scraper.Found(scraper.RawRecord{CaseID: id.CaseID})
	}
	return scraper.NotFound()
}

func (f *fakeJurisdiction) Normalize(rec scraper.RawRecord) (*database.Case, error) {
	return &database.Case{
		CaseID:     rec.CaseID,
		FirstName:  "Jane",
		LastName:   "Doe",
		FilingDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeJurisdiction) Close() error {
	f.closed.Add(1)
	return nil
}

type fixture struct {
	service *Service
	store   *store.Store
	states  *store.StateStore
	closed  *atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "harvest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	sink, err := review.NewFileSink(t.TempDir(), logger.NewNop())
	require.NoError(t, err)

	closed := &atomic.Int32{}
	registry := courts.NewRegistry()
	factory := func(found map[int]bool) courts.Factory {
		return func(_ courts.Deps, court database.Court, _ courts.Options) (scraper.Jurisdiction, error) {
			return &fakeJurisdiction{name: court.Scraper, court: court.Code, found: found, closed: closed}, nil
		}
	}
	registry.Register("alpha", factory(map[int]bool{1: true, 2: true}), courts.Options{},
		database.Court{Code: "AA_ONE", Name: "Alpha First Court", Enabled: true},
		database.Court{Code: "AA_TWO", Name: "Alpha Second Court", Enabled: true},
	)
	registry.Register("beta", factory(map[int]bool{3: true}), courts.Options{},
		database.Court{Code: "BB_ONE", Name: "Beta Court", Enabled: true},
	)
	registry.Register("broken", func(courts.Deps, database.Court, courts.Options) (scraper.Jurisdiction, error) {
		return nil, errors.New("missing credentials")
	}, courts.Options{}, database.Court{Code: "ZZ_BAD", Name: "Broken Court"})

	cases := store.New(db, nil, logger.NewNop())
	states := store.NewStateStore(db)
	cfg := &config.Config{MaxConcurrentScrapes: 2, NotFoundThreshold: 10}
	deps := courts.Deps{Config: cfg, Logger: logger.NewNop()}

	return &fixture{
		service: NewService(cfg, registry, deps, cases, states, sink, logger.NewNop()),
		store:   cases,
		states:  states,
		closed:  closed,
	}
}

func TestRetrieveCasesAcrossScrapers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	summary, err := f.service.RetrieveCases(ctx, Request{Courts: []string{"AA_ONE", "BB_ONE", "AA_TWO", "aa_one"}})
	require.NoError(t, err)
	assert.True(t, summary.Success, summary.Message)
	assert.Equal(t, 5, summary.Inserted)
	assert.Equal(t, 5, summary.Leads)
	require.Len(t, summary.Courts, 3)
	assert.Equal(t, "AA_ONE", summary.Courts[0].Court)
	assert.Equal(t, "AA_TWO", summary.Courts[1].Court)
	assert.Equal(t, "BB_ONE", summary.Courts[2].Court)
	assert.Equal(t, scraper.StopExhausted, summary.Courts[0].Stats.StopReason)
	assert.Equal(t, int32(3), f.closed.Load())
	assert.Equal(t, "retrieved 5 new cases from 3 courts", summary.Message)

	// both courts of one scraper share its state document
	state, err := f.states.Load(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, float64(6), state["AA_ONE"])
	assert.Equal(t, float64(6), state["AA_TWO"])

	again, err := f.service.RetrieveCases(ctx, Request{Courts: []string{"Beta Court"}})
	require.NoError(t, err)
	assert.Zero(t, again.Inserted)
}

func TestRetrieveCasesDefaultsToEnabledCourts(t *testing.T) {
	f := newFixture(t)
	f.service.registry = courts.NewRegistry()
	f.service.registry.Register("alpha", func(_ courts.Deps, court database.Court, _ courts.Options) (scraper.Jurisdiction, error) {
		return &fakeJurisdiction{name: "alpha", court: court.Code, closed: f.closed}, nil
	}, courts.Options{}, database.Court{Code: "AA_ONE", Name: "Alpha", Enabled: true})

	groups, order, err := f.service.plan(nil)
	require.NoError(t, err)
	assert.Contains(t, order, "alpha")
	assert.Len(t, groups["alpha"], 1)
	for _, name := range order {
		for _, c := range groups[name] {
			assert.True(t, c.Enabled)
		}
	}
}

func TestRetrieveCasesReportsFailures(t *testing.T) {
	f := newFixture(t)

	summary, err := f.service.RetrieveCases(context.Background(), Request{Courts: []string{"ZZ_BAD", "BB_ONE"}})
	require.NoError(t, err)
	assert.False(t, summary.Success)
	assert.Equal(t, "1 of 2 courts failed; retrieved 1 new cases", summary.Message)
	assert.Equal(t, "missing credentials", summary.Courts[0].Error)
	assert.Empty(t, summary.Courts[1].Error)
}

func TestRetrieveCasesRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	summary, err := f.service.RetrieveCases(context.Background(), Request{Courts: []string{"Court of Nowhere"}})
	assert.ErrorIs(t, err, courts.ErrUnknownCourt)
	assert.False(t, summary.Success)
	assert.NotEmpty(t, summary.Message)

	_, err = f.service.RetrieveCases(context.Background(), Request{
		From: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Error(t, err)
}

func TestRetrieveCasesSkipsBusyScraper(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.service.acquire("alpha"))

	summary, err := f.service.RetrieveCases(context.Background(), Request{Courts: []string{"AA_ONE"}})
	require.NoError(t, err)
	assert.False(t, summary.Success)
	assert.Equal(t, ErrAlreadyRunning.Error(), summary.Courts[0].Error)

	_, err = f.service.ScrapeCourt(context.Background(), "AA_TWO", Request{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	f.service.release("alpha")
	stats, err := f.service.ScrapeCourt(context.Background(), "AA_TWO", Request{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Inserted)
}

type recordingRetriever struct {
	requests []Request
	err      error
}

func (r *recordingRetriever) RetrieveCases(_ context.Context, req Request) (Summary, error) {
	r.requests = append(r.requests, req)
	return Summary{Success: r.err == nil}, r.err
}

func TestSchedulerWindow(t *testing.T) {
	cfg := &config.Config{ScheduleCron: "0 */6 * * *", LookbackDays: 3, ScheduleCourts: []string{"MO_SLCO"}}
	rec := &recordingRetriever{}
	s, err := NewScheduler(cfg, rec, logger.NewNop())
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 5, 10, 18, 30, 0, 0, time.UTC) }

	s.RunOnce()
	require.Len(t, rec.requests, 1)
	assert.Equal(t, time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC), rec.requests[0].From)
	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), rec.requests[0].To)
	assert.Equal(t, []string{"MO_SLCO"}, rec.requests[0].Courts)

	rec.err = errors.New("bad court")
	s.RunOnce()
	assert.Len(t, rec.requests, 2)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler(&config.Config{ScheduleCron: "not a spec"}, &recordingRetriever{}, logger.NewNop())
	assert.Error(t, err)
}

func TestSchedulerStartStop(t *testing.T) {
	s, err := NewScheduler(&config.Config{ScheduleCron: "@every 1h"}, &recordingRetriever{}, logger.NewNop())
	require.NoError(t, err)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
