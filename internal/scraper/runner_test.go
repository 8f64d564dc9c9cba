package scraper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory CaseStore and StateStore
type memStore struct {
	mu      sync.Mutex
	cases   map[string]*database.Case
	leads   map[string]*database.Lead
	courts  map[string]database.Court
	states  map[string]map[string]any
	updates int
}

func newMemStore() *memStore {
	return &memStore{
		cases:  map[string]*database.Case{},
		leads:  map[string]*database.Lead{},
		courts: map[string]database.Court{},
		states: map[string]map[string]any{},
	}
}

func (m *memStore) Exists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cases[id]
	return ok, nil
}

func (m *memStore) Insert(_ context.Context, c *database.Case, force bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[c.CaseID]; ok && !force {
		return false, nil
	}
	copied := *c
	m.cases[c.CaseID] = &copied
	return true, nil
}

func (m *memStore) InsertLead(_ context.Context, lead *database.Lead) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leads[lead.CaseID]; ok {
		return false, nil
	}
	m.leads[lead.CaseID] = lead
	return true, nil
}

func (m *memStore) EnsureLead(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return false, nil
	}
	if _, ok := m.leads[id]; ok {
		return false, nil
	}
	m.leads[id] = database.NewLead(c)
	return true, nil
}

func (m *memStore) EnsureCourt(_ context.Context, court database.Court) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courts[court.Code]; !ok {
		m.courts[court.Code] = court
	}
	return nil
}

func (m *memStore) Load(_ context.Context, name string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return NewState(m.states[name]).Map(), nil
}

func (m *memStore) Update(_ context.Context, name string, state map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[name] = state
	m.updates++
	return nil
}

func (m *memStore) cursor(name, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return NewState(m.states[name]).Int(key, 0)
}

type reviewEntry struct {
	caseID string
	raw    any
	reason string
}

type memReview struct {
	entries []reviewEntry
}

func (m *memReview) Write(_ context.Context, caseID string, raw any, reason string) error {
	m.entries = append(m.entries, reviewEntry{caseID, raw, reason})
	return nil
}

// fakeCourt serves sequential case numbers; found decides which exist
type fakeCourt struct {
	found     func(n int) bool
	fetched   []string
	panicOn   string
	badOn     string
	fatalOn   string
	captchaOn map[string]int
	refreshes int
	startErr  error
}

func (f *fakeCourt) Name() string { return "fake_court" }

func (f *fakeCourt) Identifiers(state State) IdentifierSource {
	return Sequential(state, Sequence{Key: "last_case_id_nb", Start: 1001, Court: "TEST_COURT"})
}

func (f *fakeCourt) Fetch(_ context.Context, id Identifier) Outcome {
	f.fetched = append(f.fetched, id.CaseID)
	if id.CaseID == f.panicOn {
		panic("unexpected markup")
	}
	if f.captchaOn[id.CaseID] > 0 {
		f.captchaOn[id.CaseID]--
		return Transient(fmt.Errorf("%w: challenge page", ErrCaptchaBlocked))
	}
	if id.CaseID == f.fatalOn {
		return Fatal(errors.New("account locked"))
	}
	n, _ := strconv.Atoi(id.CaseID)
	if f.found != nil && f.found(n) {
		return Found(RawRecord{CaseID: id.CaseID, Body: "<html>case " + id.CaseID + "</html>"})
	}
	return NotFound()
}

func (f *fakeCourt) Normalize(rec RawRecord) (*database.Case, error) {
	if rec.CaseID == f.badOn {
		return nil, errors.New("missing defendant name")
	}
	return &database.Case{CaseID: rec.CaseID, FirstName: "Jane", LastName: "Doe"}, nil
}

func (f *fakeCourt) Start(context.Context) error { return f.startErr }

func (f *fakeCourt) RefreshSession(context.Context) error {
	f.refreshes++
	return nil
}

func between(lo, hi int) func(int) bool {
	return func(n int) bool { return n >= lo && n <= hi }
}

func newTestRunner(j Jurisdiction, store *memStore, review *memReview, cfg RunnerConfig) *Runner {
	r := NewRunner(j, store, store, review, logger.NewNop(), cfg)
	r.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return r
}

func TestScrapeEndToEnd(t *testing.T) {
	store := newMemStore()
	court := &fakeCourt{found: between(1001, 1005)}

	stats, err := newTestRunner(court, store, &memReview{}, RunnerConfig{}).Scrape(context.Background())
	require.NoError(t, err)

	assert.Len(t, store.cases, 5)
	assert.Len(t, store.leads, 5)
	assert.Equal(t, 1016, store.cursor("fake_court", "last_case_id_nb"))
	assert.Equal(t, StopNotFound, stats.StopReason)
	assert.Equal(t, 5, stats.Inserted)
	assert.Equal(t, 5, stats.Leads)
	assert.Equal(t, 10, stats.NotFound)
	assert.Len(t, court.fetched, 15)

	c := store.cases["1003"]
	assert.Equal(t, "TEST_COURT", c.CourtCode)
	assert.Equal(t, "fake_court", c.Source)
	require.Len(t, c.Events, 1)
	assert.Equal(t, database.EventScraped, c.Events[0].Kind)
	assert.Contains(t, store.courts, "TEST_COURT")
	assert.Equal(t, database.LeadStatusNew, store.leads["1003"].Status)
}

func TestScrapeStopsAfterExactlyThreshold(t *testing.T) {
	for _, threshold := range []int{10, 3} {
		t.Run(strconv.Itoa(threshold), func(t *testing.T) {
			store := newMemStore()
			court := &fakeCourt{}
			cfg := RunnerConfig{}
			if threshold != 10 {
				cfg.NotFoundThreshold = threshold
			}

			stats, err := newTestRunner(court, store, &memReview{}, cfg).Scrape(context.Background())
			require.NoError(t, err)
			assert.Len(t, court.fetched, threshold)
			assert.Equal(t, threshold, stats.NotFound)
			assert.Equal(t, 1001+threshold, store.cursor("fake_court", "last_case_id_nb"))
		})
	}
}

func TestScrapeFoundResetsNotFoundCount(t *testing.T) {
	store := newMemStore()
	// a gap of nine missing numbers must not stop the crawl
	court := &fakeCourt{found: func(n int) bool { return n == 1001 || n == 1011 }}

	stats, err := newTestRunner(court, store, &memReview{}, RunnerConfig{}).Scrape(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 1022, store.cursor("fake_court", "last_case_id_nb"))
}

func TestScrapeIsIdempotent(t *testing.T) {
	store := newMemStore()
	store.cases["1003"] = &database.Case{CaseID: "1003", CaseStatus: "closed", LastName: "Stored"}
	court := &fakeCourt{found: between(1001, 1005)}

	stats, err := newTestRunner(court, store, &memReview{}, RunnerConfig{}).Scrape(context.Background())
	require.NoError(t, err)

	assert.NotContains(t, court.fetched, "1003")
	assert.Equal(t, "closed", store.cases["1003"].CaseStatus)
	assert.Equal(t, "Stored", store.cases["1003"].LastName)
	assert.Equal(t, 1, stats.Existing)
	assert.Equal(t, 4, stats.Inserted)
	assert.Equal(t, 5, stats.Leads)
	assert.Len(t, store.leads, 5)

	// replay from scratch: nothing is fetched twice and no lead duplicates
	delete(store.states, "fake_court")
	court.fetched = nil
	stats, err = newTestRunner(court, store, &memReview{}, RunnerConfig{}).Scrape(context.Background())
	require.NoError(t, err)

	for _, id := range []string{"1001", "1002", "1003", "1004", "1005"} {
		assert.NotContains(t, court.fetched, id)
	}
	assert.Equal(t, 5, stats.Existing)
	assert.Zero(t, stats.Leads)
	assert.Len(t, store.cases, 5)
	assert.Len(t, store.leads, 5)
}

func TestScrapeResumesFromPersistedCursor(t *testing.T) {
	store := newMemStore()
	court := &fakeCourt{found: between(1001, 1005)}
	_, err := newTestRunner(court, store, &memReview{}, RunnerConfig{}).Scrape(context.Background())
	require.NoError(t, err)

	court.found = between(1016, 1017)
	court.fetched = nil
	stats, err := newTestRunner(court, store, &memReview{}, RunnerConfig{}).Scrape(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, court.fetched)
	assert.Equal(t, "1016", court.fetched[0])
	assert.Equal(t, 2, stats.Inserted)
	assert.Len(t, store.cases, 7)
	assert.Equal(t, 1028, store.cursor("fake_court", "last_case_id_nb"))
}

func TestScrapeLaggingCursorDoesNotRefetch(t *testing.T) {
	store := newMemStore()
	court := &fakeCourt{found: between(1001, 1005)}
	_, err := newTestRunner(court, store, &memReview{}, RunnerConfig{}).Scrape(context.Background())
	require.NoError(t, err)

	// simulate a crash that lost the last flushes
	store.states["fake_court"] = map[string]any{"last_case_id_nb": float64(1003)}
	court.fetched = nil
	stats, err := newTestRunner(court, store, &memReview{}, RunnerConfig{}).Scrape(context.Background())
	require.NoError(t, err)

	assert.NotContains(t, court.fetched, "1003")
	assert.NotContains(t, court.fetched, "1004")
	assert.NotContains(t, court.fetched, "1005")
	assert.Equal(t, 3, stats.Existing)
	assert.Len(t, store.cases, 5)
}

func TestScrapeSendsUnparsableRecordsToReview(t *testing.T) {
	store := newMemStore()
	review := &memReview{}
	court := &fakeCourt{found: between(1001, 1005), badOn: "1002"}

	stats, err := newTestRunner(court, store, review, RunnerConfig{}).Scrape(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Inserted)
	assert.Equal(t, 1, stats.Reviewed)
	assert.NotContains(t, store.cases, "1002")
	require.Len(t, review.entries, 1)
	assert.Equal(t, "1002", review.entries[0].caseID)
	assert.Equal(t, "missing defendant name", review.entries[0].reason)
	raw, ok := review.entries[0].raw.(RawRecord)
	require.True(t, ok)
	assert.Contains(t, raw.Body, "case 1002")
}

func TestScrapeSurvivesPanics(t *testing.T) {
	store := newMemStore()
	court := &fakeCourt{found: between(1001, 1005), panicOn: "1003"}

	stats, err := newTestRunner(court, store, &memReview{}, RunnerConfig{}).Scrape(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Inserted)
	assert.Equal(t, 1, stats.Errors)
	assert.NotContains(t, store.cases, "1003")
	assert.Equal(t, 1016, store.cursor("fake_court", "last_case_id_nb"))
}

func TestScrapeRefreshesSessionOnCaptchaBlock(t *testing.T) {
	store := newMemStore()
	court := &fakeCourt{found: between(1001, 1005), captchaOn: map[string]int{"1002": 1}}

	stats, err := newTestRunner(court, store, &memReview{}, RunnerConfig{}).Scrape(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, court.refreshes)
	assert.Equal(t, 5, stats.Inserted)
	assert.Zero(t, stats.Transient)
}

func TestScrapeCountsPersistentCaptchaBlockAsNotFound(t *testing.T) {
	store := newMemStore()
	court := &fakeCourt{found: between(1001, 1005), captchaOn: map[string]int{"1002": 2}}

	stats, err := newTestRunner(court, store, &memReview{}, RunnerConfig{}).Scrape(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, court.refreshes)
	assert.Equal(t, 1, stats.Transient)
	assert.Equal(t, 4, stats.Inserted)
}

// sweepCourt lists two filings per day and shows a CAPTCHA wall on the
// first blocks listings
type sweepCourt struct {
	fakeCourt
	blocks int
	listed []string
}

func (s *sweepCourt) Name() string { return "sweep_court" }

func (s *sweepCourt) Identifiers(state State) IdentifierSource {
	return DateSweep(state, Sweep{
		Key:   "next_filing_date",
		From:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		To:    time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		Court: "TEST_COURT",
		List: func(_ context.Context, day time.Time) ([]string, error) {
			if s.blocks > 0 {
				s.blocks--
				return nil, fmt.Errorf("%w: zero balance", ErrCaptchaBlocked)
			}
			s.listed = append(s.listed, day.Format(time.DateOnly))
			return []string{day.Format("0102") + "1", day.Format("0102") + "2"}, nil
		},
	})
}

func TestScrapeRefreshesSessionWhenListingIsBlocked(t *testing.T) {
	store := newMemStore()
	court := &sweepCourt{fakeCourt: fakeCourt{found: func(int) bool { return true }}, blocks: 1}

	stats, err := newTestRunner(court, store, &memReview{}, RunnerConfig{}).Scrape(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, court.refreshes)
	assert.Equal(t, StopExhausted, stats.StopReason)
	assert.Equal(t, []string{"2024-05-01", "2024-05-02"}, court.listed)
	assert.Equal(t, 4, stats.Inserted)
	assert.Contains(t, store.cases, "05011")
}

func TestScrapeStopsWhenListingStaysBlocked(t *testing.T) {
	store := newMemStore()
	court := &sweepCourt{fakeCourt: fakeCourt{found: func(int) bool { return true }}, blocks: 2}

	stats, err := newTestRunner(court, store, &memReview{}, RunnerConfig{}).Scrape(context.Background())
	require.ErrorIs(t, err, ErrCaptchaBlocked)

	assert.Equal(t, 1, court.refreshes)
	assert.Equal(t, StopSourceError, stats.StopReason)
	assert.Zero(t, stats.Processed)
}

func TestScrapeFatalOutcomeStops(t *testing.T) {
	store := newMemStore()
	court := &fakeCourt{found: between(1001, 1005), fatalOn: "1003"}

	stats, err := newTestRunner(court, store, &memReview{}, RunnerConfig{}).Scrape(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account locked")
	assert.Equal(t, StopFatal, stats.StopReason)
	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 1003, store.cursor("fake_court", "last_case_id_nb"))
}

func TestScrapeStartFailureIsFatal(t *testing.T) {
	store := newMemStore()
	court := &fakeCourt{startErr: errors.New("browser not found")}

	_, err := newTestRunner(court, store, &memReview{}, RunnerConfig{}).Scrape(context.Background())
	require.Error(t, err)
	assert.Empty(t, court.fetched)
}

func TestScrapeCancellationFlushesProgress(t *testing.T) {
	store := newMemStore()
	court := &fakeCourt{found: between(1001, 1005)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newTestRunner(court, store, &memReview{}, RunnerConfig{})
	sleeps := 0
	r.sleep = func(ctx context.Context, _ time.Duration) error {
		sleeps++
		if sleeps == 3 {
			cancel()
		}
		return ctx.Err()
	}

	stats, err := r.Scrape(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StopCanceled, stats.StopReason)
	assert.Equal(t, 3, stats.Inserted)
	assert.Equal(t, 1004, store.cursor("fake_court", "last_case_id_nb"))
}

func TestScrapeFlushCadence(t *testing.T) {
	store := newMemStore()
	court := &fakeCourt{}

	_, err := newTestRunner(court, store, &memReview{}, RunnerConfig{FlushEvery: 3}).Scrape(context.Background())
	require.NoError(t, err)

	// flushes after 3, 6 and 9 identifiers and once more on exit
	assert.Equal(t, 4, store.updates)
	assert.Equal(t, 1011, store.cursor("fake_court", "last_case_id_nb"))
}

func TestRunnerDelayStaysInBounds(t *testing.T) {
	r := NewRunner(&fakeCourt{}, newMemStore(), newMemStore(), &memReview{}, logger.NewNop(),
		RunnerConfig{MinDelay: 2 * time.Second, MaxDelay: 6 * time.Second})
	for i := 0; i < 100; i++ {
		d := r.delay()
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}

	fixed := NewRunner(&fakeCourt{}, newMemStore(), newMemStore(), &memReview{}, logger.NewNop(),
		RunnerConfig{MinDelay: time.Second})
	assert.Equal(t, time.Second, fixed.delay())
}
