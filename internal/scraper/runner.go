package scraper

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"github.com/google/uuid"
)

// CaseStore is the slice of the case repository the runner depends on
type CaseStore interface {
	Exists(ctx context.Context, caseID string) (bool, error)
	Insert(ctx context.Context, c *database.Case, force bool) (bool, error)
	InsertLead(ctx context.Context, lead *database.Lead) (bool, error)
	EnsureLead(ctx context.Context, caseID string) (bool, error)
	EnsureCourt(ctx context.Context, court database.Court) error
}

// StateStore persists one state blob per scraper name
type StateStore interface {
	Load(ctx context.Context, name string) (map[string]any, error)
	Update(ctx context.Context, name string, state map[string]any) error
}

// ReviewSink receives raw records that could not be normalized
type ReviewSink interface {
	Write(ctx context.Context, caseID string, raw any, reason string) error
}

// CourtProvider is implemented by jurisdictions that know the reference
// data of the courts they scrape
type CourtProvider interface {
	Court(code string) (database.Court, bool)
}

// Stop reasons reported in Stats
const (
	StopNotFound    = "not_found_threshold"
	StopExhausted   = "exhausted"
	StopCanceled    = "canceled"
	StopFatal       = "fatal"
	StopSourceError = "source_error"
)

// RunnerConfig holds the knobs of the shared scrape loop
type RunnerConfig struct {
	NotFoundThreshold int
	MinDelay          time.Duration
	MaxDelay          time.Duration
	FlushEvery        int
	ForceInsert       bool
}

// Stats summarizes one Scrape call
type Stats struct {
	Scraper    string         `json:"scraper"`
	Processed  int            `json:"processed"`
	Inserted   int            `json:"inserted"`
	Leads      int            `json:"leads"`
	Existing   int            `json:"existing"`
	NotFound   int            `json:"not_found"`
	Transient  int            `json:"transient"`
	Reviewed   int            `json:"reviewed"`
	Errors     int            `json:"errors"`
	StopReason string         `json:"stop_reason"`
	Cursor     map[string]any `json:"cursor"`
}

// Runner drives one jurisdiction through the scrape lifecycle. A Runner
// is single-threaded: identifiers are handled strictly in order.
type Runner struct {
	j      Jurisdiction
	cases  CaseStore
	states StateStore
	review ReviewSink
	logger *logger.Logger
	cfg    RunnerConfig

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewRunner(j Jurisdiction, cases CaseStore, states StateStore, review ReviewSink, log *logger.Logger, cfg RunnerConfig) *Runner {
	if cfg.NotFoundThreshold <= 0 {
		cfg.NotFoundThreshold = 10
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 10
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Runner{
		j:      j,
		cases:  cases,
		states: states,
		review: review,
		logger: log.With("scraper", j.Name()),
		cfg:    cfg,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// kindPanicked tags a fetch that panicked; the identifier is skipped
const kindPanicked OutcomeKind = -1

type stepKind int

const (
	stepInserted stepKind = iota
	stepDuplicate
	stepExisting
	stepNotFound
	stepTransient
	stepReviewed
	stepSkipped
)

type stepResult struct {
	kind    stepKind
	lead    bool
	fetched bool
}

// Scrape runs the lifecycle until the not-found threshold is reached, the
// identifier source is exhausted or ctx is canceled. Only resource
// failures (state or case store, session start) are returned as errors.
func (r *Runner) Scrape(ctx context.Context) (Stats, error) {
	name := r.j.Name()
	stats := Stats{Scraper: name}

	loaded, err := r.states.Load(ctx, name)
	if err != nil {
		stats.StopReason = StopFatal
		return stats, fmt.Errorf("failed to load state for %s: %w", name, err)
	}
	state := NewState(loaded)

	if starter, ok := r.j.(Starter); ok {
		if err := starter.Start(ctx); err != nil {
			stats.StopReason = StopFatal
			return stats, fmt.Errorf("failed to start %s: %w", name, err)
		}
	}

	unflushed := 0
	flush := func() error {
		if unflushed == 0 {
			return nil
		}
		// progress is persisted even when the scrape was canceled
		if err := r.states.Update(context.WithoutCancel(ctx), name, state.Map()); err != nil {
			return fmt.Errorf("failed to persist state for %s: %w", name, err)
		}
		unflushed = 0
		return nil
	}
	fail := func(reason string, err error) (Stats, error) {
		stats.StopReason = reason
		if ferr := flush(); ferr != nil {
			r.logger.Error("Failed to flush state", "error", ferr)
		}
		stats.Cursor = state.Map()
		return stats, err
	}

	r.logger.Info("Scrape started", "state", state.Map())

	src := r.j.Identifiers(state)
	notFound := 0
	needDelay := false
	for {
		if notFound >= r.cfg.NotFoundThreshold {
			stats.StopReason = StopNotFound
			break
		}
		if needDelay {
			if err := r.sleep(ctx, r.delay()); err != nil {
				return fail(StopCanceled, err)
			}
		}

		id, err := src.Next(ctx)
		if errors.Is(err, ErrCaptchaBlocked) {
			if refresher, ok := r.j.(SessionRefresher); ok {
				r.logger.Warn("CAPTCHA block while listing identifiers, refreshing session", "error", err)
				if rerr := refresher.RefreshSession(ctx); rerr != nil {
					return fail(StopFatal, fmt.Errorf("failed to refresh session: %w", rerr))
				}
				// the source keeps its position on error, so this lists the same page again
				id, err = src.Next(ctx)
			}
		}
		if errors.Is(err, ErrExhausted) {
			stats.StopReason = StopExhausted
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return fail(StopCanceled, ctx.Err())
			}
			return fail(StopSourceError, fmt.Errorf("%s identifiers: %w", name, err))
		}

		stats.Processed++
		res, err := r.handle(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return fail(StopCanceled, ctx.Err())
			}
			return fail(StopFatal, err)
		}
		needDelay = res.fetched

		switch res.kind {
		case stepInserted:
			stats.Inserted++
			notFound = 0
		case stepDuplicate, stepReviewed:
			notFound = 0
		case stepExisting:
			stats.Existing++
		case stepNotFound:
			stats.NotFound++
			notFound++
		case stepTransient:
			stats.Transient++
			notFound++
		case stepSkipped:
			stats.Errors++
		}
		if res.kind == stepReviewed {
			stats.Reviewed++
		}
		if res.lead {
			stats.Leads++
		}

		state = id.Cursor
		unflushed++
		if res.kind == stepInserted || unflushed >= r.cfg.FlushEvery {
			if err := flush(); err != nil {
				return fail(StopFatal, err)
			}
		}
	}

	if err := flush(); err != nil {
		return fail(StopFatal, err)
	}
	stats.Cursor = state.Map()

	r.logger.Info("Scrape finished",
		"reason", stats.StopReason,
		"processed", stats.Processed,
		"inserted", stats.Inserted,
		"leads", stats.Leads,
		"existing", stats.Existing,
		"not_found", stats.NotFound,
		"reviewed", stats.Reviewed)
	return stats, nil
}

// handle processes one identifier. The returned error is fatal.
func (r *Runner) handle(ctx context.Context, id Identifier) (stepResult, error) {
	log := r.logger.With("case_id", id.CaseID)

	exists, err := r.cases.Exists(ctx, id.CaseID)
	if err != nil {
		return stepResult{}, fmt.Errorf("failed to check case %s: %w", id.CaseID, err)
	}
	if exists {
		created, err := r.cases.EnsureLead(ctx, id.CaseID)
		if err != nil {
			return stepResult{}, fmt.Errorf("failed to ensure lead %s: %w", id.CaseID, err)
		}
		log.Debug("Case already stored, skipping fetch", "lead_created", created)
		return stepResult{kind: stepExisting, lead: created}, nil
	}

	out := r.fetch(ctx, id)
	if out.Kind == KindTransient && errors.Is(out.Err, ErrCaptchaBlocked) {
		if refresher, ok := r.j.(SessionRefresher); ok {
			log.Warn("CAPTCHA block, refreshing session", "error", out.Err)
			if err := refresher.RefreshSession(ctx); err != nil {
				return stepResult{}, fmt.Errorf("failed to refresh session: %w", err)
			}
			out = r.fetch(ctx, id)
		}
	}

	res := stepResult{fetched: true}
	switch out.Kind {
	case KindNotFound:
		log.Debug("Case not found")
		res.kind = stepNotFound
		return res, nil
	case KindTransient:
		log.Warn("Fetch failed, counting as not found", "error", out.Err)
		res.kind = stepTransient
		return res, nil
	case KindFatal:
		if out.Err == nil {
			out.Err = errors.New("fatal outcome")
		}
		return res, fmt.Errorf("fetch %s: %w", id.CaseID, out.Err)
	case KindFound:
	default:
		log.Error("Skipping identifier", "error", out.Err)
		res.kind = stepSkipped
		return res, nil
	}

	rec := out.Record
	if rec.CaseID == "" {
		rec.CaseID = id.CaseID
	}
	if rec.Court == "" {
		rec.Court = id.Court
	}

	c, err := r.normalize(rec)
	if err != nil {
		log.Warn("Normalization failed, sending to review", "error", err)
		if werr := r.review.Write(ctx, rec.CaseID, rec, err.Error()); werr != nil {
			log.Error("Failed to write review entry", "error", werr)
		}
		res.kind = stepReviewed
		return res, nil
	}

	r.fillDefaults(c, rec)

	if err := r.cases.EnsureCourt(ctx, r.court(c.CourtCode)); err != nil {
		return res, fmt.Errorf("failed to ensure court %s: %w", c.CourtCode, err)
	}

	inserted, err := r.cases.Insert(ctx, c, r.cfg.ForceInsert)
	if err != nil {
		return res, fmt.Errorf("failed to insert case %s: %w", c.CaseID, err)
	}
	if inserted {
		res.kind = stepInserted
		log.Info("Case inserted", "court", c.CourtCode, "tag", c.ChargesTag)
	} else {
		res.kind = stepDuplicate
	}

	leadInserted, err := r.cases.InsertLead(ctx, database.NewLead(c))
	if err != nil {
		return res, fmt.Errorf("failed to insert lead %s: %w", c.CaseID, err)
	}
	res.lead = leadInserted
	return res, nil
}

// fetch calls the jurisdiction and turns a panic into a skipped outcome
func (r *Runner) fetch(ctx context.Context, id Identifier) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = Outcome{Kind: kindPanicked, Err: fmt.Errorf("panic in fetch: %v", p)}
		}
	}()
	return r.j.Fetch(ctx, id)
}

func (r *Runner) normalize(rec RawRecord) (c *database.Case, err error) {
	defer func() {
		if p := recover(); p != nil {
			c, err = nil, fmt.Errorf("panic in normalize: %v", p)
		}
	}()
	c, err = r.j.Normalize(rec)
	if err == nil && c == nil {
		err = errors.New("normalizer returned no case")
	}
	return c, err
}

func (r *Runner) fillDefaults(c *database.Case, rec RawRecord) {
	if c.CaseID == "" {
		c.CaseID = rec.CaseID
	}
	if c.CourtCode == "" {
		c.CourtCode = rec.Court
	}
	if c.Source == "" {
		c.Source = r.j.Name()
	}
	c.Events = append(c.Events, database.Event{
		ID:          uuid.NewString(),
		Kind:        database.EventScraped,
		Description: "scraped by " + r.j.Name(),
		Date:        r.now().UTC(),
	})
}

func (r *Runner) court(code string) database.Court {
	if provider, ok := r.j.(CourtProvider); ok {
		if court, ok := provider.Court(code); ok {
			return court
		}
	}
	return database.Court{Code: code, Scraper: r.j.Name(), Enabled: true}
}

// delay picks a jittered pause between fetches
func (r *Runner) delay() time.Duration {
	span := r.cfg.MaxDelay - r.cfg.MinDelay
	if span <= 0 {
		return r.cfg.MinDelay
	}
	return r.cfg.MinDelay + time.Duration(rand.Int64N(int64(span)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
