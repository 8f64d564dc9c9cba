// Package harvest runs scrapers on demand and on a schedule.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/config"
	"github.com/JustJay7/court-lead-harvester/internal/courts"
	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/JustJay7/court-lead-harvester/internal/scraper"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyRunning is reported for a scraper that is still busy with an
// earlier request; its courts share one state document
var ErrAlreadyRunning = errors.New("scraper already running")

// Request selects what RetrieveCases scrapes. Courts accepts codes or
// names; empty means every enabled court.
type Request struct {
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Courts []string  `json:"courts"`
	Force  bool      `json:"force"`
}

// CourtResult is the outcome for one court
type CourtResult struct {
	Court   string        `json:"court"`
	Scraper string        `json:"scraper"`
	Stats   scraper.Stats `json:"stats"`
	Error   string        `json:"error,omitempty"`
}

// Summary is reported to callers instead of raw errors
type Summary struct {
	Success    bool          `json:"success"`
	Message    string        `json:"message"`
	Inserted   int           `json:"inserted"`
	Leads      int           `json:"leads"`
	Courts     []CourtResult `json:"courts"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Service fans a request out over the scrapers. Different scrapers run
// concurrently; the courts of one scraper run one after another.
type Service struct {
	cfg      *config.Config
	registry *courts.Registry
	deps     courts.Deps
	cases    scraper.CaseStore
	states   scraper.StateStore
	review   scraper.ReviewSink
	logger   *logger.Logger

	mu      sync.Mutex
	running map[string]bool
}

func NewService(cfg *config.Config, registry *courts.Registry, deps courts.Deps, cases scraper.CaseStore, states scraper.StateStore, review scraper.ReviewSink, log *logger.Logger) *Service {
	return &Service{
		cfg:      cfg,
		registry: registry,
		deps:     deps,
		cases:    cases,
		states:   states,
		review:   review,
		logger:   log,
		running:  map[string]bool{},
	}
}

// RetrieveCases scrapes the requested courts and summarizes the result.
// The error is non-nil only when the request itself is invalid.
func (s *Service) RetrieveCases(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{StartedAt: time.Now().UTC()}

	if !req.From.IsZero() && !req.To.IsZero() && req.From.After(req.To) {
		summary.Message = "from date is after to date"
		return summary, errors.New(summary.Message)
	}

	groups, order, err := s.plan(req.Courts)
	if err != nil {
		summary.Message = err.Error()
		return summary, err
	}

	results := make(map[string][]CourtResult, len(order))
	var mu sync.Mutex

	g := new(errgroup.Group)
	limit := s.cfg.MaxConcurrentScrapes
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, name := range order {
		g.Go(func() error {
			res := s.runScraper(ctx, name, groups[name], req)
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failures := 0
	for _, name := range order {
		for _, r := range results[name] {
			summary.Courts = append(summary.Courts, r)
			summary.Inserted += r.Stats.Inserted
			summary.Leads += r.Stats.Leads
			if r.Error != "" {
				failures++
			}
		}
	}
	summary.FinishedAt = time.Now().UTC()
	summary.Success = failures == 0
	if summary.Success {
		summary.Message = fmt.Sprintf("retrieved %d new cases from %d courts", summary.Inserted, len(summary.Courts))
	} else {
		summary.Message = fmt.Sprintf("%d of %d courts failed; retrieved %d new cases", failures, len(summary.Courts), summary.Inserted)
	}

	s.logger.Info("Retrieval finished",
		"courts", len(summary.Courts),
		"failed", failures,
		"inserted", summary.Inserted,
		"leads", summary.Leads)
	return summary, nil
}

// plan resolves the requested courts and groups them by scraper,
// keeping the order in which scrapers were first named
func (s *Service) plan(requested []string) (map[string][]database.Court, []string, error) {
	var selected []database.Court
	if len(requested) == 0 {
		for _, c := range s.registry.AllCourts() {
			if c.Enabled {
				selected = append(selected, c)
			}
		}
	} else {
		for _, q := range requested {
			c, err := s.registry.ResolveCourt(q)
			if err != nil {
				return nil, nil, err
			}
			selected = append(selected, c)
		}
	}

	groups := map[string][]database.Court{}
	var order []string
	seen := map[string]bool{}
	for _, c := range selected {
		if seen[c.Code] {
			continue
		}
		seen[c.Code] = true
		if _, ok := groups[c.Scraper]; !ok {
			order = append(order, c.Scraper)
		}
		groups[c.Scraper] = append(groups[c.Scraper], c)
	}
	return groups, order, nil
}

func (s *Service) acquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Service) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, name)
}

func (s *Service) runScraper(ctx context.Context, name string, group []database.Court, req Request) []CourtResult {
	results := make([]CourtResult, 0, len(group))
	if !s.acquire(name) {
		for _, c := range group {
			results = append(results, CourtResult{Court: c.Code, Scraper: name, Error: ErrAlreadyRunning.Error()})
		}
		return results
	}
	defer s.release(name)

	for _, c := range group {
		res := CourtResult{Court: c.Code, Scraper: name}
		stats, err := s.scrapeCourt(ctx, c, req)
		res.Stats = stats
		if err != nil {
			res.Error = err.Error()
			s.logger.Error("Scrape failed", "scraper", name, "court", c.Code, "error", err)
		}
		results = append(results, res)
	}
	return results
}

// ScrapeCourt runs the scraper of a single court
func (s *Service) ScrapeCourt(ctx context.Context, courtCode string, req Request) (scraper.Stats, error) {
	c, err := s.registry.ResolveCourt(courtCode)
	if err != nil {
		return scraper.Stats{}, err
	}
	if !s.acquire(c.Scraper) {
		return scraper.Stats{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, c.Scraper)
	}
	defer s.release(c.Scraper)
	return s.scrapeCourt(ctx, c, req)
}

func (s *Service) scrapeCourt(ctx context.Context, c database.Court, req Request) (scraper.Stats, error) {
	j, err := s.registry.Build(s.deps, c.Code, courts.Options{From: req.From, To: req.To})
	if err != nil {
		return scraper.Stats{Scraper: c.Scraper}, err
	}
	if closer, ok := j.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				s.logger.Warn("Failed to close scraper", "scraper", c.Scraper, "error", err)
			}
		}()
	}

	runner := scraper.NewRunner(j, s.cases, s.states, s.review, s.logger.With("court", c.Code), scraper.RunnerConfig{
		NotFoundThreshold: s.cfg.NotFoundThreshold,
		MinDelay:          s.cfg.MinDelay,
		MaxDelay:          s.cfg.MaxDelay,
		FlushEvery:        s.cfg.FlushEvery,
		ForceInsert:       req.Force,
	})
	return runner.Scrape(ctx)
}
