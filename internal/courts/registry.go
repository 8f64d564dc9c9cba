// Package courts holds the jurisdiction adapters and the registry that
// maps court codes to them.
package courts

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/JustJay7/court-lead-harvester/internal/config"
	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/JustJay7/court-lead-harvester/internal/scraper"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"github.com/antzucaro/matchr"
)

var (
	ErrUnknownScraper = errors.New("unknown scraper")
	ErrUnknownCourt   = errors.New("unknown court")
)

// minNameSimilarity is the Jaro-Winkler score a free-text court name must
// reach to resolve to a known court
const minNameSimilarity = 0.9

// Deps are the shared resources adapters are built from
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	Solver   scraper.CaptchaSolver
	Sessions scraper.SessionFactory
}

// Options are the per-run settings of one adapter. Zero fields take the
// defaults registered with the scraper.
type Options struct {
	From         time.Time
	To           time.Time
	Terms        []string
	Start        int
	Year         int
	LookbackDays int
	PageSize     int
}

// Factory builds the jurisdiction scraping one court
type Factory func(deps Deps, court database.Court, opts Options) (scraper.Jurisdiction, error)

type entry struct {
	factory  Factory
	defaults Options
	courts   []database.Court
}

// Registry knows every scraper and the courts each one covers
type Registry struct {
	entries map[string]entry
	now     func() time.Time
}

// NewRegistry returns a registry with the built-in adapters
func NewRegistry() *Registry {
	r := &Registry{entries: map[string]entry{}, now: time.Now}
	r.Register(MissouriName, newMissouriJurisdiction, Options{Start: 1, LookbackDays: 1}, missouriCourts...)
	r.Register(CookName, newCookJurisdiction, Options{LookbackDays: 3}, cookCourt)
	r.Register(BrowardName, newBrowardJurisdiction, Options{Terms: lastNamePrefixes(), LookbackDays: 3, PageSize: 50}, browardCourt)
	return r
}

// Register adds or replaces a scraper
func (r *Registry) Register(name string, factory Factory, defaults Options, courts ...database.Court) {
	owned := make([]database.Court, len(courts))
	for i, c := range courts {
		c.Scraper = name
		owned[i] = c
	}
	r.entries[name] = entry{factory: factory, defaults: defaults, courts: owned}
}

// Names lists the registered scrapers
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Courts lists the courts of one scraper
func (r *Registry) Courts(name string) ([]database.Court, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScraper, name)
	}
	return append([]database.Court(nil), e.courts...), nil
}

// AllCourts lists every known court ordered by scraper then code
func (r *Registry) AllCourts() []database.Court {
	var all []database.Court
	for _, name := range r.Names() {
		all = append(all, r.entries[name].courts...)
	}
	return all
}

// Court looks a court up by exact code
func (r *Registry) Court(code string) (database.Court, bool) {
	for _, e := range r.entries {
		for _, c := range e.courts {
			if strings.EqualFold(c.Code, code) {
				return c, true
			}
		}
	}
	return database.Court{}, false
}

// ResolveCourt accepts a court code or a court name as a person would type
// it, e.g. "cook county circuit court"
func (r *Registry) ResolveCourt(query string) (database.Court, error) {
	query = strings.TrimSpace(query)
	if c, ok := r.Court(query); ok {
		return c, nil
	}

	needle := strings.ToLower(query)
	var best database.Court
	bestScore := 0.0
	for _, c := range r.AllCourts() {
		score := matchr.JaroWinkler(needle, strings.ToLower(c.Name), false)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore < minNameSimilarity {
		return database.Court{}, fmt.Errorf("%w: %q", ErrUnknownCourt, query)
	}
	return best, nil
}

// Build creates the jurisdiction for one court. Options left zero are
// filled from the scraper defaults and the date window defaults to the
// look-back period ending today.
func (r *Registry) Build(deps Deps, courtCode string, opts Options) (scraper.Jurisdiction, error) {
	court, ok := r.Court(courtCode)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCourt, courtCode)
	}
	e := r.entries[court.Scraper]

	if err := mergo.Merge(&opts, e.defaults); err != nil {
		return nil, fmt.Errorf("failed to apply defaults for %s: %w", court.Scraper, err)
	}
	today := r.now().UTC().Truncate(24 * time.Hour)
	if opts.To.IsZero() {
		opts.To = today
	}
	if opts.From.IsZero() {
		opts.From = opts.To.AddDate(0, 0, -opts.LookbackDays)
	}
	if opts.Year == 0 {
		opts.Year = opts.To.Year()
	}
	if opts.From.After(opts.To) {
		return nil, fmt.Errorf("invalid window: %s is after %s", opts.From.Format(time.DateOnly), opts.To.Format(time.DateOnly))
	}

	return e.factory(deps, court, opts)
}

func lastNamePrefixes() []string {
	prefixes := make([]string, 0, 26)
	for c := 'A'; c <= 'Z'; c++ {
		prefixes = append(prefixes, string(c))
	}
	return prefixes
}
