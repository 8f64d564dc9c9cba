package scraper

import (
	"context"
	"fmt"
	"time"
)

// Sequence configures a sequential numeric identifier source. The cursor
// under Key is the next number to try.
type Sequence struct {
	Key    string
	Start  int
	Court  string
	Format func(n int) string
	// End is an exclusive upper bound; zero means unbounded
	End int
}

// Sequential yields Format(n) for n from state[Key] (or Start) upwards.
// Handling n moves the cursor to n+1.
func Sequential(state State, seq Sequence) IdentifierSource {
	if seq.Format == nil {
		seq.Format = func(n int) string { return fmt.Sprintf("%d", n) }
	}
	return &sequentialSource{seq: seq, state: state, next: state.Int(seq.Key, seq.Start)}
}

type sequentialSource struct {
	seq   Sequence
	state State
	next  int
}

func (s *sequentialSource) Next(ctx context.Context) (Identifier, error) {
	if err := ctx.Err(); err != nil {
		return Identifier{}, err
	}
	if s.seq.End > 0 && s.next >= s.seq.End {
		return Identifier{}, ErrExhausted
	}

	n := s.next
	s.next++
	s.state = s.state.With(s.seq.Key, s.next)
	return Identifier{CaseID: s.seq.Format(n), Court: s.seq.Court, Cursor: s.state}, nil
}

// DateLister returns the case ids filed on one day
type DateLister func(ctx context.Context, day time.Time) ([]string, error)

// Sweep configures a date-sweep identifier source. The cursor under Key
// is the first day not yet fully handled.
type Sweep struct {
	Key      string
	From, To time.Time
	Court    string
	List     DateLister
}

// DateSweep walks days from max(state[Key], From) through To, listing the
// ids of each day. The cursor stays on a day until its last id has been
// handled and then moves to the following day.
func DateSweep(state State, sw Sweep) IdentifierSource {
	day := truncateDay(state.Date(sw.Key, sw.From))
	if from := truncateDay(sw.From); day.Before(from) {
		day = from
	}
	return &sweepSource{sw: sw, state: state, day: day}
}

type sweepSource struct {
	sw      Sweep
	state   State
	day     time.Time
	pending []string
	listed  bool
}

func (s *sweepSource) Next(ctx context.Context) (Identifier, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Identifier{}, err
		}

		if s.listed && len(s.pending) == 0 {
			s.day = s.day.AddDate(0, 0, 1)
			s.listed = false
		}
		if !s.listed {
			if s.day.After(truncateDay(s.sw.To)) {
				return Identifier{}, ErrExhausted
			}
			ids, err := s.sw.List(ctx, s.day)
			if err != nil {
				return Identifier{}, fmt.Errorf("list %s: %w", s.day.Format(time.DateOnly), err)
			}
			s.pending = dedupe(ids)
			s.listed = true
			continue
		}

		id := s.pending[0]
		s.pending = s.pending[1:]
		if len(s.pending) == 0 {
			s.state = s.state.With(s.sw.Key, s.day.AddDate(0, 0, 1))
		} else {
			s.state = s.state.With(s.sw.Key, s.day)
		}
		return Identifier{CaseID: id, Court: s.sw.Court, Cursor: s.state}, nil
	}
}

// TermLister returns the case ids matching one search term
type TermLister func(ctx context.Context, term string) ([]string, error)

// Search configures a search-list identifier source. The cursor under Key
// is the index of the first term not yet fully handled.
type Search struct {
	Key   string
	Terms []string
	Court string
	List  TermLister
}

// SearchList runs Terms in order from state[Key] and yields every id each
// term returns, with the same cursor rule as DateSweep.
func SearchList(state State, search Search) IdentifierSource {
	return &searchSource{search: search, state: state, index: state.Int(search.Key, 0)}
}

type searchSource struct {
	search  Search
	state   State
	index   int
	pending []string
	listed  bool
}

func (s *searchSource) Next(ctx context.Context) (Identifier, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Identifier{}, err
		}

		if s.listed && len(s.pending) == 0 {
			s.index++
			s.listed = false
		}
		if !s.listed {
			if s.index >= len(s.search.Terms) {
				return Identifier{}, ErrExhausted
			}
			term := s.search.Terms[s.index]
			ids, err := s.search.List(ctx, term)
			if err != nil {
				return Identifier{}, fmt.Errorf("search %q: %w", term, err)
			}
			s.pending = dedupe(ids)
			s.listed = true
			continue
		}

		id := s.pending[0]
		s.pending = s.pending[1:]
		if len(s.pending) == 0 {
			s.state = s.state.With(s.search.Key, s.index+1)
		} else {
			s.state = s.state.With(s.search.Key, s.index)
		}
		return Identifier{CaseID: id, Court: s.search.Court, Cursor: s.state}, nil
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
