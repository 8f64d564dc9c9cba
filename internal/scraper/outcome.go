package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/JustJay7/court-lead-harvester/internal/database"
)

var (
	// ErrCaptchaBlocked marks a fetch that hit a CAPTCHA wall the session
	// could not get past. The runner refreshes the session and retries once.
	ErrCaptchaBlocked = errors.New("captcha blocked")

	// ErrExhausted is returned by an IdentifierSource when no identifiers remain
	ErrExhausted = errors.New("identifier source exhausted")
)

// OutcomeKind tags the result of fetching one identifier
type OutcomeKind int

const (
	KindFound OutcomeKind = iota
	KindNotFound
	KindTransient
	KindFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case KindFound:
		return "found"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the tagged result of Jurisdiction.Fetch. Not found is an
// expected outcome and never carries an error.
type Outcome struct {
	Kind   OutcomeKind
	Record RawRecord
	Err    error
}

func Found(rec RawRecord) Outcome { return Outcome{Kind: KindFound, Record: rec} }

func NotFound() Outcome { return Outcome{Kind: KindNotFound} }

func Transient(err error) Outcome { return Outcome{Kind: KindTransient, Err: err} }

func Fatal(err error) Outcome { return Outcome{Kind: KindFatal, Err: err} }

// RawRecord is what a jurisdiction fetched for one identifier, before
// normalization. Payload holds the adapter's own parsed form; Body keeps
// the raw page or JSON for the review sink.
type RawRecord struct {
	CaseID  string `json:"case_id"`
	Court   string `json:"court,omitempty"`
	URL     string `json:"url,omitempty"`
	Body    string `json:"body,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Identifier is one candidate case to look up. Cursor is the state to
// persist once this identifier has been handled.
type Identifier struct {
	CaseID string
	Court  string
	Cursor State
}

// IdentifierSource yields candidate identifiers in order. It returns
// ErrExhausted when a terminal condition is reached.
type IdentifierSource interface {
	Next(ctx context.Context) (Identifier, error)
}

// Jurisdiction is implemented once per court system
type Jurisdiction interface {
	Name() string
	Identifiers(state State) IdentifierSource
	Fetch(ctx context.Context, id Identifier) Outcome
	Normalize(rec RawRecord) (*database.Case, error)
}

// Starter is implemented by jurisdictions that must acquire a session
// before the first fetch. A Start error stops the scrape.
type Starter interface {
	Start(ctx context.Context) error
}

// SessionRefresher is implemented by jurisdictions that can recover from a
// CAPTCHA block by discarding their session and logging in again.
type SessionRefresher interface {
	RefreshSession(ctx context.Context) error
}
