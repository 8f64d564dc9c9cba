// Package normalize turns free-text fields scraped from court portals into
// the canonical case fields. Every function is pure and never panics.
package normalize

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	dayNames   = regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday),?\s*`)
	stripTags  = bluemonday.StrictPolicy()
)

// CleanText strips markup, decodes entities and collapses whitespace
func CleanText(s string) string {
	s = stripTags.Sanitize(s)
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Date layouts seen on US court portals, most common first
var dateLayouts = []string{
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"01/02/2006 15:04",
	"01/02/2006 3:04 PM",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-2006",
	"2 Jan 2006",
	"01/02/06",
}

// ParseDate parses a court date in any of the known layouts. Times are
// dropped; the result is midnight UTC of the calendar date.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(whitespace.ReplaceAllString(CleanText(raw), " "))
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	for _, candidate := range []string{s, dayNames.ReplaceAllString(s, "")} {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, candidate); err == nil {
				return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
			}
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}

var yearOnly = regexp.MustCompile(`^(19|20)\d{2}$`)

// ParseBirth reads a birth field that may be a full date or only a year.
// Unparsable input yields zero values.
func ParseBirth(raw string) (birth time.Time, year int) {
	s := CleanText(raw)
	if yearOnly.MatchString(s) {
		year, _ = strconv.Atoi(s)
		return time.Time{}, year
	}
	if t, err := ParseDate(s); err == nil {
		return t, t.Year()
	}
	return time.Time{}, 0
}

var stateNames = map[string]string{
	"ALABAMA": "AL", "ALASKA": "AK", "ARIZONA": "AZ", "ARKANSAS": "AR", "CALIFORNIA": "CA",
	"COLORADO": "CO", "CONNECTICUT": "CT", "DELAWARE": "DE", "DISTRICT OF COLUMBIA": "DC",
	"FLORIDA": "FL", "GEORGIA": "GA", "HAWAII": "HI", "IDAHO": "ID", "ILLINOIS": "IL",
	"INDIANA": "IN", "IOWA": "IA", "KANSAS": "KS", "KENTUCKY": "KY", "LOUISIANA": "LA",
	"MAINE": "ME", "MARYLAND": "MD", "MASSACHUSETTS": "MA", "MICHIGAN": "MI", "MINNESOTA": "MN",
	"MISSISSIPPI": "MS", "MISSOURI": "MO", "MONTANA": "MT", "NEBRASKA": "NE", "NEVADA": "NV",
	"NEW HAMPSHIRE": "NH", "NEW JERSEY": "NJ", "NEW MEXICO": "NM", "NEW YORK": "NY",
	"NORTH CAROLINA": "NC", "NORTH DAKOTA": "ND", "OHIO": "OH", "OKLAHOMA": "OK", "OREGON": "OR",
	"PENNSYLVANIA": "PA", "RHODE ISLAND": "RI", "SOUTH CAROLINA": "SC", "SOUTH DAKOTA": "SD",
	"TENNESSEE": "TN", "TEXAS": "TX", "UTAH": "UT", "VERMONT": "VT", "VIRGINIA": "VA",
	"WASHINGTON": "WA", "WEST VIRGINIA": "WV", "WISCONSIN": "WI", "WYOMING": "WY",
}

var stateCodes = func() map[string]bool {
	m := make(map[string]bool, len(stateNames))
	for _, code := range stateNames {
		m[code] = true
	}
	return m
}()

// NormalizeState returns the two-letter code for a state code or full
// state name, or "" when the input is neither.
func NormalizeState(raw string) string {
	s := strings.ToUpper(strings.Trim(CleanText(raw), ". "))
	if stateCodes[s] {
		return s
	}
	return stateNames[s]
}
