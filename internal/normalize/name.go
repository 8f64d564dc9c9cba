package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NameOrder tells SplitFullName how a jurisdiction writes names
type NameOrder int

const (
	// AutoOrder treats names containing a comma as "Last, First Middle"
	AutoOrder NameOrder = iota
	// LastFirst is "Last, First Middle" (comma optional)
	LastFirst
	// FirstLast is "First Middle Last"
	FirstLast
)

var (
	nameNoise  = regexp.MustCompile(`[^\p{L}\p{M}'\-\s,.]`)
	nameSpaces = regexp.MustCompile(`\s+`)
	nameSuffix = map[string]bool{"JR": true, "SR": true, "II": true, "III": true, "IV": true}
)

// SplitFullName splits a raw defendant name into first, middle and last
// parts. Input it cannot attribute with confidence yields three empty
// strings rather than a guess.
func SplitFullName(raw string, order NameOrder) (first, middle, last string) {
	cleaned := nameNoise.ReplaceAllString(CleanText(raw), " ")
	cleaned = strings.TrimSpace(nameSpaces.ReplaceAllString(cleaned, " "))
	cleaned = strings.Trim(cleaned, ", ")
	if cleaned == "" {
		return "", "", ""
	}

	commas := strings.Count(cleaned, ",")
	if commas > 1 {
		// "Doe, Jr., John" style inputs: strip a suffix segment and retry
		parts := strings.Split(cleaned, ",")
		kept := parts[:0]
		var suffix string
		for _, p := range parts {
			if token := strings.TrimSpace(p); isSuffix(token) && suffix == "" {
				suffix = token
				continue
			}
			kept = append(kept, p)
		}
		if suffix == "" || len(kept) != 2 {
			return "", "", ""
		}
		cleaned = strings.TrimSpace(kept[0]) + " " + suffix + ", " + strings.TrimSpace(kept[1])
		commas = 1
	}

	if order == AutoOrder {
		if commas == 1 {
			order = LastFirst
		} else {
			order = FirstLast
		}
	}

	switch order {
	case LastFirst:
		first, middle, last = splitLastFirst(cleaned)
	default:
		if commas > 0 {
			return "", "", ""
		}
		first, middle, last = splitFirstLast(cleaned)
	}

	if first == "" || last == "" {
		return "", "", ""
	}
	return titleToken(first), titleToken(middle), titleToken(last)
}

func splitLastFirst(s string) (first, middle, last string) {
	var lastPart, givenPart string
	if i := strings.Index(s, ","); i >= 0 {
		lastPart = strings.TrimSpace(s[:i])
		givenPart = strings.TrimSpace(s[i+1:])
	} else {
		tokens := strings.Fields(s)
		if len(tokens) < 2 {
			return "", "", ""
		}
		lastPart = tokens[0]
		givenPart = strings.Join(tokens[1:], " ")
	}

	given := strings.Fields(strings.ReplaceAll(givenPart, ".", ""))
	// A suffix written after the given names belongs to the surname
	if n := len(given); n > 1 && isSuffix(given[n-1]) {
		lastPart = lastPart + " " + given[n-1]
		given = given[:n-1]
	}
	if lastPart == "" || len(given) == 0 {
		return "", "", ""
	}
	return given[0], strings.Join(given[1:], " "), lastPart
}

func splitFirstLast(s string) (first, middle, last string) {
	tokens := strings.Fields(strings.ReplaceAll(s, ".", ""))
	var suffix string
	if n := len(tokens); n > 2 && isSuffix(tokens[n-1]) {
		suffix = tokens[n-1]
		tokens = tokens[:n-1]
	}
	if len(tokens) < 2 {
		return "", "", ""
	}
	last = tokens[len(tokens)-1]
	if suffix != "" {
		last += " " + suffix
	}
	return tokens[0], strings.Join(tokens[1:len(tokens)-1], " "), last
}

func isSuffix(token string) bool {
	return nameSuffix[strings.ToUpper(strings.TrimSuffix(token, "."))]
}

// titleToken title-cases words that arrive fully upper-cased and leaves
// mixed-case words (McDonald, DeSoto) alone
func titleToken(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if isSuffix(w) {
			upper := strings.ToUpper(strings.TrimSuffix(w, "."))
			if upper == "JR" || upper == "SR" {
				words[i] = titleWord(upper)
			} else {
				words[i] = upper
			}
			continue
		}
		if w == strings.ToUpper(w) && w != strings.ToLower(w) {
			words[i] = titleWord(w)
		}
	}
	return strings.Join(words, " ")
}

// titleWord builds a fresh Caser per call; Casers keep state and are not
// safe to share between goroutines.
func titleWord(w string) string {
	return cases.Title(language.English).String(strings.ToLower(w))
}
