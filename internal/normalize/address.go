package normalize

import (
	"regexp"
	"strings"
)

var (
	strictAddress = regexp.MustCompile(`^(\d+[^,]*?),\s*([A-Za-z][A-Za-z .'-]*?),?\s+([A-Z]{2})\.?\s+(\d{5}(?:-\d{4})?)$`)
	addressBreaks = regexp.MustCompile(`[\r\n,;]+`)
	zipTail       = regexp.MustCompile(`(?:^|\s)(\d{5}(?:-\d{4})?)$`)
	poBox         = regexp.MustCompile(`(?i)^p\.?\s*o\.?\s+box\b`)
)

var streetSuffixes = map[string]bool{
	"ST": true, "STREET": true, "AVE": true, "AVENUE": true, "RD": true, "ROAD": true,
	"DR": true, "DRIVE": true, "BLVD": true, "BOULEVARD": true, "LN": true, "LANE": true,
	"CT": true, "COURT": true, "WAY": true, "PL": true, "PLACE": true, "HWY": true,
	"HIGHWAY": true, "PKWY": true, "PARKWAY": true, "CIR": true, "CIRCLE": true,
	"TER": true, "TERRACE": true, "TRL": true, "TRAIL": true,
}

var unitMarkers = map[string]bool{"APT": true, "UNIT": true, "STE": true, "SUITE": true, "LOT": true}

// ParseFullAddress splits a free-text address into line1, city, state and
// zip. A strict "line1, city, ST 12345" pattern is tried first, then a
// heuristic splitter. Partial results are returned as found; input with
// neither a state nor a ZIP code yields four empty strings.
func ParseFullAddress(raw string) (line1, city, state, zip string) {
	joined := strings.Join(splitAddress(raw), ", ")
	if joined == "" {
		return "", "", "", ""
	}

	if m := strictAddress.FindStringSubmatch(joined); m != nil && stateCodes[m[3]] {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), m[3], m[4]
	}

	return heuristicAddress(splitAddress(raw))
}

func splitAddress(raw string) []string {
	var segments []string
	for _, seg := range addressBreaks.Split(raw, -1) {
		if seg = CleanText(seg); seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}

func heuristicAddress(segments []string) (line1, city, state, zip string) {
	if len(segments) == 0 {
		return "", "", "", ""
	}

	tail := segments[len(segments)-1]
	if m := zipTail.FindStringSubmatchIndex(tail); m != nil {
		zip = tail[m[2]:m[3]]
		tail = strings.TrimSpace(tail[:m[0]])
	}

	words := strings.Fields(tail)
	for n := 3; n >= 1; n-- {
		if len(words) < n {
			continue
		}
		candidate := strings.Join(words[len(words)-n:], " ")
		code := NormalizeState(candidate)
		if code == "" || zip == "" && !plausibleCode(candidate) {
			continue
		}
		state = code
		tail = strings.Join(words[:len(words)-n], " ")
		break
	}

	if zip == "" && state == "" {
		return "", "", "", ""
	}

	rest := append([]string{}, segments[:len(segments)-1]...)
	if tail != "" {
		rest = append(rest, tail)
	}

	switch len(rest) {
	case 0:
	case 1:
		line1, city = splitStreet(rest[0])
	default:
		city = rest[len(rest)-1]
		line1 = strings.Join(rest[:len(rest)-1], ", ")
	}
	return line1, city, state, zip
}

// plausibleCode rejects lower-case two-letter words such as "in", "me" or
// "ok" as state codes. Without a ZIP code nothing else anchors them.
func plausibleCode(s string) bool {
	s = strings.Trim(s, ". ")
	if len(s) != 2 {
		return true
	}
	return s == strings.ToUpper(s)
}

// splitStreet separates "123 Main St Springfield" at the last street suffix
func splitStreet(s string) (line1, city string) {
	words := strings.Fields(s)
	cut := -1
	for i := len(words) - 2; i >= 1; i-- {
		if streetSuffixes[strings.ToUpper(strings.TrimSuffix(words[i], "."))] {
			cut = i + 1
			break
		}
	}

	if cut > 0 {
		// keep a trailing unit designator with the street line
		if cut < len(words)-1 && unitMarkers[strings.ToUpper(strings.TrimSuffix(words[cut], "."))] {
			cut += 2
		} else if cut < len(words) && strings.HasPrefix(words[cut], "#") {
			cut++
		}
		if cut > len(words) {
			cut = len(words)
		}
		return strings.Join(words[:cut], " "), strings.Join(words[cut:], " ")
	}

	if looksLikeStreet(s) {
		return s, ""
	}
	return "", s
}

func looksLikeStreet(s string) bool {
	return s != "" && (s[0] >= '0' && s[0] <= '9' || poBox.MatchString(s))
}
