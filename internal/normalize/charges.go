package normalize

import "strings"

// Charge tags used for CRM tagging, in precedence order
const (
	TagDWI   = "dwi"
	TagMajor = "major"
	TagMinor = "minor"
	TagOther = "other"
)

type chargeCategory struct {
	tag      string
	keywords []string
}

var chargeCategories = []chargeCategory{
	{TagDWI, []string{
		"dwi", "dui", "driving while intoxicated", "driving under the influence",
		"intoxicated", "blood alcohol", "implied consent", "impaired",
	}},
	{TagMajor, []string{
		"reckless", "suspended", "revoked", "leaving the scene", "hit and run",
		"fleeing", "eluding", "vehicular", "felony", "careless and imprudent",
		"excessive speed", "racing",
	}},
	{TagMinor, []string{
		"speed", "seat belt", "seatbelt", "stop sign", "red light", "signal", "lane",
		"registration", "license plate", "insurance", "equipment", "headlight",
		"tail light", "parking", "expired", "yield", "following too closely",
	}},
}

// MapChargesDescription classifies the charge descriptions of one case.
// The first category in precedence order with a keyword contained in any
// description wins; nothing matching yields "other".
func MapChargesDescription(descriptions []string) string {
	lowered := make([]string, 0, len(descriptions))
	for _, d := range descriptions {
		if d = strings.ToLower(CleanText(d)); d != "" {
			lowered = append(lowered, d)
		}
	}

	for _, category := range chargeCategories {
		for _, keyword := range category.keywords {
			for _, d := range lowered {
				if strings.Contains(d, keyword) {
					return category.tag
				}
			}
		}
	}
	return TagOther
}
