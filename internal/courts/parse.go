package courts

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/JustJay7/court-lead-harvester/internal/normalize"
	"github.com/JustJay7/court-lead-harvester/internal/scraper"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// errAccessDenied marks a portal refusing our credentials; retrying or
// moving to the next case cannot help
var errAccessDenied = errors.New("access denied")

type chargeRow struct {
	Description string `json:"description"`
	Statute     string `json:"statute"`
	Degree      string `json:"degree"`
	OffenseDate string `json:"offense_date"`
	Fine        string `json:"fine"`
}

type partyRow struct {
	Role    string `json:"role"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

type documentRow struct {
	Source   string `json:"source"`
	FilePath string `json:"file_path,omitempty"`
}

// caseRecord is the parsed form of a case detail page
type caseRecord struct {
	Fields    map[string]string `json:"fields"`
	Charges   []chargeRow       `json:"charges"`
	Parties   []partyRow        `json:"parties"`
	Documents []documentRow     `json:"documents,omitempty"`
}

// labelFields maps lower-cased row labels to values for tables laid out
// as label/value cell pairs
func labelFields(sel *goquery.Selection) map[string]string {
	fields := map[string]string{}
	sel.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return
		}
		label := strings.ToLower(strings.TrimSuffix(normalize.CleanText(cells.Eq(0).Text()), ":"))
		if label == "" {
			return
		}
		if _, seen := fields[label]; !seen {
			fields[label] = normalize.CleanText(cells.Eq(1).Text())
		}
	})
	return fields
}

// field returns the first value whose label equals one of names, falling
// back to the first label containing one of them
func field(fields map[string]string, names ...string) string {
	for _, name := range names {
		if v, ok := fields[name]; ok {
			return v
		}
	}
	labels := make([]string, 0, len(fields))
	for label := range fields {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, name := range names {
		for _, label := range labels {
			if strings.Contains(label, name) {
				return fields[label]
			}
		}
	}
	return ""
}

// tableRows returns the cleaned cell texts of every body row
func tableRows(table *goquery.Selection) [][]string {
	var rows [][]string
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return
		}
		values := make([]string, cells.Length())
		cells.Each(func(i int, cell *goquery.Selection) {
			values[i] = normalize.CleanText(cell.Text())
		})
		rows = append(rows, values)
	})
	return rows
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func parseCharges(table *goquery.Selection) []chargeRow {
	var charges []chargeRow
	for _, row := range tableRows(table) {
		c := chargeRow{
			Description: cell(row, 0),
			Statute:     cell(row, 1),
			Degree:      cell(row, 2),
			OffenseDate: cell(row, 3),
			Fine:        cell(row, 4),
		}
		if c.Description != "" {
			charges = append(charges, c)
		}
	}
	return charges
}

func parseParties(table *goquery.Selection) []partyRow {
	var parties []partyRow
	for _, row := range tableRows(table) {
		p := partyRow{Role: cell(row, 0), Name: cell(row, 1), Address: cell(row, 2)}
		if p.Name != "" {
			parties = append(parties, p)
		}
	}
	return parties
}

func hasNoRecordsMessage(doc *goquery.Document) bool {
	text := strings.ToLower(doc.Find("body").Text())
	for _, marker := range []string{"no records found", "no cases found", "case not found", "no matching cases"} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// checkStatus turns a non-2xx response into an error. 404 is handled by
// callers as not found before this is reached.
func checkStatus(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code < 300:
		return nil
	case code == 401 || code == 403:
		return fmt.Errorf("%w: %s status %d", errAccessDenied, resp.Request.URL, code)
	default:
		return scraper.StatusError(code, resp.Request.URL)
	}
}

// failed maps a fetch error to an outcome. Rejected credentials stop the
// scrape; everything else is counted against the not-found threshold.
func failed(err error) scraper.Outcome {
	if errors.Is(err, errAccessDenied) {
		return scraper.Fatal(err)
	}
	return scraper.Transient(err)
}

// defendant picks the defendant party, or the first party when none is
// labelled
func defendant(parties []partyRow) (partyRow, bool) {
	for _, p := range parties {
		if strings.Contains(strings.ToLower(p.Role), "defendant") {
			return p, true
		}
	}
	if len(parties) > 0 {
		return parties[0], true
	}
	return partyRow{}, false
}

// caseFromRecord fills the canonical fields shared by the HTML adapters
func caseFromRecord(rec *caseRecord, order normalize.NameOrder) (*database.Case, error) {
	filed, err := normalize.ParseDate(field(rec.Fields, "filing date", "date filed", "filed"))
	if err != nil {
		return nil, fmt.Errorf("filing date: %w", err)
	}

	def, ok := defendant(rec.Parties)
	if !ok {
		return nil, errors.New("no defendant on case")
	}

	c := &database.Case{
		FilingDate: filed,
		CaseType:   field(rec.Fields, "case type"),
		CaseStatus: field(rec.Fields, "case status", "status"),
	}
	if err := applyDefendant(c, def.Name, def.Address, order); err != nil {
		return nil, err
	}
	c.BirthDate, c.YearOfBirth = normalize.ParseBirth(field(rec.Fields, "date of birth", "year of birth", "dob"))
	if offense, err := normalize.ParseDate(field(rec.Fields, "offense date", "violation date")); err == nil {
		c.OffenseDate = offense
	}

	for _, p := range rec.Parties {
		c.Parties = append(c.Parties, database.Party{Role: p.Role, Name: p.Name, Address: p.Address})
	}
	c.Charges, c.ChargesTag = convertCharges(rec.Charges)
	if c.OffenseDate.IsZero() && len(c.Charges) > 0 {
		c.OffenseDate = c.Charges[0].OffenseDate
	}

	for _, d := range rec.Documents {
		c.Documents = append(c.Documents, database.CaseDocument{
			Source:     d.Source,
			FilePath:   d.FilePath,
			Downloaded: d.FilePath != "",
		})
	}
	return c, nil
}

func applyDefendant(c *database.Case, name, address string, order normalize.NameOrder) error {
	first, middle, last := normalize.SplitFullName(name, order)
	if first == "" && last == "" {
		return fmt.Errorf("unparseable defendant name %q", name)
	}
	c.FirstName, c.MiddleName, c.LastName = first, middle, last
	c.AddressLine1, c.City, c.State, c.Zip = normalize.ParseFullAddress(address)
	return nil
}

func convertCharges(rows []chargeRow) ([]database.Charge, string) {
	charges := make([]database.Charge, 0, len(rows))
	descriptions := make([]string, 0, len(rows))
	for _, r := range rows {
		c := database.Charge{
			Description: r.Description,
			Statute:     r.Statute,
			Degree:      r.Degree,
			Fine:        parseMoney(r.Fine),
		}
		if t, err := normalize.ParseDate(r.OffenseDate); err == nil {
			c.OffenseDate = t
		}
		charges = append(charges, c)
		descriptions = append(descriptions, r.Description)
	}
	return charges, normalize.MapChargesDescription(descriptions)
}

func parseMoney(s string) float64 {
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
