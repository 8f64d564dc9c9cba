package courts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/JustJay7/court-lead-harvester/internal/normalize"
	"github.com/JustJay7/court-lead-harvester/internal/scraper"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"github.com/go-resty/resty/v2"
)

const BrowardName = "broward"

var browardCourt = database.Court{Code: "FL_BROWARD", State: "FL", CountyCode: "06", Name: "Broward County Clerk of Courts", Enabled: true}

// Broward searches the clerk's JSON API by defendant last-name prefix over
// a filing window. The cursor is the index of the next prefix; it restarts
// when the window changes.
type Broward struct {
	court    database.Court
	from, to time.Time
	terms    []string
	pageSize int
	client   *resty.Client
	retry    scraper.RetryConfig
	logger   *logger.Logger
}

type browardSearchResponse struct {
	Results []struct {
		CaseNumber string `json:"caseNumber"`
	} `json:"results"`
	Total int `json:"total"`
}

type browardAddress struct {
	Line1 string `json:"line1"`
	City  string `json:"city"`
	State string `json:"state"`
	Zip   string `json:"zip"`
	Full  string `json:"full"`
}

type browardCase struct {
	CaseNumber string `json:"caseNumber"`
	FilingDate string `json:"filingDate"`
	CaseType   string `json:"caseType"`
	CaseStatus string `json:"caseStatus"`
	Defendant  struct {
		FullName    string         `json:"fullName"`
		DateOfBirth string         `json:"dateOfBirth"`
		Address     browardAddress `json:"address"`
	} `json:"defendant"`
	Charges []struct {
		Description string  `json:"description"`
		Statute     string  `json:"statute"`
		Degree      string  `json:"degree"`
		OffenseDate string  `json:"offenseDate"`
		Fine        float64 `json:"fine"`
	} `json:"charges"`
	Documents []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
	} `json:"documents"`
}

func newBrowardJurisdiction(deps Deps, court database.Court, opts Options) (scraper.Jurisdiction, error) {
	return NewBroward(deps, court, opts)
}

func NewBroward(deps Deps, court database.Court, opts Options) (*Broward, error) {
	if deps.Config.BrowardAPIKey == "" {
		return nil, errors.New("BROWARD_API_KEY is required for the broward scraper")
	}

	client, err := scraper.NewHTTPClient(scraper.HTTPOptionsFromConfig(deps.Config, deps.Config.BrowardBaseURL))
	if err != nil {
		return nil, err
	}
	client.SetHeader("X-Api-Key", deps.Config.BrowardAPIKey).SetHeader("Accept", "application/json")

	b := &Broward{
		court:    court,
		from:     opts.From,
		to:       opts.To,
		terms:    opts.Terms,
		pageSize: opts.PageSize,
		client:   client,
		retry: scraper.RetryConfig{
			MaxAttempts:    deps.Config.RetryAttempts,
			InitialBackoff: deps.Config.RetryBackoff,
			JitterFraction: 0.2,
		},
		logger: deps.Logger.With("court", court.Code),
	}
	if b.pageSize <= 0 {
		b.pageSize = 50
	}
	return b, nil
}

func (b *Broward) Name() string {
	return BrowardName
}

func (b *Broward) Court(code string) (database.Court, bool) {
	return b.court, code == b.court.Code
}

func (b *Broward) window() string {
	return b.from.Format(time.DateOnly) + "/" + b.to.Format(time.DateOnly)
}

func (b *Broward) Identifiers(state scraper.State) scraper.IdentifierSource {
	if state.String("window", "") != b.window() {
		state = state.With("window", b.window()).With("term_index", 0)
	}
	return scraper.SearchList(state, scraper.Search{
		Key:   "term_index",
		Terms: b.terms,
		Court: b.court.Code,
		List:  b.search,
	})
}

// search pages through every case whose defendant last name starts with term
func (b *Broward) search(ctx context.Context, term string) ([]string, error) {
	var ids []string
	for page := 1; ; page++ {
		result, err := scraper.RetryValue(ctx, b.retry, func(ctx context.Context) (*browardSearchResponse, error) {
			resp, err := b.client.R().
				SetContext(ctx).
				SetQueryParams(map[string]string{
					"lastName":  term,
					"filedFrom": b.from.Format(time.DateOnly),
					"filedTo":   b.to.Format(time.DateOnly),
					"page":      strconv.Itoa(page),
					"pageSize":  strconv.Itoa(b.pageSize),
				}).
				Get("/api/v1/cases/search")
			if err != nil {
				return nil, err
			}
			if err := checkStatus(resp); err != nil {
				return nil, err
			}
			var out browardSearchResponse
			if err := json.Unmarshal(resp.Body(), &out); err != nil {
				return nil, fmt.Errorf("failed to decode search response: %w", err)
			}
			return &out, nil
		})
		if err != nil {
			return nil, err
		}

		for _, r := range result.Results {
			ids = append(ids, strings.TrimSpace(r.CaseNumber))
		}
		if len(result.Results) < b.pageSize || (result.Total > 0 && len(ids) >= result.Total) {
			break
		}
	}
	b.logger.Debug("Search finished", "term", term, "count", len(ids))
	return ids, nil
}

func (b *Broward) Fetch(ctx context.Context, id scraper.Identifier) scraper.Outcome {
	type fetched struct {
		body     string
		rec      *browardCase
		notFound bool
	}

	path := "/api/v1/cases/" + id.CaseID
	res, err := scraper.RetryValue(ctx, b.retry, func(ctx context.Context) (fetched, error) {
		resp, err := b.client.R().SetContext(ctx).SetPathParam("id", id.CaseID).Get("/api/v1/cases/{id}")
		if err != nil {
			return fetched{}, err
		}
		if resp.StatusCode() == http.StatusNotFound {
			return fetched{notFound: true}, nil
		}
		if err := checkStatus(resp); err != nil {
			return fetched{}, err
		}
		var rec browardCase
		if err := json.Unmarshal(resp.Body(), &rec); err != nil {
			return fetched{}, fmt.Errorf("failed to decode case %s: %w", id.CaseID, err)
		}
		return fetched{body: resp.String(), rec: &rec}, nil
	})
	if err != nil {
		return failed(err)
	}
	if res.notFound {
		return scraper.NotFound()
	}

	return scraper.Found(scraper.RawRecord{
		CaseID:  id.CaseID,
		Court:   b.court.Code,
		URL:     path,
		Body:    res.body,
		Payload: res.rec,
	})
}

func (b *Broward) Normalize(rec scraper.RawRecord) (*database.Case, error) {
	r, ok := rec.Payload.(*browardCase)
	if !ok || r == nil {
		return nil, fmt.Errorf("unexpected payload %T", rec.Payload)
	}

	filed, err := normalize.ParseDate(r.FilingDate)
	if err != nil {
		return nil, fmt.Errorf("filing date: %w", err)
	}

	c := &database.Case{
		CaseID:     rec.CaseID,
		CourtCode:  b.court.Code,
		Source:     BrowardName,
		FilingDate: filed,
		CaseType:   normalize.CleanText(r.CaseType),
		CaseStatus: normalize.CleanText(r.CaseStatus),
	}

	addr := r.Defendant.Address
	full := addr.Full
	if full == "" && addr.Line1 != "" {
		full = strings.Join([]string{addr.Line1, addr.City, addr.State + " " + addr.Zip}, ", ")
	}
	if err := applyDefendant(c, r.Defendant.FullName, full, normalize.FirstLast); err != nil {
		return nil, err
	}
	if addr.Line1 != "" {
		// structured fields win over the parsed free-text form
		c.AddressLine1 = normalize.CleanText(addr.Line1)
		c.City = normalize.CleanText(addr.City)
		c.State = normalize.NormalizeState(addr.State)
		c.Zip = normalize.CleanText(addr.Zip)
	}
	c.BirthDate, c.YearOfBirth = normalize.ParseBirth(r.Defendant.DateOfBirth)
	c.Parties = []database.Party{{Role: "Defendant", Name: normalize.CleanText(r.Defendant.FullName), Address: full}}

	rows := make([]chargeRow, 0, len(r.Charges))
	for _, ch := range r.Charges {
		rows = append(rows, chargeRow{
			Description: normalize.CleanText(ch.Description),
			Statute:     ch.Statute,
			Degree:      ch.Degree,
			OffenseDate: ch.OffenseDate,
			Fine:        strconv.FormatFloat(ch.Fine, 'f', 2, 64),
		})
	}
	c.Charges, c.ChargesTag = convertCharges(rows)
	if len(c.Charges) > 0 {
		c.OffenseDate = c.Charges[0].OffenseDate
	}

	for _, d := range r.Documents {
		if d.URL != "" {
			c.Documents = append(c.Documents, database.CaseDocument{Source: d.URL})
		}
	}
	return c, nil
}
