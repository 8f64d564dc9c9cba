package courts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/JustJay7/court-lead-harvester/internal/normalize"
	"github.com/JustJay7/court-lead-harvester/internal/scraper"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const MissouriName = "missouri_casenet"

var missouriCourts = []database.Court{
	{Code: "MO_SLCO", State: "MO", CountyCode: "SL", Name: "St. Louis County Circuit Court", Enabled: true},
	{Code: "MO_SLCI", State: "MO", CountyCode: "CR", Name: "St. Louis City Circuit Court", Enabled: true},
	{Code: "MO_JACK", State: "MO", CountyCode: "JA", Name: "Jackson County Circuit Court", Enabled: true},
}

// portal court ids of the Missouri courts
var missouriCourtIDs = map[string]string{
	"MO_SLCO": "CT21",
	"MO_SLCI": "CT22",
	"MO_JACK": "CT16",
}

const missouriCasePath = "/cases/header.do"

// Missouri scrapes Case.net. Traffic case numbers are sequential per court
// and year, e.g. 24SL-TR01532, so the state document keeps one next
// number per court code.
type Missouri struct {
	court   database.Court
	courtID string
	year    int
	start   int
	http    scraper.HTTPOptions
	client  *resty.Client
	solver  scraper.CaptchaSolver
	retry   scraper.RetryConfig
	logger  *logger.Logger
}

func newMissouriJurisdiction(deps Deps, court database.Court, opts Options) (scraper.Jurisdiction, error) {
	return NewMissouri(deps, court, opts)
}

func NewMissouri(deps Deps, court database.Court, opts Options) (*Missouri, error) {
	courtID, ok := missouriCourtIDs[court.Code]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a Case.net court", ErrUnknownCourt, court.Code)
	}

	m := &Missouri{
		court:   court,
		courtID: courtID,
		year:    opts.Year,
		start:   opts.Start,
		http:    scraper.HTTPOptionsFromConfig(deps.Config, deps.Config.MissouriBaseURL),
		solver:  deps.Solver,
		retry: scraper.RetryConfig{
			MaxAttempts:    deps.Config.RetryAttempts,
			InitialBackoff: deps.Config.RetryBackoff,
			JitterFraction: 0.2,
		},
		logger: deps.Logger.With("court", court.Code),
	}
	if m.start <= 0 {
		m.start = 1
	}
	if m.solver == nil {
		m.solver = scraper.ChainSolver(nil)
	}

	client, err := scraper.NewHTTPClient(m.http)
	if err != nil {
		return nil, err
	}
	m.client = client
	return m, nil
}

func (m *Missouri) Name() string {
	return MissouriName
}

func (m *Missouri) Court(code string) (database.Court, bool) {
	return m.court, code == m.court.Code
}

// CaseNumber formats the n-th traffic case of the configured year
func (m *Missouri) CaseNumber(n int) string {
	return fmt.Sprintf("%02d%s-TR%05d", m.year%100, m.court.CountyCode, n)
}

// CursorKey is the state key of the court's sequence. Case numbers restart
// every January, so each year gets its own cursor.
func (m *Missouri) CursorKey() string {
	return fmt.Sprintf("%s:%d", m.court.Code, m.year)
}

func (m *Missouri) Identifiers(state scraper.State) scraper.IdentifierSource {
	return scraper.Sequential(state, scraper.Sequence{
		Key:    m.CursorKey(),
		Start:  m.start,
		Court:  m.court.Code,
		Format: m.CaseNumber,
	})
}

// RefreshSession drops the cookie jar so the portal issues a new session
func (m *Missouri) RefreshSession(context.Context) error {
	client, err := scraper.NewHTTPClient(m.http)
	if err != nil {
		return err
	}
	m.client = client
	m.logger.Info("Case.net session refreshed")
	return nil
}

type missouriPage struct {
	url      string
	body     string
	siteKey  string
	notFound bool
	record   *caseRecord
}

func (m *Missouri) Fetch(ctx context.Context, id scraper.Identifier) scraper.Outcome {
	page, err := scraper.RetryValue(ctx, m.retry, func(ctx context.Context) (*missouriPage, error) {
		return m.lookup(ctx, id.CaseID, "")
	})
	if err != nil {
		return failed(err)
	}

	if page.siteKey != "" {
		m.logger.Debug("reCAPTCHA challenge", "case_id", id.CaseID)
		token, err := m.solver.Solve(ctx, page.siteKey, page.url)
		if err != nil {
			return scraper.Transient(fmt.Errorf("%w: %v", scraper.ErrCaptchaBlocked, err))
		}
		page, err = m.lookup(ctx, id.CaseID, token)
		if err != nil {
			return failed(err)
		}
		if page.siteKey != "" {
			return scraper.Transient(fmt.Errorf("%w: token rejected", scraper.ErrCaptchaBlocked))
		}
	}

	if page.notFound {
		return scraper.NotFound()
	}
	return scraper.Found(scraper.RawRecord{
		CaseID:  id.CaseID,
		Court:   m.court.Code,
		URL:     page.url,
		Body:    page.body,
		Payload: page.record,
	})
}

func (m *Missouri) lookup(ctx context.Context, caseNumber, token string) (*missouriPage, error) {
	params := map[string]string{
		"inputVO.caseNumber": caseNumber,
		"inputVO.courtId":    m.courtID,
	}

	req := m.client.R().SetContext(ctx)
	var resp *resty.Response
	var err error
	if token == "" {
		resp, err = req.SetQueryParams(params).Get(missouriCasePath)
	} else {
		params["g-recaptcha-response"] = token
		resp, err = req.SetFormData(params).Post(missouriCasePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", caseNumber, err)
	}

	page := &missouriPage{url: resp.Request.URL, body: resp.String()}
	if resp.StatusCode() == http.StatusNotFound {
		page.notFound = true
		return page, nil
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", caseNumber, err)
	}

	if key, ok := doc.Find(".g-recaptcha").Attr("data-sitekey"); ok && key != "" {
		page.siteKey = key
		return page, nil
	}
	if hasNoRecordsMessage(doc) {
		page.notFound = true
		return page, nil
	}

	header := doc.Find("table#caseHeader")
	if header.Length() == 0 {
		return nil, errors.New("unrecognized case page layout")
	}
	page.record = &caseRecord{
		Fields:  labelFields(header),
		Charges: parseCharges(doc.Find("table#charges")),
		Parties: parseParties(doc.Find("table#parties")),
	}
	return page, nil
}

func (m *Missouri) Normalize(rec scraper.RawRecord) (*database.Case, error) {
	r, ok := rec.Payload.(*caseRecord)
	if !ok || r == nil {
		return nil, fmt.Errorf("unexpected payload %T", rec.Payload)
	}
	c, err := caseFromRecord(r, normalize.AutoOrder)
	if err != nil {
		return nil, err
	}
	c.CaseID = rec.CaseID
	c.CourtCode = m.court.Code
	c.Source = MissouriName
	return c, nil
}
