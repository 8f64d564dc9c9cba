package courts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/JustJay7/court-lead-harvester/internal/normalize"
	"github.com/JustJay7/court-lead-harvester/internal/scraper"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"github.com/PuerkitoBio/goquery"
)

const CookName = "cook_county"

var cookCourt = database.Court{Code: "IL_COOK", State: "IL", CountyCode: "031", Name: "Circuit Court of Cook County", Enabled: true}

// page selectors of the clerk's case search
const (
	cookCaptcha       = ".g-recaptcha"
	cookCaptchaField  = "#g-recaptcha-response"
	cookCaptchaSubmit = "#captcha-submit"
	cookDisclaimer    = "#disclaimer-accept"
	cookResultLinks   = "table#results a.case-link"
	cookComplaintLink = "a.complaint-pdf"
)

// Cook sweeps the Cook County clerk's criminal and traffic search by
// filing date through a headless browser. The clerk gates searches behind
// a disclaimer and an occasional reCAPTCHA.
type Cook struct {
	court    database.Court
	baseURL  string
	from, to time.Time
	docsDir  string
	sessions scraper.SessionFactory
	session  scraper.BrowserSession
	solver   scraper.CaptchaSolver
	retry    scraper.RetryConfig
	logger   *logger.Logger
}

func newCookJurisdiction(deps Deps, court database.Court, opts Options) (scraper.Jurisdiction, error) {
	return NewCook(deps, court, opts)
}

func NewCook(deps Deps, court database.Court, opts Options) (*Cook, error) {
	if deps.Sessions == nil {
		return nil, errors.New("cook county requires a browser session factory")
	}
	c := &Cook{
		court:    court,
		baseURL:  strings.TrimRight(deps.Config.CookBaseURL, "/"),
		from:     opts.From,
		to:       opts.To,
		docsDir:  filepath.Join(deps.Config.DocumentsDir, CookName),
		sessions: deps.Sessions,
		solver:   deps.Solver,
		retry: scraper.RetryConfig{
			MaxAttempts:    deps.Config.RetryAttempts,
			InitialBackoff: deps.Config.RetryBackoff,
			JitterFraction: 0.2,
		},
		logger: deps.Logger.With("court", court.Code),
	}
	if c.solver == nil {
		c.solver = scraper.ChainSolver(nil)
	}
	return c, nil
}

func (c *Cook) Name() string {
	return CookName
}

func (c *Cook) Court(code string) (database.Court, bool) {
	return c.court, code == c.court.Code
}

// Start opens a browser session and accepts the clerk's disclaimer
func (c *Cook) Start(ctx context.Context) error {
	session, err := c.sessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to open browser session: %w", err)
	}
	c.session = session

	if err := session.Navigate(ctx, c.baseURL+"/"); err != nil {
		return err
	}
	present, err := session.Has(ctx, cookDisclaimer)
	if err != nil {
		return err
	}
	if present {
		if err := session.Click(ctx, cookDisclaimer); err != nil {
			return fmt.Errorf("failed to accept disclaimer: %w", err)
		}
	}
	c.logger.Info("Cook County session started")
	return nil
}

// RefreshSession replaces the browser session after a CAPTCHA block
func (c *Cook) RefreshSession(ctx context.Context) error {
	if err := c.Close(); err != nil {
		c.logger.Warn("Failed to close browser session", "error", err)
	}
	return c.Start(ctx)
}

func (c *Cook) Close() error {
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

func (c *Cook) Identifiers(state scraper.State) scraper.IdentifierSource {
	return scraper.DateSweep(state, scraper.Sweep{
		Key:   "next_filing_date",
		From:  c.from,
		To:    c.to,
		Court: c.court.Code,
		List:  c.listDay,
	})
}

// load opens target, retrying failed navigations with backoff
func (c *Cook) load(ctx context.Context, target string) (*goquery.Document, error) {
	return scraper.RetryValue(ctx, c.retry, func(ctx context.Context) (*goquery.Document, error) {
		return c.open(ctx, target)
	})
}

// open navigates and clears a CAPTCHA wall if one is shown, returning the
// resulting page
func (c *Cook) open(ctx context.Context, target string) (*goquery.Document, error) {
	if c.session == nil {
		return nil, errors.New("browser session not started")
	}
	if err := c.session.Navigate(ctx, target); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		// browser navigation failures are timeouts or dropped connections
		return nil, scraper.NewTransientError(err, 0)
	}
	if err := c.passCaptcha(ctx); err != nil {
		return nil, err
	}
	html, err := c.session.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (c *Cook) passCaptcha(ctx context.Context) error {
	present, err := c.session.Has(ctx, cookCaptcha)
	if err != nil || !present {
		return err
	}

	siteKey, err := c.session.Attribute(ctx, cookCaptcha, "data-sitekey")
	if err != nil {
		return err
	}
	pageURL, err := c.session.URL(ctx)
	if err != nil {
		return err
	}
	token, err := c.solver.Solve(ctx, siteKey, pageURL)
	if err != nil {
		return fmt.Errorf("%w: %v", scraper.ErrCaptchaBlocked, err)
	}

	if err := c.session.SetValue(ctx, cookCaptchaField, token); err != nil {
		return err
	}
	if err := c.session.Click(ctx, cookCaptchaSubmit); err != nil {
		return err
	}
	if still, err := c.session.Has(ctx, cookCaptcha); err == nil && still {
		return fmt.Errorf("%w: token rejected", scraper.ErrCaptchaBlocked)
	}
	return nil
}

func (c *Cook) listDay(ctx context.Context, day time.Time) ([]string, error) {
	q := url.Values{"filingDate": {day.Format("01/02/2006")}}
	doc, err := c.load(ctx, c.baseURL+"/search?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var ids []string
	doc.Find(cookResultLinks).Each(func(_ int, a *goquery.Selection) {
		if id := normalize.CleanText(a.Text()); id != "" {
			ids = append(ids, id)
		}
	})
	c.logger.Debug("Listed filings", "date", day.Format(time.DateOnly), "count", len(ids))
	return ids, nil
}

func (c *Cook) Fetch(ctx context.Context, id scraper.Identifier) scraper.Outcome {
	target := c.baseURL + "/case/" + url.PathEscape(id.CaseID)
	doc, err := c.load(ctx, target)
	if err != nil {
		return scraper.Transient(err)
	}
	if hasNoRecordsMessage(doc) {
		return scraper.NotFound()
	}

	details := doc.Find("table#case-details")
	if details.Length() == 0 {
		return scraper.Transient(errors.New("unrecognized case page layout"))
	}

	rec := &caseRecord{
		Fields:  labelFields(details),
		Charges: parseCharges(doc.Find("table#charges")),
		Parties: parseParties(doc.Find("table#parties")),
	}
	doc.Find(cookComplaintLink).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return
		}
		rec.Documents = append(rec.Documents, c.download(ctx, id.CaseID, c.resolve(target, href)))
	})

	html, err := doc.Html()
	if err != nil {
		c.logger.Warn("Failed to render case page, keeping the live page", "case_id", id.CaseID, "error", err)
		if html, err = c.session.HTML(ctx); err != nil {
			c.logger.Warn("Failed to read case page", "case_id", id.CaseID, "error", err)
		}
	}
	return scraper.Found(scraper.RawRecord{
		CaseID:  id.CaseID,
		Court:   c.court.Code,
		URL:     target,
		Body:    html,
		Payload: rec,
	})
}

func (c *Cook) resolve(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

// download saves a complaint through the browser session. A failed
// download keeps the remote source so the document pipeline can retry it.
func (c *Cook) download(ctx context.Context, caseID, source string) documentRow {
	doc := documentRow{Source: source}

	name := path.Base(strings.SplitN(source, "?", 2)[0])
	if name == "" || name == "." || name == "/" {
		name = "complaint.pdf"
	}
	dir := filepath.Join(c.docsDir, caseID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		c.logger.Warn("Failed to create document directory", "dir", dir, "error", err)
		return doc
	}

	dest := filepath.Join(dir, name)
	size, err := c.session.Download(ctx, source, dest)
	if err != nil {
		c.logger.Warn("Failed to download complaint", "case_id", caseID, "url", source, "error", err)
		return doc
	}
	c.logger.Info("Complaint downloaded", "case_id", caseID, "size", size, "path", dest)
	doc.FilePath = dest
	return doc
}

func (c *Cook) Normalize(rec scraper.RawRecord) (*database.Case, error) {
	r, ok := rec.Payload.(*caseRecord)
	if !ok || r == nil {
		return nil, fmt.Errorf("unexpected payload %T", rec.Payload)
	}
	cs, err := caseFromRecord(r, normalize.AutoOrder)
	if err != nil {
		return nil, err
	}
	cs.CaseID = rec.CaseID
	cs.CourtCode = c.court.Code
	cs.Source = CookName
	return cs, nil
}
