package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/config"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
)

// BrowserSession is the headless-browser capability jurisdictions drive.
// A session owns one page and is used by one goroutine at a time.
type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// SetValue writes an element's value directly, e.g. a solved
	// g-recaptcha-response token into its hidden textarea
	SetValue(ctx context.Context, selector, value string) error
	Has(ctx context.Context, selector string) (bool, error)
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, error)
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	// Download fetches url with the session's cookies and writes it to dest
	Download(ctx context.Context, url, dest string) (int64, error)
	Close() error
}

// SessionFactory opens a fresh browser session
type SessionFactory func(ctx context.Context) (BrowserSession, error)

// BrowserOptions configure both browser drivers
type BrowserOptions struct {
	Headless  bool
	UserAgent string
	BinPath   string
	ProxyURL  string
	Timeout   time.Duration
	Debug     bool
}

func BrowserOptionsFromConfig(cfg *config.Config) BrowserOptions {
	return BrowserOptions{
		Headless:  cfg.HeadlessMode,
		UserAgent: cfg.UserAgent,
		BinPath:   cfg.BrowserPath,
		ProxyURL:  cfg.ProxyURL,
		Timeout:   cfg.ScraperTimeout,
		Debug:     cfg.LogLevel == "debug",
	}
}

// NewSessionFactory returns a factory for the configured driver
func NewSessionFactory(cfg *config.Config, log *logger.Logger) (SessionFactory, error) {
	opts := BrowserOptionsFromConfig(cfg)
	switch cfg.BrowserDriver {
	case "rod", "":
		return func(ctx context.Context) (BrowserSession, error) {
			return NewRodSession(ctx, opts, log)
		}, nil
	case "chromedp":
		return func(ctx context.Context) (BrowserSession, error) {
			return NewChromedpSession(ctx, opts, log)
		}, nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.BrowserDriver)
	}
}
