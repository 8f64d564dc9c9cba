package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodSession is a BrowserSession on go-rod
type RodSession struct {
	opts     BrowserOptions
	logger   *logger.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	mu       sync.Mutex
}

// NewRodSession launches a browser and opens one page
func NewRodSession(ctx context.Context, opts BrowserOptions, log *logger.Logger) (*RodSession, error) {
	l := launcher.New().
		Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Delete("enable-automation")

	if opts.UserAgent != "" {
		l = l.Set("user-agent", opts.UserAgent)
	}
	if opts.BinPath != "" {
		l = l.Bin(opts.BinPath)
	}
	if opts.ProxyURL != "" {
		host := opts.ProxyURL
		if u, err := url.Parse(opts.ProxyURL); err == nil && u.Host != "" {
			host = u.Host
		}
		l = l.Proxy(host)
	}
	if opts.Debug && !opts.Headless {
		l = l.Devtools(true)
	}

	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		browser.Close()
		l.Kill()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: 1920, Height: 1080, DeviceScaleFactor: 1}); err != nil {
		log.Warn("Failed to set viewport", "error", err)
	}
	if _, err := page.SetExtraHeaders([]string{"Accept-Language", "en-US,en;q=0.9"}); err != nil {
		log.Warn("Failed to set extra headers", "error", err)
	}
	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			log.Warn("Failed to set user agent", "error", err)
		}
	}

	log.Debug("Browser session started", "driver", "rod", "headless", opts.Headless)
	return &RodSession{opts: opts, logger: log, launcher: l, browser: browser, page: page}, nil
}

func (s *RodSession) timeout() time.Duration {
	if s.opts.Timeout > 0 {
		return s.opts.Timeout
	}
	return 30 * time.Second
}

// on returns the page bound to a bounded child of ctx
func (s *RodSession) on(ctx context.Context) (*rod.Page, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(ctx, s.timeout())
	return s.page.Context(tctx), cancel
}

func (s *RodSession) Navigate(ctx context.Context, target string) error {
	page, cancel := s.on(ctx)
	defer cancel()

	s.logger.Debug("Navigating", "url", target)
	if err := page.Navigate(target); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", target, err)
	}
	if err := page.WaitLoad(); err != nil {
		// the page may still be usable when only late resources time out
		s.logger.Warn("Page load wait failed", "url", target, "error", err)
	}
	return nil
}

func (s *RodSession) element(ctx context.Context, selector string) (*rod.Element, context.CancelFunc, error) {
	page, cancel := s.on(ctx)
	el, err := page.Element(selector)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("element %q not found: %w", selector, err)
	}
	return el, cancel, nil
}

func (s *RodSession) Fill(ctx context.Context, selector, value string) error {
	el, cancel, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	defer cancel()

	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("failed to focus %q: %w", selector, err)
	}
	return el.Input(value)
}

func (s *RodSession) Click(ctx context.Context, selector string) error {
	el, cancel, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	defer cancel()
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (s *RodSession) SetValue(ctx context.Context, selector, value string) error {
	el, cancel, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	defer cancel()
	_, err = el.Eval(`function (v) { this.value = v; this.innerHTML = v; }`, value)
	return err
}

func (s *RodSession) Has(ctx context.Context, selector string) (bool, error) {
	page, cancel := s.on(ctx)
	defer cancel()
	has, _, err := page.Has(selector)
	return has, err
}

func (s *RodSession) Text(ctx context.Context, selector string) (string, error) {
	el, cancel, err := s.element(ctx, selector)
	if err != nil {
		return "", err
	}
	defer cancel()
	return el.Text()
}

func (s *RodSession) Attribute(ctx context.Context, selector, name string) (string, error) {
	el, cancel, err := s.element(ctx, selector)
	if err != nil {
		return "", err
	}
	defer cancel()
	v, err := el.Attribute(name)
	if err != nil || v == nil {
		return "", err
	}
	return *v, nil
}

func (s *RodSession) HTML(ctx context.Context) (string, error) {
	page, cancel := s.on(ctx)
	defer cancel()
	return page.HTML()
}

func (s *RodSession) URL(ctx context.Context) (string, error) {
	page, cancel := s.on(ctx)
	defer cancel()
	info, err := page.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (s *RodSession) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	page, cancel := s.on(ctx)
	defer cancel()

	raw, err := page.Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	cookies := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
	}
	return cookies, nil
}

func (s *RodSession) Download(ctx context.Context, target, dest string) (int64, error) {
	cookies, err := s.Cookies(ctx)
	if err != nil {
		return 0, err
	}
	return downloadWithCookies(ctx, target, dest, s.opts.UserAgent, cookies)
}

// Close tears down the page, the browser and the launched process
func (s *RodSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser == nil {
		return nil
	}
	if s.page != nil {
		_ = s.page.Close()
	}
	err := s.browser.Close()
	s.launcher.Kill()
	s.browser, s.page = nil, nil
	return err
}
