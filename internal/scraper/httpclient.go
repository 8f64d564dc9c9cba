package scraper

import (
	"fmt"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/config"
	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// HTTPOptions configure a court portal HTTP client
type HTTPOptions struct {
	BaseURL   string
	UserAgent string
	ProxyURL  string
	Timeout   time.Duration
	// RateLimit is requests per second; zero disables limiting
	RateLimit float64
}

func HTTPOptionsFromConfig(cfg *config.Config, baseURL string) HTTPOptions {
	return HTTPOptions{
		BaseURL:   baseURL,
		UserAgent: cfg.UserAgent,
		ProxyURL:  cfg.ProxyURL,
		Timeout:   cfg.ScraperTimeout,
		RateLimit: cfg.HTTPRateLimit,
	}
}

// NewHTTPClient builds a resty client with a cookie jar, the cloudflare
// bypass transport and a request rate limit
func NewHTTPClient(opts HTTPOptions) (*resty.Client, error) {
	client := resty.New()
	if opts.BaseURL != "" {
		client.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	client.SetCookieJar(jar)

	if opts.ProxyURL != "" {
		client.SetProxy(opts.ProxyURL)
	}
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	client.SetHeader("Accept-Language", "en-US,en;q=0.9")

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)

	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}

	return client, nil
}
