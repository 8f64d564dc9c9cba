package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/config"
	"github.com/JustJay7/court-lead-harvester/pkg/logger"
	"github.com/go-resty/resty/v2"
)

// ErrNoSolver is returned when a CAPTCHA must be solved but no solving
// service is configured
var ErrNoSolver = errors.New("no captcha solver configured")

// CaptchaSolver solves a reCAPTCHA v2 challenge and returns the response
// token to inject into the page
type CaptchaSolver interface {
	Solve(ctx context.Context, siteKey, pageURL string) (string, error)
}

// SolverOptions are shared by the HTTP solvers
type SolverOptions struct {
	BaseURL      string
	PollInterval time.Duration
	MaxWait      time.Duration
}

func (o SolverOptions) withDefaults(baseURL string) SolverOptions {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 3 * time.Minute
	}
	return o
}

// NewCaptchaSolver chains the configured services, 2Captcha first
func NewCaptchaSolver(cfg *config.Config, log *logger.Logger) CaptchaSolver {
	opts := SolverOptions{PollInterval: cfg.CaptchaPollInterval}
	var chain ChainSolver
	if cfg.TwoCaptchaKey != "" {
		chain = append(chain, NewTwoCaptcha(cfg.TwoCaptchaKey, opts))
	}
	if cfg.AntiCaptchaKey != "" {
		chain = append(chain, NewAntiCaptcha(cfg.AntiCaptchaKey, opts))
	}
	if len(chain) == 0 {
		log.Warn("No CAPTCHA solver configured")
	}
	return chain
}

// ChainSolver tries each solver in order until one returns a token
type ChainSolver []CaptchaSolver

func (c ChainSolver) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	if len(c) == 0 {
		return "", ErrNoSolver
	}
	var errs []error
	for _, solver := range c {
		token, err := solver.Solve(ctx, siteKey, pageURL)
		if err == nil {
			return token, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		errs = append(errs, err)
	}
	return "", fmt.Errorf("all captcha solvers failed: %w", errors.Join(errs...))
}

// TwoCaptcha solves through the 2captcha.com in.php/res.php API
type TwoCaptcha struct {
	apiKey string
	opts   SolverOptions
	http   *resty.Client
}

type twoCaptchaResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

func NewTwoCaptcha(apiKey string, opts SolverOptions) *TwoCaptcha {
	opts = opts.withDefaults("https://2captcha.com")
	return &TwoCaptcha{apiKey: apiKey, opts: opts, http: resty.New().SetTimeout(30 * time.Second)}
}

func (s *TwoCaptcha) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	var submit twoCaptchaResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"key":       s.apiKey,
			"method":    "userrecaptcha",
			"googlekey": siteKey,
			"pageurl":   pageURL,
			"json":      "1",
		}).
		Post(s.opts.BaseURL + "/in.php")
	if err != nil {
		return "", fmt.Errorf("failed to submit to 2captcha: %w", err)
	}
	if err := json.Unmarshal(resp.Body(), &submit); err != nil {
		return "", fmt.Errorf("failed to decode 2captcha response: %w", err)
	}
	if submit.Status != 1 {
		return "", fmt.Errorf("2captcha submission failed: %s", submit.Request)
	}

	deadline := time.Now().Add(s.opts.MaxWait)
	for time.Now().Before(deadline) {
		if err := sleepContext(ctx, s.opts.PollInterval); err != nil {
			return "", err
		}

		resp, err := s.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"key":    s.apiKey,
				"action": "get",
				"id":     submit.Request,
				"json":   "1",
			}).
			Get(s.opts.BaseURL + "/res.php")
		if err != nil {
			continue
		}

		var result twoCaptchaResponse
		if err := json.Unmarshal(resp.Body(), &result); err != nil {
			continue
		}
		if result.Status == 1 {
			return result.Request, nil
		}
		if result.Request != "CAPCHA_NOT_READY" {
			return "", fmt.Errorf("2captcha error: %s", result.Request)
		}
	}
	return "", fmt.Errorf("2captcha timeout after %s", s.opts.MaxWait)
}

// AntiCaptcha solves through the anti-captcha.com task API
type AntiCaptcha struct {
	apiKey string
	opts   SolverOptions
	http   *resty.Client
}

type antiCaptchaTask struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
}

type antiCaptchaResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
	Status           string `json:"status"`
	Solution         struct {
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
	} `json:"solution"`
}

func (r antiCaptchaResponse) err() error {
	if r.ErrorID == 0 {
		return nil
	}
	return fmt.Errorf("anti-captcha error %s: %s", r.ErrorCode, r.ErrorDescription)
}

func NewAntiCaptcha(apiKey string, opts SolverOptions) *AntiCaptcha {
	opts = opts.withDefaults("https://api.anti-captcha.com")
	return &AntiCaptcha{apiKey: apiKey, opts: opts, http: resty.New().SetTimeout(30 * time.Second)}
}

func (s *AntiCaptcha) post(ctx context.Context, path string, body any) (antiCaptchaResponse, error) {
	var out antiCaptchaResponse
	resp, err := s.http.R().SetContext(ctx).SetBody(body).Post(s.opts.BaseURL + path)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return out, fmt.Errorf("failed to decode anti-captcha response: %w", err)
	}
	return out, out.err()
}

func (s *AntiCaptcha) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	created, err := s.post(ctx, "/createTask", map[string]any{
		"clientKey": s.apiKey,
		"task": antiCaptchaTask{
			Type:       "RecaptchaV2TaskProxyless",
			WebsiteURL: pageURL,
			WebsiteKey: siteKey,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create anti-captcha task: %w", err)
	}

	deadline := time.Now().Add(s.opts.MaxWait)
	for time.Now().Before(deadline) {
		if err := sleepContext(ctx, s.opts.PollInterval); err != nil {
			return "", err
		}

		result, err := s.post(ctx, "/getTaskResult", map[string]any{
			"clientKey": s.apiKey,
			"taskId":    created.TaskID,
		})
		if err != nil {
			if result.ErrorID != 0 {
				return "", err
			}
			continue
		}
		if result.Status == "ready" {
			return result.Solution.GRecaptchaResponse, nil
		}
	}
	return "", fmt.Errorf("anti-captcha timeout after %s", s.opts.MaxWait)
}
