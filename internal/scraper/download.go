package scraper

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
)

// downloadWithCookies saves url to dest carrying a browser session's cookies
func downloadWithCookies(ctx context.Context, url, dest, userAgent string, cookies []*http.Cookie) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	client := resty.New().SetTimeout(60 * time.Second)
	req := client.R().SetContext(ctx).SetCookies(cookies).SetOutput(dest)
	if userAgent != "" {
		req.SetHeader("User-Agent", userAgent)
	}

	resp, err := req.Get(url)
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("failed to download %s: %w", url, err)
	}
	if resp.IsError() {
		os.Remove(dest)
		return 0, StatusError(resp.StatusCode(), url)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", dest, err)
	}
	return info.Size(), nil
}
