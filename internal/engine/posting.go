package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	nurl "net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

const (
	// maxFetchAttempts is the number of fetch attempts before giving up.
	maxFetchAttempts = 2
	// maxBodySize is the maximum HTTP response body size (5MB).
	maxBodySize = 5 * 1024 * 1024
)

// HTTPPostingFetcher fetches job posting pages and extracts readable text using go-readability.
type HTTPPostingFetcher struct {
	client *http.Client
}

// NewHTTPPostingFetcher creates a new HTTP-based posting fetcher.
func NewHTTPPostingFetcher(timeout time.Duration) *HTTPPostingFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPPostingFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch downloads the posting at url and extracts its main text, retrying once.
func (f *HTTPPostingFetcher) Fetch(ctx context.Context, url string) (*Posting, error) {
	u, err := nurl.Parse(url)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid posting url %q", url)
	}

	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		posting, err := f.doFetch(ctx, u)
		if err == nil {
			return posting, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", maxFetchAttempts, lastErr)
}

func (f *HTTPPostingFetcher) doFetch(ctx context.Context, u *nurl.URL) (*Posting, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; letterlock/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, u)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return nil, fmt.Errorf("readability: %w", err)
	}

	text := normalizeText(article.TextContent)
	if text == "" {
		return nil, fmt.Errorf("no readable text at %s", u)
	}
	return &Posting{
		Title:     strings.TrimSpace(article.Title),
		Text:      text,
		WordCount: len(strings.Fields(text)),
	}, nil
}

var multiSpace = regexp.MustCompile(`[ \t]+`)
var multiNewline = regexp.MustCompile(`\n{3,}`)

func normalizeText(s string) string {
	s = strings.TrimSpace(s)
	s = multiSpace.ReplaceAllString(s, " ")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return s
}
