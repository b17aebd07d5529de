package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const postingHTML = `<!DOCTYPE html>
<html><head><title>Backend Engineer at Example</title></head>
<body>
<nav><a href="/">Home</a> <a href="/jobs">Jobs</a></nav>
<article>
<h1>Backend Engineer</h1>
<p>Example Corp is hiring a backend engineer to build and operate the services behind our payments platform. You will design APIs, own data models and keep production healthy.</p>
<p>Requirements: five years of experience writing Go or a similar language, familiarity with SQL databases, and comfort working with third party payment providers such as Stripe.</p>
<p>Nice to have: experience with Redis, message queues and observability tooling. We value clear writing and careful code review.</p>
</article>
<footer>Copyright Example Corp</footer>
</body></html>`

func TestHTTPPostingFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(postingHTML))
	}))
	defer srv.Close()

	f := NewHTTPPostingFetcher(0)
	got, err := f.Fetch(context.Background(), srv.URL+"/jobs/1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(got.Text, "backend engineer") {
		t.Errorf("Text = %q, want posting body", got.Text)
	}
	if got.WordCount == 0 {
		t.Error("WordCount = 0")
	}
}

func TestHTTPPostingFetcher_HTTPError(t *testing.T) {
	shortBackoff(t)
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPPostingFetcher(0)
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
	if attempts != maxFetchAttempts {
		t.Errorf("attempts = %d, want %d", attempts, maxFetchAttempts)
	}
}

func TestHTTPPostingFetcher_RejectsNonHTTP(t *testing.T) {
	f := NewHTTPPostingFetcher(0)
	for _, u := range []string{"file:///etc/passwd", "ftp://example.com/job", "not a url", ""} {
		if _, err := f.Fetch(context.Background(), u); err == nil {
			t.Errorf("Fetch(%q): expected error", u)
		}
	}
}

func TestNormalizeText(t *testing.T) {
	got := normalizeText("  a  \t b\n\n\n\nc  ")
	if got != "a b\n\nc" {
		t.Errorf("normalizeText = %q", got)
	}
}
