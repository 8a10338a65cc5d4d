package crawler

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"context"

	"argus/internal/netsafe"
)

const (
	defaultUserAgent = "argus-scanner/1.0 (+privacy scan)"
	maxBodyBytes     = 2 << 20 // 2 MiB, plenty for markup inspection
	maxRedirects     = 10
)

// Fetcher retrieves one page. Implementations must honor ctx cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

// HTTPFetcher fetches over the network with the host safety filter applied
// before the request and again on every redirect hop.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	// hostAllowed gates every host the fetcher is about to contact.
	// Defaults to the netsafe filter; tests point it elsewhere.
	hostAllowed func(host string) bool
}

// ErrDisallowedHost marks fetches dropped by the host safety filter.
type ErrDisallowedHost struct{ Host string }

func (e *ErrDisallowedHost) Error() string { return "disallowed host: " + e.Host }

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	f := &HTTPFetcher{
		userAgent:   defaultUserAgent,
		hostAllowed: func(host string) bool { return !netsafe.Disallowed(host) },
	}
	f.client = &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects")
			}
			if !f.hostAllowed(req.URL.Hostname()) {
				return &ErrDisallowedHost{Host: req.URL.Hostname()}
			}
			return nil
		},
	}
	return f
}

// AllowHosts overrides the host gate. Used by tests that fetch from loopback
// fixtures; production wiring keeps the default.
func (f *HTTPFetcher) AllowHosts(allowed func(host string) bool) { f.hostAllowed = allowed }

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if !f.hostAllowed(u.Hostname()) {
		return nil, &ErrDisallowedHost{Host: u.Hostname()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	// Redirect hops were vetted by CheckRedirect; the final host is vetted
	// here as well in case the client was handed a pre-resolved response.
	final := resp.Request.URL
	if !f.hostAllowed(final.Hostname()) {
		return nil, &ErrDisallowedHost{Host: final.Hostname()}
	}

	page := &Page{
		URL:        final,
		Status:     resp.StatusCode,
		Header:     resp.Header,
		SetCookies: resp.Header.Values("Set-Cookie"),
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" || strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml") {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err == nil {
			page.Body = body
		}
	}
	return page, nil
}
