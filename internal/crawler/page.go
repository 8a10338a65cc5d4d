package crawler

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is one fetched document: the final URL after redirects, the response
// headers and raw Set-Cookie values, and the (possibly truncated) body.
type Page struct {
	URL        *url.URL
	Status     int
	Header     http.Header
	SetCookies []string
	Body       []byte

	doc    *goquery.Document
	docErr error
}

// Doc lazily parses the body as HTML. The document is cached so the
// classifier and the link extractor share one parse.
func (p *Page) Doc() (*goquery.Document, error) {
	if p.doc == nil && p.docErr == nil {
		p.doc, p.docErr = goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	}
	return p.doc, p.docErr
}

// Links resolves every anchor href against the page URL and splits the result
// into same-origin and cross-origin absolute URLs. Malformed hrefs and
// non-http(s) schemes are ignored.
func (p *Page) Links() (sameOrigin, crossOrigin []string) {
	doc, err := p.Doc()
	if err != nil {
		return nil, nil
	}
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		u, err := p.resolve(href)
		if err != nil {
			return
		}
		s := u.String()
		if seen[s] {
			return
		}
		seen[s] = true
		if strings.EqualFold(u.Host, p.URL.Host) {
			sameOrigin = append(sameOrigin, s)
		} else {
			crossOrigin = append(crossOrigin, s)
		}
	})
	return sameOrigin, crossOrigin
}

// resolve turns an attribute value into an absolute http(s) URL with the
// fragment stripped.
func (p *Page) resolve(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errEmptyRef
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	u := p.URL.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errNotWeb
	}
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// Resolve is the exported form used by the classifier for resource URLs.
func (p *Page) Resolve(raw string) (*url.URL, error) { return p.resolve(raw) }

type crawlErr string

func (e crawlErr) Error() string { return string(e) }

const (
	errEmptyRef crawlErr = "empty reference"
	errNotWeb   crawlErr = "not an http(s) url"
)
