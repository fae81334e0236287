package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/carlmjohnson/requests"
	"golang.org/x/net/html"
)

// Discover fetches the search-results page and looks for an advertised
// RSS/Atom feed. Pages that are themselves a feed resolve to their own URL.
func (s *RSSSource) Discover(ctx context.Context, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var body string
	err := requests.URL(pageURL).
		Transport(s.transport).
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		if errors.Is(err, requests.ErrValidator) {
			// The server answered but refused the page; nothing to repair.
			return "", fmt.Errorf("%w: %s: %s", ErrInvalid, pageURL, err)
		}
		return "", fmt.Errorf("%w: %s: %s", ErrUnreachable, pageURL, err)
	}

	if _, parseErr := s.parser.ParseString(body); parseErr == nil {
		return pageURL, nil
	}

	doc, err := htmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %s", ErrInvalid, pageURL, err)
	}

	if href := feedLink(doc); href != "" {
		return resolveRef(pageURL, href), nil
	}
	return "", fmt.Errorf("%w: no feed advertised on %s", ErrInvalid, pageURL)
}

func feedLink(doc *html.Node) string {
	nodes := htmlquery.Find(doc, `//link[@rel='alternate']`)
	for _, node := range nodes {
		kind := htmlquery.SelectAttr(node, "type")
		if kind != "application/rss+xml" && kind != "application/atom+xml" {
			continue
		}
		if href := htmlquery.SelectAttr(node, "href"); href != "" {
			return href
		}
	}
	return ""
}

func resolveRef(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
