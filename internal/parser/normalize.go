package parser

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var ErrNoBase = errors.New("no base origin for relative url")

// CollapseSpace joins all whitespace runs, newlines included, into single spaces.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeName cleans a raw product heading. When the heading carries the
// store icon label, the decorative text comes first and the actual name is
// the last non-empty line.
func NormalizeName(raw, noiseMarker string) string {
	if noiseMarker == "" || !strings.Contains(raw, noiseMarker) {
		return CollapseSpace(raw)
	}

	lines := strings.Split(raw, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := CollapseSpace(lines[i])
		// An inline icon label can share the line with the name.
		line = CollapseSpace(strings.ReplaceAll(line, noiseMarker, ""))
		if line != "" {
			return line
		}
	}
	return ""
}

// Origin returns the scheme and host of pageURL.
func Origin(pageURL string) (*url.URL, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url %q: %w", pageURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("page url %q is not absolute", pageURL)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

// ResolveURL makes href absolute against base. Absolute hrefs are returned unchanged.
func ResolveURL(href string, base *url.URL) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", nil
	}

	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid href %q: %w", href, err)
	}
	if u.IsAbs() {
		return href, nil
	}
	if base == nil {
		return "", fmt.Errorf("%w: %q", ErrNoBase, href)
	}
	return base.ResolveReference(u).String(), nil
}

var lineBreaking = map[string]bool{
	"br": true, "div": true, "p": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"svg": true, "section": true, "header": true, "footer": true, "tr": true,
}

// RenderedText approximates the text a browser would show for s, with block
// elements and line breaks starting new lines. goquery's Text concatenates
// text nodes directly, which fuses an icon label onto the heading that follows it.
func RenderedText(s *goquery.Selection) string {
	var b strings.Builder
	for _, n := range s.Nodes {
		writeText(&b, n)
	}
	return b.String()
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return
		}
	}

	brk := n.Type == html.ElementNode && lineBreaking[n.Data]
	if brk {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if brk {
		b.WriteByte('\n')
	}
}
