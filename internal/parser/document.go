package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// ErrParse marks a fetched body that cannot be treated as markup. Retrying a
// parse of unchanged bytes cannot succeed, so callers fail the run.
var ErrParse = errors.New("failed to parse HTML")

// Parse builds a traversable document from a UTF-8 body, such as markup
// captured from a rendered page.
func Parse(body []byte) (*goquery.Document, error) {
	return ParseWithContentType(body, "")
}

// ParseWithContentType builds a document from a fetched body, decoding it to
// UTF-8 using the charset named by contentType, a BOM, or a meta tag. An empty
// contentType means the body is already UTF-8.
func ParseWithContentType(body []byte, contentType string) (*goquery.Document, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrParse)
	}
	if !bytes.ContainsRune(trimmed, '<') {
		return nil, fmt.Errorf("%w: body contains no markup", ErrParse)
	}

	var r io.Reader = bytes.NewReader(body)
	if contentType != "" {
		decoded, err := charset.NewReader(r, contentType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		r = decoded
	}

	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	return goquery.NewDocumentFromNode(root), nil
}

// PageStats summarizes a page for manual selector re-derivation.
type PageStats struct {
	Title         string         `json:"title"`
	Bytes         int            `json:"bytes"`
	TotalElements int            `json:"total_elements"`
	Links         int            `json:"links"`
	Images        int            `json:"images"`
	Scripts       int            `json:"scripts"`
	TopTags       map[string]int `json:"top_tags"`
	TopClasses    []ClassCount   `json:"top_classes"`
}

type ClassCount struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

const topClassLimit = 20

// Stats counts elements in doc. The most frequent classes are usually the
// repeating product containers the selectors are looking for.
func Stats(doc *goquery.Document, body []byte) PageStats {
	stats := PageStats{
		Title:   strings.TrimSpace(doc.Find("title").First().Text()),
		Bytes:   len(body),
		TopTags: make(map[string]int),
	}

	classes := make(map[string]int)
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		stats.TotalElements++
		tag := goquery.NodeName(s)
		stats.TopTags[tag]++

		switch tag {
		case "a":
			stats.Links++
		case "img":
			stats.Images++
		case "script":
			stats.Scripts++
		}

		if class, ok := s.Attr("class"); ok {
			for _, c := range strings.Fields(class) {
				classes[c]++
			}
		}
	})

	for class, count := range classes {
		stats.TopClasses = append(stats.TopClasses, ClassCount{Class: class, Count: count})
	}
	sort.Slice(stats.TopClasses, func(i, j int) bool {
		if stats.TopClasses[i].Count != stats.TopClasses[j].Count {
			return stats.TopClasses[i].Count > stats.TopClasses[j].Count
		}
		return stats.TopClasses[i].Class < stats.TopClasses[j].Class
	})
	if len(stats.TopClasses) > topClassLimit {
		stats.TopClasses = stats.TopClasses[:topClassLimit]
	}

	return stats
}
