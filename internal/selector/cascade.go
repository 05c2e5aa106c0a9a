package selector

import (
	"github.com/PuerkitoBio/goquery"
)

// Cascade tries its queries in priority order and keeps the first non-empty
// result. Matches from different queries are never combined.
type Cascade struct {
	queries []Query
}

func NewCascade(queries ...Query) *Cascade {
	return &Cascade{queries: queries}
}

// CompileCascade builds a cascade from CSS expressions.
func CompileCascade(exprs []string) (*Cascade, error) {
	queries, err := CompileAll(exprs)
	if err != nil {
		return nil, err
	}
	return NewCascade(queries...), nil
}

func MustCompileCascade(exprs []string) *Cascade {
	c, err := CompileCascade(exprs)
	if err != nil {
		panic(err)
	}
	return c
}

// Select returns the containers of the winning query in document order and
// the query's expression. No match yields (nil, "").
func (c *Cascade) Select(root *goquery.Selection) ([]*goquery.Selection, string) {
	for _, q := range c.queries {
		matched := q.Match(root)
		if matched == nil || matched.Length() == 0 {
			continue
		}

		containers := make([]*goquery.Selection, 0, matched.Length())
		matched.Each(func(_ int, s *goquery.Selection) {
			containers = append(containers, s)
		})
		return containers, q.String()
	}
	return nil, ""
}

// Queries returns the expressions in priority order.
func (c *Cascade) Queries() []string {
	out := make([]string, len(c.queries))
	for i, q := range c.queries {
		out[i] = q.String()
	}
	return out
}

func (c *Cascade) Len() int {
	return len(c.queries)
}
