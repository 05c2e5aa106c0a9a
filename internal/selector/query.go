package selector

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Query locates elements below (or at) a selection.
type Query interface {
	Match(s *goquery.Selection) *goquery.Selection
	String() string
}

// CSS is a compiled CSS selector group. cascadia.Selector satisfies
// goquery.Matcher, so the expression is parsed once and reused per container.
type CSS struct {
	expr    string
	matcher cascadia.Selector
}

// Compile parses expr once so malformed selectors fail at configuration time
// instead of silently matching nothing during a run.
func Compile(expr string) (*CSS, error) {
	matcher, err := cascadia.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", expr, err)
	}
	return &CSS{expr: expr, matcher: matcher}, nil
}

func MustCompile(expr string) *CSS {
	q, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return q
}

// CompileAll compiles exprs in order.
func CompileAll(exprs []string) ([]Query, error) {
	queries := make([]Query, 0, len(exprs))
	for _, expr := range exprs {
		q, err := Compile(expr)
		if err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}
	return queries, nil
}

// Match returns s itself when it satisfies the selector, otherwise its
// matching descendants. Containers are sometimes the anchor carrying the link.
func (c *CSS) Match(s *goquery.Selection) *goquery.Selection {
	if self := s.FilterMatcher(c.matcher); self.Length() > 0 {
		return self
	}
	return s.FindMatcher(c.matcher)
}

func (c *CSS) String() string {
	return c.expr
}

// Func adapts a plain function to Query.
type Func struct {
	Name string
	Fn   func(s *goquery.Selection) *goquery.Selection
}

func (f Func) Match(s *goquery.Selection) *goquery.Selection {
	return f.Fn(s)
}

func (f Func) String() string {
	return f.Name
}
