package parser

import (
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/category-scraper/internal/config"
	"github.com/maltedev/category-scraper/internal/models"
	"github.com/maltedev/category-scraper/internal/selector"
)

// FieldSpec locates one field inside a container. Queries are tried in
// order; the first one yielding non-empty text (or Attr value) wins.
type FieldSpec struct {
	Field   models.Field
	Queries []selector.Query
	Attr    string
}

type SkipKind string

const (
	SkipPanic           SkipKind = "panic"
	SkipInvalidURL      SkipKind = "invalid_url"
	SkipMissingRequired SkipKind = "missing_required"
)

// SkipReason explains why a container produced no record.
type SkipReason struct {
	Kind   SkipKind
	Field  models.Field
	Detail string
}

func (r *SkipReason) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s (%s): %s", r.Kind, r.Field, r.Detail)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Detail)
}

// ContainerResult is either a Record or, when Skip is set, a reason the
// container was dropped.
type ContainerResult struct {
	Index  int
	Record models.ProductRecord
	Skip   *SkipReason
}

type Options struct {
	NoiseMarker    string
	RequiredFields []models.Field
}

// Extractor turns product containers into ProductRecords.
type Extractor struct {
	specs    map[models.Field]FieldSpec
	noise    string
	required []models.Field
}

func NewExtractor(specs []FieldSpec, opts Options) *Extractor {
	m := make(map[models.Field]FieldSpec, len(specs))
	for _, s := range specs {
		m[s.Field] = s
	}
	return &Extractor{specs: m, noise: opts.NoiseMarker, required: opts.RequiredFields}
}

// NewExtractorFromConfig compiles the configured per-field query lists.
func NewExtractorFromConfig(cfg config.SelectorConfig) (*Extractor, error) {
	lists := []struct {
		field models.Field
		exprs []string
		attr  string
	}{
		{models.FieldName, cfg.Name, ""},
		{models.FieldSize, cfg.Size, ""},
		{models.FieldPrice, cfg.Price, ""},
		{models.FieldURL, cfg.Link, "href"},
	}

	specs := make([]FieldSpec, 0, len(lists))
	for _, l := range lists {
		queries, err := selector.CompileAll(l.exprs)
		if err != nil {
			return nil, fmt.Errorf("%s selectors: %w", l.field, err)
		}
		specs = append(specs, FieldSpec{Field: l.field, Queries: queries, Attr: l.attr})
	}

	required := make([]models.Field, 0, len(cfg.RequiredFields))
	for _, f := range cfg.RequiredFields {
		required = append(required, models.Field(f))
	}

	return NewExtractor(specs, Options{NoiseMarker: cfg.NameNoise, RequiredFields: required}), nil
}

// Extract builds a record from one container. A panic while reading the
// container becomes a skip so the remaining containers are unaffected.
func (e *Extractor) Extract(index int, container *goquery.Selection, base *url.URL) (res ContainerResult) {
	res.Index = index
	defer func() {
		if r := recover(); r != nil {
			res.Record = models.ProductRecord{}
			res.Skip = &SkipReason{Kind: SkipPanic, Detail: fmt.Sprint(r)}
		}
	}()

	for _, f := range models.Fields {
		raw, ok := e.lookup(f, container)
		if !ok {
			res.Record.Set(f, models.NotFound(f))
			continue
		}

		value := e.normalize(f, raw)
		if f == models.FieldURL && value != "" {
			resolved, err := ResolveURL(value, base)
			if err != nil {
				return ContainerResult{Index: index, Skip: &SkipReason{Kind: SkipInvalidURL, Field: f, Detail: err.Error()}}
			}
			value = resolved
		}
		if value == "" {
			value = models.NotFound(f)
		}
		res.Record.Set(f, value)
	}

	for _, f := range e.required {
		if res.Record.Get(f) == models.NotFound(f) {
			return ContainerResult{Index: index, Skip: &SkipReason{Kind: SkipMissingRequired, Field: f, Detail: "required field not found"}}
		}
	}

	return res
}

// ExtractAll extracts containers in document order.
func (e *Extractor) ExtractAll(containers []*goquery.Selection, base *url.URL) []ContainerResult {
	results := make([]ContainerResult, 0, len(containers))
	for i, c := range containers {
		results = append(results, e.Extract(i, c, base))
	}
	return results
}

func (e *Extractor) lookup(f models.Field, container *goquery.Selection) (string, bool) {
	spec, ok := e.specs[f]
	if !ok {
		return "", false
	}

	for _, q := range spec.Queries {
		var found string
		q.Match(container).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			var v string
			if spec.Attr != "" {
				v, _ = s.Attr(spec.Attr)
			} else {
				v = RenderedText(s)
			}
			if CollapseSpace(v) != "" {
				found = v
				return false
			}
			return true
		})
		if found != "" {
			return found, true
		}
	}
	return "", false
}

func (e *Extractor) normalize(f models.Field, raw string) string {
	if f == models.FieldName {
		return NormalizeName(raw, e.noise)
	}
	return CollapseSpace(raw)
}
