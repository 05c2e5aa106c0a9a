package models

import (
	"fmt"
	"time"
)

// Field names a ProductRecord column.
type Field string

const (
	FieldName  Field = "name"
	FieldSize  Field = "size"
	FieldPrice Field = "price"
	FieldURL   Field = "url"
)

// Fields is the fixed column order used by every output format.
var Fields = []Field{FieldName, FieldSize, FieldPrice, FieldURL}

// NotFound returns the sentinel stored when no sub-query located the field.
func NotFound(f Field) string {
	return fmt.Sprintf("%s not found", f)
}

// ProductRecord is one product listing as captured from the page. Values are
// normalized text only; price keeps its currency symbol and size its unit.
type ProductRecord struct {
	Name  string `json:"name"`
	Size  string `json:"size"`
	Price string `json:"price"`
	URL   string `json:"url"`
}

func (p ProductRecord) Get(f Field) string {
	switch f {
	case FieldName:
		return p.Name
	case FieldSize:
		return p.Size
	case FieldPrice:
		return p.Price
	case FieldURL:
		return p.URL
	}
	return ""
}

func (p *ProductRecord) Set(f Field, value string) {
	switch f {
	case FieldName:
		p.Name = value
	case FieldSize:
		p.Size = value
	case FieldPrice:
		p.Price = value
	case FieldURL:
		p.URL = value
	}
}

// Row returns the record in Fields order.
func (p ProductRecord) Row() []string {
	return []string{p.Name, p.Size, p.Price, p.URL}
}

// Missing reports which fields hold their sentinel value.
func (p ProductRecord) Missing() []Field {
	var missing []Field
	for _, f := range Fields {
		if p.Get(f) == NotFound(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// ExtractionOutcome aggregates one successful pass over a page.
type ExtractionOutcome struct {
	Records         []ProductRecord `json:"records"`
	ContainerCount  int             `json:"container_count"`
	MatchedSelector string          `json:"matched_selector,omitempty"`
	Skipped         int             `json:"skipped"`
	SourceURL       string          `json:"source_url"`
	RunID           string          `json:"run_id"`
	CompletedAt     time.Time       `json:"completed_at"`
}

// Matched reports whether any container selector produced results.
func (o *ExtractionOutcome) Matched() bool {
	return o.MatchedSelector != ""
}
