package demo

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/maltedev/category-scraper/internal/models"
)

type BrandCount struct {
	Brand string
	Count int
}

// Summary is the post-run analysis printed by the demo.
type Summary struct {
	Total    int
	Brands   []BrandCount
	MinPrice float64
	MaxPrice float64
	AvgPrice float64
	Priced   int
}

// BrandOf looks the brand up in the mock catalog and falls back to the
// first word of the name.
func BrandOf(name string) string {
	for _, p := range Products() {
		if p.Name == name {
			return p.Brand
		}
	}
	if fields := strings.Fields(name); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// ParsePrice reads "$3.99" style prices.
func ParsePrice(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func Summarize(records []models.ProductRecord) Summary {
	s := Summary{Total: len(records)}

	counts := make(map[string]int)
	var order []string
	var sum float64
	for _, r := range records {
		brand := BrandOf(r.Name)
		if counts[brand] == 0 {
			order = append(order, brand)
		}
		counts[brand]++

		price, ok := ParsePrice(r.Price)
		if !ok {
			continue
		}
		if s.Priced == 0 || price < s.MinPrice {
			s.MinPrice = price
		}
		if s.Priced == 0 || price > s.MaxPrice {
			s.MaxPrice = price
		}
		sum += price
		s.Priced++
	}

	for _, b := range order {
		s.Brands = append(s.Brands, BrandCount{Brand: b, Count: counts[b]})
	}
	sort.SliceStable(s.Brands, func(i, j int) bool { return s.Brands[i].Count > s.Brands[j].Count })

	if s.Priced > 0 {
		s.AvgPrice = sum / float64(s.Priced)
	}
	return s
}

func (s Summary) Print(w io.Writer) {
	fmt.Fprintln(w, "Data Analysis:")
	fmt.Fprintln(w, strings.Repeat("-", 20))
	fmt.Fprintf(w, "Unique brands: %d\n", len(s.Brands))

	parts := make([]string, len(s.Brands))
	for i, b := range s.Brands {
		parts[i] = fmt.Sprintf("%s: %d", b.Brand, b.Count)
	}
	fmt.Fprintf(w, "Brand breakdown: %s\n", strings.Join(parts, ", "))

	if s.Priced > 0 {
		fmt.Fprintf(w, "Price range: $%.2f - $%.2f\n", s.MinPrice, s.MaxPrice)
		fmt.Fprintf(w, "Average price: $%.2f\n", s.AvgPrice)
	}
}
