package demo

import (
	"fmt"
	"html"
	"strings"

	"github.com/maltedev/category-scraper/internal/models"
)

const (
	Basename    = "demo_giant_food_products"
	SourceLabel = "Demo Giant Food Scraper"
)

// Product is a mock listing with the catalog metadata the page does not show.
type Product struct {
	models.ProductRecord
	Category string `json:"category"`
	Brand    string `json:"brand"`
}

// Products returns the eight sample potato chip listings.
func Products() []Product {
	return []Product{
		{models.ProductRecord{Name: "Lay's Classic Potato Chips", Size: "10.5 oz", Price: "$3.99", URL: "https://giantfood.com/products/lays-classic-potato-chips"}, "Potato Chips", "Lay's"},
		{models.ProductRecord{Name: "Pringles Original", Size: "5.5 oz", Price: "$2.49", URL: "https://giantfood.com/products/pringles-original"}, "Potato Chips", "Pringles"},
		{models.ProductRecord{Name: "Kettle Brand Sea Salt Potato Chips", Size: "8.5 oz", Price: "$4.79", URL: "https://giantfood.com/products/kettle-brand-sea-salt"}, "Potato Chips", "Kettle Brand"},
		{models.ProductRecord{Name: "Ruffles Original", Size: "8.5 oz", Price: "$3.69", URL: "https://giantfood.com/products/ruffles-original"}, "Potato Chips", "Ruffles"},
		{models.ProductRecord{Name: "Cape Cod Original Kettle Cooked Chips", Size: "8 oz", Price: "$4.29", URL: "https://giantfood.com/products/cape-cod-original"}, "Potato Chips", "Cape Cod"},
		{models.ProductRecord{Name: "Utz Original Potato Chips", Size: "9.5 oz", Price: "$3.89", URL: "https://giantfood.com/products/utz-original"}, "Potato Chips", "Utz"},
		{models.ProductRecord{Name: "Wise Original Potato Chips", Size: "9 oz", Price: "$3.59", URL: "https://giantfood.com/products/wise-original"}, "Potato Chips", "Wise"},
		{models.ProductRecord{Name: "Terra Original Vegetable Chips", Size: "6.8 oz", Price: "$5.49", URL: "https://giantfood.com/products/terra-vegetable-chips"}, "Vegetable Chips", "Terra"},
	}
}

func Records(products []Product) []models.ProductRecord {
	out := make([]models.ProductRecord, len(products))
	for i, p := range products {
		out[i] = p.ProductRecord
	}
	return out
}

// RenderPage lays the products out as a category page in the markup the
// default selectors expect, with relative product links.
func RenderPage(products []Product) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><title>Potato Chips | Giant Food</title></head><body>\n")
	b.WriteString(`<div class="pdl-static-category_products">` + "\n")
	for _, p := range products {
		href := strings.TrimPrefix(p.URL, "https://giantfood.com")
		fmt.Fprintf(&b, `<a class="pdl-static-category_product" href="%s">
  <h2 class="pdl-static-category_product_name"><span class="sr-only">Ahold Wedge Icon</span>
    %s</h2>
  <p class="pdl-static-category_product_unit">%s</p>
  <span class="pdl-static-category_product_price">%s</span>
</a>
`, html.EscapeString(href), html.EscapeString(p.Name), html.EscapeString(p.Size), html.EscapeString(p.Price))
	}
	b.WriteString("</div>\n</body></html>\n")
	return b.String()
}
