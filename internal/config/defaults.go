package config

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36"

// DefaultNameNoiseMarker is the store icon label rendered inside some name headings.
const DefaultNameNoiseMarker = "Ahold Wedge Icon"

// Most recently validated shapes come first.
func DefaultContainerSelectors() []string {
	return []string{
		"a.pdl-static-category_product",
		"div.product-cell",
		"li.product-grid-item",
		"[data-testid='product-tile']",
	}
}

func DefaultNameSelectors() []string {
	return []string{
		"h2.pdl-static-category_product_name",
		".product-cell_name",
		"[data-testid='product-title']",
		"h2",
		"h3",
	}
}

func DefaultSizeSelectors() []string {
	return []string{
		"p.pdl-static-category_product_unit",
		".product-cell_size",
		"[data-testid='product-size']",
	}
}

func DefaultPriceSelectors() []string {
	return []string{
		".pdl-static-category_product_price",
		".product-cell_price",
		"[data-testid='product-price']",
		"span.price",
	}
}

// Link queries match the container itself when the container is the anchor.
func DefaultLinkSelectors() []string {
	return []string{
		"a.pdl-static-category_product",
		"a.product-cell_link",
		"a[href]",
	}
}
