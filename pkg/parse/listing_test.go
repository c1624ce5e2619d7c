package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sriram-PR/inci-scraper/pkg/models"
)

const testBase = "https://incidecoder.com"

func TestBrandList(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected []models.Link
	}{
		{
			name: "PrimaryMarkup",
			html: `<div>
				<a class="brand__item" href="/brands/acme">Acme</a>
				<a class="brand-card big" href="/brands/beta"><span>Beta</span> Labs</a>
				<a class="brand__item" href="/brands/acme">Acme again</a>
				<a class="simpletextlistitem" href="/brands/ignored">Ignored</a>
			</div>`,
			expected: []models.Link{
				{Name: "Acme", URL: testBase + "/brands/acme"},
				{Name: "Beta Labs", URL: testBase + "/brands/beta"},
			},
		},
		{
			name: "SimpleTextFallback",
			html: `<ul><li><a class="simpletextlistitem" href="/brands/gamma">Gamma</a></li>
				<li><a href="/brands/delta">Delta</a></li></ul>`,
			expected: []models.Link{{Name: "Gamma", URL: testBase + "/brands/gamma"}},
		},
		{
			name: "AnyBrandLinkFallback",
			html: `<a href="/brands/delta">Delta</a>
				<a href="/brands?offset=2">Next</a>
				<a href="/brands/delta?offset=1">Delta page 2</a>
				<a href="/products/x">Product</a>
				<a href="/brands/empty"></a>`,
			expected: []models.Link{{Name: "Delta", URL: testBase + "/brands/delta"}},
		},
		{
			name:     "EmptyPage",
			html:     `<html><body><p>No more brands</p></body></html>`,
			expected: []models.Link{},
		},
	}

	p := New(testBase)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, p.BrandList([]byte(tt.html)))
		})
	}
}

func TestProductList(t *testing.T) {
	p := New(testBase + "/")

	primary := `<a class="productlist__item" href="/products/acme-cream">Acme Cream</a>
		<a class="product-card" href="https://incidecoder.com/products/acme-gel">Acme Gel</a>
		<a href="/products/not-used">Other</a>`
	assert.Equal(t, []models.Link{
		{Name: "Acme Cream", URL: testBase + "/products/acme-cream"},
		{Name: "Acme Gel", URL: testBase + "/products/acme-gel"},
	}, p.ProductList([]byte(primary)))

	fallback := `<div><a href="/products/a">A</a><a href="/products/a">A dup</a><a href="/brands/b">B</a></div>`
	assert.Equal(t, []models.Link{{Name: "A", URL: testBase + "/products/a"}}, p.ProductList([]byte(fallback)))

	assert.Empty(t, p.ProductList([]byte(`<div>nothing here</div>`)))
}
