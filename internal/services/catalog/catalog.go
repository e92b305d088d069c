package catalog

import (
	"errors"
	"sort"
	"strings"

	"github.com/ivankudzin/creditpay/internal/config"
)

var ErrInvalidProduct = errors.New("invalid product")

type Product struct {
	Key        string
	Title      string
	PriceMinor int64
	Currency   string
	Credits    int64
}

// Catalog maps product keys to price and credit amount. Plans and one-time
// packs are treated the same way: one confirmed payment, one credit.
type Catalog struct {
	products map[string]Product
}

func New(cfg config.CatalogConfig) *Catalog {
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "RUB"
	}

	products := make(map[string]Product, len(cfg.Products))
	for _, item := range cfg.Products {
		key := normalizeKey(item.Key)
		if key == "" || item.PriceMinor <= 0 || item.Credits <= 0 {
			continue
		}
		products[key] = Product{
			Key:        key,
			Title:      strings.TrimSpace(item.Title),
			PriceMinor: item.PriceMinor,
			Currency:   currency,
			Credits:    item.Credits,
		}
	}
	return &Catalog{products: products}
}

func (c *Catalog) Lookup(productKey string) (Product, error) {
	if c == nil {
		return Product{}, ErrInvalidProduct
	}
	product, ok := c.products[normalizeKey(productKey)]
	if !ok {
		return Product{}, ErrInvalidProduct
	}
	return product, nil
}

func (c *Catalog) CreditsFor(productKey string) (int64, error) {
	product, err := c.Lookup(productKey)
	if err != nil {
		return 0, err
	}
	return product.Credits, nil
}

func (c *Catalog) List() []Product {
	if c == nil {
		return nil
	}
	out := make([]Product, 0, len(c.products))
	for _, product := range c.products {
		out = append(out, product)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
