package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ivankudzin/creditpay/internal/config"
	"github.com/ivankudzin/creditpay/internal/services/catalog"
	"github.com/ivankudzin/creditpay/internal/transport/http/dto"
)

func TestProductHandlerListsCatalogSorted(t *testing.T) {
	h := NewProductHandler(catalog.New(config.Default().Catalog))

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/v1/products", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp dto.ProductListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("expected 3 products, got %d", len(resp.Items))
	}
	first := resp.Items[0]
	if first.Key != "basic" || first.PriceMinor != 49000 || first.Credits != 1000 || first.Currency != "RUB" {
		t.Fatalf("unexpected first product: %+v", first)
	}
}
