package handlers

import (
	"net/http"

	"github.com/ivankudzin/creditpay/internal/services/catalog"
	"github.com/ivankudzin/creditpay/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/creditpay/internal/transport/http/errors"
)

type ProductHandler struct {
	catalog *catalog.Catalog
}

func NewProductHandler(c *catalog.Catalog) *ProductHandler {
	return &ProductHandler{catalog: c}
}

func (h *ProductHandler) List(w http.ResponseWriter, _ *http.Request) {
	products := h.catalog.List()
	items := make([]dto.ProductResponse, 0, len(products))
	for _, product := range products {
		items = append(items, dto.ProductResponse{
			Key:        product.Key,
			Title:      product.Title,
			PriceMinor: product.PriceMinor,
			Currency:   product.Currency,
			Credits:    product.Credits,
		})
	}
	httperrors.Write(w, http.StatusOK, dto.ProductListResponse{Items: items})
}
