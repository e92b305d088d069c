package dto

type ProductResponse struct {
	Key        string `json:"key"`
	Title      string `json:"title"`
	PriceMinor int64  `json:"price_minor"`
	Currency   string `json:"currency"`
	Credits    int64  `json:"credits"`
}

type ProductListResponse struct {
	Items []ProductResponse `json:"items"`
}
