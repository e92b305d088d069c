package dto

type HealthResponse struct {
	OK bool `json:"ok"`
}
