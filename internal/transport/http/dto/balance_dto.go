package dto

type BalanceResponse struct {
	UserID  int64 `json:"user_id"`
	Credits int64 `json:"credits"`
}

type AdjustBalanceRequest struct {
	UserID int64  `json:"user_id"`
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

type AdjustBalanceResponse struct {
	AdjustmentID int64  `json:"adjustment_id"`
	UserID       int64  `json:"user_id"`
	Delta        int64  `json:"delta"`
	NewBalance   int64  `json:"new_balance"`
	Actor        string `json:"actor"`
}

type WouldGoNegativeResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Current int64  `json:"current"`
	Delta   int64  `json:"delta"`
}
