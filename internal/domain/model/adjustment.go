package model

import "time"

type Adjustment struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Delta        int64     `json:"delta"`
	Actor        string    `json:"actor"`
	Reason       string    `json:"reason"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}
