package model

import "time"

type Balance struct {
	UserID    int64     `json:"user_id"`
	Credits   int64     `json:"credits"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BalanceChange is published after a balance mutation has committed.
type BalanceChange struct {
	UserID    int64     `json:"user_id"`
	Delta     int64     `json:"delta"`
	Balance   int64     `json:"balance"`
	Reason    string    `json:"reason"`
	Reference string    `json:"reference"`
	At        time.Time `json:"at"`
}
