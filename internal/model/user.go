package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	TimeBalance decimal.Decimal `json:"time_balance"`
	CreatedAt   time.Time       `json:"created_at"`
}
