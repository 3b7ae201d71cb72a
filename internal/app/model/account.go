package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Account struct {
	Phone     string          `json:"phone"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}
