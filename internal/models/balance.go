package models

import "github.com/shopspring/decimal"

// Balance is a user's main balance. Stored as text to keep decimals exact.
type Balance struct {
	UserID int64           `gorm:"primaryKey;autoIncrement:false"`
	Amount decimal.Decimal `gorm:"type:text;not null"`
}
