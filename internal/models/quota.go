package models

// QuotaState is a user's daily session counter.
type QuotaState struct {
	UserID     int64  `gorm:"primaryKey;autoIncrement:false"`
	DailyCount int    `gorm:"not null"`
	LastDate   string `gorm:"size:10;not null"`
}
