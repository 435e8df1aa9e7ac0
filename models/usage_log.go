package models

import (
	"time"

	"gorm.io/gorm"
)

// UsageLog is one persisted usage event.
type UsageLog struct {
	gorm.Model
	Type       string    `gorm:"index;not null"`
	KeyID      uint      `gorm:"index"`
	RequestID  string    `gorm:"index"`
	OccurredAt time.Time `gorm:"index"`
	Status     int
	LatencyMs  int64
	ErrorKind  string
	Detail     string `gorm:"type:text"`
}
