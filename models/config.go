package models

import "gorm.io/gorm"

// Config is a key/value row holding a JSON document.
type Config struct {
	gorm.Model
	Key   string `gorm:"uniqueIndex;not null"`
	Value string `gorm:"type:text"`
}
