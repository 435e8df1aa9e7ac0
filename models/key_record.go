package models

import (
	"time"

	"github.com/atopos31/keyrelay/consts"
	"gorm.io/gorm"
)

// KeyRecord is one upstream credential and its rotation state.
type KeyRecord struct {
	gorm.Model
	Secret               string     `gorm:"type:text;not null;uniqueIndex"` // upstream API key
	Name                 string
	IsActive             bool       `gorm:"not null;index"`
	LastUsed             *time.Time `gorm:"index"` // nil = never used
	GlobalCooldownUntil  *time.Time `gorm:"index"`
	FailureCount         int        `gorm:"not null"`
	LifetimeRequestCount int64      `gorm:"not null"`
	DailyLimit           *int       // nil or <= 0 = unlimited
	DailyUsed            int        `gorm:"not null"`
	LastResetDate        string     // YYYY-MM-DD in local time, "" = never
	DisabledByDailyLimit bool       `gorm:"not null;index"`
}

// Limit reports the daily cap and whether there is one.
func (k *KeyRecord) Limit() (int, bool) {
	if k.DailyLimit == nil || *k.DailyLimit <= 0 {
		return 0, false
	}
	return *k.DailyLimit, true
}

// DailyExhausted reports whether confirmed usage reached the daily cap.
func (k *KeyRecord) DailyExhausted() bool {
	limit, ok := k.Limit()
	return ok && k.DailyUsed >= limit
}

// CoolingDown reports whether a rate-limit cooldown is still running at now.
func (k *KeyRecord) CoolingDown(now time.Time) bool {
	return k.GlobalCooldownUntil != nil && k.GlobalCooldownUntil.After(now)
}

// Eligible reports whether rotation may select the key at now.
func (k *KeyRecord) Eligible(now time.Time) bool {
	return k.IsActive && !k.DisabledByDailyLimit && !k.CoolingDown(now)
}

// ResetDaily clears the daily counters when today differs from the last
// reset date. It returns true when the record changed.
func (k *KeyRecord) ResetDaily(today string) bool {
	if k.LastResetDate == today {
		return false
	}
	k.DailyUsed = 0
	k.DisabledByDailyLimit = false
	k.LastResetDate = today
	return true
}

// Reactivate restores a disabled or cooling key to a fully eligible state.
func (k *KeyRecord) Reactivate() {
	k.IsActive = true
	k.FailureCount = 0
	k.GlobalCooldownUntil = nil
	k.DailyUsed = 0
	k.DisabledByDailyLimit = false
}

// Day returns the calendar date of t in loc.
func Day(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(consts.DateLayout)
}

// MaskSecret keeps the first and last four characters of a secret.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}
