package keypool

import (
	"context"
	"errors"
	"time"

	"github.com/atopos31/keyrelay/models"
)

var (
	ErrNotFound  = errors.New("key not found")
	ErrDuplicate = errors.New("key secret already exists")
)

// Store persists key records. Update and BulkUpdate write every column;
// BulkUpdate is atomic.
type Store interface {
	FindActive(ctx context.Context, f Filter) ([]models.KeyRecord, error)
	FindByID(ctx context.Context, id uint) (*models.KeyRecord, error)
	// FindBySecret returns nil, nil when no record holds secret.
	FindBySecret(ctx context.Context, secret string) (*models.KeyRecord, error)
	List(ctx context.Context) ([]models.KeyRecord, error)
	Create(ctx context.Context, k *models.KeyRecord) error
	Update(ctx context.Context, k *models.KeyRecord) error
	BulkUpdate(ctx context.Context, keys []models.KeyRecord) error
	Delete(ctx context.Context, id uint) error
}

// Filter narrows FindActive. Zero values disable a condition.
type Filter struct {
	ActiveOnly           bool
	ExcludeDailyDisabled bool
	// AvailableAt drops keys whose cooldown extends past it.
	AvailableAt time.Time
}

// Candidates is the rotation filter at now.
func Candidates(now time.Time) Filter {
	return Filter{ActiveOnly: true, ExcludeDailyDisabled: true, AvailableAt: now}
}

// Match reports whether k passes every enabled condition.
func (f Filter) Match(k models.KeyRecord) bool {
	if f.ActiveOnly && f.ExcludeDailyDisabled && !f.AvailableAt.IsZero() {
		return k.Eligible(f.AvailableAt)
	}
	if f.ActiveOnly && !k.IsActive {
		return false
	}
	if f.ExcludeDailyDisabled && k.DisabledByDailyLimit {
		return false
	}
	if !f.AvailableAt.IsZero() && k.CoolingDown(f.AvailableAt) {
		return false
	}
	return true
}
