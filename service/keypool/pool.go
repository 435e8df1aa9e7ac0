package keypool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atopos31/keyrelay/models"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// Pool is the gorm-backed Store.
type Pool struct {
	db *gorm.DB
}

// NewPool returns a Store backed by db.
func NewPool(db *gorm.DB) *Pool {
	return &Pool{db: db}
}

// FindActive returns the records matching f, ordered by id.
func (p *Pool) FindActive(ctx context.Context, f Filter) ([]models.KeyRecord, error) {
	tx := p.db.WithContext(ctx).Model(&models.KeyRecord{})
	if f.ActiveOnly {
		tx = tx.Where("is_active = ?", true)
	}
	if f.ExcludeDailyDisabled {
		tx = tx.Where("disabled_by_daily_limit = ?", false)
	}
	var keys []models.KeyRecord
	if err := tx.Order("id ASC").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("find active keys: %w", err)
	}
	// cooldown is compared in Go so the result does not depend on how the driver stores timestamps
	return lo.Filter(keys, func(k models.KeyRecord, _ int) bool {
		return f.Match(k)
	}), nil
}

func (p *Pool) FindByID(ctx context.Context, id uint) (*models.KeyRecord, error) {
	key, err := gorm.G[models.KeyRecord](p.db).Where("id = ?", id).First(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find key %d: %w", id, err)
	}
	return &key, nil
}

// FindBySecret returns nil, nil when the secret is unknown.
func (p *Pool) FindBySecret(ctx context.Context, secret string) (*models.KeyRecord, error) {
	keys, err := gorm.G[models.KeyRecord](p.db).Where("secret = ?", secret).Limit(1).Find(ctx)
	if err != nil {
		return nil, fmt.Errorf("find key by secret: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return &keys[0], nil
}

func (p *Pool) List(ctx context.Context) ([]models.KeyRecord, error) {
	var keys []models.KeyRecord
	if err := p.db.WithContext(ctx).Order("id ASC").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// Create inserts k and assigns its id. A known secret is ErrDuplicate.
func (p *Pool) Create(ctx context.Context, k *models.KeyRecord) error {
	if err := gorm.G[models.KeyRecord](p.db).Create(ctx, k); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique") {
			return ErrDuplicate
		}
		return fmt.Errorf("create key: %w", err)
	}
	return nil
}

func (p *Pool) Update(ctx context.Context, k *models.KeyRecord) error {
	if err := p.db.WithContext(ctx).Save(k).Error; err != nil {
		return fmt.Errorf("update key %d: %w", k.ID, err)
	}
	return nil
}

// BulkUpdate saves every record in one transaction.
func (p *Pool) BulkUpdate(ctx context.Context, keys []models.KeyRecord) error {
	if len(keys) == 0 {
		return nil
	}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range keys {
			if err := tx.Save(&keys[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bulk update %d keys: %w", len(keys), err)
	}
	return nil
}

// Delete hard deletes so the secret can be added again.
func (p *Pool) Delete(ctx context.Context, id uint) error {
	res := p.db.WithContext(ctx).Unscoped().Delete(&models.KeyRecord{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete key %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
