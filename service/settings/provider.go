package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atopos31/keyrelay/consts"
	"github.com/atopos31/keyrelay/models"
	"gorm.io/gorm"
)

// Provider loads Settings from the config table and caches them for ttl.
type Provider struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	cached   Settings
	loadedAt time.Time
	loaded   bool
}

// NewProvider reads settings from the config table, caching them for ttl.
func NewProvider(db *gorm.DB, ttl time.Duration) *Provider {
	return &Provider{db: db, ttl: ttl, now: time.Now}
}

// Read returns the cached settings, reloading them once the cache expired.
// A failed reload keeps serving the previous value, or the defaults.
func (p *Provider) Read(ctx context.Context) Settings {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded && p.now().Sub(p.loadedAt) < p.ttl {
		return p.cached
	}
	s, err := p.load(ctx)
	if err != nil {
		slog.Error("Failed to load settings", "error", err)
		if !p.loaded {
			return Defaults()
		}
		return p.cached
	}
	p.cached, p.loadedAt, p.loaded = s, p.now(), true
	return s
}

func (p *Provider) load(ctx context.Context) (Settings, error) {
	row, err := gorm.G[models.Config](p.db).Where("key = ?", consts.ConfigKeySettings).First(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	// missing fields keep their defaults
	s := Defaults()
	if err := json.Unmarshal([]byte(row.Value), &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s.Clamp(), nil
}

// Write clamps and stores s, and refreshes the cache.
func (p *Provider) Write(ctx context.Context, s Settings) (Settings, error) {
	s = s.Clamp()
	raw, err := json.Marshal(s)
	if err != nil {
		return Settings{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	row, err := gorm.G[models.Config](p.db).Where("key = ?", consts.ConfigKeySettings).First(ctx)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = models.Config{Key: consts.ConfigKeySettings, Value: string(raw)}
		err = gorm.G[models.Config](p.db).Create(ctx, &row)
	case err == nil:
		_, err = gorm.G[models.Config](p.db).Where("id = ?", row.ID).Update(ctx, "value", string(raw))
	}
	if err != nil {
		return Settings{}, fmt.Errorf("store settings: %w", err)
	}
	p.cached, p.loadedAt, p.loaded = s, p.now(), true
	return s, nil
}
