package handler

import (
	"context"
	"net/http"

	"github.com/atopos31/keyrelay/service/retry"
	"github.com/atopos31/keyrelay/service/rotation"
	"github.com/atopos31/keyrelay/service/settings"
	"gorm.io/gorm"
)

// Proxy runs one logical upstream call.
type Proxy interface {
	Do(ctx context.Context, req retry.Request) (*http.Response, error)
}

// SettingsStore reads and writes the rotation settings.
type SettingsStore interface {
	Read(ctx context.Context) settings.Settings
	Write(ctx context.Context, s settings.Settings) (settings.Settings, error)
}

// DefaultMaxBody caps proxied request bodies.
const DefaultMaxBody int64 = 32 << 20

// Handler serves the proxy and admin routes.
type Handler struct {
	engine   *rotation.Engine
	proxy    Proxy
	settings SettingsStore
	db       *gorm.DB
	maxBody  int64
}

// New builds a Handler. Request bodies are capped at DefaultMaxBody.
func New(engine *rotation.Engine, proxy Proxy, s SettingsStore, db *gorm.DB) *Handler {
	return &Handler{engine: engine, proxy: proxy, settings: s, db: db, maxBody: DefaultMaxBody}
}
