package keypool

import (
	"context"
	"log/slog"
	"strings"

	"github.com/atopos31/keyrelay/models"
	"github.com/samber/lo"
)

// Adder registers a key. The rotation engine implements it.
type Adder interface {
	AddKey(ctx context.Context, secret, name string, dailyLimit *int) (models.KeyRecord, error)
}

// SyncFromConfig adds secrets from configuration that the store does not
// know yet. Known secrets keep their state, so a restart does not
// reactivate keys that were disabled at runtime. It returns the number of
// keys created.
func SyncFromConfig(ctx context.Context, store Store, adder Adder, secrets []string) (int, error) {
	secrets = lo.Uniq(lo.FilterMap(secrets, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	}))

	created := 0
	for _, secret := range secrets {
		existing, err := store.FindBySecret(ctx, secret)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}
		key, err := adder.AddKey(ctx, secret, "", nil)
		if err != nil {
			slog.Error("Failed to add configured key", "error", err, "key", models.MaskSecret(secret))
			continue
		}
		slog.Info("Added configured key", "key_id", key.ID, "key", models.MaskSecret(secret))
		created++
	}
	return created, nil
}
