package rotation

import (
	"context"
	"fmt"
	"strings"

	"github.com/atopos31/keyrelay/models"
)

// KeyPatch holds optional edits to a key. Nil fields are left alone.
type KeyPatch struct {
	Name *string
	// DailyLimit of 0 removes the cap.
	DailyLimit *int
	IsActive   *bool
}

// ListKeys returns every key. It reads the store without taking the engine
// lock, so it never waits behind a rate-limit delay.
func (e *Engine) ListKeys(ctx context.Context) ([]models.KeyRecord, error) {
	return e.store.List(ctx)
}

// ActiveKeyID returns the id in the active slot, or 0.
func (e *Engine) ActiveKeyID() uint {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return 0
	}
	return e.active.ID
}

// UpdateKey applies patch to key id. Re-enabling a key clears its failure count.
func (e *Engine) UpdateKey(ctx context.Context, id uint, patch KeyPatch) (models.KeyRecord, error) {
	if patch.DailyLimit != nil && *patch.DailyLimit < 0 {
		return models.KeyRecord{}, fmt.Errorf("%w: daily limit must not be negative", ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	k, err := e.store.FindByID(ctx, id)
	if err != nil {
		return models.KeyRecord{}, err
	}
	if patch.Name != nil {
		k.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.DailyLimit != nil {
		k.DailyLimit = dailyCap(*patch.DailyLimit)
		if !k.DailyExhausted() {
			k.DisabledByDailyLimit = false
		}
	}
	if patch.IsActive != nil {
		if *patch.IsActive && !k.IsActive {
			k.FailureCount = 0
		}
		k.IsActive = *patch.IsActive
	}
	if err := e.store.Update(ctx, k); err != nil {
		return models.KeyRecord{}, err
	}
	e.clearActive(id)
	return *k, nil
}

// DeleteKey removes key id and drops it from the active slot.
func (e *Engine) DeleteKey(ctx context.Context, id uint) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.clearActive(id)
	return nil
}
