// Package rotation owns the active upstream key and every state transition
// of the key pool: selection, daily reset, rate-limit cooldown and
// failure-driven deactivation.
//
// All Engine operations run under one mutex. Checking a key, deciding and
// persisting the result must be atomic with respect to other requests,
// otherwise two callers can both accept the same exhausted key.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/atopos31/keyrelay/balancers"
	"github.com/atopos31/keyrelay/consts"
	"github.com/atopos31/keyrelay/models"
	"github.com/atopos31/keyrelay/service/cooldown"
	"github.com/atopos31/keyrelay/service/keypool"
	"github.com/atopos31/keyrelay/service/settings"
	"github.com/atopos31/keyrelay/service/usage"
	"github.com/samber/lo"
)

var (
	ErrNoAvailableKey  = errors.New("no available key")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrKeyNotFound     = keypool.ErrNotFound
)

// Lease is a key handed out for one upstream attempt. Report its outcome
// with MarkSuccess or MarkError, or hand it back with Release.
type Lease struct {
	KeyID  uint
	Secret string
}

// Valid reports whether the lease refers to a key.
func (l Lease) Valid() bool {
	return l.KeyID != 0
}

// Engine is the single owner of the active key slot.
type Engine struct {
	store    keypool.Store
	settings settings.Source
	sink     usage.Sink
	balancer balancers.Balancer
	cooldown *cooldown.Manager
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)
	loc      *time.Location

	mu       sync.Mutex
	active   *models.KeyRecord
	served   int // requests handed the active key since it was selected
	inFlight map[uint]int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSleep replaces the wait used for the post rate-limit delay.
func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// WithLocation sets the timezone that defines a calendar day. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// WithBalancer replaces the never-used-first LRU selection.
func WithBalancer(b balancers.Balancer) Option {
	return func(e *Engine) { e.balancer = b }
}

// NewEngine builds an engine over store. A nil sink drops events.
func NewEngine(store keypool.Store, src settings.Source, sink usage.Sink, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		settings: src,
		sink:     sink,
		balancer: balancers.UnusedFirstLRU{},
		now:      time.Now,
		sleep:    sleepContext,
		loc:      time.Local,
		inFlight: make(map[uint]int),
	}
	if e.sink == nil {
		e.sink = usage.Discard{}
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cooldown = cooldown.NewManager(func() time.Time { return e.now() })
	return e
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// GetKey returns the key that should serve the next request, rotating when
// the active key is missing, cooling down, out of daily quota or has served
// its share of requests.
func (e *Engine) GetKey(ctx context.Context) (Lease, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.settings.Read(ctx)
	now := e.now()

	var previous uint
	if e.active != nil {
		previous = e.active.ID
		keep, err := e.checkActive(ctx, s, now)
		if err != nil {
			return Lease{}, err
		}
		if keep {
			e.served++
			return e.lease(e.active), nil
		}
	}
	return e.rotate(ctx, now, previous)
}

// checkActive applies the daily reset to the active key and reports whether
// it may serve another request. It clears the slot when it may not.
func (e *Engine) checkActive(ctx context.Context, s settings.Settings, now time.Time) (bool, error) {
	a := e.active
	if a.ResetDaily(models.Day(now, e.loc)) {
		if err := e.persist(ctx, a); err != nil {
			return false, err
		}
		e.emit(consts.EventDailyReset, a.ID, nil)
	}

	switch {
	case !a.IsActive, a.CoolingDown(now):
		e.active = nil
		return false, nil
	case a.DailyExhausted():
		a.DisabledByDailyLimit = true
		if err := e.persist(ctx, a); err != nil {
			return false, err
		}
		slog.Info("Key reached its daily limit", "key_id", a.ID, "daily_used", a.DailyUsed)
		e.active = nil
		return false, nil
	case !e.hasHeadroom(*a):
		// in-flight requests may still use up the quota; nothing to persist yet
		e.active = nil
		return false, nil
	case s.RotationRequestCount > 0 && e.served >= s.RotationRequestCount:
		e.active = nil
		return false, nil
	}
	return true, nil
}

func (e *Engine) rotate(ctx context.Context, now time.Time, previous uint) (Lease, error) {
	records, err := e.store.FindActive(ctx, keypool.Filter{ActiveOnly: true})
	if err != nil {
		return Lease{}, fmt.Errorf("load keys: %w", err)
	}

	today := models.Day(now, e.loc)
	var changed []models.KeyRecord
	var reset []uint
	for i := range records {
		k := &records[i]
		dirty := false
		if k.ResetDaily(today) {
			reset = append(reset, k.ID)
			dirty = true
		}
		if k.DailyExhausted() && !k.DisabledByDailyLimit {
			k.DisabledByDailyLimit = true
			dirty = true
		}
		if dirty {
			changed = append(changed, *k)
		}
	}
	if err := e.store.BulkUpdate(ctx, changed); err != nil {
		return Lease{}, fmt.Errorf("daily reset: %w", err)
	}
	for _, id := range reset {
		e.emit(consts.EventDailyReset, id, nil)
	}

	candidates := lo.Filter(records, func(k models.KeyRecord, _ int) bool {
		return keypool.Candidates(now).Match(k) && e.hasHeadroom(k)
	})
	if len(candidates) == 0 {
		e.active = nil
		slog.Warn("No available key", "active_keys", len(records))
		return Lease{}, ErrNoAvailableKey
	}

	picked, err := e.balancer.Pick(balancers.Excluding(candidates, previous))
	if err != nil {
		return Lease{}, fmt.Errorf("%w: %v", ErrNoAvailableKey, err)
	}
	e.active = &picked
	e.served = 1
	slog.Info("Rotated key", "key_id", picked.ID, "key", models.MaskSecret(picked.Secret), "previous_key_id", previous)
	e.emit(consts.EventRotation, picked.ID, map[string]any{"previousKeyId": previous, "candidates": len(candidates)})
	return e.lease(e.active), nil
}

// hasHeadroom reports whether a limited key can take one more request
// counting the ones still in flight.
func (e *Engine) hasHeadroom(k models.KeyRecord) bool {
	limit, ok := k.Limit()
	return !ok || k.DailyUsed+e.inFlight[k.ID] < limit
}

func (e *Engine) lease(k *models.KeyRecord) Lease {
	e.inFlight[k.ID]++
	return Lease{KeyID: k.ID, Secret: k.Secret}
}

func (e *Engine) release(id uint) {
	if e.inFlight[id] <= 1 {
		delete(e.inFlight, id)
		return
	}
	e.inFlight[id]--
}

// Release hands back a lease whose request never completed. Key state is
// left untouched.
func (e *Engine) Release(lease Lease) {
	if !lease.Valid() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.release(lease.KeyID)
}

// MarkSuccess records a confirmed upstream success for the leased key.
func (e *Engine) MarkSuccess(ctx context.Context, lease Lease) error {
	if !lease.Valid() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.release(lease.KeyID)

	k, err := e.record(ctx, lease.KeyID)
	if errors.Is(err, keypool.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := e.now()
	k.ResetDaily(models.Day(now, e.loc))
	k.LastUsed = &now
	k.LifetimeRequestCount++
	k.DailyUsed++
	k.FailureCount = 0
	if err := e.persist(ctx, k); err != nil {
		return err
	}
	e.emit(consts.EventSuccess, k.ID, map[string]any{
		"dailyUsed":            k.DailyUsed,
		"lifetimeRequestCount": k.LifetimeRequestCount,
	})
	return nil
}

// MarkError records a failed upstream attempt for the leased key and reports
// whether the failure was an upstream rate limit.
//
// On a rate limit the key cools down and the call then blocks for the
// configured rotation delay while still holding the engine lock, so every
// other caller waits instead of piling onto a pool that is running dry.
func (e *Engine) MarkError(ctx context.Context, lease Lease, cause error) bool {
	if !lease.Valid() {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.release(lease.KeyID)

	k, err := e.record(ctx, lease.KeyID)
	if err != nil {
		if !errors.Is(err, keypool.ErrNotFound) {
			slog.Error("Failed to load key", "error", err, "key_id", lease.KeyID)
		}
		return false
	}
	s := e.settings.Read(ctx)

	if cooldown.Classify(cause) == cooldown.CategoryRateLimit {
		until := e.cooldown.Until(cause, s.RateLimitCooldown())
		k.GlobalCooldownUntil = &until
		if err := e.persist(ctx, k); err != nil {
			slog.Error("Failed to persist cooldown", "error", err, "key_id", k.ID)
		}
		slog.Warn("Key rate limited", "key_id", k.ID, "until", until)
		e.emit(consts.EventRateLimit, k.ID, map[string]any{"cooldownUntil": until})
		e.clearActive(k.ID)
		if d := s.KeyRotationDelay(); d > 0 {
			e.sleep(ctx, d)
		}
		return true
	}

	k.FailureCount++
	if k.FailureCount >= s.MaxFailureCount {
		wasActive := k.IsActive
		k.IsActive = false
		if err := e.persist(ctx, k); err != nil {
			slog.Error("Failed to persist deactivation", "error", err, "key_id", k.ID)
		}
		e.clearActive(k.ID)
		if wasActive {
			slog.Warn("Key deactivated", "key_id", k.ID, "failures", k.FailureCount, "error", cause)
			e.emit(consts.EventDeactivation, k.ID, map[string]any{"failureCount": k.FailureCount, "status": cooldown.Status(cause)})
		}
		return false
	}
	if err := e.persist(ctx, k); err != nil {
		slog.Error("Failed to persist failure count", "error", err, "key_id", k.ID)
	}
	return false
}

// AddKey registers secret, or fully restores it when it is already known.
func (e *Engine) AddKey(ctx context.Context, secret, name string, dailyLimit *int) (models.KeyRecord, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return models.KeyRecord{}, fmt.Errorf("%w: secret is required", ErrInvalidArgument)
	}
	if dailyLimit != nil && *dailyLimit < 0 {
		return models.KeyRecord{}, fmt.Errorf("%w: daily limit must not be negative", ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	today := models.Day(e.now(), e.loc)
	existing, err := e.store.FindBySecret(ctx, secret)
	if err != nil {
		return models.KeyRecord{}, err
	}
	if existing != nil {
		existing.Reactivate()
		existing.LastResetDate = today
		if name != "" {
			existing.Name = name
		}
		if dailyLimit != nil {
			existing.DailyLimit = dailyCap(*dailyLimit)
		}
		if err := e.store.Update(ctx, existing); err != nil {
			return models.KeyRecord{}, err
		}
		e.clearActive(existing.ID)
		slog.Info("Key reactivated", "key_id", existing.ID, "key", models.MaskSecret(secret))
		return *existing, nil
	}

	k := models.KeyRecord{
		Secret:        secret,
		Name:          name,
		IsActive:      true,
		DailyLimit:    dailyLimitOrNil(dailyLimit),
		LastResetDate: today,
	}
	if err := e.store.Create(ctx, &k); err != nil {
		return models.KeyRecord{}, err
	}
	slog.Info("Key added", "key_id", k.ID, "key", models.MaskSecret(secret))
	return k, nil
}

// dailyCap stores a daily limit; 0 means unlimited and is kept as nil.
func dailyCap(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

func dailyLimitOrNil(limit *int) *int {
	if limit == nil {
		return nil
	}
	return dailyCap(*limit)
}

// record returns the live record for id: the active slot when it holds id,
// otherwise a fresh copy from the store.
func (e *Engine) record(ctx context.Context, id uint) (*models.KeyRecord, error) {
	if e.active != nil && e.active.ID == id {
		return e.active, nil
	}
	return e.store.FindByID(ctx, id)
}

// persist writes k. On failure the slot is dropped so the next rotation
// reloads the stored state.
func (e *Engine) persist(ctx context.Context, k *models.KeyRecord) error {
	if err := e.store.Update(ctx, k); err != nil {
		e.clearActive(k.ID)
		return fmt.Errorf("persist key %d: %w", k.ID, err)
	}
	return nil
}

func (e *Engine) clearActive(id uint) {
	if e.active != nil && e.active.ID == id {
		e.active = nil
	}
}

func (e *Engine) emit(typ consts.EventType, keyID uint, fields map[string]any) {
	e.sink.Emit(usage.Event{
		Type:      typ,
		KeyID:     keyID,
		Timestamp: e.now(),
		Fields:    fields,
	})
}
