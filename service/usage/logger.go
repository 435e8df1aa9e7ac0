package usage

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/atopos31/keyrelay/consts"
	"github.com/atopos31/keyrelay/models"
	"gorm.io/gorm"
)

// Event is one usage or audit record.
type Event struct {
	Type      consts.EventType
	KeyID     uint
	Timestamp time.Time
	RequestID string
	Status    int
	Latency   time.Duration
	ErrorKind string
	Fields    map[string]any
}

// Sink receives events. Emit must not block.
type Sink interface {
	Emit(e Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(Event) {}

const batchSize = 64

// Logger persists events from a background goroutine. Events that do not fit
// in the buffer are dropped.
type Logger struct {
	db *gorm.DB
	ch chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewLogger starts the background writer. A buffer <= 0 means 1024 events.
func NewLogger(db *gorm.DB, buffer int) *Logger {
	if buffer <= 0 {
		buffer = 1024
	}
	l := &Logger{
		db:   db,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// Emit queues e without blocking. It is a no-op after Close.
func (l *Logger) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.ch <- e:
	default:
		slog.Warn("Usage event dropped", "type", e.Type, "key_id", e.KeyID)
	}
}

// Close stops accepting events and waits for the queue to drain.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Logger) run() {
	defer close(l.done)
	batch := make([]models.UsageLog, 0, batchSize)
	for e := range l.ch {
		batch = append(batch, toRow(e))
		// drain whatever is already queued
	fill:
		for len(batch) < batchSize {
			select {
			case next, ok := <-l.ch:
				if !ok {
					break fill
				}
				batch = append(batch, toRow(next))
			default:
				break fill
			}
		}
		l.flush(batch)
		batch = batch[:0]
	}
}

func (l *Logger) flush(batch []models.UsageLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.db.WithContext(ctx).CreateInBatches(batch, batchSize).Error; err != nil {
		slog.Error("Failed to write usage events", "error", err, "count", len(batch))
	}
}

func toRow(e Event) models.UsageLog {
	row := models.UsageLog{
		Type:       e.Type,
		KeyID:      e.KeyID,
		RequestID:  e.RequestID,
		OccurredAt: e.Timestamp,
		Status:     e.Status,
		LatencyMs:  e.Latency.Milliseconds(),
		ErrorKind:  e.ErrorKind,
	}
	if len(e.Fields) > 0 {
		if raw, err := json.Marshal(e.Fields); err == nil {
			row.Detail = string(raw)
		}
	}
	return row
}

// Recent returns the newest persisted events, newest first.
func Recent(ctx context.Context, db *gorm.DB, keyID uint, limit int) ([]models.UsageLog, error) {
	q := gorm.G[models.UsageLog](db).Order("id DESC").Limit(limit)
	if keyID != 0 {
		q = q.Where("key_id = ?", keyID)
	}
	return q.Find(ctx)
}
