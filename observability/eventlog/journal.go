package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gridmarket/core/events"
)

// Record is one published market event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type       string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

// TableName pins the table name regardless of the naming strategy.
func (Record) TableName() string { return "market_events" }

// Open connects to the journal database. Supported drivers are sqlite and
// postgres.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("eventlog: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", driver, err)
	}
	return db, nil
}

// Journal persists every event it receives. It implements events.Emitter so
// that it can sit behind the engine's fan-out.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// New migrates the schema and returns a journal writing to db.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("eventlog: database required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}
	return &Journal{
		db:     db,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetNowFunc overrides the clock used to stamp records.
func (j *Journal) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	j.now = now
}

// Emit implements events.Emitter. Write failures are logged; they never
// reach the engine.
func (j *Journal) Emit(evt events.Event) {
	if err := j.Append(context.Background(), evt); err != nil {
		j.logger.Error("eventlog: append failed", "type", evt.EventType(), "error", err)
	}
}

// Append stores evt.
func (j *Journal) Append(ctx context.Context, evt events.Event) error {
	flat := events.Flatten(evt)
	if flat == nil {
		return nil
	}
	attrs, err := json.Marshal(flat.Attributes)
	if err != nil {
		return fmt.Errorf("eventlog: encode attributes: %w", err)
	}
	record := Record{
		ID:         uuid.New(),
		Type:       flat.Type,
		Attributes: string(attrs),
		CreatedAt:  j.now(),
	}
	return j.db.WithContext(ctx).Create(&record).Error
}

// Entry is a decoded Record.
type Entry struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Recent returns up to limit events, newest first, optionally filtered by
// type.
func (j *Journal) Recent(ctx context.Context, eventType string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := j.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if eventType = strings.TrimSpace(eventType); eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	var records []Record
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	out := make([]Entry, 0, len(records))
	for _, r := range records {
		entry := Entry{ID: r.ID.String(), Type: r.Type, CreatedAt: r.CreatedAt}
		if err := json.Unmarshal([]byte(r.Attributes), &entry.Attributes); err != nil {
			return nil, fmt.Errorf("eventlog: decode %s: %w", r.ID, err)
		}
		out = append(out, entry)
	}
	return out, nil
}
