package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SQLLogger appends events to the usage_logs table.
type SQLLogger struct {
	db *sql.DB
}

func NewSQLLogger(db *sql.DB) *SQLLogger {
	return &SQLLogger{db: db}
}

func (l *SQLLogger) Log(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	details := []byte(event.Details)
	if len(details) == 0 {
		details = []byte("{}")
	}
	tags := event.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO usage_logs (id, kine_id, action_type, details, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := l.db.ExecContext(ctx, query,
		event.ID,
		event.PractitionerID,
		string(event.Action),
		details,
		pq.Array(tags),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("usage: failed to log event: %w", err)
	}
	return nil
}
