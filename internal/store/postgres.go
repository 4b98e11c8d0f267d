package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"schedulr/internal/model"
	"schedulr/migrations"
)

// db is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx. Integration tests
// pass a transaction that is rolled back afterwards.
type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres is an EventStore backed by the calendar_events table.
type Postgres struct {
	db db
}

// NewPostgres constructs a Postgres store on the given connection.
func NewPostgres(db db) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects a pool to dsn, applies pending migrations and returns
// the store with a func closing the pool.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("store.OpenPostgres: pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("store.OpenPostgres: ping: %w", err)
	}

	// The database/sql handle shares the pool and only lives for goose.
	sqlDB := stdlib.OpenDBFromPool(pool)
	err = Migrate(ctx, sqlDB)
	if cerr := sqlDB.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("store.OpenPostgres: close migration handle: %w", cerr)
	}
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return NewPostgres(pool), pool.Close, nil
}

// Migrate applies all pending schema migrations.
func Migrate(ctx context.Context, sqlDB *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations.FS)
	if err != nil {
		return fmt.Errorf("store.Migrate: provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("store.Migrate: up: %w", err)
	}
	return nil
}

// ReplaceSource deletes the source's rows and inserts events in one
// transaction, so readers never see a half-written source.
func (p *Postgres) ReplaceSource(ctx context.Context, sourceID string, events []model.RawEvent) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store.Postgres.ReplaceSource: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after Commit

	if _, err := tx.Exec(ctx, `DELETE FROM calendar_events WHERE source_id = @source_id`,
		pgx.NamedArgs{"source_id": sourceID}); err != nil {
		return fmt.Errorf("store.Postgres.ReplaceSource: delete: %w", err)
	}

	const q = `
		INSERT INTO calendar_events
			(id, source_id, owner_id, group_id, title, start_at, end_at,
			 is_all_day, location, calendar_name, event_type, updated_at)
		VALUES
			(@id, @source_id, @owner_id, NULLIF(@group_id, ''), @title, @start_at, @end_at,
			 @is_all_day, NULLIF(@location, ''), NULLIF(@calendar_name, ''), @event_type, now())
		ON CONFLICT (source_id, id) DO UPDATE SET
			owner_id      = EXCLUDED.owner_id,
			group_id      = EXCLUDED.group_id,
			title         = EXCLUDED.title,
			start_at      = EXCLUDED.start_at,
			end_at        = EXCLUDED.end_at,
			is_all_day    = EXCLUDED.is_all_day,
			location      = EXCLUDED.location,
			calendar_name = EXCLUDED.calendar_name,
			event_type    = EXCLUDED.event_type,
			updated_at    = now()`

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(q, pgx.NamedArgs{
			"id":            ev.ID,
			"source_id":     sourceID,
			"owner_id":      ev.OwnerID,
			"group_id":      ev.GroupID,
			"title":         ev.Title,
			"start_at":      ev.StartAt,
			"end_at":        ev.EndAt,
			"is_all_day":    ev.IsAllDay,
			"location":      ev.Location,
			"calendar_name": ev.CalendarName,
			"event_type":    string(ev.EventType),
		})
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("store.Postgres.ReplaceSource: insert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store.Postgres.ReplaceSource: commit: %w", err)
	}
	return nil
}

// ListForGroup returns the group's events overlapping the query window.
func (p *Postgres) ListForGroup(ctx context.Context, q GroupQuery) ([]model.RawEvent, error) {
	const sqlQuery = `
		SELECT id, owner_id, COALESCE(group_id, ''), title, start_at, end_at,
		       is_all_day, COALESCE(location, ''), COALESCE(calendar_name, ''), event_type
		FROM calendar_events
		WHERE (group_id = @group_id OR owner_id = ANY(@member_ids))
		  AND (@from::timestamptz IS NULL OR end_at >= @from)
		  AND (@to::timestamptz IS NULL OR start_at <= @to)
		ORDER BY start_at, id, source_id`

	members := q.MemberIDs
	if members == nil {
		members = []string{}
	}
	args := pgx.NamedArgs{
		"group_id":   q.GroupID,
		"member_ids": members,
		"from":       nullableTime(q.From),
		"to":         nullableTime(q.To),
	}

	rows, err := p.db.Query(ctx, sqlQuery, args)
	if err != nil {
		return nil, fmt.Errorf("store.Postgres.ListForGroup: %w", err)
	}
	defer rows.Close()

	out := make([]model.RawEvent, 0)
	for rows.Next() {
		var (
			ev        model.RawEvent
			eventType string
		)
		if err := rows.Scan(&ev.ID, &ev.OwnerID, &ev.GroupID, &ev.Title, &ev.StartAt, &ev.EndAt,
			&ev.IsAllDay, &ev.Location, &ev.CalendarName, &eventType); err != nil {
			return nil, fmt.Errorf("store.Postgres.ListForGroup: scan: %w", err)
		}
		ev.EventType = model.ParseEventType(eventType)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store.Postgres.ListForGroup: rows: %w", err)
	}
	return out, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
