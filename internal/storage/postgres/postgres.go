// Package postgres stores the event log and the history of world loads.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Options configures the connection.
type Options struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN renders the options as a lib/pq keyword/value connection string.
// Empty values are left out so libpq defaults apply.
func (o Options) DSN() string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+quote(v))
		}
	}
	add("host", o.Host)
	if o.Port != 0 {
		add("port", fmt.Sprint(o.Port))
	}
	add("user", o.User)
	add("password", o.Password)
	add("dbname", o.Database)
	sslmode := o.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	add("sslmode", sslmode)
	return strings.Join(parts, " ")
}

func quote(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// EventRow represents an event stored in Postgres.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	RoomID    string                 `json:"room_id"`
	LoadID    *string                `json:"load_id,omitempty"`
}

// LoadRecord is one attempt to load a world file.
type LoadRecord struct {
	LoadID     string     `json:"load_id"`
	Path       string     `json:"path"`
	Source     string     `json:"source"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	OK         bool       `json:"ok"`
	WorldName  string     `json:"world_name,omitempty"`
	Version    string     `json:"world_version,omitempty"`
	Objects    int        `json:"objects"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Client manages the Postgres connection for one room.
type Client struct {
	db     *sql.DB
	roomID string
}

// New connects, verifies the connection and creates the tables.
func New(ctx context.Context, opts Options, roomID string) (*Client, error) {
	db, err := sql.Open("postgres", opts.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{db: db, roomID: roomID}
	if err := client.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return client, nil
}

func (c *Client) createTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS world_events (
			event_id BIGSERIAL PRIMARY KEY,
			ts       TIMESTAMPTZ NOT NULL,
			level    TEXT NOT NULL,
			event    TEXT NOT NULL,
			msg      TEXT,
			fields   JSONB,
			room_id  TEXT NOT NULL,
			load_id  TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_world_events_ts ON world_events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_world_events_load ON world_events(load_id);

		CREATE TABLE IF NOT EXISTS world_loads (
			load_id       TEXT PRIMARY KEY,
			room_id       TEXT NOT NULL,
			path          TEXT NOT NULL,
			source        TEXT NOT NULL,
			started_at    TIMESTAMPTZ NOT NULL,
			finished_at   TIMESTAMPTZ,
			ok            BOOLEAN NOT NULL DEFAULT FALSE,
			world_name    TEXT,
			world_version TEXT,
			objects       INTEGER NOT NULL DEFAULT 0,
			error_kind    TEXT,
			error         TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_world_loads_room ON world_loads(room_id, started_at DESC);
	`
	_, err := c.db.ExecContext(ctx, query)
	return err
}

// Append inserts an event. It implements events.Store.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, loadID string) error {
	var fieldsJSON []byte
	if fields != nil {
		b, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
		fieldsJSON = b
	}

	query := `
		INSERT INTO world_events (ts, level, event, msg, fields, room_id, load_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := c.db.Exec(query, ts, level, event, nullable(msg), fieldsJSON, c.roomID, nullable(loadID))
	return err
}

// QueryEvents returns the last limit events, newest first.
func (c *Client) QueryEvents(ctx context.Context, limit int) ([]EventRow, error) {
	query := `
		SELECT event_id, ts, level, event, msg, fields, room_id, load_id
		FROM world_events
		WHERE room_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, query, c.roomID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg, loadID sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.RoomID, &loadID); err != nil {
			return nil, err
		}
		if msg.Valid {
			e.Message = &msg.String
		}
		if loadID.Valid {
			e.LoadID = &loadID.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecordLoad inserts or updates a load record, keyed by LoadID.
func (c *Client) RecordLoad(ctx context.Context, r LoadRecord) error {
	query := `
		INSERT INTO world_loads (load_id, room_id, path, source, started_at, finished_at,
			ok, world_name, world_version, objects, error_kind, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (load_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			ok = EXCLUDED.ok,
			world_name = EXCLUDED.world_name,
			world_version = EXCLUDED.world_version,
			objects = EXCLUDED.objects,
			error_kind = EXCLUDED.error_kind,
			error = EXCLUDED.error
	`
	_, err := c.db.ExecContext(ctx, query,
		r.LoadID, c.roomID, r.Path, r.Source, r.StartedAt, r.FinishedAt,
		r.OK, nullable(r.WorldName), nullable(r.Version), r.Objects,
		nullable(r.ErrorKind), nullable(r.Error))
	if err != nil {
		return fmt.Errorf("record load %s: %w", r.LoadID, err)
	}
	return nil
}

// RecentLoads returns the last limit load records, newest first.
func (c *Client) RecentLoads(ctx context.Context, limit int) ([]LoadRecord, error) {
	query := `
		SELECT load_id, path, source, started_at, finished_at, ok,
			world_name, world_version, objects, error_kind, error
		FROM world_loads
		WHERE room_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, query, c.roomID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LoadRecord
	for rows.Next() {
		var r LoadRecord
		var finished sql.NullTime
		var name, version, kind, msg sql.NullString
		if err := rows.Scan(&r.LoadID, &r.Path, &r.Source, &r.StartedAt, &finished, &r.OK,
			&name, &version, &r.Objects, &kind, &msg); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		r.WorldName, r.Version, r.ErrorKind, r.Error = name.String, version.String, kind.String, msg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping reports whether the database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > 10000 {
		return 10000
	}
	return limit
}
