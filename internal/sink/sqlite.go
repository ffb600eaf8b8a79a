package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/hassflux/internal/config"
	"github.com/nugget/hassflux/internal/discovery"
)

// tsLayout is fixed width so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteSink stores readings in a local SQLite database, one row per
// field. It is meant for single-host setups without an InfluxDB
// server. All methods are safe for concurrent use (SQLite serializes
// writes).
type SQLiteSink struct {
	db          *sql.DB
	measurement string
	logger      *slog.Logger
}

// Reading is one stored field value.
type Reading struct {
	DeviceID    string    `json:"device_id"`
	Measurement string    `json:"measurement"`
	Field       string    `json:"field"`
	Value       any       `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewSQLite opens (or creates) the database at path.
func NewSQLite(path, measurement string, logger *slog.Logger) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	// One writer at a time; readers share the same connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteSink{db: db, measurement: measurement, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate telemetry schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		device_id   TEXT NOT NULL,
		measurement TEXT NOT NULL,
		field       TEXT NOT NULL,
		value_num   REAL,
		value_bool  INTEGER,
		value_text  TEXT,
		ts          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_readings_device_ts ON readings(device_id, ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Store inserts one row per field in a single transaction.
func (s *SQLiteSink) Store(ctx context.Context, id string, fields discovery.Fields, ts time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin telemetry insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stamp := ts.UTC().Format(tsLayout)
	for _, name := range fields.Names() {
		var num, flag, text any
		switch v := fields[name].(type) {
		case float64:
			num = v
		case bool:
			flag = v
		case string:
			text = v
		default:
			text = fmt.Sprint(v)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO readings (device_id, measurement, field, value_num, value_bool, value_text, ts)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, s.measurement, name, num, flag, text, stamp,
		); err != nil {
			return fmt.Errorf("insert reading %s/%s: %w", id, name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit telemetry insert: %w", err)
	}

	s.logger.Info("sink stored values",
		"backend", config.SinkSQLite, "id", id, "fields", fields.Names())
	return nil
}

// Latest returns the most recent reading of every field stored for
// deviceID.
func (s *SQLiteSink) Latest(ctx context.Context, deviceID string) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.measurement, r.field, r.value_num, r.value_bool, r.value_text, r.ts
		 FROM readings r
		 WHERE r.device_id = ? AND r.ts = (
			SELECT MAX(ts) FROM readings WHERE device_id = r.device_id AND field = r.field
		 )
		 ORDER BY r.field`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest readings for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var (
			rd    Reading
			num   sql.NullFloat64
			flag  sql.NullBool
			text  sql.NullString
			stamp string
		)
		if err := rows.Scan(&rd.Measurement, &rd.Field, &num, &flag, &text, &stamp); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		rd.DeviceID = deviceID
		switch {
		case num.Valid:
			rd.Value = num.Float64
		case flag.Valid:
			rd.Value = flag.Bool
		case text.Valid:
			rd.Value = text.String
		}
		ts, err := time.Parse(tsLayout, stamp)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp of reading %s/%s: %w", deviceID, rd.Field, err)
		}
		rd.Timestamp = ts
		out = append(out, rd)
	}
	return out, rows.Err()
}

// Ping checks the database handle.
func (s *SQLiteSink) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
