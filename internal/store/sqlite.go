package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/credit-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Times are stored
// as Unix milliseconds so range filters compare numerically.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS processing_metrics (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	processing_id      TEXT NOT NULL,
	user_id            TEXT NOT NULL DEFAULT '',
	file_name          TEXT NOT NULL DEFAULT '',
	file_size          INTEGER NOT NULL DEFAULT 0,
	mime_type          TEXT NOT NULL DEFAULT '',
	method             TEXT NOT NULL DEFAULT '',
	processing_time_ms INTEGER NOT NULL,
	confidence         REAL NOT NULL,
	success            INTEGER NOT NULL,
	error_type         TEXT NOT NULL DEFAULT '',
	pii_detected       INTEGER NOT NULL DEFAULT 0,
	data_quality       TEXT NOT NULL DEFAULT '{}',
	recorded_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processing_metrics_recorded_at ON processing_metrics(recorded_at);

CREATE TABLE IF NOT EXISTS alerts (
	id              TEXT PRIMARY KEY,
	type            TEXT NOT NULL,
	severity        TEXT NOT NULL,
	message         TEXT NOT NULL,
	data            TEXT,
	created_at      INTEGER NOT NULL,
	acknowledged    INTEGER NOT NULL DEFAULT 0,
	acknowledged_by TEXT NOT NULL DEFAULT '',
	acknowledged_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);

CREATE TABLE IF NOT EXISTS rollups (
	day        TEXT PRIMARY KEY,
	id         TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertMetrics writes a batch in one transaction.
func (s *SQLiteStore) InsertMetrics(ctx context.Context, recs []model.ProcessingMetricsRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return s.inTx(ctx, "insert metrics", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO processing_metrics
			(`+strings.Join(metricColumns, ", ")+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close() //nolint:errcheck

		for _, r := range recs {
			quality, err := json.Marshal(r.DataQuality)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx,
				r.ProcessingID, r.UserID, r.File.FileName, r.File.FileSize, r.File.MimeType,
				string(r.Method), r.ProcessingTimeMs, r.Confidence, r.Success,
				string(r.ErrorType), r.PIIDetected, string(quality), r.Timestamp.UnixMilli(),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListMetrics(ctx context.Context, since time.Time, limit int) ([]model.ProcessingMetricsRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strings.Join(metricColumns, ", ")+` FROM processing_metrics
		WHERE recorded_at >= ? ORDER BY recorded_at DESC, id DESC LIMIT ?`,
		since.UnixMilli(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list metrics")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ProcessingMetricsRecord
	for rows.Next() {
		var r model.ProcessingMetricsRecord
		var method, errType, quality string
		var recorded int64
		if err := rows.Scan(
			&r.ProcessingID, &r.UserID, &r.File.FileName, &r.File.FileSize, &r.File.MimeType,
			&method, &r.ProcessingTimeMs, &r.Confidence, &r.Success,
			&errType, &r.PIIDetected, &quality, &recorded,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan metric")
		}
		r.Method = model.Method(method)
		r.ErrorType = model.ErrorType(errType)
		r.Timestamp = time.UnixMilli(recorded).UTC()
		if err := json.Unmarshal([]byte(quality), &r.DataQuality); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal data quality")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list metrics iterate")
}

// InsertAlerts writes a batch, skipping alerts already stored.
func (s *SQLiteStore) InsertAlerts(ctx context.Context, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	return s.inTx(ctx, "insert alerts", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO alerts
			(`+strings.Join(alertColumns, ", ")+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close() //nolint:errcheck

		for _, a := range alerts {
			data, err := json.Marshal(a.Data)
			if err != nil {
				return err
			}
			var ackAt *int64
			if a.AcknowledgedAt != nil {
				ms := a.AcknowledgedAt.UnixMilli()
				ackAt = &ms
			}
			if _, err := stmt.ExecContext(ctx,
				a.ID, string(a.Type), string(a.Severity), a.Message, string(data),
				a.Timestamp.UnixMilli(), a.Acknowledged, a.AcknowledgedBy, ackAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error) {
	query := `SELECT ` + strings.Join(alertColumns, ", ") + ` FROM alerts WHERE 1=1`
	var args []any

	if filter.UnacknowledgedOnly {
		query += ` AND acknowledged = 0`
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UnixMilli())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list alerts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var typ, sev string
		var data sql.NullString
		var created int64
		var ackAt sql.NullInt64
		if err := rows.Scan(
			&a.ID, &typ, &sev, &a.Message, &data, &created,
			&a.Acknowledged, &a.AcknowledgedBy, &ackAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alert")
		}
		a.Type = model.AlertType(typ)
		a.Severity = model.Severity(sev)
		a.Timestamp = time.UnixMilli(created).UTC()
		if ackAt.Valid {
			t := time.UnixMilli(ackAt.Int64).UTC()
			a.AcknowledgedAt = &t
		}
		if err := unmarshalData([]byte(data.String), &a.Data); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal alert data")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list alerts iterate")
}

func (s *SQLiteStore) AcknowledgeAlerts(ctx context.Context, ids []string, by string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{by, at.UnixMilli()}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ?
		WHERE acknowledged = 0 AND id IN (?`+strings.Repeat(", ?", len(ids)-1)+`)`,
		args...,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: acknowledge alerts")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: acknowledge alerts rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) SaveRollup(ctx context.Context, r model.Rollup) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rollups (day, id, payload, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET id = excluded.id, payload = excluded.payload, created_at = excluded.created_at`,
		r.Day, r.ID, string(r.Payload), r.CreatedAt.UnixMilli(),
	)
	return eris.Wrapf(err, "sqlite: save rollup %s", r.Day)
}

func (s *SQLiteStore) GetRollup(ctx context.Context, day string) (*model.Rollup, error) {
	var r model.Rollup
	var payload string
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT day, id, payload, created_at FROM rollups WHERE day = ?`, day,
	).Scan(&r.Day, &r.ID, &payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: rollup %s", day)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get rollup %s", day)
	}
	r.Payload = []byte(payload)
	r.CreatedAt = time.UnixMilli(created).UTC()
	return &r, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s: begin", op)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return eris.Wrapf(err, "sqlite: %s", op)
	}
	return eris.Wrapf(tx.Commit(), "sqlite: %s: commit", op)
}
