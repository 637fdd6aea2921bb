package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/credit-pipeline/internal/db"
	"github.com/sells-group/credit-pipeline/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var metricColumns = []string{
	"processing_id", "user_id", "file_name", "file_size", "mime_type", "method",
	"processing_time_ms", "confidence", "success", "error_type", "pii_detected",
	"data_quality", "recorded_at",
}

var alertColumns = []string{
	"id", "type", "severity", "message", "data", "created_at",
	"acknowledged", "acknowledged_by", "acknowledged_at",
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate applies the embedded migrations under an advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return eris.Wrap(db.Migrate(ctx, s.pool, migrationFS, "migrations"), "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// InsertMetrics writes a batch with COPY.
func (s *PostgresStore) InsertMetrics(ctx context.Context, recs []model.ProcessingMetricsRecord) error {
	rows := make([][]any, 0, len(recs))
	for _, r := range recs {
		quality, err := json.Marshal(r.DataQuality)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal data quality")
		}
		rows = append(rows, []any{
			r.ProcessingID, r.UserID, r.File.FileName, r.File.FileSize, r.File.MimeType,
			string(r.Method), r.ProcessingTimeMs, r.Confidence, r.Success,
			string(r.ErrorType), r.PIIDetected, quality, r.Timestamp.UTC(),
		})
	}
	if _, err := db.CopyFrom(ctx, s.pool, "processing_metrics", metricColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: insert metrics")
	}
	return nil
}

func (s *PostgresStore) ListMetrics(ctx context.Context, since time.Time, limit int) ([]model.ProcessingMetricsRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+strings.Join(metricColumns, ", ")+` FROM processing_metrics
		WHERE recorded_at >= $1 ORDER BY recorded_at DESC LIMIT $2`,
		since.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list metrics")
	}
	defer rows.Close()

	var out []model.ProcessingMetricsRecord
	for rows.Next() {
		var r model.ProcessingMetricsRecord
		var method, errType string
		var quality []byte
		if err := rows.Scan(
			&r.ProcessingID, &r.UserID, &r.File.FileName, &r.File.FileSize, &r.File.MimeType,
			&method, &r.ProcessingTimeMs, &r.Confidence, &r.Success,
			&errType, &r.PIIDetected, &quality, &r.Timestamp,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan metric")
		}
		r.Method = model.Method(method)
		r.ErrorType = model.ErrorType(errType)
		if len(quality) > 0 {
			if err := json.Unmarshal(quality, &r.DataQuality); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal data quality")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list metrics iterate")
}

// InsertAlerts upserts a batch, skipping alerts already stored.
func (s *PostgresStore) InsertAlerts(ctx context.Context, alerts []model.Alert) error {
	rows := make([][]any, 0, len(alerts))
	for _, a := range alerts {
		data, err := json.Marshal(a.Data)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal alert data")
		}
		rows = append(rows, []any{
			a.ID, string(a.Type), string(a.Severity), a.Message, data, a.Timestamp.UTC(),
			a.Acknowledged, a.AcknowledgedBy, a.AcknowledgedAt,
		})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "alerts",
		Columns:      alertColumns,
		ConflictKeys: []string{"id"},
		IgnoreDups:   true,
	}, rows)
	return eris.Wrap(err, "postgres: insert alerts")
}

func (s *PostgresStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error) {
	query := `SELECT ` + strings.Join(alertColumns, ", ") + ` FROM alerts WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.UnacknowledgedOnly {
		query += ` AND NOT acknowledged`
	}
	if filter.Type != "" {
		query += ` AND type = ` + arg(string(filter.Type))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ` + arg(filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ` + arg(filter.limit())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alerts")
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var typ, sev string
		var data []byte
		if err := rows.Scan(
			&a.ID, &typ, &sev, &a.Message, &data, &a.Timestamp,
			&a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		a.Type = model.AlertType(typ)
		a.Severity = model.Severity(sev)
		if err := unmarshalData(data, &a.Data); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal alert data")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list alerts iterate")
}

// AcknowledgeAlerts sets the acknowledgment fields of unacknowledged alerts
// and returns how many changed.
func (s *PostgresStore) AcknowledgeAlerts(ctx context.Context, ids []string, by string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET acknowledged = true, acknowledged_by = $1, acknowledged_at = $2
		WHERE id = ANY($3) AND NOT acknowledged`,
		by, at.UTC(), ids,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: acknowledge alerts")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) SaveRollup(ctx context.Context, r model.Rollup) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rollups (day, id, payload, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (day) DO UPDATE SET id = EXCLUDED.id, payload = EXCLUDED.payload, created_at = EXCLUDED.created_at`,
		r.Day, r.ID, r.Payload, r.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save rollup %s", r.Day)
}

func (s *PostgresStore) GetRollup(ctx context.Context, day string) (*model.Rollup, error) {
	var r model.Rollup
	err := s.pool.QueryRow(ctx,
		`SELECT day, id, payload, created_at FROM rollups WHERE day = $1`, day,
	).Scan(&r.Day, &r.ID, &r.Payload, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: rollup %s", day)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get rollup %s", day)
	}
	return &r, nil
}

func unmarshalData(raw []byte, dst *map[string]any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
