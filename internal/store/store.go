// Package store persists monitoring metrics, alerts and daily rollups.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credit-pipeline/internal/config"
	"github.com/sells-group/credit-pipeline/internal/model"
)

// AlertFilter specifies criteria for listing alerts.
type AlertFilter struct {
	UnacknowledgedOnly bool            `json:"unacknowledged_only,omitempty"`
	Type               model.AlertType `json:"type,omitempty"`
	Since              time.Time       `json:"since,omitempty"`
	Limit              int             `json:"limit,omitempty"`
}

// DefaultListLimit caps list queries without an explicit limit.
const DefaultListLimit = 100

func (f AlertFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = eris.New("store: not found")

// Store defines the durable side of monitoring.
type Store interface {
	// Metrics
	InsertMetrics(ctx context.Context, recs []model.ProcessingMetricsRecord) error
	ListMetrics(ctx context.Context, since time.Time, limit int) ([]model.ProcessingMetricsRecord, error)

	// Alerts. InsertAlerts ignores alerts whose ID already exists, so a
	// retried batch is harmless.
	InsertAlerts(ctx context.Context, alerts []model.Alert) error
	ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error)
	AcknowledgeAlerts(ctx context.Context, ids []string, by string, at time.Time) (int, error)

	// Rollups. Saving a day twice replaces the earlier rollup.
	SaveRollup(ctx context.Context, r model.Rollup) error
	GetRollup(ctx context.Context, day string) (*model.Rollup, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Drivers.
const (
	DriverPostgres  = "postgres"
	DriverSQLite    = "sqlite"
	DriverFirestore = "firestore"
	DriverNone      = "none"
)

// New opens the store selected by cfg.Store.Driver. The "none" driver (or an
// empty one) returns a nil Store; monitoring then runs memory-only.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case "", DriverNone:
		return nil, nil
	case DriverPostgres:
		return NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case DriverSQLite:
		return NewSQLite(cfg.Store.DatabaseURL)
	case DriverFirestore:
		return NewFirestore(ctx, cfg.Firestore)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Store.Driver)
	}
}
