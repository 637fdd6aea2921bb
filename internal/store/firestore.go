package store

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rotisserie/eris"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sells-group/credit-pipeline/internal/config"
	"github.com/sells-group/credit-pipeline/internal/model"
)

// FirestoreStore implements Store on Cloud Firestore. Metrics are keyed by
// a generated document ID, alerts by alert ID, rollups by day.
type FirestoreStore struct {
	client  *firestore.Client
	metrics string
	alerts  string
	rollups string
}

type fsMetric struct {
	ProcessingID     string            `firestore:"processing_id"`
	UserID           string            `firestore:"user_id"`
	FileName         string            `firestore:"file_name"`
	FileSize         int64             `firestore:"file_size"`
	MimeType         string            `firestore:"mime_type"`
	Method           string            `firestore:"method"`
	ProcessingTimeMs int64             `firestore:"processing_time_ms"`
	Confidence       float64           `firestore:"confidence"`
	Success          bool              `firestore:"success"`
	ErrorType        string            `firestore:"error_type"`
	PIIDetected      bool              `firestore:"pii_detected"`
	DataQuality      model.DataQuality `firestore:"data_quality"`
	Timestamp        time.Time         `firestore:"timestamp"`
}

type fsAlert struct {
	ID             string         `firestore:"id"`
	Type           string         `firestore:"type"`
	Severity       string         `firestore:"severity"`
	Message        string         `firestore:"message"`
	Data           map[string]any `firestore:"data"`
	Timestamp      time.Time      `firestore:"timestamp"`
	Acknowledged   bool           `firestore:"acknowledged"`
	AcknowledgedBy string         `firestore:"acknowledged_by"`
	AcknowledgedAt *time.Time     `firestore:"acknowledged_at"`
}

type fsRollup struct {
	ID        string    `firestore:"id"`
	Day       string    `firestore:"day"`
	Payload   []byte    `firestore:"payload"`
	CreatedAt time.Time `firestore:"created_at"`
}

// NewFirestore creates a Firestore client for cfg.ProjectID.
func NewFirestore(ctx context.Context, cfg config.FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, eris.New("firestore: project_id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "firestore: create client")
	}
	return NewFirestoreWithClient(client, cfg), nil
}

// NewFirestoreWithClient wraps an existing client.
func NewFirestoreWithClient(client *firestore.Client, cfg config.FirestoreConfig) *FirestoreStore {
	s := &FirestoreStore{
		client:  client,
		metrics: cfg.MetricsCollection,
		alerts:  cfg.AlertsCollection,
		rollups: cfg.RollupsCollection,
	}
	if s.metrics == "" {
		s.metrics = "processing_metrics"
	}
	if s.alerts == "" {
		s.alerts = "alerts"
	}
	if s.rollups == "" {
		s.rollups = "rollups"
	}
	return s
}

// Migrate is a no-op; collections are created on first write.
func (s *FirestoreStore) Migrate(context.Context) error { return nil }

func (s *FirestoreStore) Ping(ctx context.Context) error {
	_, err := s.client.Collection(s.rollups).Limit(1).Documents(ctx).GetAll()
	return eris.Wrap(err, "firestore: ping")
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// InsertMetrics writes a batch through a BulkWriter.
func (s *FirestoreStore) InsertMetrics(ctx context.Context, recs []model.ProcessingMetricsRecord) error {
	if len(recs) == 0 {
		return nil
	}
	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(recs))
	col := s.client.Collection(s.metrics)
	for _, r := range recs {
		job, err := bw.Create(col.NewDoc(), toFSMetric(r))
		if err != nil {
			bw.End()
			return eris.Wrap(err, "firestore: queue metric")
		}
		jobs = append(jobs, job)
	}
	bw.End()
	return eris.Wrap(jobErrors(jobs), "firestore: insert metrics")
}

func (s *FirestoreStore) ListMetrics(ctx context.Context, since time.Time, limit int) ([]model.ProcessingMetricsRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	iter := s.client.Collection(s.metrics).
		Where("timestamp", ">=", since.UTC()).
		OrderBy("timestamp", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var out []model.ProcessingMetricsRecord
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "firestore: list metrics")
		}
		var m fsMetric
		if err := doc.DataTo(&m); err != nil {
			return nil, eris.Wrapf(err, "firestore: decode metric %s", doc.Ref.ID)
		}
		out = append(out, m.record())
	}
	return out, nil
}

// InsertAlerts creates one document per alert. Existing documents are left
// untouched.
func (s *FirestoreStore) InsertAlerts(ctx context.Context, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(alerts))
	col := s.client.Collection(s.alerts)
	for _, a := range alerts {
		job, err := bw.Create(col.Doc(a.ID), toFSAlert(a))
		if err != nil {
			bw.End()
			return eris.Wrap(err, "firestore: queue alert")
		}
		jobs = append(jobs, job)
	}
	bw.End()
	return eris.Wrap(jobErrors(jobs), "firestore: insert alerts")
}

func (s *FirestoreStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error) {
	q := s.client.Collection(s.alerts).Query
	if filter.UnacknowledgedOnly {
		q = q.Where("acknowledged", "==", false)
	}
	if filter.Type != "" {
		q = q.Where("type", "==", string(filter.Type))
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp", ">=", filter.Since.UTC())
	}
	docs, err := q.OrderBy("timestamp", firestore.Desc).Limit(filter.limit()).Documents(ctx).GetAll()
	if err != nil {
		return nil, eris.Wrap(err, "firestore: list alerts")
	}

	out := make([]model.Alert, 0, len(docs))
	for _, doc := range docs {
		var a fsAlert
		if err := doc.DataTo(&a); err != nil {
			return nil, eris.Wrapf(err, "firestore: decode alert %s", doc.Ref.ID)
		}
		out = append(out, a.alert())
	}
	return out, nil
}

// AcknowledgeAlerts updates each unacknowledged alert in its own
// transaction.
func (s *FirestoreStore) AcknowledgeAlerts(ctx context.Context, ids []string, by string, at time.Time) (int, error) {
	updated := 0
	for _, id := range ids {
		ref := s.client.Collection(s.alerts).Doc(id)
		changed := false
		err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			changed = false
			snap, err := tx.Get(ref)
			if status.Code(err) == codes.NotFound {
				return nil
			}
			if err != nil {
				return err
			}
			if acked, _ := snap.DataAt("acknowledged"); acked == true {
				return nil
			}
			changed = true
			return tx.Update(ref, []firestore.Update{
				{Path: "acknowledged", Value: true},
				{Path: "acknowledged_by", Value: by},
				{Path: "acknowledged_at", Value: at.UTC()},
			})
		})
		if err != nil {
			return updated, eris.Wrapf(err, "firestore: acknowledge alert %s", id)
		}
		if changed {
			updated++
		}
	}
	return updated, nil
}

func (s *FirestoreStore) SaveRollup(ctx context.Context, r model.Rollup) error {
	_, err := s.client.Collection(s.rollups).Doc(r.Day).Set(ctx, fsRollup{
		ID:        r.ID,
		Day:       r.Day,
		Payload:   r.Payload,
		CreatedAt: r.CreatedAt.UTC(),
	})
	return eris.Wrapf(err, "firestore: save rollup %s", r.Day)
}

func (s *FirestoreStore) GetRollup(ctx context.Context, day string) (*model.Rollup, error) {
	snap, err := s.client.Collection(s.rollups).Doc(day).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, eris.Wrapf(ErrNotFound, "firestore: rollup %s", day)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "firestore: get rollup %s", day)
	}
	var r fsRollup
	if err := snap.DataTo(&r); err != nil {
		return nil, eris.Wrapf(err, "firestore: decode rollup %s", day)
	}
	return &model.Rollup{ID: r.ID, Day: r.Day, Payload: r.Payload, CreatedAt: r.CreatedAt}, nil
}

// jobErrors waits for every job and joins their failures. AlreadyExists is
// not a failure: it means a retried batch was already written.
func jobErrors(jobs []*firestore.BulkWriterJob) error {
	var errs []error
	for _, j := range jobs {
		if _, err := j.Results(); err != nil && status.Code(err) != codes.AlreadyExists {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func toFSMetric(r model.ProcessingMetricsRecord) fsMetric {
	return fsMetric{
		ProcessingID:     r.ProcessingID,
		UserID:           r.UserID,
		FileName:         r.File.FileName,
		FileSize:         r.File.FileSize,
		MimeType:         r.File.MimeType,
		Method:           string(r.Method),
		ProcessingTimeMs: r.ProcessingTimeMs,
		Confidence:       r.Confidence,
		Success:          r.Success,
		ErrorType:        string(r.ErrorType),
		PIIDetected:      r.PIIDetected,
		DataQuality:      r.DataQuality,
		Timestamp:        r.Timestamp.UTC(),
	}
}

func (m fsMetric) record() model.ProcessingMetricsRecord {
	return model.ProcessingMetricsRecord{
		ProcessingID:     m.ProcessingID,
		UserID:           m.UserID,
		File:             model.FileMeta{FileName: m.FileName, FileSize: m.FileSize, MimeType: m.MimeType},
		Method:           model.Method(m.Method),
		ProcessingTimeMs: m.ProcessingTimeMs,
		Confidence:       m.Confidence,
		Success:          m.Success,
		ErrorType:        model.ErrorType(m.ErrorType),
		PIIDetected:      m.PIIDetected,
		DataQuality:      m.DataQuality,
		Timestamp:        m.Timestamp,
	}
}

func toFSAlert(a model.Alert) fsAlert {
	return fsAlert{
		ID:             a.ID,
		Type:           string(a.Type),
		Severity:       string(a.Severity),
		Message:        a.Message,
		Data:           a.Data,
		Timestamp:      a.Timestamp.UTC(),
		Acknowledged:   a.Acknowledged,
		AcknowledgedBy: a.AcknowledgedBy,
		AcknowledgedAt: a.AcknowledgedAt,
	}
}

func (a fsAlert) alert() model.Alert {
	return model.Alert{
		ID:             a.ID,
		Type:           model.AlertType(a.Type),
		Severity:       model.Severity(a.Severity),
		Message:        a.Message,
		Data:           a.Data,
		Timestamp:      a.Timestamp,
		Acknowledged:   a.Acknowledged,
		AcknowledgedBy: a.AcknowledgedBy,
		AcknowledgedAt: a.AcknowledgedAt,
	}
}
