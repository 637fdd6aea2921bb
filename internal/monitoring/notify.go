package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/resilience"
)

// Notifier delivers an alert to an external channel.
type Notifier interface {
	Notify(ctx context.Context, alert model.Alert) error
	Name() string
}

// WebhookNotifier posts alerts as JSON to a URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

// Notify posts a single alert to the webhook URL.
func (w *WebhookNotifier) Notify(ctx context.Context, alert model.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}

// Publisher is the subset of *nats.Conn used for delivery.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes alerts to a subject, one JSON message per alert.
type NATSNotifier struct {
	pub     Publisher
	subject string
}

// NewNATSNotifier wraps an existing publisher.
func NewNATSNotifier(pub Publisher, subject string) *NATSNotifier {
	if subject == "" {
		subject = "credit.alerts"
	}
	return &NATSNotifier{pub: pub, subject: subject}
}

// DialNATS connects to url and returns a notifier plus the connection to
// close at shutdown.
func DialNATS(url, subject string) (*NATSNotifier, *nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("credit-pipeline"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "monitoring: connect nats %s", url)
	}
	return NewNATSNotifier(nc, subject), nc, nil
}

func (n *NATSNotifier) Name() string { return "nats" }

// Notify publishes the alert. Publish is asynchronous in the client; a
// returned error means the connection is closed or the buffer is full.
func (n *NATSNotifier) Notify(_ context.Context, alert model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	subject := n.subject + "." + string(alert.Type)
	if err := n.pub.Publish(subject, data); err != nil {
		return resilience.Transient(eris.Wrapf(err, "monitoring: publish %s", subject))
	}
	return nil
}

// MultiNotifier fans an alert out to several notifiers. Every notifier is
// attempted; their errors are joined.
type MultiNotifier []Notifier

func (m MultiNotifier) Name() string { return "multi" }

func (m MultiNotifier) Notify(ctx context.Context, alert model.Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, eris.Wrapf(err, "monitoring: notifier %s", n.Name()))
		}
	}
	return errors.Join(errs...)
}

// Dispatcher delivers alerts asynchronously. Deliveries are paced by a
// token bucket; alerts over the rate, or arriving while the backlog is
// full, are dropped from delivery and logged. Stored alerts are unaffected.
type Dispatcher struct {
	notifier Notifier
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
	pending  chan model.Alert
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher allowing perMinute deliveries per
// minute with a burst of the same size.
func NewDispatcher(n Notifier, perMinute int) *Dispatcher {
	if perMinute <= 0 {
		perMinute = 30
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("monitoring.dispatcher", n.Name())
	return &Dispatcher{
		notifier: n,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		retry:    retry,
		pending:  make(chan model.Alert, 256),
		timeout:  15 * time.Second,
	}
}

// Submit queues alert for delivery without blocking.
func (d *Dispatcher) Submit(alert model.Alert) {
	select {
	case d.pending <- alert:
	default:
		zap.L().Warn("monitoring: delivery backlog full, alert not delivered",
			zap.String("alert_id", alert.ID),
			zap.String("type", string(alert.Type)),
		)
	}
}

// Run delivers queued alerts until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case alert := <-d.pending:
			d.deliver(ctx, alert)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, alert model.Alert) {
	log := zap.L().With(
		zap.String("component", "monitoring.dispatcher"),
		zap.String("alert_id", alert.ID),
		zap.String("type", string(alert.Type)),
	)
	if !d.limiter.Allow() {
		log.Warn("monitoring: delivery rate exceeded, alert not delivered")
		return
	}
	dctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	err := resilience.Do(dctx, d.retry, func(ctx context.Context) error {
		return d.notifier.Notify(ctx, alert)
	})
	if err != nil {
		log.Error("monitoring: failed to send alert", zap.Error(err))
		return
	}
	log.Info("monitoring: alert sent", zap.String("severity", string(alert.Severity)))
}
