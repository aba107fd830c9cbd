package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonDB                   = "db"
	ReasonUnknown              = "unknown"
)

// PipelineMetrics exposes Prometheus series for the webhook and reconciliation path.
type PipelineMetrics struct {
	webhookOutcomes   *prometheus.CounterVec
	validateDuration  prometheus.Histogram
	reconcileDuration *prometheus.HistogramVec
	reconcileOutcomes *prometheus.CounterVec
	reconcileFailures *prometheus.CounterVec
	activations       prometheus.Counter
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// Pipeline returns the process-wide pipeline metrics registered on the default registry.
func Pipeline(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = NewPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// NewPipelineMetrics registers the pipeline collectors on registerer.
func NewPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "admitpay"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &PipelineMetrics{
		webhookOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "admitpay_webhook_notifications_total",
			Help:        "Gateway notifications by provider and verification outcome.",
			ConstLabels: constLabels,
		}, []string{"provider", "outcome"}),
		validateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "admitpay_gateway_validate_duration_seconds",
			Help:        "Latency of the gateway echo-back validation call.",
			Buckets:     validateBuckets(cfg.ValidateTimeout),
			ConstLabels: constLabels,
		}),
		reconcileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "admitpay_reconcile_duration_seconds",
			Help:        "Reconciliation transaction latency by outcome.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		reconcileOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "admitpay_reconcile_total",
			Help:        "Reconciliations by outcome (paid, failed, noop, error).",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		reconcileFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "admitpay_reconcile_errors_total",
			Help:        "Reconciliation errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		activations: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "admitpay_subscription_activations_total",
			Help:        "Subscriptions activated by successful reconciliations.",
			ConstLabels: constLabels,
		}),
	}

	m.webhookOutcomes = registerCollector(registerer, m.webhookOutcomes)
	m.validateDuration = registerCollector(registerer, m.validateDuration)
	m.reconcileDuration = registerCollector(registerer, m.reconcileDuration)
	m.reconcileOutcomes = registerCollector(registerer, m.reconcileOutcomes)
	m.reconcileFailures = registerCollector(registerer, m.reconcileFailures)
	m.activations = registerCollector(registerer, m.activations)
	return m
}

var baseValidateBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20}

// validateBuckets keeps the base buckets below the echo-back timeout and closes
// the range at the timeout itself.
func validateBuckets(timeout time.Duration) []float64 {
	if timeout <= 0 {
		return append([]float64(nil), baseValidateBuckets...)
	}
	limit := timeout.Seconds()
	buckets := make([]float64, 0, len(baseValidateBuckets)+1)
	for _, b := range baseValidateBuckets {
		if b < limit {
			buckets = append(buckets, b)
		}
	}
	return append(buckets, limit)
}

func registerCollector[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return collector
}

func (m *PipelineMetrics) IncWebhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(strings.TrimSpace(provider), strings.TrimSpace(outcome)).Inc()
}

func (m *PipelineMetrics) ObserveValidate(duration time.Duration) {
	if m == nil {
		return
	}
	m.validateDuration.Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveReconcile(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	outcome = strings.TrimSpace(outcome)
	m.reconcileOutcomes.WithLabelValues(outcome).Inc()
	m.reconcileDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *PipelineMetrics) IncReconcileError(err error) {
	if m == nil || err == nil {
		return
	}
	m.reconcileFailures.WithLabelValues(ClassifyFailureReason(err)).Inc()
}

func (m *PipelineMetrics) IncActivation() {
	if m == nil {
		return
	}
	m.activations.Inc()
}

// ClassifyFailureReason maps persistence errors to low-cardinality reasons.
func ClassifyFailureReason(err error) string {
	if err == nil {
		return ReasonUnknown
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return ReasonDBLockTimeout
	case hasPGCode(err, "40001"), hasPGCode(err, "40P01"):
		return ReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return ReasonUniqueViolation
	case isDBError(err):
		return ReasonDB
	default:
		return ReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
