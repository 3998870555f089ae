package prometheus

import (
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"

	"uplink/internal/upload"
)

// PrometheusObserver exports upload subsystem metrics to Prometheus.
type PrometheusObserver struct {
	operationDuration *promclient.HistogramVec
	operationErrors   *promclient.CounterVec
	uploadBytes       promclient.Counter
	cancellations     promclient.Counter
	sweptOrphans      promclient.Counter
}

// NewPrometheusObserver registers upload/commit/cancel/sweep metrics.
func NewPrometheusObserver(namespace string, reg promclient.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "conversation_uploads"
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}
	observer := &PrometheusObserver{
		operationDuration: promclient.NewHistogramVec(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency for upload subsystem operations.",
			Buckets:   promclient.DefBuckets,
		}, []string{"operation"}),
		operationErrors: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of upload subsystem operation failures.",
		}, []string{"operation"}),
		uploadBytes: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Cumulative payload size successfully uploaded.",
		}),
		cancellations: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Count of user-initiated upload cancellations.",
		}),
		sweptOrphans: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "swept_orphans_total",
			Help:      "Count of orphaned remote files found by cleanup sweeps.",
		}),
	}
	if err := registerHistogramVec(reg, &observer.operationDuration); err != nil {
		return nil, err
	}
	if err := registerCounterVec(reg, &observer.operationErrors); err != nil {
		return nil, err
	}
	if err := registerCounter(reg, &observer.uploadBytes); err != nil {
		return nil, err
	}
	if err := registerCounter(reg, &observer.cancellations); err != nil {
		return nil, err
	}
	if err := registerCounter(reg, &observer.sweptOrphans); err != nil {
		return nil, err
	}
	return observer, nil
}

func registerHistogramVec(reg promclient.Registerer, vec **promclient.HistogramVec) error {
	if err := reg.Register(*vec); err != nil {
		if are, ok := err.(promclient.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*promclient.HistogramVec); ok {
				*vec = existing
				return nil
			}
		}
		return fmt.Errorf("register upload histogram: %w", err)
	}
	return nil
}

func registerCounterVec(reg promclient.Registerer, vec **promclient.CounterVec) error {
	if err := reg.Register(*vec); err != nil {
		if are, ok := err.(promclient.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*promclient.CounterVec); ok {
				*vec = existing
				return nil
			}
		}
		return fmt.Errorf("register upload counter vec: %w", err)
	}
	return nil
}

func registerCounter(reg promclient.Registerer, counter *promclient.Counter) error {
	if err := reg.Register(*counter); err != nil {
		if are, ok := err.(promclient.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(promclient.Counter); ok {
				*counter = existing
				return nil
			}
		}
		return fmt.Errorf("register upload counter: %w", err)
	}
	return nil
}

// RecordUpload tracks upload duration, size, and failures.
func (o *PrometheusObserver) RecordUpload(duration time.Duration, sizeBytes int64, err error) {
	if o == nil {
		return
	}
	o.operationDuration.WithLabelValues("upload").Observe(duration.Seconds())
	if err != nil {
		o.operationErrors.WithLabelValues("upload").Inc()
		return
	}
	o.uploadBytes.Add(float64(sizeBytes))
}

// RecordCommit tracks reconciler commits.
func (o *PrometheusObserver) RecordCommit(err error) {
	if o == nil {
		return
	}
	if err != nil {
		o.operationErrors.WithLabelValues("commit").Inc()
	}
}

// RecordCancel tracks user-initiated cancellations.
func (o *PrometheusObserver) RecordCancel() {
	if o == nil {
		return
	}
	o.cancellations.Inc()
}

// RecordSweep tracks sweep executions and the orphans they found.
func (o *PrometheusObserver) RecordSweep(orphans int) {
	if o == nil {
		return
	}
	o.sweptOrphans.Add(float64(orphans))
}

// RecordOrphanDelete tracks remote deletes of orphaned files.
func (o *PrometheusObserver) RecordOrphanDelete(duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.operationDuration.WithLabelValues("orphan_delete").Observe(duration.Seconds())
	if err != nil {
		o.operationErrors.WithLabelValues("orphan_delete").Inc()
	}
}

var _ upload.Observer = (*PrometheusObserver)(nil)
