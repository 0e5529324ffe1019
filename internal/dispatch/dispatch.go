// Package dispatch fans completed verdicts out to downstream sinks over a
// bounded queue. Delivery is fire-and-forget: a slow or dead sink can never
// stall or fail an orchestration.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/aegis/internal/triage"
)

const deliverTimeout = 15 * time.Second

// Sink receives completed verdicts.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, v *triage.Verdict) error
}

// Metrics holds Prometheus metrics for verdict delivery.
type Metrics struct {
	Deliveries *prometheus.CounterVec
	Dropped    prometheus.Counter
	QueueDepth prometheus.Gauge
}

// NewMetrics registers and returns dispatch metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_dispatch_deliveries_total",
			Help: "Verdict deliveries by sink and outcome.",
		}, []string{"sink", "outcome"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_dispatch_dropped_total",
			Help: "Verdicts dropped because the delivery queue was full.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_dispatch_queue_depth",
			Help: "Verdicts currently waiting for delivery.",
		}),
	}
	reg.MustRegister(m.Deliveries, m.Dropped, m.QueueDepth)
	return m
}

// Dispatcher owns the delivery queue and worker.
type Dispatcher struct {
	sinks   []Sink
	queue   chan *triage.Verdict
	logger  log.Logger
	metrics *Metrics

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// New creates a dispatcher with the given queue depth. metrics may be nil.
func New(sinks []Sink, depth int, logger log.Logger, metrics *Metrics) *Dispatcher {
	if depth <= 0 {
		depth = 256
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan *triage.Verdict, depth),
		logger:  logger,
		metrics: metrics,
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start() {
	go d.work()
}

// Publish enqueues a verdict for delivery. Never blocks: when the queue is
// full the verdict is dropped and counted, which is the documented tradeoff
// for keeping the orchestration path unblockable.
func (d *Dispatcher) Publish(v *triage.Verdict) {
	select {
	case <-d.stopped:
		return
	default:
	}

	select {
	case d.queue <- v:
		if d.metrics != nil {
			d.metrics.QueueDepth.Set(float64(len(d.queue)))
		}
	default:
		if d.metrics != nil {
			d.metrics.Dropped.Inc()
		}
		d.logger.Warn(context.Background(), "delivery queue full, verdict dropped",
			"verdict_id", v.ID, "alert_id", v.AlertID)
	}
}

// Stop drains the queue and waits for the worker to finish. The queue
// channel is never closed so a racing Publish stays safe.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.stopped) })
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer close(d.done)
	for {
		select {
		case v := <-d.queue:
			d.deliverAll(v)
		case <-d.stopped:
			for {
				select {
				case v := <-d.queue:
					d.deliverAll(v)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliverAll(v *triage.Verdict) {
	if d.metrics != nil {
		d.metrics.QueueDepth.Set(float64(len(d.queue)))
	}
	for _, sink := range d.sinks {
		d.deliver(sink, v)
	}
}

func (d *Dispatcher) deliver(sink Sink, v *triage.Verdict) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	err := sink.Deliver(ctx, v)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		d.logger.Error(ctx, err, "verdict delivery failed",
			"sink", sink.Name(), "verdict_id", v.ID, "alert_id", v.AlertID)
	}
	if d.metrics != nil {
		d.metrics.Deliveries.WithLabelValues(sink.Name(), outcome).Inc()
	}
}
