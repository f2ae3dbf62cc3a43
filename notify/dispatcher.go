package notify

import (
	"context"
	"sync"
	"time"

	"vigil/core"
	"vigil/metrics"
	"vigil/util/goroutine"

	"go.uber.org/zap"
)

// DispatcherConfig configures the alert dispatcher
type DispatcherConfig struct {
	QueueSize   int
	SendTimeout time.Duration
}

// Dispatcher queues new alerts and delivers each one to every sink from a
// single worker goroutine. Publish never blocks: when the queue is full the
// alert is dropped and counted.
type Dispatcher struct {
	sinks  []Sink
	queue  chan AlertMessage
	cfg    DispatcherConfig
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a dispatcher and starts its worker
func NewDispatcher(sinks []Sink, cfg DispatcherConfig, logger *zap.SugaredLogger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	d := &Dispatcher{
		sinks:  sinks,
		queue:  make(chan AlertMessage, cfg.QueueSize),
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues an alert for delivery
func (d *Dispatcher) Publish(alert *core.Alert, event *core.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- NewAlertMessage(alert, event):
	default:
		metrics.SinkQueueDropped.Inc()
		d.logger.Warnw("Alert sink queue full, dropping alert", "alert_id", alert.ID, "queue_size", d.cfg.QueueSize)
	}
}

// Close stops accepting alerts and waits until queued alerts are delivered
// or ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg AlertMessage) {
	for _, sink := range d.sinks {
		d.send(sink, msg)
	}
}

// send delivers to one sink; failures and panics are logged and swallowed
func (d *Dispatcher) send(sink Sink, msg AlertMessage) {
	defer goroutine.Recover("notify-"+sink.Name(), d.logger)

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	if err := sink.Send(ctx, msg); err != nil {
		metrics.SinkDeliveries.WithLabelValues(sink.Name(), "failure").Inc()
		d.logger.Errorw("Failed to deliver alert", "sink", sink.Name(), "alert_id", msg.Alert.ID, "error", err)
		return
	}
	metrics.SinkDeliveries.WithLabelValues(sink.Name(), "success").Inc()
}
