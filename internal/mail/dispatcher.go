// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package mail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/oops"
)

// Dispatch defaults.
const (
	DefaultWorkers     = 2
	DefaultQueueSize   = 100
	DefaultSendTimeout = 30 * time.Second
)

// Dispatch result labels.
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Synchronous sends on the caller's goroutine and returns delivery errors.
	Synchronous bool
	Workers     int
	QueueSize   int
	// SendTimeout bounds each asynchronous delivery.
	SendTimeout time.Duration
}

// Dispatcher hands messages to a Sender, either inline or through a bounded
// queue drained by a fixed worker pool.
type Dispatcher struct {
	cfg     DispatcherConfig
	sender  Sender
	logger  *slog.Logger
	results *prometheus.CounterVec

	queue chan Message
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the dispatcher logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithRegisterer registers dispatch metrics with reg.
func WithRegisterer(reg prometheus.Registerer) DispatcherOption {
	return func(d *Dispatcher) {
		d.results = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "authservice_mail_dispatch_total",
			Help: "Total number of outbound emails by result",
		}, []string{"result"})
	}
}

// NewDispatcher creates a dispatcher and, unless synchronous, starts its
// workers. Close must be called to release them.
func NewDispatcher(cfg DispatcherConfig, sender Sender, opts ...DispatcherOption) (*Dispatcher, error) {
	if sender == nil {
		return nil, oops.Code("MAIL_INVALID_DEPS").Errorf("sender is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}

	d := &Dispatcher{
		cfg:    cfg,
		sender: sender,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if !cfg.Synchronous {
		d.queue = make(chan Message, cfg.QueueSize)
		d.wg.Add(cfg.Workers)
		for range cfg.Workers {
			go d.work()
		}
	}
	return d, nil
}

// Submit delivers msg. In synchronous mode the delivery error is returned.
// Otherwise msg is queued and Submit fails only when the queue is full or the
// dispatcher is closed.
func (d *Dispatcher) Submit(ctx context.Context, msg Message) error {
	if d.cfg.Synchronous {
		err := d.sender.Send(ctx, msg)
		d.record(err)
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return oops.Code("MAIL_DISPATCHER_CLOSED").Errorf("mail dispatcher is closed")
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		d.count(ResultDropped)
		return oops.Code("MAIL_QUEUE_FULL").With("queue_size", d.cfg.QueueSize).Errorf("mail queue is full")
	}
}

// Close stops accepting messages, delivers everything already queued, and
// waits for the workers to exit. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.queue != nil {
		close(d.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
		err := d.sender.Send(ctx, msg)
		cancel()
		d.record(err)
		if err != nil {
			d.logger.Error("mail delivery failed",
				"subject", msg.Subject,
				"error", err)
		}
	}
}

func (d *Dispatcher) record(err error) {
	if err != nil {
		d.count(ResultFailed)
		return
	}
	d.count(ResultSent)
}

func (d *Dispatcher) count(result string) {
	if d.results != nil {
		d.results.WithLabelValues(result).Inc()
	}
}
