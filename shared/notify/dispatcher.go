package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrQueueFull is returned when the dispatch queue cannot take another notice
var ErrQueueFull = errors.New("notice queue full, notice dropped")

// ErrDispatcherClosed is returned by Dispatch after Close
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher delivers notices in the background through a fixed pool of
// workers. Each delivery gets its own timeout and failures are only logged.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	log      logrus.FieldLogger

	queue   chan WelcomeNotice
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	workers int
}

// DispatcherConfig sizes the worker pool
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Log       logrus.FieldLogger
}

// NewDispatcher starts the workers
func NewDispatcher(notifier Notifier, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}

	d := &Dispatcher{
		notifier: notifier,
		timeout:  cfg.Timeout,
		log:      cfg.Log,
		queue:    make(chan WelcomeNotice, cfg.QueueSize),
		workers:  cfg.Workers,
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	return d
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for notice := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.notifier.SendWelcomeNotice(ctx, notice)
		cancel()

		if err != nil {
			d.log.WithFields(logrus.Fields{
				"worker":      id,
				"recipient":   notice.RecipientEmail,
				"tenant_code": notice.TenantCode,
			}).WithError(err).Warn("Failed to deliver welcome notice")
		}
	}
}

// Dispatch queues a notice without blocking
func (d *Dispatcher) Dispatch(notice WelcomeNotice) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- notice:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting notices and waits for queued ones to be delivered
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}
