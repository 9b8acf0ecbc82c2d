package lineup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Storer is the part of a store the Dispatcher manages directly. The engine
// asserts the full job.Store when it is built.
type Storer interface {
	Ping(ctx context.Context) error
	Close() error
}

// runner starts and stops the dispatch loops.
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// shutdownNotifier is told once the loops have stopped.
type shutdownNotifier interface {
	EmitShutdown(ctx context.Context)
}

// Dispatcher holds the queue configuration, the logger and the store. The
// engine package attaches the dispatch loops and extensions to it.
type Dispatcher struct {
	config Config
	logger *slog.Logger
	store  Storer

	mu       sync.Mutex
	loops    runner
	notifier shutdownNotifier
	running  bool
}

// New applies opts to the default configuration and validates the result.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{config: DefaultConfig(), logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if err := d.config.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Store returns the configured storage backend, or nil when none was set.
func (d *Dispatcher) Store() Storer { return d.store }

// Config returns a copy of the configuration.
func (d *Dispatcher) Config() Config { return d.config }

// SetPool attaches the dispatch loops. Called by engine.Build.
func (d *Dispatcher) SetPool(p runner) {
	d.mu.Lock()
	d.loops = p
	d.mu.Unlock()
}

// SetExtensions attaches the shutdown notifier. Called by engine.Build.
func (d *Dispatcher) SetExtensions(n shutdownNotifier) {
	d.mu.Lock()
	d.notifier = n
	d.mu.Unlock()
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Start begins draining the queue. Starting a running dispatcher is a
// no-op.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loops == nil {
		return ErrNoStore
	}
	if d.running {
		return nil
	}
	if err := d.loops.Start(ctx); err != nil {
		return fmt.Errorf("start dispatch loops: %w", err)
	}
	d.running = true
	return nil
}

// Stop halts the dispatch loops, notifies extensions and closes the store.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	loops, notifier, wasRunning := d.loops, d.notifier, d.running
	d.running = false
	d.mu.Unlock()

	var errs []error
	if loops != nil && wasRunning {
		if err := loops.Stop(ctx); err != nil {
			d.logger.Error("dispatch loops did not stop cleanly", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if notifier != nil {
		notifier.EmitShutdown(ctx)
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}
