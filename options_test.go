package lineup_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/lineup"
	"github.com/xraph/lineup/retry"
)

type fakeStore struct {
	closed   bool
	closeErr error
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) Close() error {
	f.closed = true
	return f.closeErr
}

type fakeEmitter struct{ shutdowns int }

func (f *fakeEmitter) EmitShutdown(context.Context) { f.shutdowns++ }

type fakePool struct {
	started, stopped bool
	starts           int
}

func (f *fakePool) Start(context.Context) error {
	f.started = true
	f.starts++
	return nil
}

func (f *fakePool) Stop(context.Context) error {
	f.stopped = true
	return nil
}

func TestNew_Defaults(t *testing.T) {
	d, err := lineup.New()
	if err != nil {
		t.Fatal(err)
	}
	want := lineup.DefaultConfig()
	if got := d.Config(); got != want {
		t.Errorf("Config() = %+v, want %+v", got, want)
	}
	if d.Logger() == nil {
		t.Error("Logger() = nil")
	}
	if d.Store() != nil {
		t.Error("Store() != nil without WithStore")
	}
}

func TestNew_Options(t *testing.T) {
	s := &fakeStore{}
	d, err := lineup.New(
		lineup.WithStore(s),
		lineup.WithConcurrency(4),
		lineup.WithMaxActive(2),
		lineup.WithRateLimit(10, time.Minute),
		lineup.WithPollInterval(time.Second),
		lineup.WithMaxAttempts(5),
		lineup.WithRequeuePosition(retry.Head),
		lineup.WithShutdownTimeout(time.Second),
		lineup.WithAttemptTimeout(5*time.Second),
		lineup.WithCleanup("@hourly", 24*time.Hour),
	)
	if err != nil {
		t.Fatal(err)
	}
	cfg := d.Config()
	if cfg.Concurrency != 4 || cfg.MaxActive != 2 {
		t.Errorf("concurrency = %d max active = %d", cfg.Concurrency, cfg.MaxActive)
	}
	if cfg.RateMax != 10 || cfg.RateWindow != time.Minute {
		t.Errorf("rate = %d/%v", cfg.RateMax, cfg.RateWindow)
	}
	if cfg.DefaultMaxAttempts != 5 || cfg.RequeuePosition != retry.Head {
		t.Errorf("attempts = %d position = %v", cfg.DefaultMaxAttempts, cfg.RequeuePosition)
	}
	if cfg.CleanupSchedule != "@hourly" || cfg.CleanupAge != 24*time.Hour {
		t.Errorf("cleanup = %q %v", cfg.CleanupSchedule, cfg.CleanupAge)
	}
	if cfg.AttemptTimeout != 5*time.Second {
		t.Errorf("attempt timeout = %v", cfg.AttemptTimeout)
	}
	if d.Store() != s {
		t.Error("Store() is not the configured store")
	}
}

func TestNew_WithConfigThenOverride(t *testing.T) {
	cfg := lineup.DefaultConfig()
	cfg.Concurrency = 8
	d, err := lineup.New(lineup.WithConfig(cfg), lineup.WithMaxAttempts(1))
	if err != nil {
		t.Fatal(err)
	}
	if got := d.Config(); got.Concurrency != 8 || got.DefaultMaxAttempts != 1 {
		t.Errorf("Config() = %+v", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		opt  lineup.Option
	}{
		{"zero concurrency", lineup.WithConcurrency(0)},
		{"negative max active", lineup.WithMaxActive(-1)},
		{"negative rate", lineup.WithRateLimit(-1, time.Second)},
		{"rate without window", lineup.WithRateLimit(1, 0)},
		{"zero poll interval", lineup.WithPollInterval(0)},
		{"zero attempts", lineup.WithMaxAttempts(0)},
		{"negative attempt timeout", lineup.WithAttemptTimeout(-time.Second)},
		{"nil logger", lineup.WithLogger(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := lineup.New(tt.opt); !errors.Is(err, lineup.ErrInvalidOption) {
				t.Errorf("err = %v, want ErrInvalidOption", err)
			}
		})
	}
}

func TestConfig_RateLimitDisabled(t *testing.T) {
	if _, err := lineup.New(lineup.WithRateLimit(0, 0)); err != nil {
		t.Errorf("disabled limiter rejected: %v", err)
	}
}

func TestDispatcher_StartWithoutPool(t *testing.T) {
	d, err := lineup.New()
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Start(context.Background()); !errors.Is(err, lineup.ErrNoStore) {
		t.Errorf("Start err = %v, want ErrNoStore", err)
	}
}

func TestDispatcher_Lifecycle(t *testing.T) {
	s := &fakeStore{}
	d, err := lineup.New(lineup.WithStore(s))
	if err != nil {
		t.Fatal(err)
	}
	pool := &fakePool{}
	emitter := &fakeEmitter{}
	d.SetPool(pool)
	d.SetExtensions(emitter)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if pool.starts != 1 {
		t.Errorf("pool started %d times, want 1", pool.starts)
	}
	if !d.Running() {
		t.Error("Running() = false after Start")
	}
	if err := d.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if !pool.stopped || d.Running() {
		t.Errorf("stopped = %v running = %v", pool.stopped, d.Running())
	}
	if emitter.shutdowns != 1 {
		t.Errorf("shutdown emitted %d times, want 1", emitter.shutdowns)
	}
	if !s.closed {
		t.Error("store not closed")
	}
}

func TestDispatcher_StopReportsCloseError(t *testing.T) {
	boom := errors.New("close failed")
	d, err := lineup.New(lineup.WithStore(&fakeStore{closeErr: boom}))
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Stop(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Stop err = %v, want %v", err, boom)
	}
}
