package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/xraph/lineup"
	audithook "github.com/xraph/lineup/audit_hook"
	"github.com/xraph/lineup/engine"
	"github.com/xraph/lineup/kitchen"
	"github.com/xraph/lineup/retry"
	"github.com/xraph/lineup/store/memory"
	redisstore "github.com/xraph/lineup/store/redis"
)

func newRootCmd(s *settings) *cobra.Command {
	root := &cobra.Command{
		Use:          "lineup",
		Short:        "A rate-limited job queue running the burger kitchen demo.",
		SilenceUsage: true,
	}

	f := root.PersistentFlags()
	f.IntVar(&s.Concurrency, "concurrency", s.Concurrency, "number of dispatch loops")
	f.IntVar(&s.RateMax, "rate-max", s.RateMax, "job activations per rate window (0 disables the limit)")
	f.DurationVar(&s.RateWindow, "rate-window", s.RateWindow, "rate limit window")
	f.IntVar(&s.MaxAttempts, "attempts", s.MaxAttempts, "attempts per demo job")
	f.StringVar(&s.Requeue, "requeue", s.Requeue, "where retried jobs re-enter the queue (tail|head)")
	f.DurationVar(&s.StepDelay, "step-delay", s.StepDelay, "pause between kitchen steps")
	f.Float64Var(&s.FailureRate, "failure-rate", s.FailureRate, "probability that the grill burns the toast")
	f.Uint64Var(&s.Seed, "seed", s.Seed, "random seed for failures (0 picks one from the clock)")
	f.IntVar(&s.Batch, "batch", s.Batch, "number of demo jobs to enqueue")
	f.StringVar(&s.LogFormat, "log-format", s.LogFormat, "log format (text|json)")
	f.StringVar(&s.LogLevel, "log-level", s.LogLevel, "log level (debug|info|warn|error)")

	root.AddCommand(newServeCmd(s), newRunCmd(s), newStatusCmd(s), newWatchCmd(s), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the lineup version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "lineup", version)
		},
	}
}

// app is one assembled queue: logger, engine and whatever must be closed
// after the engine stops.
type app struct {
	logger *slog.Logger
	eng    *engine.Engine
	close  func() error
}

func newApp(s *settings, logOut, eventOut io.Writer) (*app, error) {
	logger, err := newLogger(logOut, s.LogFormat, s.LogLevel)
	if err != nil {
		return nil, err
	}
	pos, ok := retry.ParsePosition(s.Requeue)
	if !ok {
		return nil, fmt.Errorf("%w: requeue position %q", lineup.ErrInvalidOption, s.Requeue)
	}

	st, closeStore := openStore(s, logger)

	d, err := lineup.New(
		lineup.WithStore(st),
		lineup.WithLogger(logger),
		lineup.WithConcurrency(s.Concurrency),
		lineup.WithRateLimit(s.RateMax, s.RateWindow),
		lineup.WithMaxAttempts(s.MaxAttempts),
		lineup.WithRequeuePosition(pos),
		lineup.WithCleanup(s.CleanupSchedule, s.CleanupAge),
	)
	if err != nil {
		_ = closeStore() //nolint:errcheck // already failing
		return nil, err
	}

	seed := s.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	eng, err := engine.Build(d,
		engine.WithProcessor(kitchen.Pipeline(
			kitchen.WithStepDelay(s.StepDelay),
			kitchen.WithFault(kitchen.Chance(s.FailureRate, seed)),
		)),
		engine.WithExtension(announcer(eventOut, logger)),
	)
	if err != nil {
		_ = closeStore() //nolint:errcheck // already failing
		return nil, err
	}

	return &app{logger: logger, eng: eng, close: closeStore}, nil
}

// openStore picks Redis when REDIS_HOST is set and memory otherwise. The
// returned func releases the Redis client.
func openStore(s *settings, logger *slog.Logger) (lineup.Storer, func() error) {
	if s.RedisHost == "" {
		logger.Info("using in-memory store")
		return memory.New(), func() error { return nil }
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     net.JoinHostPort(s.RedisHost, s.RedisPort),
		Password: s.RedisPassword,
	})
	logger.Info("using redis store",
		slog.String("addr", client.Options().Addr),
		slog.String("prefix", s.RedisPrefix),
	)
	return redisstore.New(client,
		redisstore.WithLogger(logger),
		redisstore.WithPrefix(s.RedisPrefix),
	), client.Close
}

// seed enqueues the demo batch.
func (a *app) seed(ctx context.Context, n int) error {
	added, err := kitchen.Seed(ctx, a.eng, n)
	if err != nil {
		return err
	}
	a.logger.Info("demo batch enqueued", slog.Int("added", len(added)), slog.Int("requested", n))
	return nil
}

// announcer prints "<id> completed" or "<id> failed" whenever a job
// reaches a terminal state.
func announcer(w io.Writer, logger *slog.Logger) *audithook.Extension {
	rec := audithook.RecorderFunc(func(_ context.Context, evt *audithook.AuditEvent) error {
		verb := "completed"
		if evt.Action == audithook.ActionJobFailed {
			verb = "failed"
		}
		_, err := fmt.Fprintf(w, "%s %s\n", evt.ResourceID, verb)
		return err
	})
	return audithook.New(rec,
		audithook.WithActions(audithook.ActionJobCompleted, audithook.ActionJobFailed),
		audithook.WithLogger(logger),
	)
}
