package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/lineup/api"
)

const httpShutdownTimeout = 10 * time.Second

func newServeCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the queue with the HTTP monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, s, cmd)
		},
	}
	cmd.Flags().StringVar(&s.Addr, "addr", s.Addr, "HTTP listen address")
	cmd.Flags().StringVar(&s.CleanupSchedule, "cleanup-schedule", s.CleanupSchedule, "cron schedule evicting finished jobs (empty disables)")
	cmd.Flags().DurationVar(&s.CleanupAge, "cleanup-age", s.CleanupAge, "how long finished jobs are kept")
	return cmd
}

func serve(ctx context.Context, s *settings, cmd *cobra.Command) error {
	a, err := newApp(s, cmd.ErrOrStderr(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.close() //nolint:errcheck // best effort

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr, err)
	}
	return a.serve(ctx, ln, s.Batch)
}

// serve runs the engine and the monitor on ln until ctx ends, then shuts
// both down.
func (a *app) serve(ctx context.Context, ln net.Listener, batch int) error {
	monitor := api.New(a.eng,
		api.WithStreamer(a.eng),
		api.WithLogger(a.logger),
		api.WithSeed(func(ctx context.Context) error { return a.seed(ctx, batch) }),
	)
	srv := &http.Server{
		Handler:           monitor.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	// Streaming handlers only return once their subscriber closes.
	srv.RegisterOnShutdown(a.eng.Broker().Close)

	if err := a.eng.Start(ctx); err != nil {
		_ = ln.Close() //nolint:errcheck // already failing
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("monitor listening",
			slog.String("addr", ln.Addr().String()),
			slog.String("monitor", api.DefaultBasePath),
			slog.String("trigger", "/queue/execute"),
		)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx := context.WithoutCancel(gctx)
		httpCtx, cancel := context.WithTimeout(stopCtx, httpShutdownTimeout)
		defer cancel()

		// HTTP first so no enqueue races the engine shutdown. The engine
		// applies its own shutdown timeout.
		srvErr := srv.Shutdown(httpCtx)
		engErr := a.eng.Stop(stopCtx)
		a.logger.Info("lineup stopped")
		return errors.Join(srvErr, engErr)
	})
	return g.Wait()
}
