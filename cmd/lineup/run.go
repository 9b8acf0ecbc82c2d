package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xraph/lineup/engine"
	"github.com/xraph/lineup/job"
)

func newRunCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Enqueue the demo batch, process it and print the outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(s, cmd.ErrOrStderr(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close() //nolint:errcheck // best effort
			return runBatch(ctx, a, s.Batch, cmd.OutOrStdout())
		},
	}
}

// runBatch seeds n jobs, waits until none is waiting or active and writes
// a summary to out.
func runBatch(ctx context.Context, a *app, n int, out io.Writer) error {
	if err := a.seed(ctx, n); err != nil {
		return err
	}
	if err := a.eng.Start(ctx); err != nil {
		return err
	}
	waitErr := a.eng.WaitIdle(ctx)

	reportErr := report(context.WithoutCancel(ctx), a.eng, out)
	stopErr := a.eng.Stop(context.WithoutCancel(ctx))
	return errors.Join(waitErr, reportErr, stopErr)
}

func report(ctx context.Context, eng *engine.Engine, out io.Writer) error {
	jobs, err := eng.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		return err
	}
	stats, err := eng.Stats(ctx)
	if err != nil {
		return err
	}
	return writeReport(out, jobs, stats)
}

// writeReport prints a job table followed by the per-state counts.
func writeReport(out io.Writer, jobs []*job.Job, stats job.Stats) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATE\tATTEMPTS\tPROGRESS\tERROR")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d\t%s\n", j.ID, j.State, j.Attempt, j.MaxAttempts, j.Progress, j.LastError)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "waiting=%d active=%d completed=%d failed=%d\n",
		stats.Waiting, stats.Active, stats.Completed, stats.Failed)
	return err
}
