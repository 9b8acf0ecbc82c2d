package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/lineup/client"
	"github.com/xraph/lineup/job"
	"github.com/xraph/lineup/stream"
)

// remoteFlags are shared by the commands that talk to a running server.
type remoteFlags struct {
	server string
	format string
}

func (r *remoteFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.server, "server", "http://localhost:3000", "lineup server URL")
	cmd.Flags().StringVar(&r.format, "format", "json", "stream encoding (json|msgpack)")
}

func (r *remoteFlags) client(s *settings, errOut io.Writer) (*client.Client, error) {
	logger, err := newLogger(errOut, s.LogFormat, s.LogLevel)
	if err != nil {
		return nil, err
	}
	return client.New(r.server, client.WithFormat(r.format), client.WithLogger(logger)), nil
}

func newStatusCmd(s *settings) *cobra.Command {
	var (
		rf    remoteFlags
		state string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the jobs of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := rf.client(s, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return printStatus(ctx, c, job.State(state), cmd.OutOrStdout())
		},
	}
	rf.bind(cmd)
	cmd.Flags().StringVar(&state, "state", "", "only list jobs in this state")
	return cmd
}

// statusSource is the part of client.Client that printStatus reads.
type statusSource interface {
	ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error)
	Stats(ctx context.Context) (job.Stats, error)
}

func printStatus(ctx context.Context, src statusSource, state job.State, out io.Writer) error {
	jobs, err := src.ListJobs(ctx, job.ListOpts{State: state})
	if err != nil {
		return err
	}
	stats, err := src.Stats(ctx)
	if err != nil {
		return err
	}
	return writeReport(out, jobs, stats)
}

func newWatchCmd(s *settings) *cobra.Command {
	var (
		rf     remoteFlags
		topics []string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream lifecycle events from a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := rf.client(s, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			sub, err := c.Subscribe(ctx, topics...)
			if err != nil {
				return err
			}
			defer sub.Close()
			return printEvents(ctx, sub.Events(), cmd.OutOrStdout())
		},
	}
	rf.bind(cmd)
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "topics to follow (default firehose)")
	return cmd
}

// printEvents writes one line per event until events closes or ctx ends.
func printEvents(ctx context.Context, events <-chan *stream.Event, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintln(out, formatEvent(evt)); err != nil {
				return err
			}
		}
	}
}

func formatEvent(evt *stream.Event) string {
	ts := evt.Timestamp.Local().Format("15:04:05.000")
	d, err := stream.Decode[stream.JobEventData](evt)
	if err != nil || d.JobID == "" {
		return fmt.Sprintf("%s %-14s %s", ts, evt.Type, evt.Data)
	}

	line := fmt.Sprintf("%s %-14s %s", ts, evt.Type, d.JobID)
	if d.Attempt > 0 {
		line += fmt.Sprintf(" attempt=%d", d.Attempt)
		if d.MaxAttempts > 0 {
			line += fmt.Sprintf("/%d", d.MaxAttempts)
		}
	}
	switch evt.Type {
	case stream.EventJobProgress:
		line += fmt.Sprintf(" progress=%d", d.Progress)
	case stream.EventJobLog:
		line += fmt.Sprintf(" %q", d.Line)
	case stream.EventJobRetrying, stream.EventJobFailed:
		line += " error=" + d.Error
	}
	return line
}
