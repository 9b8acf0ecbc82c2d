// Package cron runs named maintenance tasks on cron schedules.
//
// Schedules use the standard 5-field syntax or descriptors such as
// "@every 30s" and "@hourly". The [Scheduler] checks due entries on every
// tick, runs their task in the tick goroutine and computes the next run
// from the schedule.
//
// The engine registers its cleanup task here when a cleanup schedule is
// configured:
//
//	s := cron.NewScheduler(logger)
//	_ = s.Add("cleanup", "@hourly", func(ctx context.Context) error {
//	    _, err := eng.Cleanup(ctx, 24*time.Hour)
//	    return err
//	})
package cron
