package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/lineup"
	"github.com/xraph/lineup/job"
	"github.com/xraph/lineup/retry"
)

// EnqueueJob stores the job as a Hash and appends it to the waiting list.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	if j.State != job.StateWaiting {
		return fmt.Errorf("%w: enqueue job %s in state %s", lineup.ErrInvalidState, j.ID, j.State)
	}
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("lineup/redis: enqueue seq: %w", err)
	}

	key := s.jobKey(j.ID)
	return s.watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("lineup/redis: enqueue check exists: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", lineup.ErrDuplicateJob, j.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, jobToMap(j))
			pipe.ZAdd(ctx, s.idsKey(), goredis.Z{Score: float64(seq), Member: j.ID})
			pipe.RPush(ctx, s.waitKey(), j.ID)
			return s.pushLogs(ctx, pipe, j.ID, j.Logs)
		})
		if err != nil {
			return fmt.Errorf("lineup/redis: enqueue job: %w", err)
		}
		return nil
	}, key)
}

// HasEligible reports whether a waiting job is eligible at now.
func (s *Store) HasEligible(ctx context.Context, now time.Time) (bool, error) {
	i, _, err := s.firstEligible(ctx, s.client, now)
	if err != nil {
		return false, err
	}
	return i >= 0, nil
}

// DequeueJob pops and activates the first waiting job eligible at now.
func (s *Store) DequeueJob(ctx context.Context, now time.Time) (*job.Job, error) {
	var out *job.Job
	err := s.watch(ctx, func(tx *goredis.Tx) error {
		out = nil
		i, jobID, err := s.firstEligible(ctx, tx, now)
		if err != nil || i < 0 {
			return err
		}
		if err := tx.Watch(ctx, s.jobKey(jobID)).Err(); err != nil {
			return fmt.Errorf("lineup/redis: watch job %s: %w", jobID, err)
		}
		j, err := s.loadJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		logged := len(j.Logs)
		if err := j.Activate(now); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.LRem(ctx, s.waitKey(), 1, jobID)
			pipe.HSet(ctx, s.jobKey(jobID), jobToMap(j))
			return s.pushLogs(ctx, pipe, jobID, j.Logs[logged:])
		})
		if err != nil {
			return fmt.Errorf("lineup/redis: dequeue job: %w", err)
		}
		out = j
		return nil
	}, s.waitKey())
	return out, err
}

// firstEligible scans the waiting list in order and returns the index and id
// of the first job eligible at now, or -1.
func (s *Store) firstEligible(ctx context.Context, c goredis.Cmdable, now time.Time) (int, string, error) {
	ids, err := c.LRange(ctx, s.waitKey(), 0, -1).Result()
	if err != nil {
		return -1, "", fmt.Errorf("lineup/redis: list waiting: %w", err)
	}
	for i, jobID := range ids {
		vals, err := c.HMGet(ctx, s.jobKey(jobID), "state", "run_at").Result()
		if err != nil {
			return -1, "", fmt.Errorf("lineup/redis: read job %s: %w", jobID, err)
		}
		state, _ := vals[0].(string)
		runAtRaw, _ := vals[1].(string)
		if job.State(state) != job.StateWaiting {
			continue
		}
		if runAt := parseTime(runAtRaw); runAt.After(now) {
			continue
		}
		return i, jobID, nil
	}
	return -1, "", nil
}

// RequeueJob sends the given attempt back to the waiting list at pos.
func (s *Store) RequeueJob(ctx context.Context, jobID string, attempt int, cause string, runAt time.Time, pos retry.Position) (*job.Job, error) {
	return s.mutate(ctx, jobID,
		func(j *job.Job, now time.Time) error { return j.Requeue(attempt, cause, runAt, now) },
		func(pipe goredis.Pipeliner) {
			if pos == retry.Head {
				pipe.LPush(ctx, s.waitKey(), jobID)
			} else {
				pipe.RPush(ctx, s.waitKey(), jobID)
			}
		})
}

// CompleteJob resolves the given attempt as completed.
func (s *Store) CompleteJob(ctx context.Context, jobID string, attempt int) (*job.Job, error) {
	return s.mutate(ctx, jobID,
		func(j *job.Job, now time.Time) error { return j.Complete(attempt, now) }, nil)
}

// FailJob resolves the given attempt as failed.
func (s *Store) FailJob(ctx context.Context, jobID string, attempt int, cause string) (*job.Job, error) {
	return s.mutate(ctx, jobID,
		func(j *job.Job, now time.Time) error { return j.Fail(attempt, cause, now) }, nil)
}

// UpdateProgress records progress for the given attempt.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, attempt, pct int) (bool, error) {
	var changed bool
	_, err := s.mutate(ctx, jobID, func(j *job.Job, now time.Time) error {
		var err error
		changed, err = j.SetProgress(attempt, pct, now)
		return err
	}, nil)
	return changed, err
}

// AppendLog records a log line for the given attempt.
func (s *Store) AppendLog(ctx context.Context, jobID string, attempt int, line string) error {
	_, err := s.mutate(ctx, jobID,
		func(j *job.Job, now time.Time) error { return j.AppendLog(attempt, line, now) }, nil)
	return err
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	return s.readJob(ctx, jobID)
}

// ListJobs returns the jobs matching opts in enqueue order.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.ZRange(ctx, s.idsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lineup/redis: list jobs zrange: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	skipped := 0
	for _, jobID := range ids {
		j, getErr := s.readJob(ctx, jobID)
		if errors.Is(getErr, lineup.ErrJobNotFound) {
			continue // removed since the zrange
		}
		if getErr != nil {
			return nil, getErr
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		jobs = append(jobs, j)
		if opts.Limit > 0 && len(jobs) >= opts.Limit {
			break
		}
	}
	return jobs, nil
}

// CountJobs returns per-state counts.
func (s *Store) CountJobs(ctx context.Context) (job.Stats, error) {
	var stats job.Stats
	ids, err := s.client.ZRange(ctx, s.idsKey(), 0, -1).Result()
	if err != nil {
		return stats, fmt.Errorf("lineup/redis: count zrange: %w", err)
	}
	for _, jobID := range ids {
		state, getErr := s.client.HGet(ctx, s.jobKey(jobID), "state").Result()
		if getErr != nil {
			continue
		}
		stats.Add(job.State(state))
	}
	return stats, nil
}

// DeleteJob removes a job and its logs.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	key := s.jobKey(jobID)
	return s.watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("lineup/redis: delete job exists: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", lineup.ErrJobNotFound, jobID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key, s.logsKey(jobID))
			pipe.ZRem(ctx, s.idsKey(), jobID)
			pipe.LRem(ctx, s.waitKey(), 0, jobID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("lineup/redis: delete job: %w", err)
		}
		return nil
	}, key)
}

// DeleteFinishedBefore removes terminal jobs that finished before cutoff.
func (s *Store) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ids, err := s.client.ZRange(ctx, s.idsKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("lineup/redis: cleanup zrange: %w", err)
	}

	var removed int64
	for _, jobID := range ids {
		vals, err := s.client.HMGet(ctx, s.jobKey(jobID), "state", "finished_at").Result()
		if err != nil {
			return removed, fmt.Errorf("lineup/redis: cleanup read %s: %w", jobID, err)
		}
		state, _ := vals[0].(string)
		finishedRaw, _ := vals[1].(string)
		finished := parseTime(finishedRaw)
		if !job.State(state).Terminal() || finished.IsZero() || !finished.Before(cutoff) {
			continue
		}
		if err := s.DeleteJob(ctx, jobID); err != nil {
			if errors.Is(err, lineup.ErrJobNotFound) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// ── helpers ──

// watch runs fn in a WATCH transaction on keys, retrying when a watched key
// changes underneath it.
func (s *Store) watch(ctx context.Context, fn func(tx *goredis.Tx) error, keys ...string) error {
	for range s.maxTxRetries {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("lineup/redis: too much contention on %v: %w", keys, goredis.TxFailedErr)
}

// mutate loads a job inside a transaction, applies fn and writes the job
// back together with any new log entries.
func (s *Store) mutate(ctx context.Context, jobID string, fn func(j *job.Job, now time.Time) error, extra func(pipe goredis.Pipeliner)) (*job.Job, error) {
	key := s.jobKey(jobID)
	var out *job.Job
	err := s.watch(ctx, func(tx *goredis.Tx) error {
		j, err := s.loadJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		logged := len(j.Logs)
		if err := fn(j, s.now()); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, jobToMap(j))
			if extra != nil {
				extra(pipe)
			}
			return s.pushLogs(ctx, pipe, jobID, j.Logs[logged:])
		})
		if err != nil {
			return fmt.Errorf("lineup/redis: update job %s: %w", jobID, err)
		}
		out = j
		return nil
	}, key)
	return out, err
}

// loadJob reads a job inside a WATCH transaction. The two reads are not
// atomic on their own; the watch on the job key aborts the transaction if
// either changes before EXEC.
func (s *Store) loadJob(ctx context.Context, tx *goredis.Tx, jobID string) (*job.Job, error) {
	vals, err := tx.HGetAll(ctx, s.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("lineup/redis: get job: %w", err)
	}
	raw, err := tx.LRange(ctx, s.logsKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lineup/redis: get logs: %w", err)
	}
	return decodeJob(jobID, vals, raw)
}

// readJob reads the hash and the log list in one MULTI/EXEC so callers never
// see the hash of one mutation next to the logs of another.
func (s *Store) readJob(ctx context.Context, jobID string) (*job.Job, error) {
	var (
		hash *goredis.MapStringStringCmd
		logs *goredis.StringSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		hash = pipe.HGetAll(ctx, s.jobKey(jobID))
		logs = pipe.LRange(ctx, s.logsKey(jobID), 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lineup/redis: get job: %w", err)
	}
	return decodeJob(jobID, hash.Val(), logs.Val())
}

func decodeJob(jobID string, vals map[string]string, raw []string) (*job.Job, error) {
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: %s", lineup.ErrJobNotFound, jobID)
	}
	j, err := mapToJob(vals)
	if err != nil {
		return nil, err
	}
	j.Logs, err = decodeLogs(raw)
	if err != nil {
		return nil, fmt.Errorf("lineup/redis: job %s: %w", jobID, err)
	}
	return j, nil
}

func (s *Store) pushLogs(ctx context.Context, pipe goredis.Pipeliner, jobID string, entries []job.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]interface{}, len(entries))
	for i, e := range entries {
		b, err := msgpack.Marshal(e)
		if err != nil {
			return fmt.Errorf("lineup/redis: encode log: %w", err)
		}
		values[i] = b
	}
	pipe.RPush(ctx, s.logsKey(jobID), values...)
	return nil
}

func decodeLogs(raw []string) ([]job.LogEntry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]job.LogEntry, len(raw))
	for i, r := range raw {
		if err := msgpack.Unmarshal([]byte(r), &out[i]); err != nil {
			return nil, fmt.Errorf("decode log %d: %w", i, err)
		}
	}
	return out, nil
}

func jobToMap(j *job.Job) map[string]interface{} {
	return map[string]interface{}{
		"id":           j.ID,
		"name":         j.Name,
		"payload":      string(j.Payload),
		"state":        string(j.State),
		"attempt":      strconv.Itoa(j.Attempt),
		"max_attempts": strconv.Itoa(j.MaxAttempts),
		"progress":     strconv.Itoa(j.Progress),
		"last_error":   j.LastError,
		"run_at":       formatTime(j.RunAt),
		"started_at":   formatTimePtr(j.StartedAt),
		"finished_at":  formatTimePtr(j.FinishedAt),
		"timeout":      strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":   formatTime(j.CreatedAt),
		"updated_at":   formatTime(j.UpdatedAt),
	}
}

func mapToJob(m map[string]string) (*job.Job, error) {
	if m["id"] == "" {
		return nil, errors.New("lineup/redis: job hash has no id")
	}
	state := job.State(m["state"])
	if !state.Valid() {
		return nil, fmt.Errorf("lineup/redis: job %s has unknown state %q", m["id"], m["state"])
	}

	attempt, _ := strconv.Atoi(m["attempt"])             //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])    //nolint:errcheck // best-effort parse from trusted Redis data
	progress, _ := strconv.Atoi(m["progress"])           //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: lineup.Entity{
			CreatedAt: parseTime(m["created_at"]),
			UpdatedAt: parseTime(m["updated_at"]),
		},
		ID:          m["id"],
		Name:        m["name"],
		State:       state,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Progress:    progress,
		LastError:   m["last_error"],
		RunAt:       parseTime(m["run_at"]),
		StartedAt:   parseTimePtr(m["started_at"]),
		FinishedAt:  parseTimePtr(m["finished_at"]),
		Timeout:     time.Duration(timeout),
	}
	if p := m["payload"]; p != "" {
		j.Payload = []byte(p)
	}
	return j, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s) //nolint:errcheck // best-effort parse from trusted Redis data
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	return &t
}
