package cron

import (
	"context"
	"time"
)

// Task is the work a cron entry performs when it fires.
type Task func(ctx context.Context) error

// Entry is a named task with its schedule and run bookkeeping.
type Entry struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt time.Time  `json:"next_run_at"`
	LastError string     `json:"last_error,omitempty"`
	Runs      int64      `json:"runs"`

	task Task
}
