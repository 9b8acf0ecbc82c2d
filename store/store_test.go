package store_test

import (
	"testing"
	"time"

	"github.com/xraph/lineup/job"
	"github.com/xraph/lineup/store"
	"github.com/xraph/lineup/store/memory"
	"github.com/xraph/lineup/store/redis"
	"github.com/xraph/lineup/store/storetest"
)

var (
	_ store.Store = (*memory.Store)(nil)
	_ store.Store = (*redis.Store)(nil)
)

func TestMemoryConformance(t *testing.T) {
	storetest.Run(t, func(_ *testing.T, now func() time.Time) job.Store {
		return memory.New(memory.WithClock(now))
	})
}
