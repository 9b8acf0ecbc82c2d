//go:build integration

package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/xraph/lineup/job"
	"github.com/xraph/lineup/store/redis"
	"github.com/xraph/lineup/store/storetest"
)

// setupRedis starts a Redis container and returns a connected client.
func setupRedis(t *testing.T) *goredis.Client {
	t.Helper()

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse %q: %v", uri, err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIntegration_Conformance(t *testing.T) {
	client := setupRedis(t)
	n := 0
	storetest.Run(t, func(_ *testing.T, now func() time.Time) job.Store {
		// One container, one prefix per subtest.
		n++
		return redis.New(client,
			redis.WithPrefix(fmt.Sprintf("lineup:it:%d:", n)),
			redis.WithClock(now),
		)
	})
}
