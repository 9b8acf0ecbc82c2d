// Package store defines the aggregate persistence interface.
//
// The job package owns the persistence contract for jobs; [Store] adds
// connection lifecycle on top of it:
//
//	type Store interface {
//	    job.Store
//
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// # Available Backends
//
//   - store/memory - in-memory store, the default; state lives for the
//     lifetime of the process
//   - store/redis - Redis backend using go-redis v9
//
// # Usage
//
//	import "github.com/xraph/lineup/store/redis"
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client, redis.WithPrefix("lineup:burger:"))
//
//	d, err := lineup.New(lineup.WithStore(s))
package store
