// Package redis implements store.Store on Redis. Jobs are stored as Hashes,
// the waiting list is a Redis List popped from the head, enqueue order is
// kept in a Sorted Set scored by an enqueue sequence, and log lines live in
// a per-job List of msgpack-encoded entries.
//
// State changes run inside WATCH/MULTI transactions, so several dispatch
// loops may share one store.
//
// The caller owns the Redis client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client, redis.WithPrefix("lineup:burger:"))
//	if err := s.Ping(ctx); err != nil { ... }
package redis
