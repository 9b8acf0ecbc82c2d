package redis

// Redis key naming conventions. Every key starts with the store prefix,
// "lineup:" by default, so several queues can share a database.

const defaultPrefix = "lineup:"

// jobKey returns the Hash key for a job: {prefix}job:{id}
func (s *Store) jobKey(jobID string) string { return s.prefix + "job:" + jobID }

// logsKey returns the List key for a job's log entries: {prefix}logs:{id}
func (s *Store) logsKey(jobID string) string { return s.prefix + "logs:" + jobID }

// waitKey is the List of waiting job ids in dispatch order.
func (s *Store) waitKey() string { return s.prefix + "wait" }

// idsKey is the Sorted Set of every tracked id scored by enqueue sequence.
func (s *Store) idsKey() string { return s.prefix + "ids" }

// seqKey is the counter that feeds idsKey scores.
func (s *Store) seqKey() string { return s.prefix + "seq" }
