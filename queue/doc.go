// Package queue provides the queue-wide activation limiter.
//
// A [Limiter] bounds how often the dispatcher may start a job and how many
// jobs may be active at once. Rate limiting uses a token bucket
// (golang.org/x/time/rate) with a burst of one, so grants are spaced at
// least Window/Max apart and no window of length Window ever contains more
// than Max activations:
//
//	l := queue.NewLimiter(queue.Config{Max: 1, Window: time.Second})
//	if l.TryAcquire() {
//	    defer l.Release()
//	    // start the job
//	}
//
// The limiter is shared by every dispatch loop; it is not per job.
package queue
