// Package job defines the job record, its state machine, enqueue options and
// the store contract the dispatcher drives.
//
// # State machine
//
//	waiting → active → completed
//	waiting → active → waiting → active → ...   (retry)
//	waiting → active → failed
//
// Completed and failed are terminal. The transition methods on [Job]
// (Activate, Requeue, Complete, Fail) are the only way a record changes
// state; every store implementation applies them under its own lock so an
// observer never sees a half-applied transition.
//
// # Attempts, progress and logs
//
// Attempt is zero until the first activation and is incremented by each
// activation, so it never exceeds MaxAttempts. Progress is reset to zero on
// activation and only moves forward within an attempt. Logs are kept across
// attempts; each attempt opens with a marker entry and every entry records
// the attempt that wrote it.
//
// Progress and log writes name the attempt they belong to. A write for an
// attempt that is no longer active is rejected with lineup.ErrStaleAttempt,
// which keeps late callbacks from a finished attempt out of the record.
package job
