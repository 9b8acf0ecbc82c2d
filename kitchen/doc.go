// Package kitchen is the reference workload: a five-step burger pipeline
// with simulated latency and one injectable failure point after the first
// step. It exists to exercise the dispatcher end to end and is replaced by
// real work in production use.
package kitchen
