// Package pipeline defines the unit of work a dispatcher runs for each
// attempt of a job.
//
// A Processor receives the job and a Reporter through which it publishes
// progress and log lines. Pipeline is the stock Processor: an ordered list of
// named steps, each reporting its declared progress and log lines before its
// work runs. The first failing step aborts the rest and surfaces as a
// *StepError.
//
// The dispatcher treats every returned error as an attempt failure and hands
// it to the retry policy. Processors never resolve a job themselves.
package pipeline
