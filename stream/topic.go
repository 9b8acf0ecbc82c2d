package stream

import (
	"errors"
	"fmt"
	"strings"
)

// Topics a subscriber can follow:
//
//	jobs       state changes of every job
//	progress   progress and log lines of running attempts
//	firehose   every event
//	job:<id>   every event of one job
const (
	TopicJobs     = "jobs"
	TopicProgress = "progress"
	TopicFirehose = "firehose"

	jobTopicPrefix = "job:"
)

// ErrInvalidTopic is returned by ValidateTopic.
var ErrInvalidTopic = errors.New("stream: invalid topic")

// JobTopic returns the topic carrying every event of one job.
func JobTopic(jobID string) string { return jobTopicPrefix + jobID }

// ValidateTopic reports whether topic names one of the topics above.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicJobs, TopicProgress, TopicFirehose:
		return nil
	}
	if id, ok := strings.CutPrefix(topic, jobTopicPrefix); ok && id != "" {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
}

// routes lists the topics evt is published on.
func routes(evt *Event) []string {
	out := make([]string, 0, 3)
	out = append(out, TopicFirehose)
	switch {
	case evt.Type == EventJobProgress || evt.Type == EventJobLog:
		out = append(out, TopicProgress)
	case strings.HasPrefix(string(evt.Type), "job."):
		out = append(out, TopicJobs)
	}
	if evt.Topic != "" {
		out = append(out, evt.Topic)
	}
	return out
}
