// Command lineup runs the burger kitchen demonstration queue.
//
// Usage:
//
//	lineup serve          # monitor on :3000, seed via GET /queue/execute
//	lineup run            # enqueue the batch, drain it, print the outcome
//	lineup status         # job table of a running server
//	lineup watch          # follow a running server's events
//	lineup version
//
// Settings come from flags, the environment and an optional .env file.
// REDIS_HOST selects the Redis store; otherwise jobs live in memory.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load() //nolint:errcheck // optional file

	s, err := settingsFromEnv(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := newRootCmd(&s).Execute(); err != nil {
		os.Exit(1)
	}
}
