// Package instance names the running process for claim tokens, lock owners
// and log lines.
package instance

import (
	"fmt"
	"os"
	"sync"

	"github.com/heuristiclogix/eventrelay/pkg/env"
)

var resolved = sync.OnceValue(resolve)

// GetID returns the process identifier. EVENTRELAY_INSTANCE_ID wins, then
// WORKER_ID, then the hostname; the value is fixed for the process lifetime.
func GetID() string {
	return resolved()
}

func resolve() string {
	if id := env.First("EVENTRELAY_INSTANCE_ID", "WORKER_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fmt.Sprintf("eventrelay-%d", os.Getpid())
}
