// Package nodename generates a scheduler node's name: the value stamped
// into pickedBy so operators can tell which process holds a lock. Two
// nodes that happen to share a hostname (containers, local dev) must
// still get distinct names, so a random suffix is appended.
package nodename

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Generate returns "<hostname>-<short-uuid>", falling back to
// "scheduler" if the hostname can't be determined.
func Generate() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "scheduler"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
