// Package clock abstracts "now" so closedness and backoff timing are deterministic in tests.
package clock

import "time"

// Source returns the current time in Unix milliseconds.
type Source func() int64

// System is the production clock, backed by time.Now.
func System() int64 {
	return time.Now().UnixMilli()
}
