package main

import (
	"fmt"
	"time"

	"go.mergers.dev/mergers/internal/config"
)

// resolveSince turns a validated AppConfig.Since value into the
// absolute cutoff the loader filters against. Empty disables the
// filter entirely.
func resolveSince(since string) (time.Time, error) {
	if since == "" {
		return time.Time{}, nil
	}
	if d, ok := config.SinceDuration(since); ok {
		return time.Now().Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, since); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", since); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("since: %q is neither '<number><unit>' nor an ISO-8601 datetime", since)
}
