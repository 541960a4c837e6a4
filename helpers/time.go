package helpers

import (
	"fmt"
	"time"
)

// IntSecondDefault converts config seconds, zero means default.
func IntSecondDefault(x int, def time.Duration) time.Duration {
	if x == 0 {
		return def
	}
	return time.Duration(x) * time.Second
}

// CountdownString formats remaining time as "M minutes and S seconds".
func CountdownString(d time.Duration) string {
	total := int(d.Round(time.Second) / time.Second)
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%d minutes and %d seconds", total/60, total%60)
}
