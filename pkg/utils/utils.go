package utils

import (
	"fmt"
	"time"
)

func FormatRoundedUnit(seconds int64) string {
	if seconds < 0 {
		seconds = -seconds
	}
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds > 3600 {
		return fmt.Sprintf("%dh", int64(seconds/3600))
	}
	return fmt.Sprintf("%dm", int64(seconds/60))
}

// FormatCountdown renders a remaining duration as mm:ss using whole seconds.
// Minutes are not wrapped, so 90 minutes renders as "90:00".
func FormatCountdown(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	secs := int64(remaining / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
