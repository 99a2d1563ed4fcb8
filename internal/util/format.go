// Package util provides common utility functions used across the codebase.
package util

import "fmt"

var byteUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// FormatBytes renders a byte count as a human-readable string, scaling by
// powers of 1024. Whole bytes print without decimals ("512 B"); every larger
// unit prints with two ("1.50 MB"). A nil value renders as "n/a".
func FormatBytes(value *int64) string {
	if value == nil {
		return "n/a"
	}
	size := float64(*value)
	for _, unit := range byteUnits {
		if size < 1024 || unit == "PB" {
			if unit == "B" {
				return fmt.Sprintf("%d %s", int64(size), unit)
			}
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.2f PB", size)
}

// FormatSeconds renders a duration in seconds using the largest applicable
// units: "3d 4h 5m", "4h 5m", "5m 6s" or "6s". A nil value renders as "n/a".
func FormatSeconds(seconds *float64) string {
	if seconds == nil {
		return "n/a"
	}
	remaining := int64(*seconds)
	days := remaining / 86400
	remaining %= 86400
	hours := remaining / 3600
	remaining %= 3600
	minutes := remaining / 60
	secs := remaining % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}
