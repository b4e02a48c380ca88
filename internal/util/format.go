package util

import (
	"math"
	"strconv"
)

var sizeUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count with base-1024 units, rounded to two decimals.
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}

	const unit = 1024
	exp := int(math.Floor(math.Log(float64(bytes)) / math.Log(unit)))
	if exp >= len(sizeUnits) {
		exp = len(sizeUnits) - 1
	}
	// Log can land just below an exact power of 1024
	if exp+1 < len(sizeUnits) && bytes >= int64(math.Pow(unit, float64(exp+1))) {
		exp++
	}

	value := float64(bytes) / math.Pow(unit, float64(exp))
	value = math.Round(value*100) / 100
	return strconv.FormatFloat(value, 'f', -1, 64) + " " + sizeUnits[exp]
}
