package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
)

// Key joins parts with ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// HashKey shortens long keys such as URLs.
func HashKey(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

// TableKey is the cache key of a fetched table.
func TableKey(location string, tableIndex int, sheet string) string {
	return Key("table", HashKey(location+"#"+sheet+"#"+strconv.Itoa(tableIndex)))
}

// ReportKey is the cache key of a forecast report.
func ReportKey(runID string) string {
	return Key("report", runID)
}

// LockKey guards a single-flight section such as one job run.
func LockKey(name string) string {
	return Key("lock", name)
}
