package store

import "strings"

// Medium key layout. Everything the store owns lives under "attachment:".
const (
	metaPrefix = "attachment:meta:"
	dataPrefix = "attachment:data:"
	// StatsKey holds the JSON-encoded domain.StorageStats.
	StatsKey = "attachment:stats"
)

func metaKey(id string) string { return metaPrefix + id }
func dataKey(id string) string { return dataPrefix + id }

// splitKey classifies a medium key. kind is "meta", "data" or "" for keys
// the store does not own.
func splitKey(key string) (kind, id string) {
	switch {
	case strings.HasPrefix(key, metaPrefix):
		return "meta", key[len(metaPrefix):]
	case strings.HasPrefix(key, dataPrefix):
		return "data", key[len(dataPrefix):]
	}
	return "", ""
}
