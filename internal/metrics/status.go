package metrics

import (
	"sort"
	"strconv"
)

// StatusBucket is the count of responses for one status code.
type StatusBucket struct {
	Class string // "2xx", "4xx", ... or "invalid"
	Code  string
	Count uint64
}

// FlattenStatusCodes converts a code->count map into rows sorted by
// descending count, then by code for stability.
func FlattenStatusCodes(codes map[string]uint64) []StatusBucket {
	if len(codes) == 0 {
		return nil
	}
	rows := make([]StatusBucket, 0, len(codes))
	for code, count := range codes {
		rows = append(rows, StatusBucket{Class: statusClass(code), Code: code, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Code < rows[j].Code
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}

// StatusClasses totals codes per class ("2xx", "5xx", ...).
func StatusClasses(codes map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64)
	for code, count := range codes {
		out[statusClass(code)] += count
	}
	return out
}

func statusClass(code string) string {
	n, err := strconv.Atoi(code)
	if err != nil || n < 100 || n > 599 {
		return "invalid"
	}
	return strconv.Itoa(n/100) + "xx"
}
