package remote

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
)

// RemoteIDKeys are the keys an upload response may carry the new id under.
var RemoteIDKeys = []string{"activityId", "activity_id", "garminActivityId", "activityPk", "activityPK"}

// MaxExtractDepth bounds the walk over a response.
const MaxExtractDepth = 8

// ExtractRemoteID walks a decoded JSON value looking for the first usable id
// under one of keys. Maps are checked for a direct key before descending;
// nothing deeper than MaxExtractDepth is visited.
func ExtractRemoteID(v any, keys []string) (string, bool) {
	return extract(v, keys, 0)
}

func extract(v any, keys []string, depth int) (string, bool) {
	if depth > MaxExtractDepth {
		return "", false
	}
	switch node := v.(type) {
	case map[string]any:
		for _, k := range keys {
			if id, ok := scalarID(node[k]); ok {
				return id, true
			}
		}
		for _, k := range sortedKeys(node) {
			if id, ok := extract(node[k], keys, depth+1); ok {
				return id, true
			}
		}
	case []any:
		for _, item := range node {
			if id, ok := extract(item, keys, depth+1); ok {
				return id, true
			}
		}
	}
	return "", false
}

// scalarID accepts non-empty strings and positive whole numbers.
func scalarID(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, x != ""
	case json.Number:
		return scalarID(string(x))
	case float64:
		if x > 0 && x == math.Trunc(x) && x < 1<<53 {
			return strconv.FormatInt(int64(x), 10), true
		}
	case int64:
		if x > 0 {
			return strconv.FormatInt(x, 10), true
		}
	case int:
		if x > 0 {
			return strconv.Itoa(x), true
		}
	}
	return "", false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
