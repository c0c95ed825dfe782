package garmin

import (
	"strconv"
	"strings"
	"time"

	"github.com/marcus/actsync/internal/models"
	"github.com/marcus/actsync/internal/remote"
)

// durationKeys are tried in order; the first numeric value wins.
var durationKeys = []string{
	"duration",
	"elapsedDuration",
	"movingDuration",
	"durationInSeconds",
	"elapsedDurationInSeconds",
	"movingDurationInSeconds",
}

var startLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// ParseActivity converts one listing entry. Fields that are missing or
// malformed are left zero; the matcher skips entries without an id or start.
func ParseActivity(item map[string]any) models.RemoteActivity {
	a := models.RemoteActivity{Raw: item}
	if v, ok := item["activityId"]; ok {
		a.ID, _ = remote.ExtractRemoteID(map[string]any{"activityId": v}, []string{"activityId"})
	}
	if s, ok := item["startTimeGMT"].(string); ok {
		a.StartTime = parseStart(s)
	}
	for _, k := range durationKeys {
		if secs, ok := number(item[k]); ok {
			a.Duration = time.Duration(secs * float64(time.Second))
			a.HasDuration = true
			break
		}
	}
	if d, ok := number(item["distance"]); ok {
		a.Distance = d
	}
	a.TypeKey = typeKey(item)
	return a
}

func parseStart(s string) time.Time {
	for _, layout := range startLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func typeKey(item map[string]any) string {
	for _, k := range []string{"activityType", "activityTypeDTO"} {
		if m, ok := item[k].(map[string]any); ok {
			if key, ok := m["typeKey"].(string); ok && key != "" {
				return strings.ToLower(key)
			}
		}
	}
	return ""
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}
