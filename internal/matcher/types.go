package matcher

import "strings"

// typeAliases maps a local activity type to the remote type keys that count
// as the same sport.
var typeAliases = map[string][]string{
	"Run":              {"running", "street_running", "trail_running", "treadmill_running"},
	"TrailRun":         {"running", "trail_running"},
	"Treadmill":        {"running", "treadmill_running"},
	"VirtualRun":       {"running", "virtual_running"},
	"Walk":             {"walking"},
	"Hike":             {"hiking", "walking"},
	"Ride":             {"cycling", "road_biking"},
	"VirtualRide":      {"cycling", "indoor_cycling", "virtual_ride"},
	"GravelRide":       {"cycling", "gravel_cycling"},
	"MountainBikeRide": {"cycling", "mountain_biking"},
	"EBikeRide":        {"cycling", "e_biking"},
	"Workout":          {"fitness", "strength_training", "cardio_training", "indoor_cardio", "boxing"},
	"WeightTraining":   {"strength_training", "fitness"},
	"Boxing":           {"boxing", "fitness"},
	"Crossfit":         {"cross_training", "strength_training", "fitness"},
	"Yoga":             {"yoga"},
	"Elliptical":       {"elliptical"},
	"StairStepper":     {"stair_stepper"},
}

// DefaultStationaryTypes are matched on duration rather than distance.
var DefaultStationaryTypes = []string{
	"Workout", "WeightTraining", "Boxing", "Crossfit", "Yoga", "Elliptical", "StairStepper",
}

// TypeKeys returns the remote type keys accepted for a local type. Unknown
// types accept only their own lowercased name; an empty type accepts nothing.
func TypeKeys(localType string) []string {
	if keys, ok := typeAliases[localType]; ok {
		return keys
	}
	if localType == "" {
		return nil
	}
	return []string{strings.ToLower(localType)}
}

func typeAccepts(localType, remoteKey string) bool {
	keys := TypeKeys(localType)
	if len(keys) == 0 || remoteKey == "" {
		return true
	}
	remoteKey = strings.ToLower(remoteKey)
	for _, k := range keys {
		if k == remoteKey {
			return true
		}
	}
	return false
}
