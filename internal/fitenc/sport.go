package fitenc

import "github.com/muktihari/fit/profile/typedef"

type sportPair struct {
	sport    typedef.Sport
	subSport typedef.SubSport
}

var sports = map[string]sportPair{
	"Run":              {typedef.SportRunning, typedef.SubSportGeneric},
	"TrailRun":         {typedef.SportRunning, typedef.SubSportTrail},
	"Treadmill":        {typedef.SportRunning, typedef.SubSportTreadmill},
	"VirtualRun":       {typedef.SportRunning, typedef.SubSportVirtualActivity},
	"Walk":             {typedef.SportWalking, typedef.SubSportGeneric},
	"Hike":             {typedef.SportHiking, typedef.SubSportGeneric},
	"Ride":             {typedef.SportCycling, typedef.SubSportRoad},
	"VirtualRide":      {typedef.SportCycling, typedef.SubSportVirtualActivity},
	"GravelRide":       {typedef.SportCycling, typedef.SubSportGravelCycling},
	"MountainBikeRide": {typedef.SportCycling, typedef.SubSportMountain},
	"EBikeRide":        {typedef.SportEBiking, typedef.SubSportGeneric},
	"Swim":             {typedef.SportSwimming, typedef.SubSportGeneric},
	"Workout":          {typedef.SportTraining, typedef.SubSportGeneric},
	"WeightTraining":   {typedef.SportTraining, typedef.SubSportStrengthTraining},
	"Crossfit":         {typedef.SportTraining, typedef.SubSportCardioTraining},
	"Boxing":           {typedef.SportBoxing, typedef.SubSportGeneric},
	"Yoga":             {typedef.SportTraining, typedef.SubSportYoga},
	"Elliptical":       {typedef.SportFitnessEquipment, typedef.SubSportElliptical},
	"StairStepper":     {typedef.SportFitnessEquipment, typedef.SubSportStairClimbing},
}

// sportFor maps a local activity type to FIT sport fields; unknown types
// become generic.
func sportFor(activityType string) sportPair {
	if p, ok := sports[activityType]; ok {
		return p
	}
	return sportPair{typedef.SportGeneric, typedef.SubSportGeneric}
}
