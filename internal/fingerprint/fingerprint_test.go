package fingerprint

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/actsync/internal/models"
)

func fptr(v float64) *float64 { return &v }

func sampleActivity() *models.LocalActivity {
	return &models.LocalActivity{
		ID:               1001,
		Name:             "Morning Run",
		Distance:         10000,
		MovingTime:       3000,
		ElapsedTime:      3100,
		Type:             "Run",
		StartDate:        time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC),
		AverageHeartrate: fptr(150),
		AverageSpeed:     fptr(3.33),
	}
}

func sampleStream() models.DetailStream {
	return models.DetailStream{
		{TimeOffset: 0, Lat: fptr(52.1), Lng: fptr(4.3), HeartRate: fptr(120)},
		{TimeOffset: 5, Lat: fptr(52.1001), Lng: fptr(4.3002), HeartRate: fptr(125), Distance: fptr(14.2)},
	}
}

func TestComputeStable(t *testing.T) {
	a, s := sampleActivity(), sampleStream()
	h1, err := Compute(a, s)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	h2, _ := Compute(a, s)
	if h1 != h2 {
		t.Fatalf("hash changed between calls: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("hash length: got %d, want 64", len(h1))
	}
}

func TestComputeListedFieldChanges(t *testing.T) {
	base, _ := Compute(sampleActivity(), sampleStream())

	tests := []struct {
		name   string
		mutate func(a *models.LocalActivity, s models.DetailStream)
	}{
		{"distance", func(a *models.LocalActivity, _ models.DetailStream) { a.Distance = 10001 }},
		{"moving time", func(a *models.LocalActivity, _ models.DetailStream) { a.MovingTime++ }},
		{"elapsed time", func(a *models.LocalActivity, _ models.DetailStream) { a.ElapsedTime++ }},
		{"start", func(a *models.LocalActivity, _ models.DetailStream) { a.StartDate = a.StartDate.Add(time.Second) }},
		{"elevation", func(a *models.LocalActivity, _ models.DetailStream) { a.ElevationGain = fptr(12) }},
		{"avg hr", func(a *models.LocalActivity, _ models.DetailStream) { a.AverageHeartrate = nil }},
		{"sample hr", func(_ *models.LocalActivity, s models.DetailStream) { s[1].HeartRate = fptr(126) }},
		{"sample cadence", func(_ *models.LocalActivity, s models.DetailStream) { s[0].Cadence = fptr(80) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, s := sampleActivity(), sampleStream()
			tt.mutate(a, s)
			got, _ := Compute(a, s)
			if got == base {
				t.Fatalf("hash did not change after mutating %s", tt.name)
			}
		})
	}
}

func TestComputeIgnoresUnlistedFields(t *testing.T) {
	base, _ := Compute(sampleActivity(), sampleStream())

	a, s := sampleActivity(), sampleStream()
	a.Name = "Renamed"
	a.Type = "TrailRun"
	a.SummaryPolyline = "abc"
	a.StartDateLocal = time.Now()
	s[0].Power = fptr(250)

	got, _ := Compute(a, s)
	if got != base {
		t.Fatal("hash changed for fields outside the fingerprint")
	}
}

func TestComputeFloatNoise(t *testing.T) {
	a := sampleActivity()
	a.AverageSpeed = fptr(0.3)
	h1, _ := Compute(a, nil)
	a.AverageSpeed = fptr(0.1 + 0.2)
	h2, _ := Compute(a, nil)
	if h1 != h2 {
		t.Fatal("float representation noise changed the hash")
	}
}

func TestComputeTimezoneIndependent(t *testing.T) {
	a := sampleActivity()
	h1, _ := Compute(a, nil)
	a.StartDate = a.StartDate.In(time.FixedZone("CET", 3600))
	h2, _ := Compute(a, nil)
	if h1 != h2 {
		t.Fatal("same instant in a different zone changed the hash")
	}
}

func TestCanonicalShape(t *testing.T) {
	data, err := Canonical(sampleActivity(), nil)
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	got := string(data)
	for _, want := range []string{`"v":1`, `"total_elevation_gain":null`, `"flyby":[]`} {
		if !strings.Contains(got, want) {
			t.Errorf("canonical form missing %s: %s", want, got)
		}
	}
	if strings.Index(got, `"activity"`) > strings.Index(got, `"flyby"`) {
		t.Errorf("keys not sorted: %s", got)
	}
}

func TestComputeNil(t *testing.T) {
	if _, err := Compute(nil, nil); err == nil {
		t.Fatal("expected error for nil activity")
	}
}
