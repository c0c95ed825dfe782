package strava

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcus/actsync/internal/remote"
)

func newTestServer(t *testing.T, api http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "r1" {
			t.Errorf("token form = %v", r.Form)
		}
		if r.Form.Get("client_id") != "id" {
			t.Errorf("client_id = %q", r.Form.Get("client_id"))
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"a1","token_type":"Bearer","refresh_token":"r2","expires_in":21600}`)
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer a1" {
			t.Errorf("Authorization = %q", got)
		}
		api(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := New(srv.URL+"/api", Credentials{
		ClientID:     "id",
		ClientSecret: "secret",
		RefreshToken: "r1",
		TokenURL:     srv.URL + "/oauth/token",
	})
	return srv, c
}

func TestListActivities(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/athlete/activities" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("after") != "1767225600" || q.Get("page") != "2" || q.Get("per_page") != "30" {
			t.Errorf("query = %v", q)
		}
		io.WriteString(w, `[{
			"id": 1001, "name": "Morning Run", "distance": 5012.3,
			"moving_time": 1500, "elapsed_time": 1620, "type": "Run", "sport_type": "TrailRun",
			"start_date": "2026-03-01T07:30:00Z", "start_date_local": "2026-03-01T08:30:00Z",
			"average_heartrate": 151.2, "average_speed": 3.34, "total_elevation_gain": 42,
			"map": {"summary_polyline": "abc"}
		}]`)
	})

	if c.RefreshToken() != "" {
		t.Error("refresh token should be empty before the first request")
	}
	got, err := c.ListActivities(context.Background(), after, 2, 30)
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	a := got[0]
	if a.ID != 1001 || a.Type != "Run" || a.Subtype != "TrailRun" || a.SummaryPolyline != "abc" {
		t.Errorf("activity = %+v", a)
	}
	if !a.StartDate.Equal(time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)) {
		t.Errorf("StartDate = %v", a.StartDate)
	}
	if a.AverageHeartrate == nil || *a.AverageHeartrate != 151.2 {
		t.Errorf("AverageHeartrate = %v", a.AverageHeartrate)
	}
	if a.Duration() != 1620*time.Second {
		t.Errorf("Duration = %v", a.Duration())
	}
	if c.RefreshToken() != "r2" {
		t.Errorf("RefreshToken = %q, want rotated r2", c.RefreshToken())
	}
}

func TestGetStreamsAlignsOnTime(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/activities/1001/streams" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("key_by_type") != "true" {
			t.Error("key_by_type not set")
		}
		io.WriteString(w, `{
			"time": {"data": [0, 1, 2]},
			"latlng": {"data": [[31.2, 121.4], [31.3, 121.5]]},
			"heartrate": {"data": [120, null, 125]}
		}`)
	})

	got, err := c.GetStreams(context.Background(), 1001)
	if err != nil {
		t.Fatalf("GetStreams: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	if got[1].TimeOffset != 1 || got[1].Lat == nil || *got[1].Lat != 31.3 {
		t.Errorf("sample 1 = %+v", got[1])
	}
	if got[1].HeartRate != nil {
		t.Error("null heartrate should stay nil")
	}
	if got[2].Lat != nil || got[2].HeartRate == nil || *got[2].HeartRate != 125 {
		t.Errorf("sample 2 = %+v", got[2])
	}
}

func TestBuildDetailStreamRequiresUsableData(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", `{}`},
		{"no time", `{"heartrate": {"data": [1, 2]}}`},
		{"time only", `{"time": {"data": [0, 1]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw map[string]stream
			if err := json.Unmarshal([]byte(tt.raw), &raw); err != nil {
				t.Fatal(err)
			}
			if _, err := buildDetailStream(raw); !errors.Is(err, ErrNoUsableStreams) {
				t.Errorf("err = %v, want ErrNoUsableStreams", err)
			}
		})
	}
}

func TestRateLimitWithoutRetryAfter(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"message":"Rate Limit Exceeded"}`)
	})

	_, err := c.GetStreams(context.Background(), 1)
	rl, ok := remote.IsRateLimited(err)
	if !ok {
		t.Fatalf("err = %v, want rate limit", err)
	}
	if rl.RetryAfter <= 0 || rl.RetryAfter > 15*time.Minute {
		t.Errorf("RetryAfter = %v", rl.RetryAfter)
	}
}

func TestUntilNextWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 7, 30, 0, time.UTC)
	if got := untilNextWindow(now); got != 7*time.Minute+30*time.Second {
		t.Errorf("untilNextWindow = %v", got)
	}
}
