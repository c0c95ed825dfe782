package garmin

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcus/actsync/internal/remote"
)

func TestListActivitiesParsesEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/activitylist-service/activities/search/activities" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("start"); got != "100" {
			t.Errorf("start = %q, want 100", got)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit = %q, want 50", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("nk"); got != "NT" {
			t.Errorf("nk = %q", got)
		}
		io.WriteString(w, `[
			{"activityId": 123456789, "startTimeGMT": "2026-03-01 07:30:00", "duration": 1800.5,
			 "distance": 5000.0, "activityType": {"typeKey": "Running"}},
			{"activityId": "abc", "startTimeGMT": "bogus", "movingDuration": 60},
			{"startTimeGMT": "2026-03-02 07:30:00", "activityTypeDTO": {"typeKey": "cycling"}}
		]`)
	}))
	defer srv.Close()

	c := NewWithToken(srv.URL, "tok")
	got, err := c.ListActivities(context.Background(), 100, 50)
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}

	a := got[0]
	if a.ID != "123456789" {
		t.Errorf("ID = %q", a.ID)
	}
	if want := time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC); !a.StartTime.Equal(want) {
		t.Errorf("StartTime = %v, want %v", a.StartTime, want)
	}
	if !a.HasDuration || a.Duration != 1800500*time.Millisecond {
		t.Errorf("Duration = %v (has=%v)", a.Duration, a.HasDuration)
	}
	if a.Distance != 5000 {
		t.Errorf("Distance = %v", a.Distance)
	}
	if a.TypeKey != "running" {
		t.Errorf("TypeKey = %q", a.TypeKey)
	}

	b := got[1]
	if b.ID != "abc" || !b.StartTime.IsZero() {
		t.Errorf("second entry = %+v", b)
	}
	if !b.HasDuration || b.Duration != time.Minute {
		t.Errorf("fallback duration = %v", b.Duration)
	}

	c3 := got[2]
	if c3.ID != "" || c3.HasDuration || c3.TypeKey != "cycling" {
		t.Errorf("third entry = %+v", c3)
	}
}

func TestUploadSendsMultipartFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/upload-service/upload/" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		body, _ := io.ReadAll(f)
		if hdr.Filename != "42.fit" || string(body) != "FITDATA" {
			t.Errorf("file = %q %q", hdr.Filename, body)
		}
		io.WriteString(w, `{"detailedImportResult": {"successes": [{"internalId": 987}]}}`)
	}))
	defer srv.Close()

	res, err := NewWithToken(srv.URL, "tok").Upload(context.Background(), "42.fit", []byte("FITDATA"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, ok := res.(map[string]any)["detailedImportResult"]; !ok {
		t.Errorf("result = %#v", res)
	}
}

func TestUploadNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res, err := NewWithToken(srv.URL, "tok").Upload(context.Background(), "1.fit", []byte("x"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if m, ok := res.(map[string]any); !ok || len(m) != 0 {
		t.Errorf("result = %#v, want empty map", res)
	}
	if _, ok := remote.ExtractRemoteID(res, remote.RemoteIDKeys); ok {
		t.Error("empty response should carry no id")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header string
		check  func(error) bool
	}{
		{"rate limited", http.StatusTooManyRequests, "7", func(err error) bool {
			rl, ok := remote.IsRateLimited(err)
			return ok && rl.RetryAfter == 7*time.Second
		}},
		{"duplicate", http.StatusConflict, "", remote.IsPermanent},
		{"unauthorized", http.StatusUnauthorized, "", func(err error) bool { return errors.Is(err, remote.ErrUnauthorized) }},
		{"server error", http.StatusBadGateway, "", func(err error) bool {
			_, rl := remote.IsRateLimited(err)
			return !rl && remote.IsTransient(err)
		}},
		{"retry now", http.StatusTooManyRequests, "0", func(err error) bool {
			rl, ok := remote.IsRateLimited(err)
			return ok && rl.Advised && rl.RetryAfter == 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, "nope")
			}))
			defer srv.Close()

			_, err := NewWithToken(srv.URL, "tok").Upload(context.Background(), "1.fit", []byte("x"))
			if !tt.check(err) {
				t.Errorf("unexpected error classification: %v", err)
			}
		})
	}
}
