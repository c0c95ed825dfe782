// Package strava reads activities and their detail streams from the Strava
// API. It is the source side: nothing is ever written back.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/marcus/actsync/internal/models"
	"github.com/marcus/actsync/internal/remote"
)

const (
	DefaultBaseURL  = "https://www.strava.com/api/v3"
	DefaultTokenURL = "https://www.strava.com/oauth/token"
	DefaultPerPage  = 100
)

// Client is an authenticated Strava API client.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	mu     sync.Mutex
	source oauth2.TokenSource
	token  *oauth2.Token
}

// Credentials identify the app and the athlete's long-lived refresh token.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string
}

// New creates a client that exchanges the refresh token for access tokens
// on demand.
func New(baseURL string, creds Credentials) *Client {
	tokenURL := creds.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	c := &Client{BaseURL: strings.TrimRight(baseURL, "/")}
	c.source = conf.TokenSource(context.Background(), &oauth2.Token{RefreshToken: creds.RefreshToken})
	c.HTTP = &http.Client{
		Timeout:   60 * time.Second,
		Transport: &oauth2.Transport{Source: tokenRecorder{c}},
	}
	return c
}

// tokenRecorder remembers the last token so a rotated refresh token can be
// persisted by the caller.
type tokenRecorder struct{ c *Client }

func (r tokenRecorder) Token() (*oauth2.Token, error) {
	tok, err := r.c.source.Token()
	if err != nil {
		return nil, err
	}
	r.c.mu.Lock()
	r.c.token = tok
	r.c.mu.Unlock()
	return tok, nil
}

// RefreshToken returns the refresh token currently in use, or "" before the
// first request.
func (c *Client) RefreshToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return ""
	}
	return c.token.RefreshToken
}

type summary struct {
	ID                 int64    `json:"id"`
	Name               string   `json:"name"`
	Distance           float64  `json:"distance"`
	MovingTime         float64  `json:"moving_time"`
	ElapsedTime        float64  `json:"elapsed_time"`
	Type               string   `json:"type"`
	SportType          string   `json:"sport_type"`
	StartDate          string   `json:"start_date"`
	StartDateLocal     string   `json:"start_date_local"`
	LocationCountry    string   `json:"location_country"`
	TotalElevationGain *float64 `json:"total_elevation_gain"`
	AverageSpeed       *float64 `json:"average_speed"`
	AverageHeartrate   *float64 `json:"average_heartrate"`
	Map                struct {
		SummaryPolyline string `json:"summary_polyline"`
	} `json:"map"`
}

func (s summary) toLocal() models.LocalActivity {
	a := models.LocalActivity{
		ID:               s.ID,
		Name:             s.Name,
		Distance:         s.Distance,
		MovingTime:       s.MovingTime,
		ElapsedTime:      s.ElapsedTime,
		Type:             s.Type,
		LocationCountry:  s.LocationCountry,
		SummaryPolyline:  s.Map.SummaryPolyline,
		AverageHeartrate: s.AverageHeartrate,
		AverageSpeed:     s.AverageSpeed,
		ElevationGain:    s.TotalElevationGain,
	}
	if s.SportType != "" && s.SportType != s.Type {
		a.Subtype = s.SportType
	}
	if t, err := time.Parse(time.RFC3339, s.StartDate); err == nil {
		a.StartDate = t.UTC()
	}
	// start_date_local is wall-clock time labelled as UTC.
	if t, err := time.Parse(time.RFC3339, s.StartDateLocal); err == nil {
		a.StartDateLocal = t.UTC()
	}
	return a
}

// ListActivities returns one page (1-based) of activities started after the
// given time. A zero after lists from the beginning.
func (c *Client) ListActivities(ctx context.Context, after time.Time, page, perPage int) ([]models.LocalActivity, error) {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	if !after.IsZero() {
		q.Set("after", strconv.FormatInt(after.Unix(), 10))
	}
	var items []summary
	if err := c.get(ctx, "/athlete/activities?"+q.Encode(), &items); err != nil {
		return nil, err
	}
	out := make([]models.LocalActivity, 0, len(items))
	for _, s := range items {
		out = append(out, s.toLocal())
	}
	return out, nil
}

// ListAllSince pages through every activity started after the given time.
func (c *Client) ListAllSince(ctx context.Context, after time.Time, limit int) ([]models.LocalActivity, error) {
	var all []models.LocalActivity
	for page := 1; ; page++ {
		items, err := c.ListActivities(ctx, after, page, DefaultPerPage)
		if err != nil {
			return nil, fmt.Errorf("list page %d: %w", page, err)
		}
		all = append(all, items...)
		if limit > 0 && len(all) >= limit {
			return all[:limit], nil
		}
		if len(items) < DefaultPerPage {
			return all, nil
		}
	}
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		err := remote.ClassifyStatus(resp, string(body))
		if rl, ok := remote.IsRateLimited(err); ok && resp.Header.Get("Retry-After") == "" {
			rl.RetryAfter = untilNextWindow(time.Now())
			rl.Advised = true
		}
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// untilNextWindow is the wait until Strava's next 15-minute usage window.
func untilNextWindow(now time.Time) time.Duration {
	next := now.Truncate(15 * time.Minute).Add(15 * time.Minute)
	return next.Sub(now)
}
