package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/marcus/actsync/internal/models"
)

// ErrNoUsableStreams means the activity has no time stream or nothing but
// a time stream.
var ErrNoUsableStreams = errors.New("no usable streams")

// StreamKeys are requested for every detail fetch.
var StreamKeys = []string{"time", "latlng", "altitude", "heartrate", "distance", "velocity_smooth", "cadence", "watts"}

type stream struct {
	Data json.RawMessage `json:"data"`
}

// GetStreams fetches the per-second streams of one activity and aligns them
// on the time stream.
func (c *Client) GetStreams(ctx context.Context, activityID int64) (models.DetailStream, error) {
	path := fmt.Sprintf("/activities/%d/streams?keys=%s&key_by_type=true", activityID, strings.Join(StreamKeys, ","))
	var raw map[string]stream
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, err
	}
	return buildDetailStream(raw)
}

func buildDetailStream(raw map[string]stream) (models.DetailStream, error) {
	var times []float64
	if s, ok := raw["time"]; ok {
		if err := json.Unmarshal(s.Data, &times); err != nil {
			return nil, fmt.Errorf("decode time stream: %w", err)
		}
	}
	if len(times) == 0 {
		return nil, ErrNoUsableStreams
	}

	var latlng [][]float64
	if s, ok := raw["latlng"]; ok {
		if err := json.Unmarshal(s.Data, &latlng); err != nil {
			return nil, fmt.Errorf("decode latlng stream: %w", err)
		}
	}
	scalars := map[string][]*float64{}
	for _, key := range []string{"altitude", "heartrate", "distance", "velocity_smooth", "cadence", "watts"} {
		s, ok := raw[key]
		if !ok {
			continue
		}
		var vals []*float64
		if err := json.Unmarshal(s.Data, &vals); err != nil {
			return nil, fmt.Errorf("decode %s stream: %w", key, err)
		}
		if len(vals) > 0 {
			scalars[key] = vals
		}
	}
	if len(latlng) == 0 && len(scalars) == 0 {
		return nil, ErrNoUsableStreams
	}

	at := func(key string, i int) *float64 {
		vals := scalars[key]
		if i >= len(vals) || vals[i] == nil {
			return nil
		}
		v := *vals[i]
		return &v
	}

	out := make(models.DetailStream, len(times))
	for i, t := range times {
		s := models.DetailSample{
			TimeOffset: int64(math.Round(t)),
			Altitude:   at("altitude", i),
			HeartRate:  at("heartrate", i),
			Distance:   at("distance", i),
			Speed:      at("velocity_smooth", i),
			Cadence:    at("cadence", i),
			Power:      at("watts", i),
		}
		if i < len(latlng) && len(latlng[i]) == 2 {
			lat, lng := latlng[i][0], latlng[i][1]
			s.Lat, s.Lng = &lat, &lng
		}
		out[i] = s
	}
	return out, nil
}
