// Package garmin is the Garmin Connect read/write client used as an upload
// target.
package garmin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/marcus/actsync/internal/models"
	"github.com/marcus/actsync/internal/remote"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/79.0.3945.88 Safari/537.36"

// Client talks to one Garmin Connect account.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Limiter paces listing requests; nil means unpaced.
	Limiter *rate.Limiter
}

// New creates a client authenticated by ts.
func New(baseURL string, ts oauth2.TokenSource) *Client {
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = 60 * time.Second
	return &Client{BaseURL: baseURL, HTTP: httpClient}
}

// NewWithToken creates a client from a pre-issued bearer token.
func NewWithToken(baseURL, token string) *Client {
	return New(baseURL, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}

// ListActivities returns one page of the account's activities, newest first.
func (c *Client) ListActivities(ctx context.Context, offset, limit int) ([]models.RemoteActivity, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	q := url.Values{}
	q.Set("start", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var items []map[string]any
	if err := c.do(ctx, http.MethodGet, "/activitylist-service/activities/search/activities?"+q.Encode(), nil, "", &items); err != nil {
		return nil, err
	}
	out := make([]models.RemoteActivity, 0, len(items))
	for _, item := range items {
		out = append(out, ParseActivity(item))
	}
	return out, nil
}

// Upload posts a FIT file. The decoded JSON response is returned as is; a
// 204 response yields an empty map.
func (c *Client) Upload(ctx context.Context, filename string, payload []byte) (any, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	var result any
	if err := c.do(ctx, http.MethodPost, "/upload-service/upload/", &body, mw.FormDataContentType(), &result); err != nil {
		return nil, err
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("nk", "NT")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return remote.ClassifyStatus(resp, string(respBody))
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
