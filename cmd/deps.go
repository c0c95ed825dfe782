package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/marcus/actsync/internal/config"
	"github.com/marcus/actsync/internal/db"
	"github.com/marcus/actsync/internal/garmin"
	"github.com/marcus/actsync/internal/models"
	"github.com/marcus/actsync/internal/strava"
)

var (
	errNoStravaCredentials = errors.New("strava credentials missing: set strava.client_id, strava.client_secret and strava.refresh_token")
	errNoGarminToken       = errors.New("garmin token missing: set garmin.token or GARMIN_TOKEN")
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openDB(c *config.Config) (*db.DB, error) {
	return db.Open(c.Database)
}

func newStrava(c *config.Config) (*strava.Client, error) {
	if c.Strava.ClientID == "" || c.Strava.ClientSecret == "" || c.Strava.RefreshToken == "" {
		return nil, errNoStravaCredentials
	}
	return strava.New(c.Strava.BaseURL, strava.Credentials{
		ClientID:     c.Strava.ClientID,
		ClientSecret: c.Strava.ClientSecret,
		RefreshToken: c.Strava.RefreshToken,
		TokenURL:     c.Strava.TokenURL,
	}), nil
}

// persistStravaToken saves a refresh token Strava rotated during the run.
func persistStravaToken(c *config.Config, client *strava.Client) {
	tok := client.RefreshToken()
	if tok == "" || tok == c.Strava.RefreshToken {
		return
	}
	c.Strava.RefreshToken = tok
	if err := c.Save(); err != nil {
		slog.Warn("save rotated strava refresh token", "path", c.Path(), "err", err)
		return
	}
	slog.Debug("strava refresh token rotated", "path", c.Path())
}

func newGarmin(c *config.Config) (*garmin.Client, error) {
	if c.Garmin.Token == "" {
		return nil, errNoGarminToken
	}
	client := garmin.NewWithToken(c.GarminBaseURL(), c.Garmin.Token)
	if d := c.Garmin.RequestDelay.Duration; d > 0 {
		client.Limiter = rate.NewLimiter(rate.Every(d), 1)
	}
	return client, nil
}

// resolveAccount returns the --account flag or the account implied by the
// configured Garmin domain.
func resolveAccount(c *config.Config, flag string) string {
	if flag != "" {
		return flag
	}
	return c.GarminAccount()
}

// parseVendor accepts only vendors that can be upload targets.
func parseVendor(s string) (models.Vendor, error) {
	switch models.Vendor(s) {
	case models.VendorGarmin:
		return models.VendorGarmin, nil
	default:
		return "", fmt.Errorf("unsupported vendor %q: only garmin can receive uploads", s)
	}
}
