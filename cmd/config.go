package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/actsync/internal/config"
	"github.com/marcus/actsync/internal/output"
)

// validConfigKeys lists the supported config keys for set/get.
var validConfigKeys = []string{
	"database",
	"metrics_file",
	"strava.client_id",
	"strava.client_secret",
	"strava.refresh_token",
	"garmin.token",
	"garmin.domain",
	"garmin.request_delay",
	"match.window",
	"match.distance_tolerance",
	"match.duration_tolerance",
	"flyby.request_delay",
	"flyby.max_retries",
	"upload.max_attempts",
	"upload.default_retry_after",
	"sentry.dsn",
	"sentry.environment",
}

var secretConfigKeys = map[string]bool{
	"strava.client_secret": true,
	"strava.refresh_token": true,
	"garmin.token":         true,
	"sentry.dsn":           true,
}

func isValidConfigKey(key string) bool {
	for _, k := range validConfigKeys {
		if k == key {
			return true
		}
	}
	return false
}

func mask(val string) string {
	if val == "" {
		return ""
	}
	if len(val) <= 4 {
		return "****"
	}
	return "****" + val[len(val)-4:]
}

// setConfigValue parses val for key and stores it in c.
func setConfigValue(c *config.Config, key, val string) error {
	dur := func(dst *time.Duration) error {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*dst = d
		return nil
	}
	num := func(dst *int) error {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid integer %q", val)
		}
		*dst = n
		return nil
	}

	switch key {
	case "database":
		c.Database = val
	case "metrics_file":
		c.MetricsFile = val
	case "strava.client_id":
		c.Strava.ClientID = val
	case "strava.client_secret":
		c.Strava.ClientSecret = val
	case "strava.refresh_token":
		c.Strava.RefreshToken = val
	case "garmin.token":
		c.Garmin.Token = val
	case "garmin.domain":
		c.Garmin.Domain = val
	case "garmin.request_delay":
		return dur(&c.Garmin.RequestDelay.Duration)
	case "match.window":
		return dur(&c.Match.Window.Duration)
	case "match.distance_tolerance":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", val)
		}
		c.Match.DistanceTolerance = f
	case "match.duration_tolerance":
		return dur(&c.Match.DurationTolerance.Duration)
	case "flyby.request_delay":
		return dur(&c.Flyby.RequestDelay.Duration)
	case "flyby.max_retries":
		return num(&c.Flyby.MaxRetries)
	case "upload.max_attempts":
		return num(&c.Upload.MaxAttempts)
	case "upload.default_retry_after":
		return dur(&c.Upload.DefaultRetryAfter.Duration)
	case "sentry.dsn":
		c.Sentry.DSN = val
	case "sentry.environment":
		c.Sentry.Environment = val
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

// configValue renders the current value of key. Secrets are masked.
func configValue(c *config.Config, key string) string {
	var val string
	switch key {
	case "database":
		val = c.Database
	case "metrics_file":
		val = c.MetricsFile
	case "strava.client_id":
		val = c.Strava.ClientID
	case "strava.client_secret":
		val = c.Strava.ClientSecret
	case "strava.refresh_token":
		val = c.Strava.RefreshToken
	case "garmin.token":
		val = c.Garmin.Token
	case "garmin.domain":
		val = c.Garmin.Domain
	case "garmin.request_delay":
		val = c.Garmin.RequestDelay.String()
	case "match.window":
		val = c.Match.Window.String()
	case "match.distance_tolerance":
		val = strconv.FormatFloat(c.Match.DistanceTolerance, 'f', -1, 64)
	case "match.duration_tolerance":
		val = c.Match.DurationTolerance.String()
	case "flyby.request_delay":
		val = c.Flyby.RequestDelay.String()
	case "flyby.max_retries":
		val = strconv.Itoa(c.Flyby.MaxRetries)
	case "upload.max_attempts":
		val = strconv.Itoa(c.Upload.MaxAttempts)
	case "upload.default_retry_after":
		val = c.Upload.DefaultRetryAfter.String()
	case "sentry.dsn":
		val = c.Sentry.DSN
	case "sentry.environment":
		val = c.Sentry.Environment
	}
	if secretConfigKeys[key] {
		return mask(val)
	}
	return val
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage actsync configuration",
	GroupID: "system",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		if _, err := os.Stat(cfg.Path()); err == nil && !force {
			err := fmt.Errorf("%s already exists (use --force to overwrite)", cfg.Path())
			output.Error("%v", err)
			return err
		}
		if err := cfg.Save(); err != nil {
			output.Error("save config: %v", err)
			return err
		}
		output.Success("wrote %s", cfg.Path())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Long: `Sets one value and saves the config file. Values currently overridden by
environment variables are saved too.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]

		if !isValidConfigKey(key) {
			output.Error("unknown config key: %s", key)
			fmt.Println("Valid keys:", strings.Join(validConfigKeys, ", "))
			return fmt.Errorf("unknown config key: %s", key)
		}
		if err := setConfigValue(cfg, key, val); err != nil {
			output.Error("%v", err)
			return err
		}
		if err := cfg.Validate(); err != nil {
			output.Error("%v", err)
			return err
		}
		if err := cfg.Save(); err != nil {
			output.Error("save config: %v", err)
			return err
		}

		output.Success("set %s = %s", key, configValue(cfg, key))
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		if !isValidConfigKey(key) {
			output.Error("unknown config key: %s", key)
			fmt.Println("Valid keys:", strings.Join(validConfigKeys, ", "))
			return fmt.Errorf("unknown config key: %s", key)
		}

		fmt.Println(configValue(cfg, key))
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all config values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("# %s\n", cfg.Path())
		for _, key := range validConfigKeys {
			fmt.Printf("%s = %s\n", key, configValue(cfg, key))
		}
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing config file")

	configCmd.AddCommand(configInitCmd, configSetCmd, configGetCmd, configListCmd)
	rootCmd.AddCommand(configCmd)
}
