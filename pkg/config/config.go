// Package config loads the calendar server configuration.
//
// Values are layered: built-in defaults, then the YAML file, then CALENDAR_*
// environment variables (optionally seeded from a .env file). Command-line
// flags are applied by the caller on top of the loaded Config.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/calendar-server/pkg/logging"
	"github.com/Sternrassler/calendar-server/pkg/month"
)

// DefaultURLTemplate is the upstream feed used when none is configured.
const DefaultURLTemplate = "https://demo.theeventscalendar.com/events/$$/?ical=1"

// Duration is a time.Duration that reads "30s"-style strings or plain
// milliseconds from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := parseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all server settings.
type Config struct {
	Listen string `yaml:"listen" validate:"required,listen_addr"`
	CORS   bool   `yaml:"cors"`

	CacheTTL                Duration `yaml:"cacheTTL" validate:"positive_duration"`
	DownloadConnectTimeout  Duration `yaml:"downloadConnectTimeout" validate:"positive_duration"`
	DownloadRetrieveTimeout Duration `yaml:"downloadRetrieveTimeout" validate:"positive_duration"`

	URLTemplate string `yaml:"urlTemplate" validate:"required,url_template"`
	HiddenRegex string `yaml:"hiddenRegex" validate:"omitempty,regexp"`

	// YearMin and YearMax bound accepted months when both are >= 0.
	YearMin int `yaml:"yearMin" validate:"gte=-1,lte=9999"`
	YearMax int `yaml:"yearMax" validate:"gte=-1,lte=9999"`

	UserAgent    string `yaml:"userAgent" validate:"required"`
	Workers      int    `yaml:"workers" validate:"gte=1,lte=1024"`
	FetchRetries int    `yaml:"fetchRetries" validate:"gte=0,lte=10"`

	Timezone          string `yaml:"timezone" validate:"required,timezone"`
	ExpandRecurrences bool   `yaml:"expandRecurrences"`

	// WarmSchedule is a cron expression; empty disables warming.
	WarmSchedule    string `yaml:"warmSchedule" validate:"omitempty,cron_schedule"`
	WarmMonthsAhead int    `yaml:"warmMonthsAhead" validate:"gte=0,lte=24"`

	Log logging.Config `yaml:"log"`
}

// Default returns the built-in configuration. version is embedded in the
// default User-Agent.
func Default(version string) *Config {
	if version == "" {
		version = "dev"
	}
	return &Config{
		Listen:                  ":2000",
		CORS:                    true,
		CacheTTL:                Duration(30 * time.Minute),
		DownloadConnectTimeout:  Duration(30 * time.Second),
		DownloadRetrieveTimeout: Duration(30 * time.Second),
		URLTemplate:             DefaultURLTemplate,
		YearMin:                 -1,
		YearMax:                 -1,
		UserAgent:               "calendar-server/" + version,
		Workers:                 8,
		FetchRetries:            0,
		Timezone:                "UTC",
		WarmMonthsAhead:         1,
		Log: logging.Config{
			Level: logging.LevelInfo,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path and the
// environment. A missing file is not an error; path may be empty.
func Load(path, version string) (*Config, error) {
	cfg := Default(version)

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// defaults only
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := cfg.decode(data); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays YAML onto c. Unknown keys are rejected.
func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// YearWindow returns the month validator for the configured year bounds.
func (c *Config) YearWindow() month.Validator {
	return month.Validator{YearMin: c.YearMin, YearMax: c.YearMax}
}
