package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"listen port only", func(c *Config) { c.Listen = ":8080" }, ""},
		{"listen host and port", func(c *Config) { c.Listen = "0.0.0.0:2000" }, ""},
		{"listen missing port", func(c *Config) { c.Listen = "localhost" }, "listen"},
		{"listen empty", func(c *Config) { c.Listen = "" }, "listen"},
		{"zero ttl", func(c *Config) { c.CacheTTL = 0 }, "cacheTTL"},
		{"negative connect timeout", func(c *Config) { c.DownloadConnectTimeout = Duration(-time.Second) }, "downloadConnectTimeout"},
		{"template without placeholder", func(c *Config) { c.URLTemplate = "https://feed.example/events/" }, "urlTemplate"},
		{"template with bad scheme", func(c *Config) { c.URLTemplate = "ftp://feed.example/$$" }, "urlTemplate"},
		{"bad hidden regex", func(c *Config) { c.HiddenRegex = "([" }, "hiddenRegex"},
		{"valid hidden regex", func(c *Config) { c.HiddenRegex = "Private|Internal" }, ""},
		{"only yearMin", func(c *Config) { c.YearMin = 2000 }, "set both or neither"},
		{"inverted window", func(c *Config) { c.YearMin, c.YearMax = 2030, 2000 }, "is after"},
		{"valid window", func(c *Config) { c.YearMin, c.YearMax = 2000, 2000 }, ""},
		{"year too large", func(c *Config) { c.YearMin, c.YearMax = 2000, 10000 }, "yearMax"},
		{"no user agent", func(c *Config) { c.UserAgent = "" }, "userAgent"},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"too many retries", func(c *Config) { c.FetchRetries = 11 }, "fetchRetries"},
		{"bad timezone", func(c *Config) { c.Timezone = "Nowhere/City" }, "timezone"},
		{"bad schedule", func(c *Config) { c.WarmSchedule = "every so often" }, "warmSchedule"},
		{"good schedule", func(c *Config) { c.WarmSchedule = "0 */6 * * *" }, ""},
		{"negative months ahead", func(c *Config) { c.WarmMonthsAhead = -1 }, "warmMonthsAhead"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"warning log level", func(c *Config) { c.Log.Level = "warning" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("1.0.0")
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.True(t, errors.Is(err, ErrInvalid))
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default("1.0.0")
	cfg.Listen = ""
	cfg.Workers = 0

	err := cfg.Validate()
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "listen: field is required")
		assert.Contains(t, err.Error(), "workers: must be at least 1")
	}
}
