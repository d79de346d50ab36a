package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Sternrassler/calendar-server/pkg/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CALENDAR_"

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding variables that are already set. A missing file is
// ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from CALENDAR_* variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("LISTEN", &c.Listen)
	e.boolean("CORS", &c.CORS)
	e.duration("CACHE_TTL", &c.CacheTTL)
	e.duration("DOWNLOAD_CONNECT_TIMEOUT", &c.DownloadConnectTimeout)
	e.duration("DOWNLOAD_RETRIEVE_TIMEOUT", &c.DownloadRetrieveTimeout)
	e.str("URL_TEMPLATE", &c.URLTemplate)
	e.str("HIDDEN_REGEX", &c.HiddenRegex)
	e.integer("YEAR_MIN", &c.YearMin)
	e.integer("YEAR_MAX", &c.YearMax)
	e.str("USER_AGENT", &c.UserAgent)
	e.integer("WORKERS", &c.Workers)
	e.integer("FETCH_RETRIES", &c.FetchRetries)
	e.str("TIMEZONE", &c.Timezone)
	e.boolean("EXPAND_RECURRENCES", &c.ExpandRecurrences)
	e.str("WARM_SCHEDULE", &c.WarmSchedule)
	e.integer("WARM_MONTHS_AHEAD", &c.WarmMonthsAhead)
	if v, ok := e.get("LOG_LEVEL"); ok {
		c.Log.Level = logging.LogLevel(v)
	}
	e.boolean("LOG_PRETTY", &c.Log.Pretty)

	return errors.Join(e.errs...)
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: invalid boolean %q", EnvPrefix, name, v))
		return
	}
	*dst = b
}

func (e *envReader) integer(name string, dst *int) {
	v, ok := e.get(name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: invalid integer %q", EnvPrefix, name, v))
		return
	}
	*dst = n
}

func (e *envReader) duration(name string, dst *Duration) {
	v, ok := e.get(name)
	if !ok || v == "" {
		return
	}
	d, err := parseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = Duration(d)
}

// parseDuration accepts Go duration strings or a bare number of milliseconds,
// the unit older JSON configs use (cacheTTL: 1800000 is thirty minutes).
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
