package ics

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// parseICSTime parses a DATE or DATE-TIME value. UTC values ("...Z") ignore
// loc; values with a TZID parameter use that zone when it can be loaded;
// floating values and dates use loc. The bool reports a date-only value.
func parseICSTime(v string, params map[string][]string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.UTC
	}

	if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
		if tz, err := time.LoadLocation(strings.Trim(tzs[0], `"`)); err == nil {
			loc = tz
		}
	}

	// 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}

	// 20250101T090000
	if strings.Contains(v, "T") {
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t, false, err
	}

	// 20250101
	t, err := time.ParseInLocation("20060102", v, loc)
	return t, true, err
}

// propertyTime parses a date-valued property, returning nil when it is
// missing or unreadable.
func propertyTime(prop *ical.IANAProperty, loc *time.Location) (*time.Time, bool) {
	if prop == nil {
		return nil, false
	}
	t, allDay, err := parseICSTime(prop.Value, prop.ICalParameters, loc)
	if err != nil {
		return nil, false
	}
	return &t, allDay
}

var durationPattern = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseDuration parses an RFC 5545 DURATION value such as "PT1H30M" or "-P1D".
func parseDuration(v string) (time.Duration, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	match := durationPattern.FindStringSubmatch(v)
	if match == nil || v == "P" || v == "PT" || strings.HasSuffix(v, "T") {
		return 0, fmt.Errorf("invalid duration %q", v)
	}

	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, unit := range units {
		part := match[i+2]
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		total += time.Duration(n) * unit
	}

	if match[1] == "-" {
		total = -total
	}
	return total, nil
}

var textEscapes = strings.NewReplacer(`\\`, `\`, `\,`, `,`, `\;`, `;`, `\n`, "\n", `\N`, "\n")

// unescapeText reverses RFC 5545 TEXT escaping.
func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return textEscapes.Replace(s)
}

// splitList splits a comma separated TEXT list, honoring escaped commas.
func splitList(s string) []string {
	var (
		out     []string
		current strings.Builder
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			current.WriteRune('\\')
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			out = append(out, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if escaped {
		current.WriteRune('\\')
	}
	out = append(out, current.String())
	return out
}
