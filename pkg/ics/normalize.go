// Package ics converts raw iCalendar feeds into normalized event records.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/calendar-server/pkg/logging"
	"github.com/Sternrassler/calendar-server/pkg/month"
)

// ErrParse is returned when a feed cannot be interpreted as iCalendar data.
var ErrParse = errors.New("parse error")

const defaultMaxOccurrences = 500

// Config controls normalization.
type Config struct {
	// HiddenPattern flags events whose summary matches it in full.
	// Empty disables flagging.
	HiddenPattern string

	// Location interprets floating times and dates. Nil means UTC.
	Location *time.Location

	// ExpandRecurrences turns RRULE events into one record per occurrence
	// inside the requested month.
	ExpandRecurrences bool

	// MaxOccurrences caps expansion per event. Zero uses a default of 500.
	MaxOccurrences int
}

// Normalizer turns feed bytes into events. It is safe for concurrent use.
type Normalizer struct {
	hidden         *regexp.Regexp
	loc            *time.Location
	expand         bool
	maxOccurrences int
	logger         zerolog.Logger
}

// NewNormalizer compiles the hide pattern and returns a Normalizer.
func NewNormalizer(cfg Config) (*Normalizer, error) {
	n := &Normalizer{
		loc:            cfg.Location,
		expand:         cfg.ExpandRecurrences,
		maxOccurrences: cfg.MaxOccurrences,
		logger:         logging.NewLogger("ics"),
	}
	if n.loc == nil {
		n.loc = time.UTC
	}
	if n.maxOccurrences <= 0 {
		n.maxOccurrences = defaultMaxOccurrences
	}
	if cfg.HiddenPattern != "" {
		re, err := regexp.Compile(`^(?:` + cfg.HiddenPattern + `)$`)
		if err != nil {
			return nil, fmt.Errorf("compile hidden pattern: %w", err)
		}
		n.hidden = re
	}
	return n, nil
}

// Normalize parses body and returns its events in feed order. m bounds
// recurrence expansion; it does not filter non-recurring events.
func (n *Normalizer) Normalize(body []byte, m month.Month) ([]Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty feed", ErrParse)
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	product := "unknown"
	for _, p := range cal.CalendarProperties {
		if p.IANAToken == "PRODID" {
			product = p.Value
		}
	}

	vevents := cal.Events()
	overrides := collectOverrides(vevents, n.loc)

	events := make([]Event, 0, len(vevents))
	for _, ve := range vevents {
		ev, rec := n.interpret(ve)

		if n.expand && rec.rrule != "" && rec.start != nil {
			occurrences, err := n.expandOccurrences(ev, rec, overrides[rec.uid], m)
			if err != nil {
				n.logger.Warn().
					Err(err).
					Str("uid", rec.uid).
					Str("month", m.String()).
					Msg("Recurrence not expanded, keeping master event")
				events = append(events, ev)
				continue
			}
			events = append(events, occurrences...)
			continue
		}

		events = append(events, ev)
	}

	n.logger.Info().
		Str("calendar", product).
		Str("month", m.String()).
		Int("vevents", len(vevents)).
		Int("events", len(events)).
		Msg("Interpreted calendar")

	return events, nil
}

// recurrence carries the VEVENT fields needed for expansion.
type recurrence struct {
	uid     string
	start   *time.Time
	rrule   string
	exdates []time.Time
}

func (n *Normalizer) interpret(ve *ical.VEvent) (Event, recurrence) {
	ev := Event{Categories: []string{}}
	var rec recurrence

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		ev.UID = stringPtr(p.Value)
		rec.uid = p.Value
	}
	if p := ve.GetProperty("URL"); p != nil {
		ev.URL = stringPtr(p.Value)
	}

	if t, _ := propertyTime(ve.GetProperty("CREATED"), time.UTC); t != nil {
		ev.Created = millis(*t)
	}
	if t, _ := propertyTime(ve.GetProperty("LAST-MODIFIED"), time.UTC); t != nil {
		ev.LastModified = millis(*t)
	}

	start, _ := propertyTime(ve.GetProperty(ical.ComponentPropertyDtStart), n.loc)
	end, _ := propertyTime(ve.GetProperty(ical.ComponentPropertyDtEnd), n.loc)

	var declared *time.Duration
	if p := ve.GetProperty("DURATION"); p != nil {
		if d, err := parseDuration(p.Value); err == nil {
			declared = &d
		} else {
			n.logger.Debug().Err(err).Str("uid", rec.uid).Msg("Ignoring unreadable DURATION")
		}
	}

	if end == nil && start != nil && declared != nil {
		e := start.Add(*declared)
		end = &e
	}

	if start != nil {
		ev.Start = millis(*start)
	}
	if end != nil {
		ev.End = millis(*end)
	}
	switch {
	case start != nil && end != nil:
		d := max(end.Sub(*start).Milliseconds(), 0)
		ev.Duration = &d
	case declared != nil:
		d := declared.Milliseconds()
		ev.Duration = &d
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Summary = stringPtr(unescapeText(p.Value))
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.Description = stringPtr(unescapeText(p.Value))
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.Location = stringPtr(unescapeText(p.Value))
	}

	for _, p := range ve.GetProperties("CATEGORIES") {
		for _, c := range splitList(p.Value) {
			if c == "" {
				continue
			}
			ev.Categories = append(ev.Categories, unescapeText(c))
		}
	}

	ev.Hidden = n.hidden != nil && ev.Summary != nil && n.hidden.MatchString(*ev.Summary)

	rec.start = start
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		rec.rrule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range splitList(p.Value) {
			if t, _, err := parseICSTime(part, p.ICalParameters, n.loc); err == nil {
				rec.exdates = append(rec.exdates, t)
			}
		}
	}

	return ev, rec
}

// collectOverrides maps UID to the RECURRENCE-ID instants that a separate
// VEVENT replaces.
func collectOverrides(vevents []*ical.VEvent, loc *time.Location) map[string][]time.Time {
	out := make(map[string][]time.Time)
	for _, ve := range vevents {
		rid, _ := propertyTime(ve.GetProperty("RECURRENCE-ID"), loc)
		if rid == nil {
			continue
		}
		uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
		if uid == nil {
			continue
		}
		out[uid.Value] = append(out[uid.Value], *rid)
	}
	return out
}
