package ics

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/Sternrassler/calendar-server/pkg/month"
)

// expandOccurrences returns one event per RRULE occurrence starting inside m.
// Occurrences replaced by a RECURRENCE-ID override are left out; the
// override VEVENT is emitted on its own.
func (n *Normalizer) expandOccurrences(master Event, rec recurrence, overridden []time.Time, m month.Month) ([]Event, error) {
	r, err := rrule.StrToRRule(rec.rrule)
	if err != nil {
		return nil, fmt.Errorf("parse RRULE %q: %w", rec.rrule, err)
	}
	r.DTStart(*rec.start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range rec.exdates {
		set.ExDate(ex.In(rec.start.Location()))
	}

	loc := rec.start.Location()
	windowStart := m.Start(n.loc).In(loc)
	windowEnd := m.End(n.loc).In(loc)

	out := make([]Event, 0)
	for _, occ := range set.Between(windowStart, windowEnd, true) {
		if !occ.Before(windowEnd) {
			continue
		}
		if isOverridden(occ, overridden) {
			continue
		}
		if len(out) >= n.maxOccurrences {
			n.logger.Warn().
				Str("uid", rec.uid).
				Int("cap", n.maxOccurrences).
				Msg("Truncated occurrences for event")
			break
		}
		out = append(out, master.withOccurrence(occ))
	}

	return out, nil
}

func isOverridden(occ time.Time, overridden []time.Time) bool {
	for _, rid := range overridden {
		if rid.Equal(occ) {
			return true
		}
	}
	return false
}
