package ics

import "time"

// Event is the normalized JSON form of one VEVENT (or one occurrence of a
// recurring VEVENT). Timestamps are milliseconds since the Unix epoch.
// Optional fields encode as null when absent.
type Event struct {
	Hidden bool `json:"hidden"`

	UID *string `json:"uid"`
	URL *string `json:"url"`

	Created      *int64 `json:"created"`
	LastModified *int64 `json:"lastModified"`

	Start    *int64 `json:"start"`
	End      *int64 `json:"end"`
	Duration *int64 `json:"duration"`

	Summary     *string `json:"summary"`
	Description *string `json:"description"`

	// Categories is never nil so it always encodes as an array.
	Categories []string `json:"categories"`

	Location *string `json:"location"`
}

func millis(t time.Time) *int64 {
	ms := t.UnixMilli()
	return &ms
}

func stringPtr(s string) *string {
	return &s
}

// withOccurrence returns a copy of e moved to start, keeping its duration.
func (e Event) withOccurrence(start time.Time) Event {
	occ := e
	occ.Start = millis(start)
	if e.Duration != nil && e.End != nil {
		end := start.UnixMilli() + *e.Duration
		occ.End = &end
	}
	occ.Categories = append([]string(nil), e.Categories...)
	if occ.Categories == nil {
		occ.Categories = []string{}
	}
	return occ
}
