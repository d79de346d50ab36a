// Package month provides the calendar month key used to address feed
// requests and cache slots, together with parsing and validation of
// month expressions such as "2020-08".
package month

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidMonth is returned when an expression or year/month pair
	// does not describe a valid month.
	ErrInvalidMonth = errors.New("invalid month")

	// ErrYearOutOfRange is returned by Validator when the year falls outside
	// the configured window. It also matches ErrInvalidMonth.
	ErrYearOutOfRange = fmt.Errorf("%w: year out of range", ErrInvalidMonth)
)

var expressionPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// Month is a (year, month) pair. It is comparable and safe to use as a map key.
type Month struct {
	Year  int
	Month int
}

// New creates a Month, rejecting a month number outside 1-12.
func New(year, month int) (Month, error) {
	if month < 1 || month > 12 {
		return Month{}, fmt.Errorf("%w: month %d", ErrInvalidMonth, month)
	}
	if year < 0 || year > 9999 {
		return Month{}, fmt.Errorf("%w: year %d", ErrInvalidMonth, year)
	}
	return Month{Year: year, Month: month}, nil
}

// Parse parses a strict "YYYY-MM" expression.
func Parse(expr string) (Month, error) {
	if expr == "" {
		return Month{}, fmt.Errorf("%w: expression is empty", ErrInvalidMonth)
	}
	if !expressionPattern.MatchString(expr) {
		return Month{}, fmt.Errorf("%w: expression %q does not match YYYY-MM", ErrInvalidMonth, expr)
	}

	yearPart, monthPart, _ := strings.Cut(expr, "-")

	year, err := strconv.Atoi(yearPart)
	if err != nil {
		year = 0
	}
	m, err := strconv.Atoi(monthPart)
	if err != nil {
		m = 1
	}

	return New(year, m)
}

// FromTime returns the month containing t.
func FromTime(t time.Time) Month {
	return Month{Year: t.Year(), Month: int(t.Month())}
}

// String returns the canonical "YYYY-MM" form.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, m.Month)
}

// Start returns midnight on the first day of the month in loc.
func (m Month) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(m.Year, time.Month(m.Month), 1, 0, 0, 0, 0, loc)
}

// End returns the start of the following month, so [Start, End) covers m.
func (m Month) End(loc *time.Location) time.Time {
	return m.Next().Start(loc)
}

// Next returns the following month.
func (m Month) Next() Month {
	return m.Add(1)
}

// Add returns the month n months after m. n may be negative.
func (m Month) Add(n int) Month {
	idx := m.Year*12 + (m.Month - 1) + n
	year, rem := idx/12, idx%12
	if rem < 0 {
		year--
		rem += 12
	}
	return Month{Year: year, Month: rem + 1}
}

// Validator applies an optional year window on top of Parse.
// The window is active only when both bounds are >= 0.
type Validator struct {
	YearMin int
	YearMax int
}

// NoWindow returns a Validator that accepts any year.
func NoWindow() Validator {
	return Validator{YearMin: -1, YearMax: -1}
}

// Active reports whether the year window is enforced.
func (v Validator) Active() bool {
	return v.YearMin >= 0 && v.YearMax >= 0
}

// Check verifies m against the year window.
func (v Validator) Check(m Month) error {
	if v.Active() && (m.Year < v.YearMin || m.Year > v.YearMax) {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrYearOutOfRange, m.Year, v.YearMin, v.YearMax)
	}
	return nil
}

// Parse parses expr and applies the year window.
func (v Validator) Parse(expr string) (Month, error) {
	m, err := Parse(expr)
	if err != nil {
		return Month{}, err
	}
	if err := v.Check(m); err != nil {
		return Month{}, err
	}
	return m, nil
}
