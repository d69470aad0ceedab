// Package recurrence evaluates recurrence rules for the scheduling engine.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// Engine provides unified recurrence expansion and validation logic
type Engine struct {
	// Future: can add caching, configuration, etc.
}

// NewEngine creates a new recurrence engine instance
func NewEngine() *Engine {
	return &Engine{}
}

// OccurrenceValid reports whether rid identifies a real occurrence of a
// series starting at masterStart: either generated by the RRULE, listed as
// an RDATE, or equal to the master start itself, and in all cases not
// excluded by an EXDATE. The scheduling inbox uses this before
// materializing a synthetic recurrence override from an incoming reply.
func (e *Engine) OccurrenceValid(masterStart time.Time, rruleStr string, rdates, exdates []time.Time, rid time.Time) (bool, error) {
	if e.isExcluded(rid, exdates) {
		return false, nil
	}

	if rid.Equal(masterStart) {
		return true, nil
	}

	for _, rdate := range rdates {
		if rid.Equal(rdate) {
			return true, nil
		}
	}

	if rruleStr == "" {
		return false, nil
	}

	// Expand a window of one day on each side of the candidate; the rule
	// either produces this instant or it doesn't.
	occurrences, err := e.expandRRule(masterStart, rruleStr, rid.Add(-24*time.Hour), rid.Add(24*time.Hour))
	if err != nil {
		return false, err
	}
	for _, occurrence := range occurrences {
		if occurrence.Equal(rid) {
			return true, nil
		}
	}
	return false, nil
}

// expandRRule expands an RRULE within the given time range
func (e *Engine) expandRRule(masterStart time.Time, rruleStr string, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	// Build the full RRULE string for parsing
	dtstart := masterStart.UTC().Format("20060102T150405Z")
	fullRRule := fmt.Sprintf("DTSTART:%s\nRRULE:%s", dtstart, rruleStr)

	ruleSet, err := rrule.StrToRRuleSet(fullRRule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE '%s': %w", rruleStr, err)
	}

	// Note: rrule-go's Between method is inclusive of start, exclusive of end
	return ruleSet.Between(rangeStart, rangeEnd, true), nil
}

// isExcluded checks if a given time is in the EXDATE list
func (e *Engine) isExcluded(t time.Time, exdates []time.Time) bool {
	for _, exdate := range exdates {
		if t.Equal(exdate) {
			return true
		}

		// For date-only exceptions (stored as midnight UTC), check if the occurrence
		// falls on the same date when normalized to midnight UTC
		if exdate.Hour() == 0 && exdate.Minute() == 0 && exdate.Second() == 0 && exdate.Location() == time.UTC {
			occurrenceAtMidnight := time.Date(
				t.Year(), t.Month(), t.Day(),
				0, 0, 0, 0, time.UTC,
			)
			if occurrenceAtMidnight.Equal(exdate) {
				return true
			}
		}
	}
	return false
}
