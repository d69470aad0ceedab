package scheduling

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEvent builds a VEVENT with the usual protocol properties set.
func newTestEvent(uid, organizer string) *ical.Component {
	event := ical.NewComponent(ical.CompEvent)
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetText(ical.PropSummary, "Team Sync")
	event.Props.SetDateTime(ical.PropDateTimeStamp, testStart.Add(-time.Hour))
	event.Props.SetDateTime(ical.PropDateTimeStart, testStart)
	event.Props.SetDateTime(ical.PropDateTimeEnd, testStart.Add(time.Hour))
	if organizer != "" {
		event.Props.SetText(ical.PropOrganizer, "mailto:"+organizer)
	}
	return event
}

func addAttendee(comp *ical.Component, email, partstat string) {
	prop := ical.NewProp(ical.PropAttendee)
	prop.Value = "mailto:" + email
	if partstat != "" {
		prop.Params.Set(ical.ParamParticipationStatus, partstat)
	}
	comp.Props.Add(prop)
}

func wrapCalendar(comps ...*ical.Component) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, comps...)
	return cal
}

// newOverride clones an event shape as a recurrence override for the given
// instance time.
func newOverride(uid, organizer string, rid time.Time) *ical.Component {
	event := newTestEvent(uid, organizer)
	event.Props.SetDateTime(ical.PropRecurrenceID, rid)
	event.Props.SetDateTime(ical.PropDateTimeStart, rid)
	event.Props.SetDateTime(ical.PropDateTimeEnd, rid.Add(time.Hour))
	return event
}

func mustSnapshot(t *testing.T, cal *ical.Calendar) *Snapshot {
	t.Helper()
	snap, err := NewSnapshot(cal)
	require.NoError(t, err)
	return snap
}

func attendeePartStat(t *testing.T, comp *ical.Component, email string) PartStat {
	t.Helper()
	att, ok := findAttendee(comp, email).Get()
	require.True(t, ok, "attendee %s not found", email)
	return att.PartStat()
}
