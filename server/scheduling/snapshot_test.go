package scheduling

import (
	"testing"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshotMasterAndOverride(t *testing.T) {
	master := newTestEvent("uid-1", "alice@example.com")
	master.Props.SetText(ical.PropRecurrenceRule, "FREQ=DAILY;COUNT=5")
	override := newOverride("uid-1", "alice@example.com", testStart.AddDate(0, 0, 2))

	snap := mustSnapshot(t, wrapCalendar(master, override))

	assert.Equal(t, "uid-1", snap.UID)
	assert.Same(t, master, snap.Reference)
	require.Len(t, snap.Occurrences, 1)

	rid := override.Props.Get(ical.PropRecurrenceID)
	require.NotNil(t, rid)
	assert.Same(t, override, snap.Occurrences[rid.Value])

	// Reference sorts first under the empty key.
	assert.Equal(t, []string{"", rid.Value}, snap.Keys())
	assert.Same(t, master, snap.First())
	assert.Same(t, master, snap.Component(""))
	assert.Same(t, override, snap.Component(rid.Value))
}

func TestNewSnapshotOverridesOnly(t *testing.T) {
	override := newOverride("uid-1", "alice@example.com", testStart.AddDate(0, 0, 1))
	snap := mustSnapshot(t, wrapCalendar(override))

	assert.Nil(t, snap.Reference)
	assert.Same(t, override, snap.First())
}

func TestNewSnapshotErrors(t *testing.T) {
	t.Run("no components", func(t *testing.T) {
		_, err := NewSnapshot(wrapCalendar())
		assert.ErrorIs(t, err, errNoComponents)
	})

	t.Run("missing uid", func(t *testing.T) {
		event := newTestEvent("uid-1", "alice@example.com")
		event.Props.Del(ical.PropUID)
		_, err := NewSnapshot(wrapCalendar(event))
		assert.ErrorIs(t, err, errNoComponents)
	})

	t.Run("conflicting uids", func(t *testing.T) {
		_, err := NewSnapshot(wrapCalendar(
			newTestEvent("uid-1", "alice@example.com"),
			newOverride("uid-2", "alice@example.com", testStart.AddDate(0, 0, 1)),
		))
		assert.ErrorContains(t, err, "conflicting UIDs")
	})

	t.Run("multiple masters", func(t *testing.T) {
		_, err := NewSnapshot(wrapCalendar(
			newTestEvent("uid-1", "alice@example.com"),
			newTestEvent("uid-1", "alice@example.com"),
		))
		assert.ErrorContains(t, err, "multiple master components")
	})
}

func TestSnapshotIgnoresNonSchedulingComponents(t *testing.T) {
	tz := ical.NewComponent(ical.CompTimezone)
	tz.Props.SetText(ical.PropTimezoneID, "Europe/Berlin")
	event := newTestEvent("uid-1", "alice@example.com")

	snap := mustSnapshot(t, wrapCalendar(tz, event))
	assert.Same(t, event, snap.Reference)
	assert.Empty(t, snap.Occurrences)
}

func TestSnapshotOrganizerAndAttendees(t *testing.T) {
	event := newTestEvent("uid-1", "Alice@Example.com")
	addAttendee(event, "bob@example.com", "NEEDS-ACTION")
	snap := mustSnapshot(t, wrapCalendar(event))

	org, ok := snap.Organizer().Get()
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", org.Email())
	assert.True(t, snap.HasAttendees())

	att, ok := findAttendee(event, "bob@example.com").Get()
	require.True(t, ok)
	assert.Equal(t, PartStatNeedsAction, att.PartStat())

	// Views alias the stored props.
	att.SetPartStat(PartStatAccepted)
	assert.Equal(t, PartStatAccepted, attendeePartStat(t, event, "bob@example.com"))
}

func TestSnapshotNoAttendees(t *testing.T) {
	snap := mustSnapshot(t, wrapCalendar(newTestEvent("uid-1", "alice@example.com")))
	assert.False(t, snap.HasAttendees())
}

func TestPartStatZeroValueDistinctFromNeedsAction(t *testing.T) {
	event := newTestEvent("uid-1", "alice@example.com")
	addAttendee(event, "bob@example.com", "")

	att, ok := findAttendee(event, "bob@example.com").Get()
	require.True(t, ok)
	assert.Equal(t, PartStatUnset, att.PartStat())
	assert.NotEqual(t, PartStatNeedsAction, att.PartStat())
	assert.False(t, att.PartStat().Responded())
	assert.False(t, PartStatNeedsAction.Responded())
	assert.True(t, PartStatDeclined.Responded())
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "bob@example.com", NormalizeEmail("mailto:Bob@Example.COM"))
	assert.Equal(t, "bob@example.com", NormalizeEmail("MAILTO:bob@example.com"))
	assert.Equal(t, "bob@example.com", NormalizeEmail(" bob@example.com"))
	assert.Equal(t, "", NormalizeEmail(""))
}

func TestAttendeeAgent(t *testing.T) {
	event := newTestEvent("uid-1", "alice@example.com")
	addAttendee(event, "bob@example.com", "")
	att, _ := findAttendee(event, "bob@example.com").Get()

	// Absence of SCHEDULE-AGENT means the server schedules.
	assert.Equal(t, AgentServer, att.Agent())

	att.Prop.Params.Set(paramScheduleAgent, "CLIENT")
	assert.Equal(t, AgentClient, att.Agent())
	att.Prop.Params.Set(paramScheduleAgent, "NONE")
	assert.Equal(t, AgentNone, att.Agent())
}

func TestSnapshotKeysDeterministic(t *testing.T) {
	master := newTestEvent("uid-1", "alice@example.com")
	o1 := newOverride("uid-1", "alice@example.com", testStart.AddDate(0, 0, 1))
	o2 := newOverride("uid-1", "alice@example.com", testStart.AddDate(0, 0, 2))
	o3 := newOverride("uid-1", "alice@example.com", testStart.AddDate(0, 0, 3))

	snap := mustSnapshot(t, wrapCalendar(master, o3, o1, o2))
	keys := snap.Keys()
	for i := 0; i < 10; i++ {
		assert.Equal(t, keys, snap.Keys())
	}
	assert.Equal(t, "", keys[0])
	assert.Len(t, keys, 4)
}
