package scheduling

import (
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAttendeePass() *attendeePass {
	return &attendeePass{
		ownEmail:       "bob@example.com",
		organizerEmail: "alice@example.com",
		logger:         testLogger(),
	}
}

func bobCopy(partstat string) *ical.Component {
	event := newTestEvent("uid-1", "alice@example.com")
	addAttendee(event, "bob@example.com", partstat)
	addAttendee(event, "carol@example.com", "NEEDS-ACTION")
	return event
}

func TestAttendeeUpdatePartStatChangeProducesReply(t *testing.T) {
	p := newAttendeePass()
	current := mustSnapshot(t, wrapCalendar(bobCopy("ACCEPTED")))
	msg, err := p.attendeeUpdate(
		mustSnapshot(t, wrapCalendar(bobCopy("NEEDS-ACTION"))),
		current)
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, "alice@example.com", msg.Recipient)
	assert.Equal(t, MethodReply, msg.Method())
	require.Len(t, msg.Calendar.Children, 1)

	reply := msg.Calendar.Children[0]
	atts := componentAttendees(reply)
	require.Len(t, atts, 1)
	assert.Equal(t, "bob@example.com", atts[0].Email())
	assert.Equal(t, PartStatAccepted, atts[0].PartStat())

	// Organizer delivery status recorded speculatively on bob's copy.
	org, ok := current.Organizer().Get()
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, org.ScheduleStatus())
	assert.Same(t, org.Prop, msg.status)
}

func TestAttendeeUpdateNoChangeNoReply(t *testing.T) {
	p := newAttendeePass()
	msg, err := p.attendeeUpdate(
		mustSnapshot(t, wrapCalendar(bobCopy("ACCEPTED"))),
		mustSnapshot(t, wrapCalendar(bobCopy("ACCEPTED"))))
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestAttendeeUpdateRequiresPrevious(t *testing.T) {
	p := newAttendeePass()
	_, err := p.attendeeUpdate(nil, mustSnapshot(t, wrapCalendar(bobCopy("ACCEPTED"))))
	assert.ErrorIs(t, err, ErrMissingPrevious)
}

func TestAttendeeUpdateRestoresProtectedProps(t *testing.T) {
	previous := mustSnapshot(t, wrapCalendar(bobCopy("NEEDS-ACTION")))

	changed := bobCopy("ACCEPTED")
	changed.Props.SetDateTime(ical.PropDateTimeStart, testStart.Add(3*time.Hour))
	current := mustSnapshot(t, wrapCalendar(changed))

	p := newAttendeePass()
	msg, err := p.attendeeUpdate(previous, current)
	require.NoError(t, err)
	require.NotNil(t, msg)

	// The attendee's attempt to move the event is silently undone; only
	// the participation change goes through.
	restored, err := current.Reference.Props.DateTime(ical.PropDateTimeStart, time.UTC)
	require.NoError(t, err)
	assert.True(t, restored.Equal(testStart))
}

func TestAttendeeUpdateForeignAttendeeRemovalRejected(t *testing.T) {
	previous := mustSnapshot(t, wrapCalendar(bobCopy("NEEDS-ACTION")))

	changed := newTestEvent("uid-1", "alice@example.com")
	addAttendee(changed, "bob@example.com", "ACCEPTED")
	current := mustSnapshot(t, wrapCalendar(changed))

	p := newAttendeePass()
	_, err := p.attendeeUpdate(previous, current)
	assert.ErrorIs(t, err, ErrNotAllowed)
}

func TestAttendeeUpdateForeignAttendeeAddRejected(t *testing.T) {
	previous := mustSnapshot(t, wrapCalendar(bobCopy("NEEDS-ACTION")))

	changed := bobCopy("NEEDS-ACTION")
	addAttendee(changed, "mallory@example.com", "ACCEPTED")
	current := mustSnapshot(t, wrapCalendar(changed))

	p := newAttendeePass()
	_, err := p.attendeeUpdate(previous, current)
	assert.ErrorIs(t, err, ErrNotAllowed)
}

func TestAttendeeUpdateForeignParamChangeCarriedOver(t *testing.T) {
	previous := mustSnapshot(t, wrapCalendar(bobCopy("NEEDS-ACTION")))

	changed := newTestEvent("uid-1", "alice@example.com")
	addAttendee(changed, "bob@example.com", "ACCEPTED")
	addAttendee(changed, "carol@example.com", "DECLINED") // client rewrote carol's status
	current := mustSnapshot(t, wrapCalendar(changed))

	p := newAttendeePass()
	msg, err := p.attendeeUpdate(previous, current)
	require.NoError(t, err)
	require.NotNil(t, msg)

	// Carol's entry is restored to what the organizer sent.
	assert.Equal(t, PartStatNeedsAction, attendeePartStat(t, current.Reference, "carol@example.com"))
}

func TestAttendeeUpdateOwnEntryRemovalRestored(t *testing.T) {
	previous := mustSnapshot(t, wrapCalendar(bobCopy("ACCEPTED")))

	changed := newTestEvent("uid-1", "alice@example.com")
	addAttendee(changed, "carol@example.com", "NEEDS-ACTION")
	current := mustSnapshot(t, wrapCalendar(changed))

	p := newAttendeePass()
	msg, err := p.attendeeUpdate(previous, current)
	require.NoError(t, err)
	assert.Nil(t, msg)

	// Dropping the own entry is not a decline.
	assert.Equal(t, PartStatAccepted, attendeePartStat(t, current.Reference, "bob@example.com"))
}

func TestAttendeeUpdateDroppedOccurrenceRestored(t *testing.T) {
	master := bobCopy("ACCEPTED")
	master.Props.SetText(ical.PropRecurrenceRule, "FREQ=DAILY;COUNT=5")
	override := newOverride("uid-1", "alice@example.com", testStart.AddDate(0, 0, 1))
	addAttendee(override, "bob@example.com", "ACCEPTED")
	previous := mustSnapshot(t, wrapCalendar(master, override))

	// Bob's client rewrote the object without the override.
	masterOnly := bobCopy("ACCEPTED")
	masterOnly.Props.SetText(ical.PropRecurrenceRule, "FREQ=DAILY;COUNT=5")
	current := mustSnapshot(t, wrapCalendar(masterOnly))

	p := newAttendeePass()
	msg, err := p.attendeeUpdate(previous, current)
	require.NoError(t, err)
	assert.Nil(t, msg)

	require.Len(t, current.Occurrences, 1)
	assert.Len(t, current.Calendar.Children, 2)
}

func TestAttendeeUpdateNewExdateBecomesDeclineReply(t *testing.T) {
	master := bobCopy("ACCEPTED")
	master.Props.SetText(ical.PropRecurrenceRule, "FREQ=DAILY;COUNT=5")
	previous := mustSnapshot(t, wrapCalendar(master))

	declined := bobCopy("ACCEPTED")
	declined.Props.SetText(ical.PropRecurrenceRule, "FREQ=DAILY;COUNT=5")
	ex := ical.NewProp(ical.PropExceptionDates)
	ex.Value = "20250604T100000Z"
	declined.Props.Add(ex)
	current := mustSnapshot(t, wrapCalendar(declined))

	p := newAttendeePass()
	msg, err := p.attendeeUpdate(previous, current)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, MethodReply, msg.Method())

	require.Len(t, msg.Calendar.Children, 1)
	reply := msg.Calendar.Children[0]

	rid := reply.Props.Get(ical.PropRecurrenceID)
	require.NotNil(t, rid)
	assert.Equal(t, "20250604T100000Z", rid.Value)

	atts := componentAttendees(reply)
	require.Len(t, atts, 1)
	assert.Equal(t, PartStatDeclined, atts[0].PartStat())

	// The exclusion itself stays on bob's copy.
	assert.NotNil(t, current.Reference.Props.Get(ical.PropExceptionDates))
}

func TestAttendeeInsert(t *testing.T) {
	p := newAttendeePass()

	t.Run("responded", func(t *testing.T) {
		msg, err := p.attendeeInsert(mustSnapshot(t, wrapCalendar(bobCopy("TENTATIVE"))))
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, MethodReply, msg.Method())
	})

	t.Run("unresponded", func(t *testing.T) {
		msg, err := p.attendeeInsert(mustSnapshot(t, wrapCalendar(bobCopy("NEEDS-ACTION"))))
		require.NoError(t, err)
		assert.Nil(t, msg)
	})

	t.Run("own entry missing", func(t *testing.T) {
		event := newTestEvent("uid-1", "alice@example.com")
		addAttendee(event, "carol@example.com", "ACCEPTED")
		_, err := p.attendeeInsert(mustSnapshot(t, wrapCalendar(event)))
		assert.ErrorIs(t, err, ErrNotAllowed)
	})
}

func TestAttendeeDelete(t *testing.T) {
	p := newAttendeePass()
	snap := mustSnapshot(t, wrapCalendar(bobCopy("ACCEPTED")))

	msg, err := p.attendeeDelete(snap)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, MethodReply, msg.Method())

	atts := componentAttendees(msg.Calendar.Children[0])
	require.Len(t, atts, 1)
	assert.Equal(t, PartStatDeclined, atts[0].PartStat())
}
