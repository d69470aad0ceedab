package scheduling

import (
	"time"

	"github.com/emersion/go-ical"
)

const productID = "-//libschedav//NONSGML v1.0//EN"

// replyProps is the fixed whitelist of protocol properties copied from the
// source component into a REPLY.
var replyProps = []string{
	ical.PropDateTimeStamp,
	ical.PropOrganizer,
	ical.PropRecurrenceID,
	ical.PropUID,
	ical.PropSequence,
	ical.PropDateTimeStart,
	ical.PropDateTimeEnd,
	ical.PropDuration,
	ical.PropRecurrenceRule,
	ical.PropRecurrenceDates,
	ical.PropRequestStatus,
	ical.PropStatus,
	ical.PropTransparency,
	ical.PropDue,
	ical.PropCompleted,
	ical.PropPercentComplete,
}

// cancelProps is the whitelist for CANCEL documents.
var cancelProps = []string{
	ical.PropDateTimeStart,
	ical.PropDateTimeEnd,
	ical.PropDuration,
	ical.PropDue,
	ical.PropDateTimeStamp,
	ical.PropUID,
	ical.PropTransparency,
	ical.PropCreated,
	ical.PropLastModified,
	ical.PropRecurrenceID,
	ical.PropOrganizer,
	ical.PropSequence,
	ical.PropRequestStatus,
}

func newItipCalendar(method string) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropMethod, method)
	return cal
}

// copyProps clones every instance of the named properties from src to dst.
func copyProps(dst, src *ical.Component, names []string) {
	for _, name := range names {
		for _, prop := range src.Props[name] {
			cloned := cloneProp(prop)
			dst.Props.Add(&cloned)
		}
	}
}

// stripScheduleStatus removes internal delivery markers from a document
// about to leave the organizer's copy.
func stripScheduleStatus(cal *ical.Calendar) {
	for _, comp := range cal.Children {
		if !isSchedulingComponent(comp.Name) {
			continue
		}
		for _, name := range []string{ical.PropOrganizer, ical.PropAttendee} {
			props := comp.Props[name]
			for i := range props {
				props[i].Params.Del(paramScheduleStatus)
			}
		}
	}
}

// replyComponent builds one REPLY instance from a source component,
// containing only the replying attendee.
func replyComponent(comp *ical.Component, att Attendee) *ical.Component {
	reply := ical.NewComponent(comp.Name)
	copyProps(reply, comp, replyProps)
	if reply.Props.Get(ical.PropDateTimeStamp) == nil {
		reply.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	}

	replier := cloneProp(*att.Prop)
	replier.Params.Del(paramScheduleStatus)
	reply.Props.Add(&replier)
	return reply
}

// createReply builds a METHOD:REPLY document from one component. The
// organizer address is set explicitly when the source component does not
// carry one.
func createReply(comp *ical.Component, att Attendee, organizerEmail string) *ical.Calendar {
	cal := newItipCalendar(MethodReply)
	reply := replyComponent(comp, att)
	if reply.Props.Get(ical.PropOrganizer) == nil && organizerEmail != "" {
		reply.Props.SetText(ical.PropOrganizer, "mailto:"+organizerEmail)
	}
	cal.Children = append(cal.Children, reply)
	return cal
}

// declineReplyComponent builds a synthetic Declined reply instance for a
// recurrence id the attendee excluded from the series.
func declineReplyComponent(reference *ical.Component, att Attendee, rid ical.Prop) *ical.Component {
	reply := ical.NewComponent(reference.Name)
	copyProps(reply, reference, []string{ical.PropUID, ical.PropOrganizer, ical.PropSequence})
	reply.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())

	ridProp := cloneProp(rid)
	ridProp.Name = ical.PropRecurrenceID
	reply.Props.Add(&ridProp)

	replier := cloneProp(*att.Prop)
	replier.Params.Del(paramScheduleStatus)
	Attendee{Prop: &replier}.SetPartStat(PartStatDeclined)
	reply.Props.Add(&replier)
	return reply
}

// createCancel builds a METHOD:CANCEL document from one component for
// exactly one attendee. Returns nil when no cancellation is due: the
// attendee is not server-scheduled, already declined, or is the organizer.
func createCancel(comp *ical.Component, att Attendee, organizerEmail string) *ical.Calendar {
	if att.Agent() != AgentServer {
		return nil
	}
	if att.PartStat() == PartStatDeclined {
		return nil
	}
	if att.Email() == organizerEmail {
		return nil
	}

	cal := newItipCalendar(MethodCancel)

	cancel := ical.NewComponent(comp.Name)
	copyProps(cancel, comp, cancelProps)
	if cancel.Props.Get(ical.PropDateTimeStamp) == nil {
		cancel.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	}

	target := cloneProp(*att.Prop)
	target.Params.Del(paramScheduleStatus)
	cancel.Props.Add(&target)

	cal.Children = append(cal.Children, cancel)
	return cal
}

// determineAttendance reports where in a snapshot an attendee is invited:
// on the reference component, and on which occurrence overrides. The agent
// flag is true when at least one of those entries is server-scheduled.
func determineAttendance(snap *Snapshot, email string) (inReference bool, serverAgent bool, occurrenceKeys []string) {
	if snap.Reference != nil {
		if att, ok := findAttendee(snap.Reference, email).Get(); ok {
			inReference = true
			serverAgent = att.Agent() == AgentServer
		}
	}
	for _, key := range snap.Keys() {
		if key == "" {
			continue
		}
		if att, ok := findAttendee(snap.Occurrences[key], email).Get(); ok {
			occurrenceKeys = append(occurrenceKeys, key)
			if att.Agent() == AgentServer {
				serverAgent = true
			}
		}
	}
	return inReference, serverAgent, occurrenceKeys
}

// createRequest builds a METHOD:REQUEST document inviting one attendee to
// every part of the snapshot they are on. Occurrences excluding an
// attendee invited on the reference become EXCEPTION-DATEs of their copy;
// an attendee invited on overrides only receives a document assembled from
// just those instances. Returns nil when the attendee is not
// server-scheduled anywhere.
func createRequest(email, organizerEmail string, snap *Snapshot) *ical.Calendar {
	inReference, serverAgent, occurrenceKeys := determineAttendance(snap, email)
	if !serverAgent {
		return nil
	}
	if !inReference && len(occurrenceKeys) == 0 {
		return nil
	}

	if !inReference {
		// Combine the invited instances into one REQUEST rather than
		// issuing several.
		cal := newItipCalendar(MethodRequest)
		for _, comp := range snap.Calendar.Children {
			if comp.Name == ical.CompTimezone {
				cal.Children = append(cal.Children, cloneComponent(comp))
			}
		}
		for _, key := range occurrenceKeys {
			cal.Children = append(cal.Children, cloneComponent(snap.Occurrences[key]))
		}
		stripScheduleStatus(cal)
		return cal
	}

	invited := make(map[string]bool, len(occurrenceKeys))
	for _, key := range occurrenceKeys {
		invited[key] = true
	}

	cal := cloneCalendar(snap.Calendar)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropMethod, MethodRequest)

	var reference *ical.Component
	kept := cal.Children[:0]
	var excluded []ical.Prop
	for _, comp := range cal.Children {
		if !isSchedulingComponent(comp.Name) {
			kept = append(kept, comp)
			continue
		}
		rid := comp.Props.Get(ical.PropRecurrenceID)
		if rid == nil {
			reference = comp
			kept = append(kept, comp)
			continue
		}
		if invited[rid.Value] {
			kept = append(kept, comp)
			continue
		}
		// This instance does not include the attendee: drop it and
		// exclude its slot from their copy of the series.
		excluded = append(excluded, *rid)
	}
	cal.Children = kept
	if reference != nil {
		for _, rid := range excluded {
			addExceptionDate(reference, rid)
		}
	}

	stripScheduleStatus(cal)
	return cal
}

// addExceptionDate appends an EXDATE carrying the recurrence id's value and
// its TZID/VALUE parameters.
func addExceptionDate(comp *ical.Component, rid ical.Prop) {
	ex := ical.NewProp(ical.PropExceptionDates)
	ex.Value = rid.Value
	if tzid := rid.Params.Get(ical.ParamTimezoneID); tzid != "" {
		ex.Params.Set(ical.ParamTimezoneID, tzid)
	}
	if value := rid.Params.Get(ical.ParamValue); value != "" {
		ex.Params.Set(ical.ParamValue, value)
	}
	comp.Props.Add(ex)
}
