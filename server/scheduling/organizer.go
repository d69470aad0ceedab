package scheduling

import (
	"log/slog"

	"github.com/emersion/go-ical"
)

// Organizer state machine: reacts to writes on the organizer's own copy and
// computes who to invite or cancel. Every function here is pure over the
// snapshots; delivery happens later in the work-list loop.
//
// The notified set guarantees the per-pass invariant: each distinct
// attendee email appears in at most one outbound message, even when the
// attendee shows up in several occurrences.

type organizerPass struct {
	organizerEmail string
	notified       map[string]bool
	logger         *slog.Logger
}

// invitable applies the invitation filter: server-scheduled, not the
// organizer, not already responded unless forced, not already notified
// this pass.
func (p *organizerPass) invitable(att Attendee, force bool) bool {
	email := att.Email()
	if email == "" || email == p.organizerEmail || p.notified[email] {
		return false
	}
	if att.Agent() != AgentServer {
		return false
	}
	if att.PartStat().Responded() && !force {
		return false
	}
	return true
}

// request emits at most one REQUEST covering the attendee's whole share of
// the snapshot.
func (p *organizerPass) request(att Attendee, snap *Snapshot, force bool) *Message {
	if !p.invitable(att, force) {
		return nil
	}
	email := att.Email()
	cal := createRequest(email, p.organizerEmail, snap)
	if cal == nil {
		return nil
	}
	p.notified[email] = true
	p.logger.Debug("organizer request queued", "attendee", email, "uid", snap.UID)
	return &Message{
		Recipient: email,
		Sender:    p.organizerEmail,
		Calendar:  cal,
		status:    att.Prop,
	}
}

func (p *organizerPass) cancel(comp *ical.Component, att Attendee, uid string) *Message {
	email := att.Email()
	if email == "" || p.notified[email] {
		return nil
	}
	cal := createCancel(comp, att, p.organizerEmail)
	if cal == nil {
		return nil
	}
	p.notified[email] = true
	p.logger.Debug("organizer cancel queued", "attendee", email, "uid", uid)
	return &Message{
		Recipient: email,
		Sender:    p.organizerEmail,
		Calendar:  cal,
		status:    att.Prop,
	}
}

// organizerInsert invites every attendee of a newly created object.
func (p *organizerPass) organizerInsert(snap *Snapshot, force bool) []*Message {
	var msgs []*Message
	for _, comp := range snap.Components() {
		for _, att := range componentAttendees(comp) {
			if msg := p.request(att, snap, force); msg != nil {
				msgs = append(msgs, msg)
			}
		}
	}
	return msgs
}

// organizerUpdate reconciles the old and new occurrence sets and notifies
// the difference.
func (p *organizerPass) organizerUpdate(previous, current *Snapshot) []*Message {
	coreChanged := isCoreScheduleChanged(previous, current)
	if coreChanged {
		// Everyone has to answer the changed schedule again.
		p.resetParticipation(current)
	}

	// A reference-level attendee removal restructures the whole series
	// for everybody left on it; re-invite attendees that already
	// responded too.
	notifyAll := false
	if previous.Reference != nil && current.Reference != nil {
		for _, m := range Reconcile(componentAttendees(previous.Reference), componentAttendees(current.Reference), Attendee.Email) {
			if m.LeftOnly() {
				notifyAll = true
			}
		}
	}
	force := coreChanged || notifyAll

	var msgs []*Message
	appendMsg := func(m *Message) {
		if m != nil {
			msgs = append(msgs, m)
		}
	}

	type keyedComp struct {
		key  string
		comp *ical.Component
	}
	keyed := func(snap *Snapshot) []keyedComp {
		out := make([]keyedComp, 0, len(snap.Occurrences)+1)
		for _, key := range snap.Keys() {
			out = append(out, keyedComp{key: key, comp: snap.Component(key)})
		}
		return out
	}

	for _, match := range Reconcile(keyed(previous), keyed(current), func(kc keyedComp) string { return kc.key }) {
		switch {
		case match.Both():
			oldComp := match.Left.MustGet().comp
			newComp := match.Right.MustGet().comp
			for _, am := range Reconcile(componentAttendees(oldComp), componentAttendees(newComp), Attendee.Email) {
				switch {
				case am.LeftOnly():
					att := am.Left.MustGet()
					// Still on another part of the series: their
					// REQUEST copy carries the exclusion instead.
					if p.attendeeAnywhere(current, att.Email()) {
						continue
					}
					appendMsg(p.cancel(oldComp, att, previous.UID))
				case am.RightOnly():
					appendMsg(p.request(am.Right.MustGet(), current, force))
				case force:
					appendMsg(p.request(am.Right.MustGet(), current, force))
				}
			}
		case match.RightOnly():
			for _, att := range componentAttendees(match.Right.MustGet().comp) {
				appendMsg(p.request(att, current, force))
			}
		case match.LeftOnly():
			oldComp := match.Left.MustGet().comp
			for _, att := range componentAttendees(oldComp) {
				if p.attendeeAnywhere(current, att.Email()) {
					continue
				}
				appendMsg(p.cancel(oldComp, att, previous.UID))
			}
		}
	}

	return msgs
}

// organizerDelete cancels every attendee exactly once; the first occurrence
// an attendee is encountered on wins.
func (p *organizerPass) organizerDelete(snap *Snapshot) []*Message {
	var msgs []*Message
	for _, comp := range snap.Components() {
		for _, att := range componentAttendees(comp) {
			if msg := p.cancel(comp, att, snap.UID); msg != nil {
				msgs = append(msgs, msg)
			}
		}
	}
	return msgs
}

func (p *organizerPass) attendeeAnywhere(snap *Snapshot, email string) bool {
	for _, comp := range snap.Components() {
		if findAttendee(comp, email).IsPresent() {
			return true
		}
	}
	return false
}

// resetParticipation puts every non-organizer, server-scheduled attendee
// back to NEEDS-ACTION and clears their schedule-status, forcing full
// re-notification after a core schedule change.
func (p *organizerPass) resetParticipation(snap *Snapshot) {
	for _, comp := range snap.Components() {
		for _, att := range componentAttendees(comp) {
			if att.Email() == p.organizerEmail || att.Agent() != AgentServer {
				continue
			}
			att.SetPartStat(PartStatNeedsAction)
			att.SetScheduleStatus("")
		}
	}
}

// coreScheduleProps define the interval of the reference component; a
// change in any of them invalidates every recorded answer.
var coreScheduleProps = []string{
	ical.PropDateTimeStart,
	ical.PropDateTimeEnd,
	ical.PropDue,
	ical.PropDuration,
	ical.PropRecurrenceRule,
}

// isCoreScheduleChanged reports whether the reference interval, its
// recurrence rule, or the set of occurrence keys differs between the two
// versions.
func isCoreScheduleChanged(previous, current *Snapshot) bool {
	if (previous.Reference == nil) != (current.Reference == nil) {
		return true
	}
	if previous.Reference != nil {
		for _, name := range coreScheduleProps {
			if !samePropValue(previous.Reference.Props.Get(name), current.Reference.Props.Get(name)) {
				return true
			}
		}
	}

	if len(previous.Occurrences) != len(current.Occurrences) {
		return true
	}
	for key := range previous.Occurrences {
		if _, ok := current.Occurrences[key]; !ok {
			return true
		}
	}
	return false
}

// samePropValue compares raw values plus the TZID parameter; two absent
// props are equal.
func samePropValue(a, b *ical.Prop) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return a.Value == b.Value &&
		a.Params.Get(ical.ParamTimezoneID) == b.Params.Get(ical.ParamTimezoneID)
}
