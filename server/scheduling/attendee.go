package scheduling

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-ical"
)

// Attendee state machine: reacts to writes on an attendee's copy of a
// scheduling object. Validates that the attendee only changed what they are
// allowed to change and computes REPLY documents for the organizer. Applies
// only when the organizer's agent is Server and the caller has not
// suppressed scheduling replies.

// protectedProps may never be attendee-written except by verbatim
// carry-over from the previously stored version. EXDATE is the one
// exception: adding exclusions is how an attendee declines single
// instances, so it survives on their copy and turns into synthetic
// Declined replies instead of being restored.
var protectedProps = []string{
	ical.PropDateTimeStart,
	ical.PropDateTimeEnd,
	ical.PropDue,
	ical.PropDuration,
	ical.PropRecurrenceRule,
	ical.PropRecurrenceDates,
	ical.PropOrganizer,
	ical.PropUID,
	ical.PropSequence,
}

type attendeePass struct {
	ownEmail       string
	organizerEmail string
	logger         *slog.Logger
}

// attendeeInsert handles an attendee directly creating the resource, e.g.
// from an imported invite. No reply is due while their own participation is
// still unanswered.
func (p *attendeePass) attendeeInsert(snap *Snapshot) (*Message, error) {
	first := snap.First()
	att, ok := findAttendee(first, p.ownEmail).Get()
	if !ok {
		return nil, fmt.Errorf("own attendee entry %q missing: %w", p.ownEmail, ErrNotAllowed)
	}
	if !att.PartStat().Responded() {
		return nil, nil
	}

	msg := &Message{
		Recipient: p.organizerEmail,
		Sender:    p.ownEmail,
		Calendar:  createReply(first, att, p.organizerEmail),
	}
	// Speculatively mark delivery successful; the resolver downgrades to
	// pending if the organizer turns out not to be local.
	if org, ok := componentOrganizer(first).Get(); ok {
		org.SetScheduleStatus(StatusSuccess)
		msg.status = org.Prop
	}
	return msg, nil
}

// attendeeUpdate validates the changed copy against the previously stored
// version and computes at most one REPLY covering every occurrence whose
// participation actually changed.
func (p *attendeePass) attendeeUpdate(previous, current *Snapshot) (*Message, error) {
	if previous == nil {
		return nil, ErrMissingPrevious
	}

	// Newly added EXCEPTION-DATEs mean the attendee declined specific
	// instances while keeping the series. Diffed before the protected
	// property restore below, which would mask them.
	replies := p.declinedExceptions(previous, current)

	more, err := p.applyAllowedChanges(previous, current)
	if err != nil {
		return nil, err
	}
	replies = append(replies, more...)

	if len(replies) == 0 {
		return nil, nil
	}

	cal := newItipCalendar(MethodReply)
	for _, reply := range replies {
		if reply.Props.Get(ical.PropOrganizer) == nil && p.organizerEmail != "" {
			reply.Props.SetText(ical.PropOrganizer, "mailto:"+p.organizerEmail)
		}
		cal.Children = append(cal.Children, reply)
	}

	msg := &Message{
		Recipient: p.organizerEmail,
		Sender:    p.ownEmail,
		Calendar:  cal,
	}
	if org, ok := current.Organizer().Get(); ok {
		org.SetScheduleStatus(StatusSuccess)
		msg.status = org.Prop
	}
	return msg, nil
}

// attendeeDelete handles the attendee removing their own copy: the entry is
// marked Declined and one REPLY goes to the organizer. Reached only after
// the engine confirmed a master for the series still exists; deletes of
// already-cancelled events are ignored.
func (p *attendeePass) attendeeDelete(snap *Snapshot) (*Message, error) {
	first := snap.First()
	att, ok := findAttendee(first, p.ownEmail).Get()
	if !ok {
		p.logger.Debug("no own attendee entry on deleted copy", "uid", snap.UID)
		return nil, nil
	}
	att.SetPartStat(PartStatDeclined)
	return &Message{
		Recipient: p.organizerEmail,
		Sender:    p.ownEmail,
		Calendar:  createReply(first, att, p.organizerEmail),
	}, nil
}

// applyAllowedChanges reconciles old and new occurrence sets in place on
// the current snapshot: protected properties are restored, silently dropped
// occurrences re-added verbatim, foreign attendee changes rejected. Returns
// one reply component per matched occurrence whose own participation
// changed.
func (p *attendeePass) applyAllowedChanges(previous, current *Snapshot) ([]*ical.Component, error) {
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

	var replies []*ical.Component
	for _, match := range Reconcile(keyed(previous), keyed(current), func(kc keyedComp) string { return kc.key }) {
		switch {
		case match.Both():
			oldComp := match.Left.MustGet().comp
			newComp := match.Right.MustGet().comp
			restoreProps(newComp, oldComp, protectedProps)

			changed, err := p.reconcileAttendees(oldComp, newComp)
			if err != nil {
				return nil, err
			}
			if changed != nil {
				replies = append(replies, replyComponent(newComp, *changed))
			}

		case match.LeftOnly():
			// An attendee may never silently drop a pre-existing
			// occurrence; carry it over verbatim.
			kc := match.Left.MustGet()
			restored := cloneComponent(kc.comp)
			current.Calendar.Children = append(current.Calendar.Children, restored)
			if kc.key == "" {
				current.Reference = restored
			} else {
				current.Occurrences[kc.key] = restored
			}
			p.logger.Debug("restored dropped occurrence", "uid", current.UID, "recurrence_id", kc.key)

		case match.RightOnly():
			// Occurrences the attendee adds are accepted as-is.
		}
	}
	return replies, nil
}

// reconcileAttendees enforces that only the attendee's own participation
// changed within one matched occurrence. Returns the own entry when its
// status differs from before.
func (p *attendeePass) reconcileAttendees(oldComp, newComp *ical.Component) (*Attendee, error) {
	var changed *Attendee
	for _, am := range Reconcile(componentAttendees(oldComp), componentAttendees(newComp), Attendee.Email) {
		switch {
		case am.LeftOnly():
			if am.Key == p.ownEmail {
				// Dropping the own entry is not a decline; restore it.
				restored := cloneProp(*am.Left.MustGet().Prop)
				newComp.Props.Add(&restored)
				continue
			}
			return nil, fmt.Errorf("attendee %q removed: %w", am.Key, ErrNotAllowed)
		case am.RightOnly():
			if am.Key != p.ownEmail {
				return nil, fmt.Errorf("attendee %q added: %w", am.Key, ErrNotAllowed)
			}
		default:
			oldAtt := am.Left.MustGet()
			newAtt := am.Right.MustGet()
			if am.Key != p.ownEmail {
				// Foreign entries are carried over verbatim rather
				// than rejected; clients routinely rewrite
				// parameters they should not touch.
				*newAtt.Prop = cloneProp(*oldAtt.Prop)
				continue
			}
			if newAtt.PartStat() != oldAtt.PartStat() {
				changed = &newAtt
			}
		}
	}
	return changed, nil
}

// declinedExceptions builds one synthetic Declined reply per recurrence id
// newly excluded on the reference.
func (p *attendeePass) declinedExceptions(previous, current *Snapshot) []*ical.Component {
	if previous.Reference == nil || current.Reference == nil {
		return nil
	}
	att, ok := findAttendee(current.Reference, p.ownEmail).Get()
	if !ok {
		return nil
	}

	old := make(map[string]bool)
	for _, ex := range exceptionDates(previous.Reference) {
		old[ex.Value] = true
	}

	var replies []*ical.Component
	for _, ex := range exceptionDates(current.Reference) {
		if old[ex.Value] {
			continue
		}
		replies = append(replies, declineReplyComponent(current.Reference, att, ex))
	}
	return replies
}

// exceptionDates expands EXDATE props, splitting comma-separated value
// lists into one pseudo-prop per date.
func exceptionDates(comp *ical.Component) []ical.Prop {
	var out []ical.Prop
	for _, prop := range comp.Props[ical.PropExceptionDates] {
		for _, value := range strings.Split(prop.Value, ",") {
			if value == "" {
				continue
			}
			single := cloneProp(prop)
			single.Value = value
			out = append(out, single)
		}
	}
	return out
}

// restoreProps overwrites the named properties on dst with src's verbatim
// values.
func restoreProps(dst, src *ical.Component, names []string) {
	for _, name := range names {
		dst.Props.Del(name)
		for _, prop := range src.Props[name] {
			cloned := cloneProp(prop)
			dst.Props.Add(&cloned)
		}
	}
}
