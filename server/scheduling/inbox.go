package scheduling

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/acrite/libschedav/server/storage"
	"github.com/emersion/go-ical"
)

// Inbox processor: reconciles delivered scheduling documents into the
// recipient's own calendar objects and resolves cascades to a fixpoint.
//
// The fixpoint is an explicit work-list rather than recursion: pop one
// message, dispatch, mark resolved, push whatever the dispatch produced.
// Termination does not rest on recursion depth; the dispatched guard
// ensures no (method, uid, recipient) triple is processed twice in one
// pass, and every generated recipient already belongs to the series'
// attendee set.

// runPass drains the work list. Cancellation is honored between messages:
// completed deliveries stay durable, nothing further is written.
func (e *Engine) runPass(ctx context.Context, p *pass, msgs []*Message) error {
	queue := append([]*Message(nil), msgs...)
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		m := queue[0]
		queue = queue[1:]
		if m.Resolved || m.Calendar == nil {
			continue
		}

		produced, err := e.dispatch(ctx, p, m)
		m.Resolved = true
		if err != nil {
			return err
		}
		queue = append(queue, produced...)
	}
	return nil
}

// dispatch delivers one message and, for local recipients, reconciles it by
// method. Unknown methods are logged and dropped without failing the batch.
func (e *Engine) dispatch(ctx context.Context, p *pass, m *Message) ([]*Message, error) {
	method := m.Method()
	key := method + "\x00" + messageUID(m.Calendar) + "\x00" + NormalizeEmail(m.Recipient)
	if p.dispatched[key] {
		e.Logger.Warn("dropping repeated scheduling message",
			"method", method,
			"recipient", m.Recipient)
		return nil, nil
	}
	p.dispatched[key] = true

	principal, err := e.deliver(ctx, p, m)
	if err != nil {
		return nil, err
	}
	recipient, local := principal.Get()
	if !local {
		return nil, nil
	}
	return e.reconcileLocal(ctx, p, recipient, method, m)
}

func (e *Engine) reconcileLocal(ctx context.Context, p *pass, recipient Principal, method string, m *Message) ([]*Message, error) {
	switch method {
	case MethodRequest:
		return e.inboxRequest(ctx, p, recipient, m)
	case MethodReply:
		return e.inboxReply(ctx, p, recipient, m)
	case MethodCancel:
		return e.inboxCancel(ctx, p, recipient, m)
	default:
		e.Logger.Warn("unsupported scheduling method, dropping",
			"method", method,
			"recipient", recipient.UserID)
		return nil, nil
	}
}

func messageUID(cal *ical.Calendar) string {
	for _, comp := range cal.Children {
		if !isSchedulingComponent(comp.Name) {
			continue
		}
		if uid, err := comp.Props.Text(ical.PropUID); err == nil {
			return uid
		}
	}
	return ""
}

// inboxRequest merges an invitation into the recipient's copy, or stores it
// verbatim when they have none yet. Replays of an already-merged REQUEST
// are no-ops.
func (e *Engine) inboxRequest(ctx context.Context, p *pass, recipient Principal, m *Message) ([]*Message, error) {
	incoming, err := NewSnapshot(m.Calendar)
	if err != nil {
		e.Logger.Warn("unusable request payload", "error", err)
		return nil, nil
	}

	stored, err := e.Store.FindObjectByUID(ctx, recipient.UserID, incoming.UID)
	if errors.Is(err, storage.ErrNotFound) {
		data := cloneCalendar(m.Calendar)
		data.Props.Del(ical.PropMethod)
		obj := &storage.CalendarObject{ID: p.itemName(m), Data: data}
		if _, err := e.Store.UpdateObject(ctx, recipient.UserID, e.defaultCalendar(), obj); err != nil {
			return nil, err
		}
		p.written(recipient.UserID, e.defaultCalendar(), obj)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	target, err := NewSnapshot(stored.Data)
	if err != nil {
		e.Logger.Warn("stored object unusable, ignoring request",
			"uid", incoming.UID, "user_id", recipient.UserID, "error", err)
		return nil, nil
	}

	mergeSnapshots(target, incoming)

	if _, err := e.Store.UpdateObject(ctx, stored.UserID, stored.CalendarID, stored); err != nil {
		return nil, err
	}
	p.written(stored.UserID, stored.CalendarID, stored)
	return nil, nil
}

// syncProps are the organizer-controlled properties propagated into an
// attendee's copy on a REQUEST merge.
var syncProps = []string{
	ical.PropDateTimeStart,
	ical.PropDateTimeEnd,
	ical.PropDue,
	ical.PropDuration,
	ical.PropRecurrenceRule,
	ical.PropRecurrenceDates,
	ical.PropExceptionDates,
	ical.PropSummary,
	ical.PropDescription,
	ical.PropLocation,
	ical.PropStatus,
	ical.PropTransparency,
	ical.PropSequence,
	ical.PropDateTimeStamp,
	ical.PropLastModified,
	ical.PropOrganizer,
}

func mergeSnapshots(target, incoming *Snapshot) {
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

	for _, match := range Reconcile(keyed(target), keyed(incoming), func(kc keyedComp) string { return kc.key }) {
		switch {
		case match.Both():
			storedComp := match.Left.MustGet().comp
			incomingComp := match.Right.MustGet().comp
			restoreProps(storedComp, incomingComp, syncProps)
			mergeAttendees(storedComp, incomingComp)

		case match.RightOnly():
			kc := match.Right.MustGet()
			added := cloneComponent(kc.comp)
			target.Calendar.Children = append(target.Calendar.Children, added)
			if kc.key == "" {
				target.Reference = added
			} else {
				target.Occurrences[kc.key] = added
			}

		case match.LeftOnly():
			// An occurrence the organizer no longer sends is gone,
			// but only overrides carry a recurrence id; the
			// reference stays.
			if match.Key == "" {
				continue
			}
			kc := match.Left.MustGet()
			removeComponent(target.Calendar, kc.comp)
			delete(target.Occurrences, kc.key)
		}
	}
}

// mergeAttendees updates only server-scheduled attendee entries from the
// incoming message; entries the server does not manage are left alone.
func mergeAttendees(storedComp, incomingComp *ical.Component) {
	for _, am := range Reconcile(componentAttendees(storedComp), componentAttendees(incomingComp), Attendee.Email) {
		switch {
		case am.Both():
			storedAtt := am.Left.MustGet()
			if storedAtt.Agent() != AgentServer {
				continue
			}
			incomingAtt := am.Right.MustGet()
			storedAtt.SetPartStat(incomingAtt.PartStat())
			storedAtt.SetScheduleStatus(incomingAtt.ScheduleStatus())
		case am.RightOnly():
			added := cloneProp(*am.Right.MustGet().Prop)
			storedComp.Props.Add(&added)
		}
	}
}

// inboxReply records an attendee's answer on the organizer's master and
// re-notifies the other local attendees.
func (e *Engine) inboxReply(ctx context.Context, p *pass, recipient Principal, m *Message) ([]*Message, error) {
	reply, err := NewSnapshot(m.Calendar)
	if err != nil {
		e.Logger.Warn("unusable reply payload", "error", err)
		return nil, nil
	}

	org, ok := reply.Organizer().Get()
	if !ok {
		e.Logger.Warn("reply without organizer, dropping", "uid", reply.UID)
		return nil, nil
	}
	organizerEmail := org.Email()

	replierEmail, ok := singleAttendee(reply)
	if !ok {
		e.Logger.Warn("reply must contain exactly one attendee, dropping", "uid", reply.UID)
		return nil, nil
	}

	stored, err := e.Store.FindObjectByUID(ctx, recipient.UserID, reply.UID)
	if errors.Is(err, storage.ErrNotFound) {
		e.Logger.Info("no master for reply, ignoring",
			"uid", reply.UID, "user_id", recipient.UserID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	target, err := NewSnapshot(stored.Data)
	if err != nil {
		e.Logger.Warn("stored master unusable, ignoring reply",
			"uid", reply.UID, "error", err)
		return nil, nil
	}

	changed := false
	for _, key := range reply.Keys() {
		replyComp := reply.Component(key)
		replyAtt, ok := findAttendee(replyComp, replierEmail).Get()
		if !ok {
			continue
		}

		targetComp := target.Component(key)
		if targetComp == nil && key != "" {
			targetComp = e.materializeOccurrence(target, replyComp)
			if targetComp == nil {
				continue
			}
		}
		if targetComp == nil {
			continue
		}

		att, ok := findAttendee(targetComp, replierEmail).Get()
		if !ok {
			e.Logger.Debug("replier not on stored occurrence",
				"uid", reply.UID, "attendee", replierEmail, "recurrence_id", key)
			continue
		}
		previous := att.PartStat()
		next := replyAtt.PartStat()
		if next == previous {
			continue
		}
		att.SetPartStat(next)
		att.SetScheduleStatus(StatusSuccess)
		changed = true

		if key == "" {
			// A series-level answer also covers every synthetic
			// occurrence still showing the pre-reply status.
			for _, occKey := range target.Keys() {
				if occKey == "" {
					continue
				}
				occAtt, ok := findAttendee(target.Occurrences[occKey], replierEmail).Get()
				if ok && occAtt.PartStat() == previous {
					occAtt.SetPartStat(next)
					occAtt.SetScheduleStatus(StatusSuccess)
				}
			}
		}
	}

	if !changed {
		return nil, nil
	}

	if _, err := e.Store.UpdateObject(ctx, stored.UserID, stored.CalendarID, stored); err != nil {
		return nil, err
	}
	p.written(stored.UserID, stored.CalendarID, stored)

	// Keep the other attendees' copies current. Local principals only:
	// re-notifying remote attendees on every reply would make each answer
	// fan out over the wire.
	return e.replyCascade(target, organizerEmail, replierEmail), nil
}

func (e *Engine) replyCascade(target *Snapshot, organizerEmail, replierEmail string) []*Message {
	seen := make(map[string]*ical.Prop)
	var emails []string
	for _, comp := range target.Components() {
		for _, att := range componentAttendees(comp) {
			email := att.Email()
			if email == "" || email == organizerEmail || email == replierEmail {
				continue
			}
			if _, ok := seen[email]; !ok {
				seen[email] = att.Prop
				emails = append(emails, email)
			}
		}
	}
	sort.Strings(emails)

	var msgs []*Message
	for _, email := range emails {
		cal := createRequest(email, organizerEmail, target)
		if cal == nil {
			continue
		}
		msgs = append(msgs, &Message{
			Recipient: email,
			Sender:    organizerEmail,
			Calendar:  cal,
			LocalOnly: true,
			status:    seen[email],
		})
	}
	return msgs
}

// singleAttendee validates that the reply carries exactly one attendee
// entry overall and returns its email.
func singleAttendee(snap *Snapshot) (string, bool) {
	var email string
	count := 0
	for _, comp := range snap.Components() {
		atts := componentAttendees(comp)
		if len(atts) != 1 {
			return "", false
		}
		if email == "" {
			email = atts[0].Email()
		} else if email != atts[0].Email() {
			return "", false
		}
		count++
	}
	return email, count > 0 && email != ""
}

// materializeOccurrence creates a synthetic override from the master, but
// only when the recurrence id is a real occurrence of the series.
func (e *Engine) materializeOccurrence(target *Snapshot, replyComp *ical.Component) *ical.Component {
	if target.Reference == nil {
		return nil
	}
	rid := replyComp.Props.Get(ical.PropRecurrenceID)
	if rid == nil {
		return nil
	}

	ridTime, err := rid.DateTime(time.UTC)
	if err != nil {
		e.Logger.Debug("unparseable recurrence id in reply", "error", err)
		return nil
	}
	masterStart, err := target.Reference.Props.DateTime(ical.PropDateTimeStart, time.UTC)
	if err != nil {
		return nil
	}

	var rruleStr string
	if prop := target.Reference.Props.Get(ical.PropRecurrenceRule); prop != nil {
		rruleStr = prop.Value
	}
	valid, err := e.Recurrence.OccurrenceValid(masterStart, rruleStr,
		dateListValues(target.Reference, ical.PropRecurrenceDates),
		dateListValues(target.Reference, ical.PropExceptionDates),
		ridTime)
	if err != nil {
		e.Logger.Debug("recurrence validation failed", "error", err)
		return nil
	}
	if !valid {
		e.Logger.Debug("reply names an occurrence outside the series",
			"uid", target.UID, "recurrence_id", rid.Value)
		return nil
	}

	synth := cloneComponent(target.Reference)
	synth.Props.Del(ical.PropRecurrenceRule)
	synth.Props.Del(ical.PropRecurrenceDates)
	synth.Props.Del(ical.PropExceptionDates)
	ridClone := cloneProp(*rid)
	synth.Props.Add(&ridClone)

	// Shift the interval to the instance.
	if masterEnd, err := target.Reference.Props.DateTime(ical.PropDateTimeEnd, time.UTC); err == nil {
		synth.Props.SetDateTime(ical.PropDateTimeEnd, ridTime.Add(masterEnd.Sub(masterStart)))
	}
	start := cloneProp(*rid)
	start.Name = ical.PropDateTimeStart
	synth.Props.Set(&start)

	target.Calendar.Children = append(target.Calendar.Children, synth)
	target.Occurrences[rid.Value] = synth
	return synth
}

// inboxCancel deletes the recipient's copy, or excludes the cancelled
// instances when only part of a recurring series is withdrawn.
func (e *Engine) inboxCancel(ctx context.Context, p *pass, recipient Principal, m *Message) ([]*Message, error) {
	incoming, err := NewSnapshot(m.Calendar)
	if err != nil {
		e.Logger.Warn("unusable cancel payload", "error", err)
		return nil, nil
	}

	stored, err := e.Store.FindObjectByUID(ctx, recipient.UserID, incoming.UID)
	if errors.Is(err, storage.ErrNotFound) {
		e.Logger.Info("no stored object to cancel, ignoring",
			"uid", incoming.UID, "user_id", recipient.UserID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	target, err := NewSnapshot(stored.Data)
	if err != nil {
		e.Logger.Warn("stored object unusable, ignoring cancel",
			"uid", incoming.UID, "error", err)
		return nil, nil
	}

	if incoming.Reference != nil || target.Reference == nil {
		if err := e.Store.DeleteObject(ctx, stored.UserID, stored.CalendarID, stored.ID); err != nil {
			return nil, err
		}
		p.deleted(stored.UserID, stored.CalendarID, stored)
		return nil, nil
	}

	for _, key := range incoming.Keys() {
		rid := incoming.Occurrences[key].Props.Get(ical.PropRecurrenceID)
		if rid == nil {
			continue
		}
		addExceptionDate(target.Reference, *rid)
		if occ, ok := target.Occurrences[key]; ok {
			removeComponent(target.Calendar, occ)
			delete(target.Occurrences, key)
		}
	}

	if _, err := e.Store.UpdateObject(ctx, stored.UserID, stored.CalendarID, stored); err != nil {
		return nil, err
	}
	p.written(stored.UserID, stored.CalendarID, stored)
	return nil, nil
}

func removeComponent(cal *ical.Calendar, comp *ical.Component) {
	kept := cal.Children[:0]
	for _, child := range cal.Children {
		if child != comp {
			kept = append(kept, child)
		}
	}
	cal.Children = kept
}

// dateListValues parses a possibly multi-valued date property into times.
// Unparseable entries are skipped.
func dateListValues(comp *ical.Component, name string) []time.Time {
	var out []time.Time
	for _, prop := range comp.Props[name] {
		for _, value := range strings.Split(prop.Value, ",") {
			if value == "" {
				continue
			}
			single := cloneProp(prop)
			single.Value = value
			if t, err := single.DateTime(time.UTC); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}
