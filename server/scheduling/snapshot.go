package scheduling

import (
	"fmt"
	"sort"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// Snapshot normalizes a raw calendar document into the shape the state
// machines work on: one reference component (the non-instance master, if
// any) plus recurrence overrides keyed by their raw RECURRENCE-ID value.
// A snapshot is built fresh per processing pass, mutated in place during
// reconciliation, and serialized back out through its Calendar.
type Snapshot struct {
	UID       string
	Reference *ical.Component
	// Occurrences holds recurrence overrides. The reference component is
	// not in this map; reconciliation addresses it under the empty key.
	Occurrences map[string]*ical.Component
	Calendar    *ical.Calendar
}

func isSchedulingComponent(name string) bool {
	switch name {
	case ical.CompEvent, ical.CompToDo, ical.CompJournal:
		return true
	default:
		return false
	}
}

// NewSnapshot builds a snapshot from a parsed document. Returns
// errNoComponents when the document holds nothing schedulable (the caller
// treats that as a plain, non-scheduling write).
func NewSnapshot(cal *ical.Calendar) (*Snapshot, error) {
	s := &Snapshot{
		Occurrences: make(map[string]*ical.Component),
		Calendar:    cal,
	}

	for _, child := range cal.Children {
		if !isSchedulingComponent(child.Name) {
			continue
		}
		uid, err := child.Props.Text(ical.PropUID)
		if err != nil || uid == "" {
			return nil, fmt.Errorf("scheduling component without UID: %w", errNoComponents)
		}
		if s.UID == "" {
			s.UID = uid
		} else if s.UID != uid {
			return nil, fmt.Errorf("conflicting UIDs %q and %q in one object", s.UID, uid)
		}

		if rid := child.Props.Get(ical.PropRecurrenceID); rid != nil {
			s.Occurrences[rid.Value] = child
		} else {
			if s.Reference != nil {
				return nil, fmt.Errorf("multiple master components for UID %q", uid)
			}
			s.Reference = child
		}
	}

	if s.Reference == nil && len(s.Occurrences) == 0 {
		return nil, errNoComponents
	}
	return s, nil
}

// Keys returns occurrence keys in sorted order, preceded by the empty key
// when a reference component exists. Output never depends on map iteration
// order.
func (s *Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Occurrences)+1)
	if s.Reference != nil {
		keys = append(keys, "")
	}
	occ := make([]string, 0, len(s.Occurrences))
	for k := range s.Occurrences {
		occ = append(occ, k)
	}
	sort.Strings(occ)
	return append(keys, occ...)
}

// Component returns the component stored under a reconciliation key.
func (s *Snapshot) Component(key string) *ical.Component {
	if key == "" {
		return s.Reference
	}
	return s.Occurrences[key]
}

// Components returns the reference first, then occurrences in sorted-key
// order.
func (s *Snapshot) Components() []*ical.Component {
	comps := make([]*ical.Component, 0, len(s.Occurrences)+1)
	for _, key := range s.Keys() {
		comps = append(comps, s.Component(key))
	}
	return comps
}

// First returns the reference component, or the first occurrence when the
// document holds overrides only.
func (s *Snapshot) First() *ical.Component {
	keys := s.Keys()
	if len(keys) == 0 {
		return nil
	}
	return s.Component(keys[0])
}

// Organizer returns the ORGANIZER of the first component.
func (s *Snapshot) Organizer() mo.Option[Attendee] {
	first := s.First()
	if first == nil {
		return mo.None[Attendee]()
	}
	return componentOrganizer(first)
}

// HasAttendees reports whether any component carries an ATTENDEE.
func (s *Snapshot) HasAttendees() bool {
	for _, comp := range s.Components() {
		if len(comp.Props.Values(ical.PropAttendee)) > 0 {
			return true
		}
	}
	return false
}

func componentOrganizer(comp *ical.Component) mo.Option[Attendee] {
	prop := comp.Props.Get(ical.PropOrganizer)
	if prop == nil || NormalizeEmail(prop.Value) == "" {
		return mo.None[Attendee]()
	}
	return mo.Some(Attendee{Prop: prop})
}

// componentAttendees returns views over a component's ATTENDEE props. The
// views alias the stored props, so writes through them mutate the
// component.
func componentAttendees(comp *ical.Component) []Attendee {
	props := comp.Props[ical.PropAttendee]
	atts := make([]Attendee, 0, len(props))
	for i := range props {
		atts = append(atts, Attendee{Prop: &props[i]})
	}
	return atts
}

// findAttendee locates an attendee entry by normalized email. Uniqueness
// within one component is assumed, not re-validated.
func findAttendee(comp *ical.Component, email string) mo.Option[Attendee] {
	for _, att := range componentAttendees(comp) {
		if att.Email() == email {
			return mo.Some(att)
		}
	}
	return mo.None[Attendee]()
}
