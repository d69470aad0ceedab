package storage

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// CalendarToICS serializes a VCALENDAR to iCalendar text. Missing VERSION,
// PRODID and per-component DTSTAMP values are filled in so the encoder does
// not reject the document.
func CalendarToICS(cal *ical.Calendar) (string, error) {
	if v, err := cal.Props.Text(ical.PropVersion); err != nil || v == "" {
		cal.Props.SetText(ical.PropVersion, "2.0")
	}
	if v, err := cal.Props.Text(ical.PropProductID); err != nil || v == "" {
		cal.Props.SetText(ical.PropProductID, "-//libschedav//NONSGML v1.0//EN")
	}
	for _, child := range cal.Children {
		switch child.Name {
		case ical.CompEvent, ical.CompToDo, ical.CompJournal:
			if child.Props.Get(ical.PropDateTimeStamp) == nil {
				child.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
			}
		}
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.String(), nil
}

// ICSToCalendar parses iCalendar text into a VCALENDAR.
func ICSToCalendar(ics string) (*ical.Calendar, error) {
	cal, err := ical.NewDecoder(strings.NewReader(ics)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode calendar: %w", err)
	}
	return cal, nil
}
