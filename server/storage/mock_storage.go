package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/mock"
)

// MockStorage implements the Storage interface for testing
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) AuthUser(ctx context.Context, username, password string) (string, error) {
	args := m.Called(username, password)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) GetUser(ctx context.Context, userID string) (*User, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockStorage) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	args := m.Called(email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockStorage) GetUserCalendars(ctx context.Context, userID string) ([]Calendar, error) {
	args := m.Called(userID)
	return args.Get(0).([]Calendar), args.Error(1)
}

func (m *MockStorage) GetCalendar(ctx context.Context, userID, calendarID string) (*Calendar, error) {
	args := m.Called(userID, calendarID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Calendar), args.Error(1)
}

func (m *MockStorage) EnsureCalendar(ctx context.Context, userID, calendarID string) (*Calendar, error) {
	args := m.Called(userID, calendarID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Calendar), args.Error(1)
}

func (m *MockStorage) GetObject(ctx context.Context, userID, calendarID, objectID string) (*CalendarObject, error) {
	args := m.Called(userID, calendarID, objectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CalendarObject), args.Error(1)
}

func (m *MockStorage) GetObjectPathsInCollection(ctx context.Context, userID, calendarID string) ([]string, error) {
	args := m.Called(userID, calendarID)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorage) FindObjectByUID(ctx context.Context, userID, uid string) (*CalendarObject, error) {
	args := m.Called(userID, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CalendarObject), args.Error(1)
}

func (m *MockStorage) UpdateObject(ctx context.Context, userID, calendarID string, object *CalendarObject) (string, error) {
	args := m.Called(userID, calendarID, object)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) DeleteObject(ctx context.Context, userID, calendarID, objectID string) error {
	args := m.Called(userID, calendarID, objectID)
	return args.Error(0)
}

// --- Helper methods for creating test data ---

// NewMockCalendar creates a test Calendar with basic properties
func NewMockCalendar(path, name, description string) Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropName, name)
	cal.Props.SetText(ical.PropDescription, description)

	return Calendar{
		Path:         path,
		CTag:         "ctag-" + path + "-1",
		ETag:         "etag-" + path + "-1",
		CalendarData: cal,
	}
}

// NewMockEvent creates a test VEVENT calendar object wrapped in a VCALENDAR.
func NewMockEvent(path, uid, summary string, start, end time.Time) CalendarObject {
	event := ical.NewComponent(ical.CompEvent)
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetText(ical.PropSummary, summary)
	event.Props.SetDateTime(ical.PropDateTimeStamp, start)
	event.Props.SetDateTime(ical.PropDateTimeStart, start)
	event.Props.SetDateTime(ical.PropDateTimeEnd, end)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//libschedav//NONSGML v1.0//EN")
	cal.Children = append(cal.Children, event)

	return CalendarObject{
		Path:         path,
		ETag:         "etag-" + uid + "-1",
		LastModified: time.Now(),
		Data:         cal,
	}
}

// AddMockOrganizer appends an ORGANIZER property to the first component.
func AddMockOrganizer(obj *CalendarObject, email string) {
	p := ical.NewProp(ical.PropOrganizer)
	p.Value = fmt.Sprintf("mailto:%s", email)
	obj.Data.Children[0].Props.Add(p)
}

// AddMockAttendee appends an ATTENDEE property with the given PARTSTAT to
// the first component. Empty partstat leaves the parameter off entirely.
func AddMockAttendee(obj *CalendarObject, email, partstat string) {
	p := ical.NewProp(ical.PropAttendee)
	p.Value = fmt.Sprintf("mailto:%s", email)
	if partstat != "" {
		p.Params.Set(ical.ParamParticipationStatus, partstat)
	}
	obj.Data.Children[0].Props.Add(p)
}
