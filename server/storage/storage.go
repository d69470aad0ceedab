package storage

import (
	"context"
	"errors"
	"time"

	"github.com/emersion/go-ical"
)

// Storage connects your backend (e.g. database) with this server. Please use
// the error values provided by this package.
type Storage interface {
	// AuthUser authenticates a user with username and password, returns the user ID if successful.
	AuthUser(ctx context.Context, username, password string) (string, error)
	// GetUser gets user information.
	GetUser(ctx context.Context, userID string) (*User, error)
	// GetUserByEmail resolves a calendar user address to a local user.
	// Returns ErrNotFound for addresses not hosted on this server.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// GetUserCalendars retrieves all calendar collections for a user.
	GetUserCalendars(ctx context.Context, userID string) ([]Calendar, error)
	// GetCalendar retrieves a specific calendar by user id and calendar id.
	GetCalendar(ctx context.Context, userID, calendarID string) (*Calendar, error)
	// EnsureCalendar returns the collection, creating an empty one if it
	// does not exist yet. The scheduling engine uses this to materialize
	// inbox collections on first delivery.
	EnsureCalendar(ctx context.Context, userID, calendarID string) (*Calendar, error)
	// GetObject finds a calendar object by user id, calendar id and object id.
	GetObject(ctx context.Context, userID, calendarID, objectID string) (*CalendarObject, error)
	// GetObjectPathsInCollection retrieves paths of all calendar objects in a collection.
	GetObjectPathsInCollection(ctx context.Context, userID, calendarID string) ([]string, error)
	// FindObjectByUID searches the user's regular calendar collections
	// (not the scheduling inbox) for an object with the given iCalendar
	// UID. Returns ErrNotFound when no collection holds it.
	FindObjectByUID(ctx context.Context, userID, uid string) (*CalendarObject, error)
	// UpdateObject updates a calendar object. If not existing, create one.
	// Should return the new ETag.
	UpdateObject(ctx context.Context, userID, calendarID string, object *CalendarObject) (etag string, err error)
	// DeleteObject removes a calendar object.
	DeleteObject(ctx context.Context, userID, calendarID, objectID string) error
}

// Calendar represents a CalDAV calendar collection.
// It holds metadata and the core iCalendar data.
type Calendar struct {
	// Path is the unique URI path for this calendar resource.
	// Example: "/alice/cal/work"
	Path string
	// CTag represents the calendar collection tag.
	// It changes when the content (objects) of the calendar changes.
	CTag string
	// ETag represents the entity tag of the calendar properties.
	// It changes when the calendar's own properties (like NAME, COLOR) change.
	ETag string
	// CalendarData stores the underlying VCALENDAR data using go-ical.
	// This holds properties like NAME, DESCRIPTION, COLOR etc.
	CalendarData *ical.Calendar
	// SupportedComponents lists the types of components supported by this calendar.
	// e.g. "VEVENT", "VTODO", "VJOURNAL"
	SupportedComponents []string
}

// CalendarObject represents an individual calendar resource within a
// collection. An object holds a whole VCALENDAR rather than a single
// component: a recurring scheduling object spans the master component plus
// any number of recurrence overrides.
type CalendarObject struct {
	// ID is the object's name within its collection, e.g. "event1.ics".
	//
	// NOTE: This has nothing to do with iCal UID.
	ID string

	// UserID and CalendarID locate the collection holding this object.
	UserID     string
	CalendarID string

	// Path is the unique URI path for this calendar object resource.
	// Example: "/alice/cal/work/event1.ics"
	Path string

	// ETag represents the entity tag of the calendar object.
	// It changes whenever the object's data changes.
	// Generating etag is the backend's responsibility; libschedav just uses the provided value.
	ETag string

	// LastModified timestamp can be useful for generating ETags and handling synchronization.
	LastModified time.Time

	// Data stores the underlying VCALENDAR using go-ical.
	Data *ical.Calendar
}

type User struct {
	// ID is the user's principal identifier, as found in resource paths.
	ID string
	// Will be returned in displayname
	DisplayName string
	// Email is the user's calendar user address, without mailto: prefix.
	// Used for calendar-user-address-set and for scheduling delivery.
	Email string
	// The user's principal path
	Path string
}

var (
	// ErrNotFound is returned when a requested resource doesn't exist
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidInput is returned when the input parameters are invalid
	ErrInvalidInput = errors.New("invalid input parameters")
	// ErrPermissionDenied is returned when the operation is not allowed
	ErrPermissionDenied = errors.New("permission denied")
	// ErrConflict is returned when there's a conflict with an existing resource
	ErrConflict = errors.New("resource conflict")
	// ErrStorageUnavailable is returned when the storage backend is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ResourceType indicates the type of CalDAV resource identified by the URL path.
// This is distinct from CalDAV prop "resourcetype".
type ResourceType int

const (
	ResourceUnknown ResourceType = iota
	ResourcePrincipal
	ResourceHomeSet
	ResourceCollection
	ResourceObject
	ResourceScheduleInbox
	ResourceScheduleOutbox
	ResourceServiceRoot // Not really a resource, treat as unknown if not specified
)

// String provides a human-readable representation of the ResourceType.
func (rt ResourceType) String() string {
	switch rt {
	case ResourcePrincipal:
		return "Principal"
	case ResourceHomeSet:
		return "HomeSet"
	case ResourceCollection:
		return "Collection"
	case ResourceObject:
		return "Object"
	case ResourceScheduleInbox:
		return "ScheduleInbox"
	case ResourceScheduleOutbox:
		return "ScheduleOutbox"
	default:
		return "Unknown"
	}
}
