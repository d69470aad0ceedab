package server

import (
	"fmt"
	"strings"

	"github.com/acrite/libschedav/server/storage"
)

// URLConverter helps you define URL path convention. Leave this blank when
// creating handler defaults to DefaultURLConverter.
//
// A resource should be able to find its parent from its path. For example,
// /<userid>/cal/<calendarid>/<objectid> belongs to user <userid> and calendar
// <calendarid>. Please consider including all those information in your URI,
// or you might encounter excessive overhead looking for parent resources.
//
// If you set prefix in the handler, you should consider initializing your
// URLConverter with the same prefix, like DefaultURLConverter does.
type URLConverter interface {
	// ParsePath parses a given path and returns the corresponding Resource.
	ParsePath(path string) (Resource, error)
	// EncodePath encodes a Resource back to its URL path representation.
	EncodePath(resource Resource) (string, error)
}

type Resource struct {
	UserID       string
	CalendarID   string
	ObjectID     string
	URI          string // may save encode/parsing overhead
	ResourceType storage.ResourceType
}

// inInbox reports whether the resource lives in the scheduling inbox
// collection.
func (r Resource) inInbox() bool {
	return r.CalendarID == inboxSegment
}

const (
	calSegment    = "cal"
	inboxSegment  = "inbox"
	outboxSegment = "outbox"
)

// DefaultURLConverter implements the URLConverter interface with a standard
// CalDAV URL structure:
//
// - Service Root: /
// - Principal: /<userid>
// - Home Set: /<userid>/cal
// - Collection: /<userid>/cal/<calendarid>
// - Object: /<userid>/cal/<calendarid>/<objectid>
// - Schedule Inbox: /<userid>/inbox, its items /<userid>/inbox/<objectid>
// - Schedule Outbox: /<userid>/outbox
//
// The Prefix field can be used to add a common prefix to all paths (e.g.,
// "/caldav/")
type DefaultURLConverter struct {
	Prefix string
}

// ParsePath parses a CalDAV path into its components. It handles paths with
// or without the configured prefix.
func (c *DefaultURLConverter) ParsePath(path string) (Resource, error) {
	resource := Resource{ResourceType: storage.ResourceUnknown, URI: path}

	path = strings.TrimPrefix(path, c.Prefix)
	parts := strings.Split(path, "/")

	// Filter out empty segments caused by leading/trailing/double slashes
	var segments []string
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}

	switch len(segments) {
	case 0: // service root
		resource.ResourceType = storage.ResourceServiceRoot

	case 1: // /<userid>
		resource.UserID = segments[0]
		resource.ResourceType = storage.ResourcePrincipal

	case 2: // /<userid>/cal, /<userid>/inbox or /<userid>/outbox
		resource.UserID = segments[0]
		switch segments[1] {
		case calSegment:
			resource.ResourceType = storage.ResourceHomeSet
		case inboxSegment:
			resource.CalendarID = inboxSegment
			resource.ResourceType = storage.ResourceScheduleInbox
		case outboxSegment:
			resource.ResourceType = storage.ResourceScheduleOutbox
		default:
			return resource, fmt.Errorf("invalid path: unknown segment %q under principal", segments[1])
		}

	case 3: // /<userid>/cal/<calendarid> or /<userid>/inbox/<objectid>
		resource.UserID = segments[0]
		switch segments[1] {
		case calSegment:
			resource.CalendarID = segments[2]
			resource.ResourceType = storage.ResourceCollection
		case inboxSegment:
			resource.CalendarID = inboxSegment
			resource.ObjectID = segments[2]
			resource.ResourceType = storage.ResourceObject
		default:
			return resource, fmt.Errorf("invalid path: expected '/<userid>/cal/<calendarid>', got '/%s'", strings.Join(segments, "/"))
		}

	case 4: // /<userid>/cal/<calendarid>/<objectid>
		if segments[1] != calSegment {
			return resource, fmt.Errorf("invalid path: expected '/<userid>/cal/<calendarid>/<objectid>', got '/%s'", strings.Join(segments, "/"))
		}
		resource.UserID = segments[0]
		resource.CalendarID = segments[2]
		resource.ObjectID = segments[3] // Object ID might contain ".ics"
		resource.ResourceType = storage.ResourceObject

	default:
		return resource, fmt.Errorf("invalid path: too many segments (%d)", len(segments))
	}

	return resource, nil
}

// EncodePath encodes a Resource into a CalDAV path. It validates that the
// resource has all required fields for its type and adds the configured
// prefix to the path.
func (c *DefaultURLConverter) EncodePath(resource Resource) (string, error) {
	var path string

	switch resource.ResourceType {
	case storage.ResourcePrincipal:
		if resource.UserID == "" {
			return "", fmt.Errorf("invalid resource: principal must have a UserID")
		}
		path = "/" + resource.UserID

	case storage.ResourceHomeSet:
		if resource.UserID == "" {
			return "", fmt.Errorf("invalid resource: home set must have a UserID")
		}
		path = "/" + resource.UserID + "/" + calSegment

	case storage.ResourceScheduleInbox:
		if resource.UserID == "" {
			return "", fmt.Errorf("invalid resource: schedule inbox must have a UserID")
		}
		path = "/" + resource.UserID + "/" + inboxSegment

	case storage.ResourceScheduleOutbox:
		if resource.UserID == "" {
			return "", fmt.Errorf("invalid resource: schedule outbox must have a UserID")
		}
		path = "/" + resource.UserID + "/" + outboxSegment

	case storage.ResourceCollection:
		if resource.UserID == "" || resource.CalendarID == "" {
			return "", fmt.Errorf("invalid resource: collection must have both UserID and CalendarID")
		}
		path = "/" + resource.UserID + "/" + calSegment + "/" + resource.CalendarID

	case storage.ResourceObject:
		if resource.UserID == "" || resource.CalendarID == "" || resource.ObjectID == "" {
			return "", fmt.Errorf("invalid resource: object must have UserID, CalendarID, and ObjectID")
		}
		if resource.CalendarID == inboxSegment {
			path = "/" + resource.UserID + "/" + inboxSegment + "/" + resource.ObjectID
		} else {
			path = "/" + resource.UserID + "/" + calSegment + "/" + resource.CalendarID + "/" + resource.ObjectID
		}

	case storage.ResourceServiceRoot:
		path = "/"

	default:
		return "", fmt.Errorf("invalid resource type: %s", resource.ResourceType.String())
	}

	return c.Prefix + strings.TrimPrefix(path, "/"), nil
}
