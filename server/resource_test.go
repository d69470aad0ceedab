package server

import (
	"testing"

	"github.com/acrite/libschedav/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultURLConverterParsePath(t *testing.T) {
	converter := &DefaultURLConverter{Prefix: "/caldav/"}

	tests := []struct {
		name     string
		path     string
		expected Resource
		wantErr  bool
	}{
		{
			name:     "service root",
			path:     "/caldav/",
			expected: Resource{ResourceType: storage.ResourceServiceRoot},
		},
		{
			name:     "principal",
			path:     "/caldav/alice",
			expected: Resource{UserID: "alice", ResourceType: storage.ResourcePrincipal},
		},
		{
			name:     "home set",
			path:     "/caldav/alice/cal",
			expected: Resource{UserID: "alice", ResourceType: storage.ResourceHomeSet},
		},
		{
			name: "schedule inbox",
			path: "/caldav/alice/inbox",
			expected: Resource{
				UserID:       "alice",
				CalendarID:   "inbox",
				ResourceType: storage.ResourceScheduleInbox,
			},
		},
		{
			name:     "schedule outbox",
			path:     "/caldav/alice/outbox",
			expected: Resource{UserID: "alice", ResourceType: storage.ResourceScheduleOutbox},
		},
		{
			name: "collection",
			path: "/caldav/alice/cal/work",
			expected: Resource{
				UserID:       "alice",
				CalendarID:   "work",
				ResourceType: storage.ResourceCollection,
			},
		},
		{
			name: "inbox item",
			path: "/caldav/alice/inbox/msg1.ics",
			expected: Resource{
				UserID:       "alice",
				CalendarID:   "inbox",
				ObjectID:     "msg1.ics",
				ResourceType: storage.ResourceObject,
			},
		},
		{
			name: "calendar object",
			path: "/caldav/alice/cal/work/event1.ics",
			expected: Resource{
				UserID:       "alice",
				CalendarID:   "work",
				ObjectID:     "event1.ics",
				ResourceType: storage.ResourceObject,
			},
		},
		{
			name:    "unknown segment under principal",
			path:    "/caldav/alice/bogus",
			wantErr: true,
		},
		{
			name:    "unknown branch for object path",
			path:    "/caldav/alice/bogus/work",
			wantErr: true,
		},
		{
			name:    "outbox has no items",
			path:    "/caldav/alice/outbox/msg1.ics",
			wantErr: true,
		},
		{
			name:    "too many segments",
			path:    "/caldav/alice/cal/work/event1.ics/extra",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resource, err := converter.ParsePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected.UserID, resource.UserID)
			assert.Equal(t, tt.expected.CalendarID, resource.CalendarID)
			assert.Equal(t, tt.expected.ObjectID, resource.ObjectID)
			assert.Equal(t, tt.expected.ResourceType, resource.ResourceType)
		})
	}
}

func TestDefaultURLConverterEncodePath(t *testing.T) {
	converter := &DefaultURLConverter{Prefix: "/caldav/"}

	tests := []struct {
		name     string
		resource Resource
		expected string
		wantErr  bool
	}{
		{
			name:     "principal",
			resource: Resource{UserID: "alice", ResourceType: storage.ResourcePrincipal},
			expected: "/caldav/alice",
		},
		{
			name:     "home set",
			resource: Resource{UserID: "alice", ResourceType: storage.ResourceHomeSet},
			expected: "/caldav/alice/cal",
		},
		{
			name:     "schedule inbox",
			resource: Resource{UserID: "alice", ResourceType: storage.ResourceScheduleInbox},
			expected: "/caldav/alice/inbox",
		},
		{
			name:     "schedule outbox",
			resource: Resource{UserID: "alice", ResourceType: storage.ResourceScheduleOutbox},
			expected: "/caldav/alice/outbox",
		},
		{
			name: "collection",
			resource: Resource{
				UserID:       "alice",
				CalendarID:   "work",
				ResourceType: storage.ResourceCollection,
			},
			expected: "/caldav/alice/cal/work",
		},
		{
			name: "calendar object",
			resource: Resource{
				UserID:       "alice",
				CalendarID:   "work",
				ObjectID:     "event1.ics",
				ResourceType: storage.ResourceObject,
			},
			expected: "/caldav/alice/cal/work/event1.ics",
		},
		{
			name: "inbox item",
			resource: Resource{
				UserID:       "alice",
				CalendarID:   "inbox",
				ObjectID:     "msg1.ics",
				ResourceType: storage.ResourceObject,
			},
			expected: "/caldav/alice/inbox/msg1.ics",
		},
		{
			name:     "principal without user id",
			resource: Resource{ResourceType: storage.ResourcePrincipal},
			wantErr:  true,
		},
		{
			name: "object without object id",
			resource: Resource{
				UserID:       "alice",
				CalendarID:   "work",
				ResourceType: storage.ResourceObject,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := converter.EncodePath(tt.resource)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, path)
		})
	}
}

func TestParseEncodeRoundtrip(t *testing.T) {
	converter := &DefaultURLConverter{Prefix: "/caldav/"}

	paths := []string{
		"/caldav/alice",
		"/caldav/alice/cal",
		"/caldav/alice/inbox",
		"/caldav/alice/cal/work",
		"/caldav/alice/cal/work/event1.ics",
		"/caldav/alice/inbox/msg1.ics",
	}
	for _, path := range paths {
		resource, err := converter.ParsePath(path)
		require.NoError(t, err, path)
		encoded, err := converter.EncodePath(resource)
		require.NoError(t, err, path)
		assert.Equal(t, path, encoded)
	}
}

func TestResourceInInbox(t *testing.T) {
	assert.True(t, Resource{CalendarID: "inbox"}.inInbox())
	assert.False(t, Resource{CalendarID: "work"}.inInbox())
	assert.False(t, Resource{}.inInbox())
}
