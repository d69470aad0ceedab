// memory based implementation for testing purposes
package memory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/acrite/libschedav/server/storage"
	"github.com/emersion/go-ical"
)

// InboxCalendarID is the collection name used for scheduling inboxes.
const InboxCalendarID = "inbox"

// Store implements storage.Storage using in-memory maps
type Store struct {
	mu        sync.RWMutex
	users     map[string]*storage.User           // key: userID
	emails    map[string]string                  // key: lower-case email, value: userID
	passwords map[string]string                  // key: username
	calendars map[string]*storage.Calendar       // key: userID/calendarID
	objects   map[string]*storage.CalendarObject // key: userID/calendarID/objectID
}

// New creates a new in-memory storage
func New() *Store {
	return &Store{
		users:     make(map[string]*storage.User),
		emails:    make(map[string]string),
		passwords: make(map[string]string),
		calendars: make(map[string]*storage.Calendar),
		objects:   make(map[string]*storage.CalendarObject),
	}
}

func (s *Store) calendarKey(userID, calendarID string) string {
	return fmt.Sprintf("%s/%s", userID, calendarID)
}

func (s *Store) objectKey(userID, calendarID, objectID string) string {
	return fmt.Sprintf("%s/%s/%s", userID, calendarID, objectID)
}

func generateETag(data []byte) string {
	hash := sha1.Sum(data)
	return `"` + hex.EncodeToString(hash[:]) + `"`
}

// AddUser registers a user together with credentials. Test helper.
func (s *Store) AddUser(user *storage.User, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.ID] = user
	s.passwords[user.ID] = password
	if user.Email != "" {
		s.emails[strings.ToLower(user.Email)] = user.ID
	}
}

func (s *Store) AuthUser(_ context.Context, username, password string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.passwords[username]
	if !ok || stored != password {
		return "", storage.ErrPermissionDenied
	}
	return username, nil
}

func (s *Store) GetUser(_ context.Context, userID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", userID, storage.ErrNotFound)
	}
	return user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.emails[strings.ToLower(strings.TrimPrefix(strings.ToLower(email), "mailto:"))]
	if !ok {
		return nil, fmt.Errorf("address %q: %w", email, storage.ErrNotFound)
	}
	return s.users[userID], nil
}

func (s *Store) GetUserCalendars(_ context.Context, userID string) ([]storage.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cals []storage.Calendar
	prefix := userID + "/"
	for key, cal := range s.calendars {
		if strings.HasPrefix(key, prefix) {
			cals = append(cals, *cal)
		}
	}
	sort.Slice(cals, func(i, j int) bool { return cals[i].Path < cals[j].Path })
	return cals, nil
}

func (s *Store) GetCalendar(_ context.Context, userID, calendarID string) (*storage.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cal, ok := s.calendars[s.calendarKey(userID, calendarID)]
	if !ok {
		return nil, fmt.Errorf("calendar %s/%s: %w", userID, calendarID, storage.ErrNotFound)
	}
	return cal, nil
}

func (s *Store) EnsureCalendar(_ context.Context, userID, calendarID string) (*storage.Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.calendarKey(userID, calendarID)
	if cal, ok := s.calendars[key]; ok {
		return cal, nil
	}
	cal := &storage.Calendar{
		Path:                fmt.Sprintf("/%s/cal/%s", userID, calendarID),
		CTag:                "ctag-" + key + "-1",
		CalendarData:        ical.NewCalendar(),
		SupportedComponents: []string{ical.CompEvent, ical.CompToDo},
	}
	s.calendars[key] = cal
	return cal, nil
}

func (s *Store) GetObject(_ context.Context, userID, calendarID, objectID string) (*storage.CalendarObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[s.objectKey(userID, calendarID, objectID)]
	if !ok {
		return nil, fmt.Errorf("object %s/%s/%s: %w", userID, calendarID, objectID, storage.ErrNotFound)
	}
	return obj, nil
}

func (s *Store) GetObjectPathsInCollection(_ context.Context, userID, calendarID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var paths []string
	prefix := s.calendarKey(userID, calendarID) + "/"
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			paths = append(paths, obj.Path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Store) FindObjectByUID(_ context.Context, userID, uid string) (*storage.CalendarObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	prefix := userID + "/"
	for _, key := range keys {
		obj := s.objects[key]
		// Inbox items are deliveries, not the user's own copy.
		if !strings.HasPrefix(key, prefix) || obj.CalendarID == InboxCalendarID {
			continue
		}
		if objectUID(obj) == uid {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("uid %q for user %q: %w", uid, userID, storage.ErrNotFound)
}

func objectUID(obj *storage.CalendarObject) string {
	if obj.Data == nil {
		return ""
	}
	for _, child := range obj.Data.Children {
		if uid, err := child.Props.Text(ical.PropUID); err == nil && uid != "" {
			return uid
		}
	}
	return ""
}

func (s *Store) UpdateObject(_ context.Context, userID, calendarID string, object *storage.CalendarObject) (string, error) {
	if object == nil || object.Data == nil {
		return "", fmt.Errorf("object data required: %w", storage.ErrInvalidInput)
	}

	ics, err := storage.CalendarToICS(object.Data)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if object.ID == "" {
		object.ID = lastSegment(object.Path)
	}
	object.UserID = userID
	object.CalendarID = calendarID
	if object.Path == "" {
		object.Path = fmt.Sprintf("/%s/cal/%s/%s", userID, calendarID, object.ID)
	}
	object.ETag = generateETag([]byte(ics))
	object.LastModified = time.Now()
	s.objects[s.objectKey(userID, calendarID, object.ID)] = object
	return object.ETag, nil
}

func (s *Store) DeleteObject(_ context.Context, userID, calendarID, objectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.objectKey(userID, calendarID, objectID)
	if _, ok := s.objects[key]; !ok {
		return fmt.Errorf("object %s: %w", key, storage.ErrNotFound)
	}
	delete(s.objects, key)
	return nil
}

func lastSegment(path string) string {
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	return parts[len(parts)-1]
}
