package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/acrite/libschedav/server/recurrence"
	"github.com/acrite/libschedav/server/storage"
	"github.com/emersion/go-ical"
)

const (
	defaultInboxCalendarID   = "inbox"
	defaultObjectsCalendarID = "calendar"
)

// Store is the slice of the storage backend the scheduling engine needs.
// storage.Storage satisfies it.
type Store interface {
	EnsureCalendar(ctx context.Context, userID, calendarID string) (*storage.Calendar, error)
	FindObjectByUID(ctx context.Context, userID, uid string) (*storage.CalendarObject, error)
	UpdateObject(ctx context.Context, userID, calendarID string, object *storage.CalendarObject) (string, error)
	DeleteObject(ctx context.Context, userID, calendarID, objectID string) error
}

// Directory resolves calendar user addresses to local principals.
// Implementations return storage.ErrNotFound for addresses that are not
// hosted here; those recipients are treated as external.
type Directory interface {
	LookupPrincipalByEmail(ctx context.Context, email string) (*Principal, error)
}

// DirectoryFromStorage adapts a storage backend's user lookup into a
// Directory.
func DirectoryFromStorage(store storage.Storage) Directory {
	return &storageDirectory{store: store}
}

type storageDirectory struct {
	store storage.Storage
}

func (d *storageDirectory) LookupPrincipalByEmail(ctx context.Context, email string) (*Principal, error) {
	user, err := d.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return &Principal{
		UserID:   user.ID,
		Email:    NormalizeEmail(user.Email),
		Username: user.ID,
		URI:      user.Path,
	}, nil
}

// Engine implements automatic scheduling: it turns calendar object changes
// into iTIP messages and reconciles delivered messages into the calendars
// of local recipients.
type Engine struct {
	Store      Store
	Directory  Directory
	Recurrence *recurrence.Engine
	Logger     *slog.Logger

	// Override where delivered messages and auto-created copies land.
	// Empty means "inbox" and "calendar".
	InboxCalendarID   string
	DefaultCalendarID string
}

// NewEngine wires an Engine over a storage backend, resolving principals
// through the backend's user records.
func NewEngine(store storage.Storage, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Store:      store,
		Directory:  DirectoryFromStorage(store),
		Recurrence: recurrence.NewEngine(),
		Logger:     logger,
	}
}

func (e *Engine) inboxCalendar() string {
	if e.InboxCalendarID != "" {
		return e.InboxCalendarID
	}
	return defaultInboxCalendarID
}

func (e *Engine) defaultCalendar() string {
	if e.DefaultCalendarID != "" {
		return e.DefaultCalendarID
	}
	return defaultObjectsCalendarID
}

// pass carries the state of one engine call: the principal cache, the
// fan-out guard and the accumulated outcome. Never reused across calls;
// a stale principal cache would leak directory state between requests.
type pass struct {
	resolver   *resolver
	outcome    *Outcome
	dispatched map[string]bool
	reuseName  string
}

func (e *Engine) newPass() *pass {
	return &pass{
		resolver:   newResolver(e.Directory),
		outcome:    &Outcome{},
		dispatched: make(map[string]bool),
	}
}

func (p *pass) written(userID, calendarID string, obj *storage.CalendarObject) {
	p.outcome.Written = append(p.outcome.Written, ObjectRef{
		UserID:     userID,
		CalendarID: calendarID,
		ObjectID:   obj.ID,
		Path:       obj.Path,
	})
}

func (p *pass) deleted(userID, calendarID string, obj *storage.CalendarObject) {
	p.outcome.Deleted = append(p.outcome.Deleted, ObjectRef{
		UserID:     userID,
		CalendarID: calendarID,
		ObjectID:   obj.ID,
		Path:       obj.Path,
	})
}

// ScheduleRequest describes a change to a calendar object owned by a local
// principal, before it is persisted.
type ScheduleRequest struct {
	// Owner is the principal whose collection the object lives in.
	Owner Principal
	// ObjectName is the object's resource name within its collection.
	ObjectName string
	// Previous is the stored state, nil when the object is being created.
	Previous *ical.Calendar
	// Current is the incoming state, nil when the object is being deleted.
	Current *ical.Calendar
	// SuppressReplies disables attendee reply generation, for clients
	// that asked the server not to schedule on their behalf.
	SuppressReplies bool
}

// Schedule inspects a pending object change and performs the implied
// scheduling work: for an organizer it invites, updates and cancels; for an
// attendee it sends replies to the organizer. The caller persists (or
// rejects) the origin object itself after Schedule returns.
//
// A returned error wrapping ErrNotAllowed means the change violates
// scheduling constraints and the write must be refused.
func (e *Engine) Schedule(ctx context.Context, req *ScheduleRequest) (*Outcome, error) {
	if req.Previous == nil && req.Current == nil {
		return nil, fmt.Errorf("%w: no previous or current state", storage.ErrInvalidInput)
	}

	prev, err := snapshotOrNil(req.Previous)
	if err != nil {
		return nil, fmt.Errorf("previous state: %w", err)
	}
	cur, err := snapshotOrNil(req.Current)
	if err != nil {
		return nil, fmt.Errorf("current state: %w", err)
	}

	op := OpInsert
	switch {
	case prev != nil && cur != nil:
		op = OpUpdate
	case cur == nil:
		op = OpDelete
	}

	// The ORGANIZER of an existing scheduling object is fixed; replacing
	// it would re-key the whole iTIP conversation.
	if op == OpUpdate {
		if prevOrg, ok := prev.Organizer().Get(); ok {
			if curOrg, ok := cur.Organizer().Get(); ok && curOrg.Email() != prevOrg.Email() {
				return nil, fmt.Errorf("organizer changed from %q to %q: %w",
					prevOrg.Email(), curOrg.Email(), ErrOrganizerChange)
			}
		}
	}

	p := e.newPass()
	p.outcome.Origin = ObjectRef{UserID: req.Owner.UserID, ObjectID: req.ObjectName}

	role, organizerEmail := e.ownerRole(req.Owner, prev, cur)
	if role == roleNone {
		e.Logger.Debug("object does not participate in scheduling",
			"user_id", req.Owner.UserID, "object", req.ObjectName)
		return p.outcome, nil
	}
	p.outcome.Op = op

	var msgs []*Message
	switch role {
	case roleOrganizer:
		if op == OpInsert {
			p.reuseName = req.ObjectName
		}
		msgs, err = e.organizerMessages(op, organizerEmail, prev, cur)
	case roleAttendee:
		if req.SuppressReplies {
			e.Logger.Debug("reply suppressed by client",
				"user_id", req.Owner.UserID, "object", req.ObjectName)
			return p.outcome, nil
		}
		if op == OpDelete {
			exists, lookupErr := e.organizerMasterExists(ctx, p, organizerEmail, prev.UID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if !exists {
				e.Logger.Debug("organizer master gone, no decline due",
					"uid", prev.UID, "user_id", req.Owner.UserID)
				return p.outcome, nil
			}
		}
		msgs, err = e.attendeeMessages(op, req.Owner, organizerEmail, prev, cur)
	}
	if err != nil {
		return nil, err
	}

	if err := e.runPass(ctx, p, msgs); err != nil {
		return nil, err
	}
	return p.outcome, nil
}

func snapshotOrNil(cal *ical.Calendar) (*Snapshot, error) {
	if cal == nil {
		return nil, nil
	}
	return NewSnapshot(cal)
}

type role int

const (
	roleNone role = iota
	roleOrganizer
	roleAttendee
)

// ownerRole decides whether the owner acts as organizer or attendee of the
// changed object. The current state wins; for deletes only the previous
// state exists.
func (e *Engine) ownerRole(owner Principal, prev, cur *Snapshot) (role, string) {
	snap := cur
	if snap == nil {
		snap = prev
	}

	org, ok := snap.Organizer().Get()
	if !ok || !snap.HasAttendees() {
		return roleNone, ""
	}
	organizerEmail := org.Email()
	if org.Agent() != AgentServer {
		e.Logger.Debug("organizer opted out of server scheduling",
			"organizer", organizerEmail)
		return roleNone, organizerEmail
	}
	ownerEmail := NormalizeEmail(owner.Email)
	if ownerEmail == "" {
		return roleNone, organizerEmail
	}

	if ownerEmail == organizerEmail {
		return roleOrganizer, organizerEmail
	}
	for _, comp := range snap.Components() {
		if att, ok := findAttendee(comp, ownerEmail).Get(); ok {
			if att.Agent() != AgentServer {
				e.Logger.Debug("attendee opted out of server scheduling",
					"attendee", ownerEmail)
				return roleNone, organizerEmail
			}
			return roleAttendee, organizerEmail
		}
	}
	return roleNone, organizerEmail
}

func (e *Engine) organizerMessages(op OpCode, organizerEmail string, prev, cur *Snapshot) ([]*Message, error) {
	o := &organizerPass{
		organizerEmail: organizerEmail,
		notified:       make(map[string]bool),
		logger:         e.Logger,
	}
	switch op {
	case OpInsert:
		return o.organizerInsert(cur, false), nil
	case OpUpdate:
		return o.organizerUpdate(prev, cur), nil
	case OpDelete:
		return o.organizerDelete(prev), nil
	}
	return nil, nil
}

// organizerMasterExists reports whether a local organizer still holds a
// master for the series. Remote organizers cannot be checked; the reply
// goes out regardless.
func (e *Engine) organizerMasterExists(ctx context.Context, p *pass, organizerEmail, uid string) (bool, error) {
	principal, err := p.resolver.lookup(ctx, organizerEmail)
	if err != nil {
		return false, err
	}
	org, local := principal.Get()
	if !local {
		return true, nil
	}
	if _, err := e.Store.FindObjectByUID(ctx, org.UserID, uid); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (e *Engine) attendeeMessages(op OpCode, owner Principal, organizerEmail string, prev, cur *Snapshot) ([]*Message, error) {
	a := &attendeePass{
		ownEmail:       NormalizeEmail(owner.Email),
		organizerEmail: organizerEmail,
		logger:         e.Logger,
	}
	var msg *Message
	var err error
	switch op {
	case OpInsert:
		msg, err = a.attendeeInsert(cur)
	case OpUpdate:
		msg, err = a.attendeeUpdate(prev, cur)
	case OpDelete:
		msg, err = a.attendeeDelete(prev)
	}
	if err != nil || msg == nil {
		return nil, err
	}
	return []*Message{msg}, nil
}

// InboxRequest describes a scheduling message placed into a local
// principal's inbox from outside the engine, for example by a client
// acting as a gateway for a remote server.
type InboxRequest struct {
	Owner    Principal
	ItemName string
	Calendar *ical.Calendar
}

// ProcessInbox reconciles one delivered scheduling message for its owner
// and resolves any follow-up notifications it triggers. The inbox item
// itself is left in place; deleting it after a successful outcome is the
// caller's choice.
func (e *Engine) ProcessInbox(ctx context.Context, req *InboxRequest) (*Outcome, error) {
	if req.Calendar == nil {
		return nil, fmt.Errorf("%w: empty inbox item", storage.ErrInvalidInput)
	}
	methodProp := req.Calendar.Props.Get(ical.PropMethod)
	if methodProp == nil || methodProp.Value == "" {
		return nil, fmt.Errorf("%w: inbox item without METHOD", storage.ErrInvalidInput)
	}
	// Clients write METHOD in whatever case they like; dispatch is
	// case-insensitive, like Message.Method.
	method := strings.ToUpper(methodProp.Value)

	p := e.newPass()
	key := method + "\x00" + messageUID(req.Calendar) + "\x00" + NormalizeEmail(req.Owner.Email)
	p.dispatched[key] = true

	produced, err := e.reconcileLocal(ctx, p, req.Owner, method, &Message{
		Recipient: req.Owner.Email,
		Calendar:  req.Calendar,
	})
	if err != nil {
		return nil, err
	}
	if err := e.runPass(ctx, p, produced); err != nil {
		return nil, err
	}

	e.Logger.Info("processed inbox item",
		"user_id", req.Owner.UserID,
		"item", req.ItemName,
		"method", method,
		"written", len(p.outcome.Written))
	return p.outcome, nil
}
