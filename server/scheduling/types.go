// Package scheduling implements the automatic scheduling engine of a
// CalDAV server: the iTIP organizer/attendee protocol (REQUEST, REPLY,
// CANCEL) between calendar resources owned by different principals.
package scheduling

import (
	"errors"
	"strings"

	"github.com/emersion/go-ical"
)

// iTIP methods.
const (
	MethodRequest = "REQUEST"
	MethodReply   = "REPLY"
	MethodCancel  = "CANCEL"
)

// SCHEDULE-STATUS delivery codes, RFC 6638 section 3.2.9.
const (
	StatusPending          = "1.0"
	StatusSent             = "1.1"
	StatusDelivered        = "1.2"
	StatusSuccess          = "2.0;Success"
	StatusUnknownRecipient = "3.7"
	StatusNoPrivilege      = "3.8"
	StatusDeliveryFailed   = "5.1"
	StatusNoDeliveryMethod = "5.2"
	StatusRejected         = "5.3"
)

// Parameters go-ical has no constants for.
const (
	paramScheduleAgent  = "SCHEDULE-AGENT"
	paramScheduleStatus = "SCHEDULE-STATUS"
)

var (
	// ErrNotAllowed reports an attendee update touching anything beyond
	// the attendee's own participation. The whole write is rejected.
	ErrNotAllowed = errors.New("scheduling: not allowed to change")
	// ErrOrganizerChange reports a write replacing the ORGANIZER of an
	// existing scheduling object. The whole write is rejected.
	ErrOrganizerChange = errors.New("scheduling: organizer change not allowed")
	// ErrMissingPrevious reports an update handed to the engine without
	// the previously stored version. This is a caller bug, not a
	// recoverable protocol condition.
	ErrMissingPrevious = errors.New("scheduling: previous version required for update")
	// errNoComponents marks documents with nothing to schedule.
	errNoComponents = errors.New("scheduling: no scheduling components")
)

// OpCode identifies the write the engine is reacting to.
type OpCode int

const (
	OpSkip OpCode = iota
	OpInsert
	OpUpdate
	OpDelete
)

func (op OpCode) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "skip"
	}
}

// PartStat is an attendee's participation status. The zero value Unset is
// distinct from an explicit NEEDS-ACTION: Unset means no opinion has ever
// been recorded, while NeedsAction is a value a client wrote out.
type PartStat int

const (
	PartStatUnset PartStat = iota
	PartStatNeedsAction
	PartStatAccepted
	PartStatDeclined
	PartStatTentative
	PartStatDelegated
)

func parsePartStat(s string) PartStat {
	switch strings.ToUpper(s) {
	case "NEEDS-ACTION":
		return PartStatNeedsAction
	case "ACCEPTED":
		return PartStatAccepted
	case "DECLINED":
		return PartStatDeclined
	case "TENTATIVE":
		return PartStatTentative
	case "DELEGATED":
		return PartStatDelegated
	default:
		return PartStatUnset
	}
}

func (p PartStat) String() string {
	switch p {
	case PartStatNeedsAction:
		return "NEEDS-ACTION"
	case PartStatAccepted:
		return "ACCEPTED"
	case PartStatDeclined:
		return "DECLINED"
	case PartStatTentative:
		return "TENTATIVE"
	case PartStatDelegated:
		return "DELEGATED"
	default:
		return ""
	}
}

// Responded reports whether a participation value counts as an answer to an
// invitation. Unset and NeedsAction do not.
func (p PartStat) Responded() bool {
	return p != PartStatUnset && p != PartStatNeedsAction
}

// Agent is the SCHEDULE-AGENT of an attendee. Absence of the parameter
// means the server handles scheduling for that attendee.
type Agent int

const (
	AgentServer Agent = iota
	AgentClient
	AgentNone
)

func parseAgent(s string) Agent {
	switch strings.ToUpper(s) {
	case "CLIENT":
		return AgentClient
	case "NONE":
		return AgentNone
	default:
		return AgentServer
	}
}

// Attendee is a view over an ATTENDEE (or ORGANIZER) property. Mutations go
// straight through to the underlying prop, so they land in the calendar
// document the prop belongs to.
type Attendee struct {
	Prop *ical.Prop
}

// Email returns the normalized identity key: the calendar user address,
// lower-cased, without the mailto: prefix.
func (a Attendee) Email() string {
	return NormalizeEmail(a.Prop.Value)
}

func (a Attendee) PartStat() PartStat {
	return parsePartStat(a.Prop.Params.Get(ical.ParamParticipationStatus))
}

func (a Attendee) SetPartStat(p PartStat) {
	if p == PartStatUnset {
		a.Prop.Params.Del(ical.ParamParticipationStatus)
		return
	}
	a.Prop.Params.Set(ical.ParamParticipationStatus, p.String())
}

func (a Attendee) Agent() Agent {
	return parseAgent(a.Prop.Params.Get(paramScheduleAgent))
}

func (a Attendee) ScheduleStatus() string {
	return a.Prop.Params.Get(paramScheduleStatus)
}

func (a Attendee) SetScheduleStatus(code string) {
	if code == "" {
		a.Prop.Params.Del(paramScheduleStatus)
		return
	}
	a.Prop.Params.Set(paramScheduleStatus, code)
}

// NormalizeEmail strips a mailto: prefix and lower-cases the address.
func NormalizeEmail(addr string) string {
	addr = strings.TrimSpace(addr)
	if len(addr) >= 7 && strings.EqualFold(addr[:7], "mailto:") {
		addr = addr[7:]
	}
	return strings.ToLower(addr)
}

// Principal is a local calendar user resolved through the directory.
type Principal struct {
	UserID   string
	Email    string
	Username string
	URI      string
}

// Message is one scheduling document on its way to a recipient. Messages
// are ephemeral: created by the state machines, consumed by the work-list
// loop, never persisted directly.
type Message struct {
	// Recipient is the normalized calendar user address to deliver to.
	Recipient string
	// Sender is the address the message originates from.
	Sender string
	// Calendar is the iTIP document, METHOD set.
	Calendar *ical.Calendar
	// Resolved is flipped once the work-list loop has dispatched the
	// message, external deliveries included; those additionally land in
	// Outcome.External for out-of-band transport.
	Resolved bool
	// LocalOnly suppresses external delivery: if the recipient is not a
	// local principal the message is dropped rather than marked pending.
	// Used for reply-cascade re-notification to bound fan-out.
	LocalOnly bool

	// status, when set, is the sender-side ATTENDEE/ORGANIZER prop whose
	// SCHEDULE-STATUS must reflect the delivery outcome.
	status *ical.Prop
}

// Method returns the upper-cased iTIP METHOD of the payload.
func (m *Message) Method() string {
	if m.Calendar == nil {
		return ""
	}
	method, err := m.Calendar.Props.Text(ical.PropMethod)
	if err != nil {
		return ""
	}
	return strings.ToUpper(method)
}

func (m *Message) setScheduleStatus(code string) {
	if m.status != nil {
		Attendee{Prop: m.status}.SetScheduleStatus(code)
	}
}

// ObjectRef names one stored object touched by a scheduling pass.
type ObjectRef struct {
	UserID     string
	CalendarID string
	ObjectID   string
	Path       string
}

// Outcome aggregates everything one Schedule or ProcessInbox call did.
type Outcome struct {
	Op OpCode
	// Origin names the object whose write triggered the pass, zero for
	// pure inbox processing.
	Origin ObjectRef
	// Written and Deleted list objects the engine persisted or removed,
	// inbox deliveries included.
	Written []ObjectRef
	Deleted []ObjectRef
	// External lists messages for recipients outside this server. Their
	// transport (iMIP or otherwise) is the caller's problem; the sending
	// attendee already carries SCHEDULE-STATUS 1.0.
	External []*Message
}

// Scheduled reports whether the pass produced any scheduling side effect.
// The write handler uses this to decide between Schedule-Tag and ETag
// response headers.
func (o *Outcome) Scheduled() bool {
	return o.Op != OpSkip
}
