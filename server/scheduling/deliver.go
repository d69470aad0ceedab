package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/acrite/libschedav/server/storage"
	"github.com/google/uuid"
	"github.com/samber/mo"
)

// resolver caches principal lookups for the duration of one top-level call.
// It is created per pass and must never outlive it; sharing it across
// requests would leak directory state between principals.
type resolver struct {
	dir   Directory
	cache map[string]mo.Option[Principal]
}

func newResolver(dir Directory) *resolver {
	return &resolver{
		dir:   dir,
		cache: make(map[string]mo.Option[Principal]),
	}
}

// lookup resolves a calendar user address to a local principal. None means
// the address is not hosted here; that is not an error.
func (r *resolver) lookup(ctx context.Context, email string) (mo.Option[Principal], error) {
	email = NormalizeEmail(email)
	if cached, ok := r.cache[email]; ok {
		return cached, nil
	}

	principal, err := r.dir.LookupPrincipalByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		none := mo.None[Principal]()
		r.cache[email] = none
		return none, nil
	}
	if err != nil {
		return mo.None[Principal](), fmt.Errorf("principal lookup for %q: %w", email, err)
	}

	resolved := mo.Some(*principal)
	r.cache[email] = resolved
	return resolved, nil
}

// deliver resolves the recipient and, for local principals, writes the
// message into their scheduling inbox. The sender-side schedule-status is
// updated to reflect the outcome: 2.0 on local delivery, 1.0 when delivery
// has to happen out-of-band. Returns the principal when local.
func (e *Engine) deliver(ctx context.Context, p *pass, m *Message) (mo.Option[Principal], error) {
	principal, err := p.resolver.lookup(ctx, m.Recipient)
	if err != nil {
		return mo.None[Principal](), err
	}

	recipient, local := principal.Get()
	if !local {
		if m.LocalOnly {
			e.Logger.Debug("dropping local-only message for remote recipient",
				"recipient", m.Recipient)
			return principal, nil
		}
		m.setScheduleStatus(StatusPending)
		p.outcome.External = append(p.outcome.External, m)
		e.Logger.Info("recipient not local, delivery pending",
			"recipient", m.Recipient)
		return principal, nil
	}

	if _, err := e.Store.EnsureCalendar(ctx, recipient.UserID, e.inboxCalendar()); err != nil {
		return principal, fmt.Errorf("inbox for %q: %w", recipient.UserID, err)
	}

	item := &storage.CalendarObject{
		ID:   p.itemName(m),
		Data: cloneCalendar(m.Calendar),
	}
	if _, err := e.Store.UpdateObject(ctx, recipient.UserID, e.inboxCalendar(), item); err != nil {
		return principal, fmt.Errorf("inbox delivery to %q: %w", recipient.UserID, err)
	}
	p.written(recipient.UserID, e.inboxCalendar(), item)

	m.setScheduleStatus(StatusSuccess)
	e.Logger.Debug("delivered scheduling message",
		"recipient", recipient.UserID,
		"method", m.Method(),
		"item", item.ID)
	return principal, nil
}

// itemName picks the inbox item name: the organizer's own resource name for
// the very first REQUEST of a newly created object, so attendee and
// organizer copies share a stable name, otherwise a fresh unique one.
func (p *pass) itemName(m *Message) string {
	if p.reuseName != "" && m.Method() == MethodRequest {
		return p.reuseName
	}
	return uuid.NewString() + ".ics"
}
