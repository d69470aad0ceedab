package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/acrite/libschedav/server/scheduling"
	"github.com/acrite/libschedav/server/storage"
	"github.com/emersion/go-ical"
)

func (h *CaldavHandler) handlePut(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	h.Logger.Info("put request received",
		"resource_type", ctx.Resource.ResourceType,
		"user_id", ctx.Resource.UserID,
		"calendar_id", ctx.Resource.CalendarID,
		"object_id", ctx.Resource.ObjectID)

	if ctx.Resource.ResourceType != storage.ResourceObject {
		h.Logger.Warn("put not allowed on resource type",
			"resource_type", ctx.Resource.ResourceType)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	// 1) Load existing object (or note that it doesn't exist)
	object, err := h.Storage.GetObject(r.Context(), ctx.Resource.UserID, ctx.Resource.CalendarID, ctx.Resource.ObjectID)
	if errors.Is(err, storage.ErrNotFound) {
		object = nil
		h.Logger.Debug("object does not exist, will create new")
	} else if err != nil {
		h.Logger.Error("storage error while retrieving object",
			"error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	} else {
		h.Logger.Debug("existing object found",
			"etag", object.ETag)
	}

	// 2) Validate preconditions
	ifMatch := r.Header.Get("If-Match")
	ifNone := r.Header.Get("If-None-Match")
	ifScheduleTag := r.Header.Get("If-Schedule-Tag-Match")
	if object != nil {
		if ifMatch != "" && ifMatch != object.ETag {
			h.Logger.Warn("etag mismatch",
				"client_etag", ifMatch,
				"server_etag", object.ETag)
			http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
			return
		}
		if ifScheduleTag != "" && ifScheduleTag != object.ETag {
			h.Logger.Warn("schedule-tag mismatch",
				"client_tag", ifScheduleTag,
				"server_etag", object.ETag)
			http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
			return
		}
		if ifNone == "*" {
			h.Logger.Warn("if-none-match=* used but resource exists")
			http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
			return
		}
	} else {
		// object==nil → creation
		if ifMatch != "" || ifScheduleTag != "" {
			h.Logger.Warn("conditional header used on non-existent resource")
			http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
			return
		}
	}

	// 3) Check Content-Type
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "text/calendar") {
		h.Logger.Warn("unsupported media type",
			"content_type", contentType)
		http.Error(w, "Unsupported Media Type", http.StatusUnsupportedMediaType)
		return
	}

	// 4) Read & parse
	data, err := io.ReadAll(r.Body)
	if err != nil {
		h.Logger.Error("failed to read request body",
			"error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	r.Body.Close()

	cal, err := storage.ICSToCalendar(string(data))
	if err != nil {
		h.Logger.Warn("invalid iCalendar data",
			"error", err)
		h.writePrecondError(w, http.StatusForbidden, precondValidCalendarData)
		return
	}

	// Inbox items are scheduling messages, not calendar objects; they are
	// reconciled rather than stored as-is.
	if ctx.Resource.inInbox() {
		h.putInboxItem(w, r, ctx, cal)
		return
	}

	// 5) Scheduling: one UID maps to at most one resource per user, and the
	// implied iTIP traffic must be generated before the write lands.
	var previous *ical.Calendar
	if object != nil {
		previous = object.Data
	}

	if uid := calendarUID(cal); uid != "" {
		other, err := h.Storage.FindObjectByUID(r.Context(), ctx.Resource.UserID, uid)
		if err == nil && other.ID != ctx.Resource.ObjectID {
			h.Logger.Warn("uid already used by another resource",
				"uid", uid,
				"other_path", other.Path)
			h.writePrecondError(w, http.StatusForbidden, precondUniqueSchedulingObject)
			return
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			h.Logger.Error("uid lookup failed", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}

	outcome, ok := h.runSchedule(w, r, ctx, previous, cal)
	if !ok {
		return
	}

	// 6) Persist
	path, err := h.URLConverter.EncodePath(ctx.Resource)
	if err != nil {
		// that resource is from path decoding, should not fail
		h.Logger.Error("unexpected error encoding path",
			"error", err,
			"resource", ctx.Resource)
		http.Error(w, "Failed to encode path", http.StatusInternalServerError)
		return
	}
	newObj := &storage.CalendarObject{ID: ctx.Resource.ObjectID, Path: path, Data: cal}
	newETag, err := h.Storage.UpdateObject(r.Context(), ctx.Resource.UserID, ctx.Resource.CalendarID, newObj)
	if err != nil {
		h.Logger.Error("failed to save object",
			"error", err)
		http.Error(w, "Failed to save object", http.StatusInternalServerError)
		return
	}

	// 7) Respond. Only resources the engine actually scheduled carry a
	// Schedule-Tag; plain calendar data gets a plain ETag.
	w.Header().Set("ETag", newETag)
	if outcome != nil && outcome.Scheduled() {
		w.Header().Set("Schedule-Tag", newETag)
	}
	if object == nil {
		h.Logger.Info("object created successfully",
			"path", newObj.Path,
			"etag", newETag)
		w.Header().Set("Location", newObj.Path)
		w.WriteHeader(http.StatusCreated)
	} else {
		h.Logger.Info("object updated successfully",
			"path", newObj.Path,
			"etag", newETag)
		w.WriteHeader(http.StatusNoContent)
	}
}

// runSchedule drives the scheduling engine for an object change. It returns
// the engine's outcome and whether the write may proceed; on refusal the
// error response has already been sent.
func (h *CaldavHandler) runSchedule(w http.ResponseWriter, r *http.Request, ctx *RequestContext, previous, current *ical.Calendar) (*scheduling.Outcome, bool) {
	if h.Scheduler == nil {
		return nil, true
	}

	owner, err := h.ownerPrincipal(r, ctx)
	if err != nil {
		h.Logger.Error("failed to resolve owner principal",
			"user_id", ctx.Resource.UserID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return nil, false
	}

	outcome, err := h.Scheduler.Schedule(r.Context(), &scheduling.ScheduleRequest{
		Owner:           owner,
		ObjectName:      ctx.Resource.ObjectID,
		Previous:        previous,
		Current:         current,
		SuppressReplies: r.Header.Get("Schedule-Reply") == "F",
	})
	if errors.Is(err, scheduling.ErrOrganizerChange) {
		h.Logger.Warn("organizer change refused",
			"user_id", ctx.Resource.UserID,
			"object_id", ctx.Resource.ObjectID,
			"error", err)
		h.writePrecondError(w, http.StatusForbidden, precondAllowedOrganizerChange)
		return nil, false
	}
	if errors.Is(err, scheduling.ErrNotAllowed) {
		h.Logger.Warn("scheduling constraint violated",
			"user_id", ctx.Resource.UserID,
			"object_id", ctx.Resource.ObjectID,
			"error", err)
		h.writePrecondError(w, http.StatusForbidden, precondAllowedAttendeeChange)
		return nil, false
	}
	if err != nil {
		h.Logger.Error("scheduling failed",
			"user_id", ctx.Resource.UserID,
			"object_id", ctx.Resource.ObjectID,
			"error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return nil, false
	}

	if outcome.Scheduled() {
		h.Logger.Info("scheduling performed",
			"op", outcome.Op,
			"written", len(outcome.Written),
			"external", len(outcome.External))
	}
	return outcome, true
}

// putInboxItem reconciles a scheduling message delivered into the inbox and
// keeps the item around for the client to inspect and delete.
func (h *CaldavHandler) putInboxItem(w http.ResponseWriter, r *http.Request, ctx *RequestContext, cal *ical.Calendar) {
	if h.Scheduler == nil {
		http.Error(w, "Scheduling not enabled", http.StatusForbidden)
		return
	}

	owner, err := h.ownerPrincipal(r, ctx)
	if err != nil {
		h.Logger.Error("failed to resolve owner principal",
			"user_id", ctx.Resource.UserID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	outcome, err := h.Scheduler.ProcessInbox(r.Context(), &scheduling.InboxRequest{
		Owner:    owner,
		ItemName: ctx.Resource.ObjectID,
		Calendar: cal,
	})
	if errors.Is(err, storage.ErrInvalidInput) {
		h.Logger.Warn("invalid inbox item", "error", err)
		h.writePrecondError(w, http.StatusForbidden, precondValidCalendarData)
		return
	}
	if err != nil {
		h.Logger.Error("inbox processing failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	path, err := h.URLConverter.EncodePath(ctx.Resource)
	if err != nil {
		h.Logger.Error("unexpected error encoding path",
			"error", err, "resource", ctx.Resource)
		http.Error(w, "Failed to encode path", http.StatusInternalServerError)
		return
	}
	item := &storage.CalendarObject{ID: ctx.Resource.ObjectID, Path: path, Data: cal}
	etag, err := h.Storage.UpdateObject(r.Context(), ctx.Resource.UserID, ctx.Resource.CalendarID, item)
	if err != nil {
		h.Logger.Error("failed to store inbox item", "error", err)
		http.Error(w, "Failed to save object", http.StatusInternalServerError)
		return
	}

	h.Logger.Info("inbox item processed",
		"user_id", ctx.Resource.UserID,
		"item", ctx.Resource.ObjectID,
		"written", len(outcome.Written))
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusCreated)
}

// ownerPrincipal builds the scheduling principal for the resource owner.
func (h *CaldavHandler) ownerPrincipal(r *http.Request, ctx *RequestContext) (scheduling.Principal, error) {
	user, err := h.Storage.GetUser(r.Context(), ctx.Resource.UserID)
	if err != nil {
		return scheduling.Principal{}, err
	}
	return scheduling.Principal{
		UserID:   user.ID,
		Email:    scheduling.NormalizeEmail(user.Email),
		Username: user.ID,
		URI:      user.Path,
	}, nil
}

// calendarUID returns the UID shared by the calendar's scheduling
// components, or "" when there is none.
func calendarUID(cal *ical.Calendar) string {
	for _, comp := range cal.Children {
		switch comp.Name {
		case ical.CompEvent, ical.CompToDo, ical.CompJournal:
			if uid, err := comp.Props.Text(ical.PropUID); err == nil && uid != "" {
				return uid
			}
		}
	}
	return ""
}
