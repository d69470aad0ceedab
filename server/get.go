package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/acrite/libschedav/server/storage"
)

func (h *CaldavHandler) handleGet(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	h.Logger.Debug("get request received",
		"resource_type", ctx.Resource.ResourceType,
		"user_id", ctx.Resource.UserID,
		"calendar_id", ctx.Resource.CalendarID,
		"object_id", ctx.Resource.ObjectID)

	if ctx.Resource.ResourceType != storage.ResourceObject {
		// GET on Principal/HomeSet is unusual in CalDAV.
		http.Error(w, "Method Not Allowed on this resource type", http.StatusMethodNotAllowed)
		return
	}

	object, err := h.Storage.GetObject(r.Context(), ctx.Resource.UserID, ctx.Resource.CalendarID, ctx.Resource.ObjectID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil || object.Data == nil {
		h.Logger.Error("failed to retrieve object", "error", err)
		http.Error(w, "Internal Server Error: Unable to retrieve object", http.StatusInternalServerError)
		return
	}

	// judge etag
	if etag := r.Header.Get("If-None-Match"); etag != "" && etag == object.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	ics, err := storage.CalendarToICS(object.Data)
	if err != nil {
		h.Logger.Error("failed to encode calendar", "error", err)
		http.Error(w, "Internal Server Error: Failed to encode calendar", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", mimeTypeCalendar)
	w.Header().Set("Content-Length", fmt.Sprint(len(ics)))
	w.Header().Set("ETag", object.ETag)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(ics)); err != nil {
		h.Logger.Error("failed to write response", "error", err)
	}
}
