package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/acrite/libschedav/server/scheduling"
	"github.com/acrite/libschedav/server/storage"
)

const (
	mimeTypeCalendar = "text/calendar; charset=utf-8"
	mimeTypeXML      = "application/xml; charset=utf-8"

	davCapabilities = "1, 3, calendar-access, calendar-auto-schedule"
	allowedMethods  = "OPTIONS, GET, PUT, DELETE"
)

// RequestContext holds parsed information about the incoming CalDAV request.
type RequestContext struct {
	Resource Resource // Contains UserID, CalendarID, ObjectID, and ResourceType
	AuthUser string   // Authenticated user (from Basic Auth)
}

// CaldavHandler is the main HTTP handler for CalDAV requests under a
// specific prefix. Object writes and deletes run through the scheduling
// engine before they are persisted, so invitations, replies and
// cancellations happen as a side effect of normal calendar access.
type CaldavHandler struct {
	Prefix       string // e.g., "/caldav/"
	Realm        string // Realm for Basic Auth
	Storage      storage.Storage
	Scheduler    *scheduling.Engine
	URLConverter URLConverter
	Logger       *slog.Logger
}

// NewCaldavHandler creates a new CaldavHandler. A nil scheduler disables
// automatic scheduling entirely; writes then behave like plain CalDAV.
func NewCaldavHandler(prefix, realm string, store storage.Storage, sched *scheduling.Engine, converter URLConverter, logger *slog.Logger) *CaldavHandler {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	if converter == nil {
		converter = &DefaultURLConverter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CaldavHandler{
		Prefix:       prefix,
		Realm:        realm,
		Storage:      store,
		Scheduler:    sched,
		URLConverter: converter,
		Logger:       logger,
	}
}

// ServeHTTP handles incoming HTTP requests, performs authentication,
// parsing, and routing.
func (h *CaldavHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Logger.Debug("request received", "method", r.Method, "path", r.URL.Path)

	authUser, ok := h.checkAuth(w, r)
	if !ok {
		// checkAuth already sent the 401 response
		return
	}

	relativePath := strings.TrimPrefix(r.URL.Path, h.Prefix)
	resource, err := h.URLConverter.ParsePath(relativePath)
	if err != nil {
		h.Logger.Warn("error parsing path", "path", relativePath, "error", err)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	ctx := &RequestContext{
		Resource: resource,
		AuthUser: authUser,
	}

	// Users can only touch their own resources. Delegation would relax
	// this check.
	if ctx.Resource.UserID != "" && ctx.Resource.UserID != ctx.AuthUser {
		h.Logger.Warn("access denied",
			"auth_user", ctx.AuthUser,
			"user_id", ctx.Resource.UserID)
		http.Error(w, "Forbidden: Access denied to the requested resource", http.StatusForbidden)
		return
	}

	switch r.Method {
	case "PUT":
		h.handlePut(w, r, ctx)
	case "GET":
		h.handleGet(w, r, ctx)
	case "DELETE":
		h.handleDelete(w, r, ctx)
	case "OPTIONS":
		h.handleOptions(w, r, ctx)
	default:
		h.Logger.Debug("method not allowed", "method", r.Method)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (h *CaldavHandler) handleOptions(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	w.Header().Set("Allow", allowedMethods)
	w.Header().Set("DAV", davCapabilities)
	w.WriteHeader(http.StatusOK)
}
