package server

import (
	"net/http"

	"github.com/beevik/etree"
)

// CalDAV scheduling precondition names, reported in DAV:error bodies when a
// write is refused.
const (
	precondAllowedOrganizerChange = "allowed-organizer-scheduling-object-change"
	precondAllowedAttendeeChange  = "allowed-attendee-scheduling-object-change"
	precondUniqueSchedulingObject = "unique-scheduling-object-resource"
	precondValidCalendarData      = "valid-calendar-data"
)

// writePrecondError sends a DAV:error response naming the violated CalDAV
// precondition.
func (h *CaldavHandler) writePrecondError(w http.ResponseWriter, status int, precondition string) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	errEl := doc.CreateElement("D:error")
	errEl.CreateAttr("xmlns:D", "DAV:")
	errEl.CreateAttr("xmlns:C", "urn:ietf:params:xml:ns:caldav")
	errEl.CreateElement("C:" + precondition)

	w.Header().Set("Content-Type", mimeTypeXML)
	w.WriteHeader(status)
	if _, err := doc.WriteTo(w); err != nil {
		h.Logger.Error("failed to write error document", "error", err)
	}
}
