package server

import (
	"net/http"
)

// checkAuth performs HTTP Basic authentication against the storage backend.
// On failure it writes the 401 response itself and returns ok=false.
func (h *CaldavHandler) checkAuth(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, password, ok := r.BasicAuth()
	if !ok {
		h.requestAuth(w)
		return "", false
	}

	userID, err := h.Storage.AuthUser(r.Context(), username, password)
	if err != nil {
		h.Logger.Debug("authentication failed", "username", username, "error", err)
		h.requestAuth(w)
		return "", false
	}
	return userID, true
}

func (h *CaldavHandler) requestAuth(w http.ResponseWriter) {
	realm := h.Realm
	if realm == "" {
		realm = "CalDAV Server"
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
