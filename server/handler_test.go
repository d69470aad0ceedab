package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/acrite/libschedav/server/storage"
	"github.com/stretchr/testify/assert"
)

func TestServeHTTPAuth(t *testing.T) {
	mockStorage := &storage.MockStorage{}
	handler := NewCaldavHandler("/caldav/", "Test Realm", mockStorage, nil, nil, testLogger())

	t.Run("no credentials", func(t *testing.T) {
		mockStorage.ExpectedCalls = nil
		req := httptest.NewRequest("OPTIONS", "/caldav/alice", nil)
		recorder := httptest.NewRecorder()

		handler.ServeHTTP(recorder, req)

		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
		assert.Contains(t, recorder.Header().Get("WWW-Authenticate"), `realm="Test Realm"`)
	})

	t.Run("bad credentials", func(t *testing.T) {
		mockStorage.ExpectedCalls = nil
		mockStorage.On("AuthUser", "alice", "wrong").
			Return("", storage.ErrPermissionDenied).Once()

		req := httptest.NewRequest("OPTIONS", "/caldav/alice", nil)
		req.SetBasicAuth("alice", "wrong")
		recorder := httptest.NewRecorder()

		handler.ServeHTTP(recorder, req)

		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
		mockStorage.AssertExpectations(t)
	})

	t.Run("cross-user access denied", func(t *testing.T) {
		mockStorage.ExpectedCalls = nil
		mockStorage.On("AuthUser", "bob", "pw").
			Return("bob", nil).Once()

		req := httptest.NewRequest("OPTIONS", "/caldav/alice/cal/work", nil)
		req.SetBasicAuth("bob", "pw")
		recorder := httptest.NewRecorder()

		handler.ServeHTTP(recorder, req)

		assert.Equal(t, http.StatusForbidden, recorder.Code)
		mockStorage.AssertExpectations(t)
	})

	t.Run("options advertises scheduling", func(t *testing.T) {
		mockStorage.ExpectedCalls = nil
		mockStorage.On("AuthUser", "alice", "pw").
			Return("alice", nil).Once()

		req := httptest.NewRequest("OPTIONS", "/caldav/alice", nil)
		req.SetBasicAuth("alice", "pw")
		recorder := httptest.NewRecorder()

		handler.ServeHTTP(recorder, req)

		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Contains(t, recorder.Header().Get("DAV"), "calendar-auto-schedule")
		assert.Contains(t, recorder.Header().Get("Allow"), "PUT")
	})

	t.Run("unknown method", func(t *testing.T) {
		mockStorage.ExpectedCalls = nil
		mockStorage.On("AuthUser", "alice", "pw").
			Return("alice", nil).Once()

		req := httptest.NewRequest("REPORT", "/caldav/alice/cal/work", nil)
		req.SetBasicAuth("alice", "pw")
		recorder := httptest.NewRecorder()

		handler.ServeHTTP(recorder, req)

		assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
	})

	t.Run("unparseable path", func(t *testing.T) {
		mockStorage.ExpectedCalls = nil
		mockStorage.On("AuthUser", "alice", "pw").
			Return("alice", nil).Once()

		req := httptest.NewRequest("OPTIONS", "/caldav/alice/bogus", nil)
		req.SetBasicAuth("alice", "pw")
		recorder := httptest.NewRecorder()

		handler.ServeHTTP(recorder, req)

		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})
}

func TestNewCaldavHandlerPrefixNormalization(t *testing.T) {
	h := NewCaldavHandler("caldav", "", &storage.MockStorage{}, nil, nil, nil)
	assert.Equal(t, "/caldav/", h.Prefix)
	assert.NotNil(t, h.URLConverter)
	assert.NotNil(t, h.Logger)
}
