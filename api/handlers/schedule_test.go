package handlers_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shaj13/go-guardian/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/linesmerrill/alarm-trigger-api/api"
	"github.com/linesmerrill/alarm-trigger-api/api/handlers"
	"github.com/linesmerrill/alarm-trigger-api/databases"
	mocksdb "github.com/linesmerrill/alarm-trigger-api/databases/mocks"
	"github.com/linesmerrill/alarm-trigger-api/models"
)

func stateRequest(t *testing.T, path, id, userID string) *http.Request {
	t.Helper()
	req, err := http.NewRequest("GET", path+id, nil)
	require.NoError(t, err)
	req = mux.SetURLVars(req, map[string]string{"id": id})
	return api.RequestWithUser(auth.NewDefaultUser("ada@example.com", userID, nil, nil), req)
}

func TestSchedule_TriggerStateHandler(t *testing.T) {
	next := time.Date(2026, 10, 21, 8, 0, 0, 0, time.UTC)
	last := time.Date(2026, 10, 20, 8, 0, 0, 0, time.UTC)

	db := &mocksdb.ScheduleDatabase{}
	db.On("ItemType").Return(models.ItemTypeAlarm)
	db.On("FindByID", mock.Anything, "alarm-1").Return(&models.ScheduleItem{
		ID:              "alarm-1",
		UserID:          "user-1",
		Kind:            models.KindRepeat,
		IsActive:        true,
		NextTriggerAt:   &next,
		LastTriggeredAt: &last,
		TriggerCount:    3,
	}, nil)

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(handlers.Schedule{DB: db}.TriggerStateHandler)
	handler.ServeHTTP(rr, stateRequest(t, "/api/v1/alarms/", "alarm-1", "user-1"))

	assert.Equal(t, http.StatusOK, rr.Code)

	var got models.TriggerState
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, models.TriggerState{
		ID:              "alarm-1",
		ItemType:        models.ItemTypeAlarm,
		Kind:            models.KindRepeat,
		IsActive:        true,
		NextTriggerAt:   &next,
		LastTriggeredAt: &last,
		TriggerCount:    3,
	}, got)
}

func TestSchedule_TriggerStateHandlerErrors(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		item   *models.ScheduleItem
		err    error
		want   int
	}{
		{
			name:   "not found",
			userID: "user-1",
			err:    databases.ErrNotFound,
			want:   http.StatusNotFound,
		},
		{
			name:   "owned by someone else",
			userID: "user-2",
			item:   &models.ScheduleItem{ID: "rem-1", UserID: "user-1"},
			want:   http.StatusNotFound,
		},
		{
			name:   "store failure",
			userID: "user-1",
			err:    errors.New("mocked-error"),
			want:   http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &mocksdb.ScheduleDatabase{}
			db.On("ItemType").Return(models.ItemTypeReminder)
			db.On("FindByID", mock.Anything, "rem-1").Return(tt.item, tt.err)

			rr := httptest.NewRecorder()
			handler := http.HandlerFunc(handlers.Schedule{DB: db}.TriggerStateHandler)
			handler.ServeHTTP(rr, stateRequest(t, "/api/v1/reminders/", "rem-1", tt.userID))

			assert.Equal(t, tt.want, rr.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Contains(t, body["response"], "failed to get reminder by ID")
		})
	}
}
