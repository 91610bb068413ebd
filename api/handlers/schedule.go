package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/linesmerrill/alarm-trigger-api/api"
	"github.com/linesmerrill/alarm-trigger-api/config"
	"github.com/linesmerrill/alarm-trigger-api/databases"
)

// Schedule exposes the trigger state of one kind of schedulable item
type Schedule struct {
	DB databases.ScheduleDatabase
}

// TriggerStateHandler returns the current trigger state of an item owned by the caller.
// Clients use it to reconcile after a missed push.
func (s Schedule) TriggerStateHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	userID := api.UserID(r)

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	item, err := s.DB.FindByID(ctx, id)
	if errors.Is(err, databases.ErrNotFound) || (err == nil && item.UserID != userID) {
		config.ErrorStatus("failed to get "+s.DB.ItemType().String()+" by ID", http.StatusNotFound, w, databases.ErrNotFound)
		return
	}
	if err != nil {
		config.ErrorStatus("failed to get "+s.DB.ItemType().String()+" by ID", http.StatusInternalServerError, w, err)
		return
	}
	item.ItemType = s.DB.ItemType()

	b, err := json.Marshal(item.State())
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	zap.S().Debugw("trigger state served", "itemType", item.ItemType, "itemId", item.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
