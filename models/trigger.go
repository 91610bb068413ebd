package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TriggerEventType is the envelope type clients switch on
const TriggerEventType = "ALARM_TRIGGER"

// TriggerEvent is the transient message pushed to a user's open channels when an
// alarm or reminder fires. Source decides which id field is put on the wire.
type TriggerEvent struct {
	Source    ItemType
	ItemID    string
	UserID    string
	Title     string
	Message   string
	Timestamp time.Time
	Kind      Kind
}

// NewTriggerEvent builds the event for an item that fired at firedAt
func NewTriggerEvent(item ScheduleItem, firedAt time.Time) TriggerEvent {
	return TriggerEvent{
		Source:    item.ItemType,
		ItemID:    item.ID,
		UserID:    item.UserID,
		Title:     item.Title,
		Message:   item.Message,
		Timestamp: firedAt,
		Kind:      item.Kind,
	}
}

type triggerEventData struct {
	AlarmID    string    `json:"alarmId,omitempty"`
	ReminderID string    `json:"reminderId,omitempty"`
	UserID     string    `json:"userId"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	Kind       Kind      `json:"kind"`
}

type triggerEventEnvelope struct {
	Type string           `json:"type"`
	Data triggerEventData `json:"data"`
}

// MarshalJSON writes the stable wire shape clients parse directly
func (e TriggerEvent) MarshalJSON() ([]byte, error) {
	data := triggerEventData{
		UserID:    e.UserID,
		Title:     e.Title,
		Message:   e.Message,
		Timestamp: e.Timestamp.UTC(),
		Kind:      e.Kind,
	}
	switch e.Source {
	case ItemTypeAlarm:
		data.AlarmID = e.ItemID
	case ItemTypeReminder:
		data.ReminderID = e.ItemID
	default:
		return nil, fmt.Errorf("unknown trigger source %q", e.Source)
	}
	return json.Marshal(triggerEventEnvelope{Type: TriggerEventType, Data: data})
}

// UnmarshalJSON reads the wire shape back into the tagged variant
func (e *TriggerEvent) UnmarshalJSON(b []byte) error {
	var env triggerEventEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	if env.Type != TriggerEventType {
		return fmt.Errorf("unexpected event type %q", env.Type)
	}
	switch {
	case env.Data.AlarmID != "" && env.Data.ReminderID == "":
		e.Source, e.ItemID = ItemTypeAlarm, env.Data.AlarmID
	case env.Data.ReminderID != "" && env.Data.AlarmID == "":
		e.Source, e.ItemID = ItemTypeReminder, env.Data.ReminderID
	default:
		return fmt.Errorf("trigger event must carry exactly one of alarmId or reminderId")
	}
	e.UserID = env.Data.UserID
	e.Title = env.Data.Title
	e.Message = env.Data.Message
	e.Timestamp = env.Data.Timestamp
	e.Kind = env.Data.Kind
	return nil
}
