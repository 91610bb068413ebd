package models

import (
	"time"
)

// ScheduleItem holds the trigger-relevant structure shared by the alarms and reminders
// collections. Alarms and reminders only differ in which collection they are stored in.
type ScheduleItem struct {
	ID              string     `json:"_id" bson:"_id,omitempty"`
	ItemType        ItemType   `json:"itemType" bson:"-"`
	UserID          string     `json:"userId" bson:"userId"`
	Kind            Kind       `json:"kind" bson:"kind"`
	TimeOfDay       string     `json:"timeOfDay" bson:"timeOfDay"`             // HH:MM
	Date            string     `json:"date,omitempty" bson:"date"`             // YYYY-MM-DD, once only
	RepeatDays      []int      `json:"repeatDays,omitempty" bson:"repeatDays"` // 0 = Sunday
	Title           string     `json:"title" bson:"title"`
	Message         string     `json:"message" bson:"message"`
	IsActive        bool       `json:"isActive" bson:"isActive"`
	NextTriggerAt   *time.Time `json:"nextTriggerAt" bson:"nextTriggerAt"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt" bson:"lastTriggeredAt"`
	TriggerCount    int64      `json:"triggerCount" bson:"triggerCount"`
	CreatedAt       time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// IsRepeat returns true if the item recurs on its repeat days
func (s ScheduleItem) IsRepeat() bool {
	return s.Kind == KindRepeat
}

// TriggerState is the subset of an item returned to clients reconciling after a missed push
type TriggerState struct {
	ID              string     `json:"id"`
	ItemType        ItemType   `json:"itemType"`
	Kind            Kind       `json:"kind"`
	IsActive        bool       `json:"isActive"`
	NextTriggerAt   *time.Time `json:"nextTriggerAt"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt"`
	TriggerCount    int64      `json:"triggerCount"`
}

// State returns the trigger state view of the item
func (s ScheduleItem) State() TriggerState {
	return TriggerState{
		ID:              s.ID,
		ItemType:        s.ItemType,
		Kind:            s.Kind,
		IsActive:        s.IsActive,
		NextTriggerAt:   s.NextTriggerAt,
		LastTriggeredAt: s.LastTriggeredAt,
		TriggerCount:    s.TriggerCount,
	}
}
