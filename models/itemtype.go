package models

// ItemType identifies which collection a schedulable item belongs to
type ItemType string

// Predefined ItemType values
const (
	ItemTypeAlarm    ItemType = "alarm"
	ItemTypeReminder ItemType = "reminder"
)

// ValidItemTypes returns all valid ItemType values
func ValidItemTypes() []ItemType {
	return []ItemType{
		ItemTypeAlarm,
		ItemTypeReminder,
	}
}

// IsValid checks if the ItemType value is one of the predefined constants
func (t ItemType) IsValid() bool {
	for _, validType := range ValidItemTypes() {
		if t == validType {
			return true
		}
	}
	return false
}

// String returns the string representation of the ItemType
func (t ItemType) String() string {
	return string(t)
}

// Kind is the recurrence kind of a schedulable item
type Kind string

// Predefined Kind values
const (
	KindOnce   Kind = "once"
	KindRepeat Kind = "repeat"
)

// IsValid checks if the Kind value is one of the predefined constants
func (k Kind) IsValid() bool {
	return k == KindOnce || k == KindRepeat
}

// String returns the string representation of the Kind
func (k Kind) String() string {
	return string(k)
}
