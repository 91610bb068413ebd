package databases

// go generate: mockery --name ScheduleDatabase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/alarm-trigger-api/models"
)

const (
	alarmCollectionName    = "alarms"
	reminderCollectionName = "reminders"
)

// ErrTriggerConflict is returned by CompareAndSwapTrigger when the stored nextTriggerAt no
// longer matches the expected value, the item was deactivated, or the item is gone.
var ErrTriggerConflict = errors.New("trigger state changed concurrently")

// ScheduleDatabase is the trigger store for one kind of schedulable item
type ScheduleDatabase interface {
	ItemType() models.ItemType
	FindByID(ctx context.Context, id string) (*models.ScheduleItem, error)
	FindDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduleItem, error)
	InsertOne(ctx context.Context, item models.ScheduleItem) (string, error)
	// CompareAndSwapTrigger records a fire: it sets lastTriggeredAt and nextTriggerAt and
	// increments triggerCount in one write, only while the stored nextTriggerAt still equals
	// expectedNext and the item is active.
	CompareAndSwapTrigger(ctx context.Context, id string, expectedNext, last time.Time, next *time.Time) error
	// UpdateSchedule persists edited schedule fields together with a recomputed nextTriggerAt
	UpdateSchedule(ctx context.Context, item models.ScheduleItem) error
}

type scheduleDatabase struct {
	db         DatabaseHelper
	collection string
	itemType   models.ItemType
}

// NewAlarmDatabase initializes the trigger store backed by the alarms collection
func NewAlarmDatabase(db DatabaseHelper) ScheduleDatabase {
	return &scheduleDatabase{db: db, collection: alarmCollectionName, itemType: models.ItemTypeAlarm}
}

// NewReminderDatabase initializes the trigger store backed by the reminders collection
func NewReminderDatabase(db DatabaseHelper) ScheduleDatabase {
	return &scheduleDatabase{db: db, collection: reminderCollectionName, itemType: models.ItemTypeReminder}
}

func (s *scheduleDatabase) ItemType() models.ItemType {
	return s.itemType
}

// idFilter matches documents created by mongo (ObjectID) as well as ones inserted with
// a plain string id.
func idFilter(id string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func (s *scheduleDatabase) FindByID(ctx context.Context, id string) (*models.ScheduleItem, error) {
	item := &models.ScheduleItem{}
	err := s.db.Collection(s.collection).FindOne(ctx, bson.M{"_id": idFilter(id)}).Decode(item)
	if err != nil {
		return nil, err
	}
	item.ItemType = s.itemType
	return item, nil
}

func (s *scheduleDatabase) FindDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduleItem, error) {
	filter := bson.M{
		"isActive":      true,
		"nextTriggerAt": bson.M{"$ne": nil, "$lte": now.UTC()},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "nextTriggerAt", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := s.db.Collection(s.collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find due %s: %w", s.collection, err)
	}
	var items []models.ScheduleItem
	if err := cur.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("decode due %s: %w", s.collection, err)
	}
	for i := range items {
		items[i].ItemType = s.itemType
	}
	return items, nil
}

func (s *scheduleDatabase) InsertOne(ctx context.Context, item models.ScheduleItem) (string, error) {
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	res, err := s.db.Collection(s.collection).InsertOne(ctx, item)
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", s.collection, err)
	}
	switch id := res.Decode().(type) {
	case primitive.ObjectID:
		return id.Hex(), nil
	case string:
		return id, nil
	default:
		return fmt.Sprint(id), nil
	}
}

func (s *scheduleDatabase) CompareAndSwapTrigger(ctx context.Context, id string, expectedNext, last time.Time, next *time.Time) error {
	filter := bson.M{
		"_id":           idFilter(id),
		"isActive":      true,
		"nextTriggerAt": expectedNext.UTC(),
	}
	var nextValue interface{}
	if next != nil {
		nextValue = next.UTC()
	}
	update := bson.M{
		"$set": bson.M{
			"lastTriggeredAt": last.UTC(),
			"nextTriggerAt":   nextValue,
			"updatedAt":       time.Now().UTC(),
		},
		"$inc": bson.M{"triggerCount": 1},
	}

	res, err := s.db.Collection(s.collection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("swap trigger %s/%s: %w", s.collection, id, err)
	}
	if res.MatchedCount == 0 {
		return ErrTriggerConflict
	}
	return nil
}

func (s *scheduleDatabase) UpdateSchedule(ctx context.Context, item models.ScheduleItem) error {
	var nextValue interface{}
	if item.NextTriggerAt != nil {
		nextValue = item.NextTriggerAt.UTC()
	}
	update := bson.M{
		"$set": bson.M{
			"kind":          item.Kind,
			"timeOfDay":     item.TimeOfDay,
			"date":          item.Date,
			"repeatDays":    item.RepeatDays,
			"isActive":      item.IsActive,
			"nextTriggerAt": nextValue,
			"updatedAt":     time.Now().UTC(),
		},
	}

	res, err := s.db.Collection(s.collection).UpdateOne(ctx, bson.M{"_id": idFilter(item.ID)}, update)
	if err != nil {
		return fmt.Errorf("update schedule %s/%s: %w", s.collection, item.ID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
