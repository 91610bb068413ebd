package databases_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/linesmerrill/alarm-trigger-api/config"
	"github.com/linesmerrill/alarm-trigger-api/databases"
	"github.com/linesmerrill/alarm-trigger-api/databases/mocks"
	"github.com/linesmerrill/alarm-trigger-api/models"
)

func TestNewScheduleDatabases(t *testing.T) {
	t.Setenv("DB_URI", "mongodb://127.0.0.1:27017")
	t.Setenv("DB_NAME", "test")
	conf := config.New()

	dbClient, err := databases.NewClient(conf)
	assert.NoError(t, err)

	db := databases.NewDatabase(conf, dbClient)

	alarmDB := databases.NewAlarmDatabase(db)
	reminderDB := databases.NewReminderDatabase(db)

	assert.NotEmpty(t, alarmDB)
	assert.Equal(t, models.ItemTypeAlarm, alarmDB.ItemType())
	assert.Equal(t, models.ItemTypeReminder, reminderDB.ItemType())
}

func TestScheduleDatabase_FindByID(t *testing.T) {
	oid := primitive.NewObjectID()

	var dbHelper databases.DatabaseHelper
	var collectionHelper databases.CollectionHelper
	var srHelperErr databases.SingleResultHelper
	var srHelperCorrect databases.SingleResultHelper

	dbHelper = &mocks.DatabaseHelper{}
	collectionHelper = &mocks.CollectionHelper{}
	srHelperErr = &mocks.SingleResultHelper{}
	srHelperCorrect = &mocks.SingleResultHelper{}

	srHelperErr.(*mocks.SingleResultHelper).
		On("Decode", mock.Anything).
		Return(databases.ErrNotFound)

	srHelperCorrect.(*mocks.SingleResultHelper).
		On("Decode", mock.Anything).
		Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(*models.ScheduleItem)
		arg.ID = oid.Hex()
		arg.UserID = "user-1"
	})

	collectionHelper.(*mocks.CollectionHelper).
		On("FindOne", context.Background(), bson.M{"_id": "missing"}).
		Return(srHelperErr)

	collectionHelper.(*mocks.CollectionHelper).
		On("FindOne", context.Background(), bson.M{"_id": oid}).
		Return(srHelperCorrect)

	dbHelper.(*mocks.DatabaseHelper).
		On("Collection", "reminders").Return(collectionHelper)

	reminderDB := databases.NewReminderDatabase(dbHelper)

	item, err := reminderDB.FindByID(context.Background(), "missing")
	assert.Nil(t, item)
	assert.ErrorIs(t, err, databases.ErrNotFound)

	item, err = reminderDB.FindByID(context.Background(), oid.Hex())
	require.NoError(t, err)
	assert.Equal(t, oid.Hex(), item.ID)
	assert.Equal(t, "user-1", item.UserID)
	assert.Equal(t, models.ItemTypeReminder, item.ItemType)
}

func TestScheduleDatabase_FindDue(t *testing.T) {
	now := time.Date(2026, 10, 20, 8, 0, 30, 0, time.UTC)

	var dbHelper databases.DatabaseHelper
	var collectionHelper databases.CollectionHelper
	var cursorHelper databases.CursorHelper

	dbHelper = &mocks.DatabaseHelper{}
	collectionHelper = &mocks.CollectionHelper{}
	cursorHelper = &mocks.CursorHelper{}

	cursorHelper.(*mocks.CursorHelper).
		On("All", context.Background(), mock.Anything).
		Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(1).(*[]models.ScheduleItem)
		*arg = []models.ScheduleItem{{ID: "a1"}, {ID: "a2"}}
	})

	filter := bson.M{
		"isActive":      true,
		"nextTriggerAt": bson.M{"$ne": nil, "$lte": now},
	}
	collectionHelper.(*mocks.CollectionHelper).
		On("Find", context.Background(), filter, mock.Anything).
		Return(cursorHelper, nil)

	dbHelper.(*mocks.DatabaseHelper).
		On("Collection", "alarms").Return(collectionHelper)

	alarmDB := databases.NewAlarmDatabase(dbHelper)

	items, err := alarmDB.FindDue(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, models.ItemTypeAlarm, item.ItemType)
	}
}

func TestScheduleDatabase_FindDueError(t *testing.T) {
	dbHelper := &mocks.DatabaseHelper{}
	collectionHelper := &mocks.CollectionHelper{}

	collectionHelper.
		On("Find", context.Background(), mock.Anything, mock.Anything).
		Return(nil, errors.New("mocked-error"))
	dbHelper.On("Collection", "alarms").Return(collectionHelper)

	items, err := databases.NewAlarmDatabase(dbHelper).FindDue(context.Background(), time.Now(), 10)
	assert.Nil(t, items)
	assert.ErrorContains(t, err, "mocked-error")
}

func TestScheduleDatabase_CompareAndSwapTrigger(t *testing.T) {
	expected := time.Date(2026, 10, 20, 8, 0, 0, 0, time.UTC)
	next := time.Date(2026, 10, 21, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		id      string
		result  *mongo.UpdateResult
		err     error
		wantErr error
	}{
		{
			name:   "swap applied",
			id:     "applied",
			result: &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1},
		},
		{
			name:    "state moved on",
			id:      "conflict",
			result:  &mongo.UpdateResult{MatchedCount: 0},
			wantErr: databases.ErrTriggerConflict,
		},
		{
			name:    "write failed",
			id:      "broken",
			err:     errors.New("mocked-error"),
			wantErr: errors.New("mocked-error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbHelper := &mocks.DatabaseHelper{}
			collectionHelper := &mocks.CollectionHelper{}

			collectionHelper.
				On("UpdateOne", context.Background(), mock.MatchedBy(func(filter bson.M) bool {
					return filter["_id"] == tt.id && filter["isActive"] == true && filter["nextTriggerAt"] == expected
				}), mock.MatchedBy(func(update bson.M) bool {
					inc, ok := update["$inc"].(bson.M)
					return ok && inc["triggerCount"] == 1
				})).
				Return(tt.result, tt.err)
			dbHelper.On("Collection", "alarms").Return(collectionHelper)

			err := databases.NewAlarmDatabase(dbHelper).
				CompareAndSwapTrigger(context.Background(), tt.id, expected, expected, &next)

			switch {
			case tt.wantErr == nil:
				assert.NoError(t, err)
			case errors.Is(tt.wantErr, databases.ErrTriggerConflict):
				assert.ErrorIs(t, err, databases.ErrTriggerConflict)
			default:
				assert.ErrorContains(t, err, tt.wantErr.Error())
			}
		})
	}
}

func TestScheduleDatabase_InsertOne(t *testing.T) {
	oid := primitive.NewObjectID()

	dbHelper := &mocks.DatabaseHelper{}
	collectionHelper := &mocks.CollectionHelper{}
	insertResult := &mocks.InsertOneResultHelper{}

	insertResult.On("Decode").Return(oid)
	collectionHelper.
		On("InsertOne", context.Background(), mock.AnythingOfType("models.ScheduleItem")).
		Return(insertResult, nil)
	dbHelper.On("Collection", "reminders").Return(collectionHelper)

	id, err := databases.NewReminderDatabase(dbHelper).InsertOne(context.Background(), models.ScheduleItem{
		UserID:    "user-1",
		Kind:      models.KindOnce,
		TimeOfDay: "09:30",
		Date:      "2026-10-22",
		IsActive:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, oid.Hex(), id)
}

func TestScheduleDatabase_UpdateScheduleNotFound(t *testing.T) {
	dbHelper := &mocks.DatabaseHelper{}
	collectionHelper := &mocks.CollectionHelper{}

	collectionHelper.
		On("UpdateOne", context.Background(), bson.M{"_id": "gone"}, mock.Anything).
		Return(&mongo.UpdateResult{MatchedCount: 0}, nil)
	dbHelper.On("Collection", "alarms").Return(collectionHelper)

	err := databases.NewAlarmDatabase(dbHelper).UpdateSchedule(context.Background(), models.ScheduleItem{ID: "gone"})
	assert.ErrorIs(t, err, databases.ErrNotFound)
}
