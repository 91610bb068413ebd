package databases

// go generate: mockery --name UserDatabase

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/linesmerrill/alarm-trigger-api/models"
)

const userName = "users"

// UserDatabase contains the methods the session authenticator needs from the user store
type UserDatabase interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type userDatabase struct {
	db DatabaseHelper
}

// NewUserDatabase initializes a new instance of user database with the provided db connection
func NewUserDatabase(db DatabaseHelper) UserDatabase {
	return &userDatabase{
		db: db,
	}
}

func (u *userDatabase) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	filter := bson.M{"user.email": strings.ToLower(strings.TrimSpace(email))}
	if err := u.db.Collection(userName).FindOne(ctx, filter).Decode(user); err != nil {
		return nil, err
	}
	return user, nil
}
