package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// User is the applicant account that pays for a subscription tier.
type User struct {
	ID        string    `json:"id" gorm:"column:id;primaryKey"`
	Email     string    `json:"email" gorm:"column:email"`
	FirstName string    `json:"first_name" gorm:"column:first_name"`
	LastName  string    `json:"last_name" gorm:"column:last_name"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
}

func (User) TableName() string { return "users" }

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id string) (*User, error)
}

var ErrNotFound = errors.New("user_not_found")
