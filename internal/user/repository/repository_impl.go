package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/admitpay/internal/user/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrNotFound
	}

	var item domain.User
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, first_name, last_name, created_at
		 FROM users
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}
