package postgres

import (
	"context"

	"github.com/uptrace/bun"

	"appointly/internal/domain"
)

type NotificationRepo struct {
	db bun.IDB
}

func NewNotificationRepo(db bun.IDB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

func (r *NotificationRepo) CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	m := domain.Notification{
		RecipientUserID: n.RecipientUserID,
		Content:         n.Content,
	}
	if _, err := r.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Notification{}, err
	}
	return m, nil
}
