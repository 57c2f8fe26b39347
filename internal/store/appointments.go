package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"appointly/internal/domain"
)

type UserRepository interface {
	FindUser(ctx context.Context, id int64) (domain.User, error)
}

type AppointmentRepository interface {
	// FindAppointment loads the appointment together with its provider.
	FindAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	FindActiveAppointment(ctx context.Context, providerID int64, slot time.Time) (domain.Appointment, error)
	// CreateAppointment inserts appt unless the provider already has an active
	// appointment at appt.ScheduledAt, in which case it returns ErrConflict.
	// The check and the insert are atomic.
	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	// SaveCancellation persists appt.CanceledAt only if the stored row is still
	// active; otherwise it returns ErrConflict.
	SaveCancellation(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	ListActiveByRequester(ctx context.Context, requesterID int64, limit, offset int) ([]domain.Appointment, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error)
}
