package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appointly/internal/domain"
)

// SlotTx is the view of storage available while a provider slot is locked.
type SlotTx interface {
	FindActiveAppointment(ctx context.Context, providerID int64, slot time.Time) (domain.Appointment, error)
	InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
}

// InsertIfSlotFree re-checks the slot inside the locked section and inserts
// appt only when no active appointment holds it.
func InsertIfSlotFree(ctx context.Context, tx SlotTx, appt domain.Appointment) (domain.Appointment, error) {
	_, err := tx.FindActiveAppointment(ctx, appt.ProviderID, appt.ScheduledAt)
	switch {
	case err == nil:
		return domain.Appointment{}, ErrConflict
	case !errors.Is(err, ErrNotFound):
		return domain.Appointment{}, fmt.Errorf("check slot: %w", err)
	}
	return tx.InsertAppointment(ctx, appt)
}
