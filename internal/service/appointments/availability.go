package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appointly/internal/domain"
	"appointly/internal/store"
)

// Availability decides whether a provider slot can be booked. It never
// writes; the repository re-validates the slot when inserting.
type Availability struct {
	users store.UserRepository
	appts store.AppointmentRepository
}

func NewAvailability(users store.UserRepository, appts store.AppointmentRepository) *Availability {
	return &Availability{users: users, appts: appts}
}

// Check truncates requested to its slot and returns it when bookable.
func (a *Availability) Check(ctx context.Context, providerID int64, requested, now time.Time) (time.Time, error) {
	slot := domain.SlotStart(requested)
	if !slot.After(now) {
		return time.Time{}, ErrPastDate
	}

	provider, err := a.users.FindUser(ctx, providerID)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, ErrProviderNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("find provider: %w", err)
	}
	if !provider.IsProvider {
		return time.Time{}, ErrProviderNotFound
	}

	_, err = a.appts.FindActiveAppointment(ctx, providerID, slot)
	switch {
	case err == nil:
		return time.Time{}, ErrSlotTaken
	case !errors.Is(err, store.ErrNotFound):
		return time.Time{}, fmt.Errorf("find active appointment: %w", err)
	}
	return slot, nil
}
