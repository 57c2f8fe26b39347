package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// CancellationLeadTime is the minimum gap between a cancellation and the slot.
const CancellationLeadTime = 2 * time.Hour

type Appointment struct {
	bun.BaseModel `bun:"table:appointments,alias:a"`

	ID          uuid.UUID  `bun:"id,pk,type:uuid"`
	RequesterID int64      `bun:"requester_id,notnull"`
	ProviderID  int64      `bun:"provider_id,notnull"`
	ScheduledAt time.Time  `bun:"scheduled_at,notnull"`
	CanceledAt  *time.Time `bun:"canceled_at"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`

	Provider *User `bun:"rel:belongs-to,join:provider_id=id"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

func (a Appointment) IsCanceled() bool {
	return a.CanceledAt != nil
}

// CancelDeadline is the last instant (exclusive) at which the appointment may
// still be canceled.
func (a Appointment) CancelDeadline() time.Time {
	return a.ScheduledAt.Add(-CancellationLeadTime)
}

// CanCancelAt reports whether now is strictly before the cancel deadline.
func (a Appointment) CanCancelAt(now time.Time) bool {
	return now.Before(a.CancelDeadline())
}

// MarkCanceled sets CanceledAt once. It returns false when the appointment
// was already canceled and leaves it untouched.
func (a *Appointment) MarkCanceled(at time.Time) bool {
	if a.CanceledAt != nil {
		return false
	}
	t := at.UTC()
	a.CanceledAt = &t
	return true
}

// SlotStart truncates t to the start of its hour in UTC. One slot is one hour.
func SlotStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
}
