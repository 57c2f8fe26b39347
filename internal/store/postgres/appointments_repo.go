package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"appointly/internal/domain"
	"appointly/internal/store"
)

const activeSlotConstraint = "appointments_active_slot_key"

type AppointmentRepo struct {
	db bun.IDB
}

func NewAppointmentRepo(db bun.IDB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

type slotTx struct {
	tx bun.Tx
}

func (r *AppointmentRepo) FindAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var m domain.Appointment
	err := r.db.NewSelect().
		Model(&m).
		Relation("Provider").
		Where("a.id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Appointment{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Appointment{}, err
	}
	return m, nil
}

func (r *AppointmentRepo) FindActiveAppointment(ctx context.Context, providerID int64, slot time.Time) (domain.Appointment, error) {
	return findActive(ctx, r.db, providerID, slot)
}

// CreateAppointment serializes writers of the same provider slot on a
// transaction-scoped advisory lock, re-checks the slot and inserts. The
// partial unique index catches anything that bypasses the lock.
func (r *AppointmentRepo) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	var out domain.Appointment
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockSlot(ctx, tx, appt.ProviderID, appt.ScheduledAt); err != nil {
			return err
		}
		a, err := store.InsertIfSlotFree(ctx, slotTx{tx: tx}, appt)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func (r *AppointmentRepo) SaveCancellation(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if appt.CanceledAt == nil {
		return domain.Appointment{}, fmt.Errorf("appointment %s: canceled_at is not set", appt.ID)
	}
	m := domain.Appointment{ID: appt.ID, CanceledAt: appt.CanceledAt}

	res, err := r.db.NewUpdate().
		Model(&m).
		Column("canceled_at", "updated_at").
		WherePK().
		Where("canceled_at IS NULL").
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		if _, err := r.FindAppointment(ctx, appt.ID); err != nil {
			return domain.Appointment{}, err
		}
		return domain.Appointment{}, store.ErrConflict
	}

	return r.FindAppointment(ctx, appt.ID)
}

func (r *AppointmentRepo) ListActiveByRequester(ctx context.Context, requesterID int64, limit, offset int) ([]domain.Appointment, error) {
	if offset < 0 {
		return nil, fmt.Errorf("list appointments: negative offset %d", offset)
	}
	rows := make([]domain.Appointment, 0)
	q := r.db.NewSelect().
		Model(&rows).
		Relation("Provider").
		Where("a.requester_id = ?", requesterID).
		Where("a.canceled_at IS NULL").
		OrderExpr("a.scheduled_at ASC, a.id ASC").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r slotTx) FindActiveAppointment(ctx context.Context, providerID int64, slot time.Time) (domain.Appointment, error) {
	return findActive(ctx, r.tx, providerID, slot)
}

func (r slotTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := domain.Appointment{
		ID:          appt.ID,
		RequesterID: appt.RequesterID,
		ProviderID:  appt.ProviderID,
		ScheduledAt: appt.ScheduledAt.UTC(),
	}
	if _, err := r.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		if isActiveSlotViolation(err) {
			return domain.Appointment{}, store.ErrConflict
		}
		return domain.Appointment{}, err
	}
	return m, nil
}

func findActive(ctx context.Context, db bun.IDB, providerID int64, slot time.Time) (domain.Appointment, error) {
	var m domain.Appointment
	err := db.NewSelect().
		Model(&m).
		Where("a.provider_id = ?", providerID).
		Where("a.scheduled_at = ?", slot.UTC()).
		Where("a.canceled_at IS NULL").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Appointment{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Appointment{}, err
	}
	return m, nil
}

func slotLockKey(providerID int64, slot time.Time) string {
	return fmt.Sprintf("slot:%d:%d", providerID, slot.UTC().Unix())
}

func lockSlot(ctx context.Context, tx bun.Tx, providerID int64, slot time.Time) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", slotLockKey(providerID, slot)).Exec(ctx)
	return err
}

func isActiveSlotViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == activeSlotConstraint
}
