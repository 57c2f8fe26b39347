// Package memory is a process-local implementation of the store interfaces,
// used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"appointly/internal/domain"
	"appointly/internal/store"
)

type Store struct {
	mu            sync.Mutex
	users         map[int64]domain.User
	appointments  map[uuid.UUID]domain.Appointment
	notifications []domain.Notification
}

func New() *Store {
	return &Store{
		users:        make(map[int64]domain.User),
		appointments: make(map[uuid.UUID]domain.Appointment),
	}
}

// PutUser inserts or replaces a user.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = u
}

func (s *Store) FindUser(ctx context.Context, id int64) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) FindAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return s.withProvider(a), nil
}

func (s *Store) FindActiveAppointment(ctx context.Context, providerID int64, slot time.Time) (domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lockedTx{s}.FindActiveAppointment(ctx, providerID, slot)
}

func (s *Store) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.InsertIfSlotFree(ctx, lockedTx{s}, appt)
}

func (s *Store) SaveCancellation(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.appointments[appt.ID]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	if appt.CanceledAt == nil || !cur.MarkCanceled(*appt.CanceledAt) {
		return domain.Appointment{}, store.ErrConflict
	}
	cur.UpdatedAt = time.Now().UTC()
	s.appointments[cur.ID] = cur
	return s.withProvider(cur), nil
}

func (s *Store) ListActiveByRequester(ctx context.Context, requesterID int64, limit, offset int) ([]domain.Appointment, error) {
	if offset < 0 {
		return nil, fmt.Errorf("list appointments: negative offset %d", offset)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]domain.Appointment, 0)
	for _, a := range s.appointments {
		if a.RequesterID == requesterID && !a.IsCanceled() {
			rows = append(rows, a)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ScheduledAt.Equal(rows[j].ScheduledAt) {
			return rows[i].ID.String() < rows[j].ID.String()
		}
		return rows[i].ScheduledAt.Before(rows[j].ScheduledAt)
	})

	if offset >= len(rows) {
		return []domain.Appointment{}, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	out := make([]domain.Appointment, 0, len(rows))
	for _, a := range rows {
		out = append(out, s.withProvider(a))
	}
	return out, nil
}

func (s *Store) CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Notification{}, err
		}
		n.ID = id
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notifications = append(s.notifications, n)
	return n, nil
}

// Notifications returns a copy of every notification written so far.
func (s *Store) Notifications() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

func (s *Store) withProvider(a domain.Appointment) domain.Appointment {
	if u, ok := s.users[a.ProviderID]; ok {
		p := u
		a.Provider = &p
	}
	return a
}

// lockedTx operates on the maps directly; callers hold s.mu.
type lockedTx struct {
	s *Store
}

func (t lockedTx) FindActiveAppointment(ctx context.Context, providerID int64, slot time.Time) (domain.Appointment, error) {
	for _, a := range t.s.appointments {
		if a.ProviderID == providerID && a.ScheduledAt.Equal(slot) && !a.IsCanceled() {
			return a, nil
		}
	}
	return domain.Appointment{}, store.ErrNotFound
}

func (t lockedTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	now := time.Now().UTC()
	if appt.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, err
		}
		appt.ID = id
	}
	if _, exists := t.s.appointments[appt.ID]; exists {
		return domain.Appointment{}, store.ErrConflict
	}
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	appt.Provider = nil
	t.s.appointments[appt.ID] = appt
	return t.s.withProvider(appt), nil
}
