package appointments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"appointly/internal/domain"
	"appointly/internal/store"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Notifier receives lifecycle transitions after they are committed.
// AppointmentCreated must not block on delivery. AppointmentCanceled is
// awaited; its error is logged and never changes the outcome of Cancel.
type Notifier interface {
	AppointmentCreated(ctx context.Context, appt domain.Appointment, requesterName string)
	AppointmentCanceled(ctx context.Context, appt domain.Appointment) error
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

type Service struct {
	users        store.UserRepository
	appts        store.AppointmentRepository
	availability *Availability
	notifier     Notifier
	now          func() time.Time
	logger       *zap.Logger
}

func NewService(users store.UserRepository, appts store.AppointmentRepository, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		users:        users,
		appts:        appts,
		availability: NewAvailability(users, appts),
		notifier:     notifier,
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ScheduleInput struct {
	RequesterID int64
	ProviderID  int64
	Date        string
}

func (s *Service) Schedule(ctx context.Context, in ScheduleInput) (domain.Appointment, error) {
	if in.RequesterID <= 0 {
		return domain.Appointment{}, validationError("requester_id is required")
	}
	if in.ProviderID <= 0 {
		return domain.Appointment{}, validationError("provider_id is required")
	}
	requested, err := ParseDate(in.Date)
	if err != nil {
		return domain.Appointment{}, err
	}

	slot, err := s.availability.Check(ctx, in.ProviderID, requested, s.now())
	if err != nil {
		return domain.Appointment{}, err
	}

	appt, err := s.appts.CreateAppointment(ctx, domain.Appointment{
		RequesterID: in.RequesterID,
		ProviderID:  in.ProviderID,
		ScheduledAt: slot,
	})
	if errors.Is(err, store.ErrConflict) {
		return domain.Appointment{}, ErrSlotTaken
	}
	if err != nil {
		return domain.Appointment{}, fmt.Errorf("create appointment: %w", err)
	}

	s.notifier.AppointmentCreated(ctx, appt, s.requesterName(ctx, in.RequesterID))
	return appt, nil
}

func (s *Service) requesterName(ctx context.Context, id int64) string {
	u, err := s.users.FindUser(ctx, id)
	if err != nil {
		s.logger.Warn("requester lookup failed", zap.Int64("requester_id", id), zap.Error(err))
		return fmt.Sprintf("user #%d", id)
	}
	return u.Name
}

type CancelInput struct {
	AppointmentID uuid.UUID
	CallerID      int64
}

func (s *Service) Cancel(ctx context.Context, in CancelInput) (domain.Appointment, error) {
	if in.AppointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	if in.CallerID <= 0 {
		return domain.Appointment{}, validationError("caller_id is required")
	}

	appt, err := s.appts.FindAppointment(ctx, in.AppointmentID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Appointment{}, ErrNotFound
	}
	if err != nil {
		return domain.Appointment{}, fmt.Errorf("find appointment: %w", err)
	}

	if appt.RequesterID != in.CallerID {
		return domain.Appointment{}, ErrForbidden
	}
	now := s.now()
	if !appt.CanCancelAt(now) {
		return domain.Appointment{}, ErrTooLate
	}
	if !appt.MarkCanceled(now) {
		return domain.Appointment{}, ErrAlreadyCanceled
	}

	saved, err := s.appts.SaveCancellation(ctx, appt)
	if errors.Is(err, store.ErrConflict) {
		return domain.Appointment{}, ErrAlreadyCanceled
	}
	if err != nil {
		return domain.Appointment{}, fmt.Errorf("save cancellation: %w", err)
	}
	if saved.Provider == nil {
		saved.Provider = appt.Provider
	}

	if err := s.notifier.AppointmentCanceled(ctx, saved); err != nil {
		s.logger.Error("cancellation notice failed",
			zap.String("appointment_id", saved.ID.String()),
			zap.Int64("provider_id", saved.ProviderID),
			zap.Error(err),
		)
	}
	return saved, nil
}

type ListInput struct {
	RequesterID int64
	Page        int
	PageSize    int
}

// List returns the requester's active appointments, earliest first.
func (s *Service) List(ctx context.Context, in ListInput) ([]domain.Appointment, error) {
	if in.RequesterID <= 0 {
		return nil, validationError("requester_id is required")
	}
	if in.Page < 0 || in.PageSize < 0 {
		return nil, validationError("page and page_size must not be negative")
	}
	page := in.Page
	if page == 0 {
		page = 1
	}
	size := in.PageSize
	if size == 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if page-1 > math.MaxInt/size {
		return nil, validationError("page out of range")
	}

	appts, err := s.appts.ListActiveByRequester(ctx, in.RequesterID, size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDate accepts an ISO-8601 timestamp. Values without an offset are UTC.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, validationError("date is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, validationError("date must be an ISO-8601 timestamp")
}
