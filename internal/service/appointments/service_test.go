package appointments

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appointly/internal/domain"
	"appointly/internal/store"
	"appointly/internal/store/memory"
)

const (
	aliceID int64 = 1
	bobID   int64 = 2
	carolID int64 = 3
)

type recordingNotifier struct {
	mu        sync.Mutex
	created   []domain.Appointment
	names     []string
	canceled  []domain.Appointment
	cancelErr error
}

func (n *recordingNotifier) AppointmentCreated(ctx context.Context, appt domain.Appointment, requesterName string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, appt)
	n.names = append(n.names, requesterName)
}

func (n *recordingNotifier) AppointmentCanceled(ctx context.Context, appt domain.Appointment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.canceled = append(n.canceled, appt)
	return n.cancelErr
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newFixture(t *testing.T, now time.Time) (*Service, *memory.Store, *recordingNotifier, *clock) {
	t.Helper()
	st := memory.New()
	st.PutUser(domain.User{ID: aliceID, Name: "Alice", Email: "alice@example.com", IsProvider: true})
	st.PutUser(domain.User{ID: bobID, Name: "Bob", Email: "bob@example.com"})
	st.PutUser(domain.User{ID: carolID, Name: "Carol", Email: "carol@example.com"})

	n := &recordingNotifier{}
	c := &clock{now: now}
	svc := NewService(st, st, n, WithClock(c.Now))
	return svc, st, n, c
}

func TestSchedule_AliceAndBobScenario(t *testing.T) {
	ctx := context.Background()
	svc, _, n, c := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	appt, err := svc.Schedule(ctx, ScheduleInput{RequesterID: bobID, ProviderID: aliceID, Date: "2024-06-01T15:37:00Z"})
	require.NoError(t, err)
	assert.True(t, appt.ScheduledAt.Equal(time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)))
	assert.Nil(t, appt.CanceledAt)
	require.Len(t, n.created, 1)
	assert.Equal(t, "Bob", n.names[0])

	_, err = svc.Schedule(ctx, ScheduleInput{RequesterID: carolID, ProviderID: aliceID, Date: "2024-06-01T15:05:00Z"})
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.Len(t, n.created, 1)

	c.Set(time.Date(2024, 6, 1, 13, 30, 0, 0, time.UTC))
	_, err = svc.Cancel(ctx, CancelInput{AppointmentID: appt.ID, CallerID: bobID})
	assert.ErrorIs(t, err, ErrTooLate)
	assert.Empty(t, n.canceled)

	c.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	canceled, err := svc.Cancel(ctx, CancelInput{AppointmentID: appt.ID, CallerID: bobID})
	require.NoError(t, err)
	require.NotNil(t, canceled.CanceledAt)
	assert.True(t, canceled.CanceledAt.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))
	require.Len(t, n.canceled, 1)
	require.NotNil(t, n.canceled[0].Provider)
	assert.Equal(t, "alice@example.com", n.canceled[0].Provider.Email)
}

func TestSchedule_TooLateLeavesAppointmentActive(t *testing.T) {
	ctx := context.Background()
	svc, st, _, c := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	appt, err := svc.Schedule(ctx, ScheduleInput{RequesterID: bobID, ProviderID: aliceID, Date: "2024-06-01T15:37:00Z"})
	require.NoError(t, err)

	c.Set(time.Date(2024, 6, 1, 13, 30, 0, 0, time.UTC))
	_, err = svc.Cancel(ctx, CancelInput{AppointmentID: appt.ID, CallerID: bobID})
	require.ErrorIs(t, err, ErrTooLate)

	stored, err := st.FindAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsCanceled())
}

func TestSchedule_PastDateWinsOverProviderValidity(t *testing.T) {
	ctx := context.Background()
	svc, _, n, _ := newFixture(t, time.Date(2024, 6, 1, 15, 30, 0, 0, time.UTC))

	cases := []struct {
		name       string
		providerID int64
		date       string
	}{
		{name: "valid provider", providerID: aliceID, date: "2024-05-31T10:00:00Z"},
		{name: "non-provider", providerID: bobID, date: "2024-05-31T10:00:00Z"},
		{name: "unknown provider", providerID: 99, date: "2024-05-31T10:00:00Z"},
		{name: "current hour truncates to the past", providerID: aliceID, date: "2024-06-01T15:45:00Z"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Schedule(ctx, ScheduleInput{RequesterID: carolID, ProviderID: tc.providerID, Date: tc.date})
			assert.ErrorIs(t, err, ErrPastDate)
			assert.Equal(t, KindPastDate, KindOf(err))
		})
	}
	assert.Empty(t, n.created)
}

func TestSchedule_ProviderNotFound(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	_, err := svc.Schedule(ctx, ScheduleInput{RequesterID: carolID, ProviderID: bobID, Date: "2024-06-02T10:00:00Z"})
	assert.ErrorIs(t, err, ErrProviderNotFound)

	_, err = svc.Schedule(ctx, ScheduleInput{RequesterID: carolID, ProviderID: 404, Date: "2024-06-02T10:00:00Z"})
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestSchedule_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	cases := []struct {
		name string
		in   ScheduleInput
		msg  string
	}{
		{name: "missing provider", in: ScheduleInput{RequesterID: bobID, Date: "2024-06-02T10:00:00Z"}, msg: "provider_id is required"},
		{name: "missing date", in: ScheduleInput{RequesterID: bobID, ProviderID: aliceID}, msg: "date is required"},
		{name: "malformed date", in: ScheduleInput{RequesterID: bobID, ProviderID: aliceID, Date: "tomorrow"}, msg: "date must be an ISO-8601 timestamp"},
		{name: "missing requester", in: ScheduleInput{ProviderID: aliceID, Date: "2024-06-02T10:00:00Z"}, msg: "requester_id is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Schedule(ctx, tc.in)
			require.ErrorIs(t, err, ErrValidation)
			var e *Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tc.msg, e.Error())
		})
	}
}

func TestSchedule_ConcurrentRequestsBookOnce(t *testing.T) {
	ctx := context.Background()
	svc, st, n, _ := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	const callers = 24
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ok    int
		taken int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(minute int) {
			defer wg.Done()
			_, err := svc.Schedule(ctx, ScheduleInput{
				RequesterID: bobID,
				ProviderID:  aliceID,
				Date:        time.Date(2024, 6, 1, 15, minute, 0, 0, time.UTC).Format(time.RFC3339),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrSlotTaken):
				taken++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, taken)
	assert.Len(t, n.created, 1)

	active, err := st.ListActiveByRequester(ctx, bobID, 100, 0)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSchedule_StorageConflictMapsToSlotTaken(t *testing.T) {
	users := &fakeUsers{findFn: func(ctx context.Context, id int64) (domain.User, error) {
		return domain.User{ID: id, Name: "Alice", IsProvider: true}, nil
	}}
	appts := &fakeAppointments{
		findActiveFn: func(ctx context.Context, providerID int64, slot time.Time) (domain.Appointment, error) {
			return domain.Appointment{}, store.ErrNotFound
		},
		createFn: func(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
			return domain.Appointment{}, store.ErrConflict
		},
	}
	svc := NewService(users, appts, &recordingNotifier{}, WithClock(func() time.Time {
		return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	}))

	_, err := svc.Schedule(context.Background(), ScheduleInput{RequesterID: bobID, ProviderID: aliceID, Date: "2024-06-01T15:00:00Z"})
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestSchedule_RequesterLookupFailureFallsBack(t *testing.T) {
	users := &fakeUsers{findFn: func(ctx context.Context, id int64) (domain.User, error) {
		if id == aliceID {
			return domain.User{ID: id, Name: "Alice", IsProvider: true}, nil
		}
		return domain.User{}, errors.New("connection reset")
	}}
	appts := &fakeAppointments{
		findActiveFn: func(ctx context.Context, providerID int64, slot time.Time) (domain.Appointment, error) {
			return domain.Appointment{}, store.ErrNotFound
		},
		createFn: func(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
			appt.ID = uuid.New()
			return appt, nil
		},
	}
	n := &recordingNotifier{}
	svc := NewService(users, appts, n, WithClock(func() time.Time {
		return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	}))

	_, err := svc.Schedule(context.Background(), ScheduleInput{RequesterID: bobID, ProviderID: aliceID, Date: "2024-06-01T15:00:00Z"})
	require.NoError(t, err)
	require.Len(t, n.names, 1)
	assert.Equal(t, "user #2", n.names[0])
}

func TestSchedule_InfrastructureErrorsAreWrapped(t *testing.T) {
	boom := errors.New("boom")
	users := &fakeUsers{findFn: func(ctx context.Context, id int64) (domain.User, error) {
		return domain.User{}, boom
	}}
	svc := NewService(users, &fakeAppointments{}, &recordingNotifier{}, WithClock(func() time.Time {
		return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	}))

	_, err := svc.Schedule(context.Background(), ScheduleInput{RequesterID: bobID, ProviderID: aliceID, Date: "2024-06-01T15:00:00Z"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Kind(""), KindOf(err))
}

func TestCancel_OnlyRequesterMayCancel(t *testing.T) {
	ctx := context.Background()
	svc, _, n, _ := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	appt, err := svc.Schedule(ctx, ScheduleInput{RequesterID: bobID, ProviderID: aliceID, Date: "2024-06-01T15:00:00Z"})
	require.NoError(t, err)

	for _, caller := range []int64{aliceID, carolID} {
		_, err := svc.Cancel(ctx, CancelInput{AppointmentID: appt.ID, CallerID: caller})
		assert.ErrorIs(t, err, ErrForbidden, "caller %d", caller)
	}
	assert.Empty(t, n.canceled)
}

func TestCancel_SecondCallReportsAlreadyCanceled(t *testing.T) {
	ctx := context.Background()
	svc, _, n, _ := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	appt, err := svc.Schedule(ctx, ScheduleInput{RequesterID: bobID, ProviderID: aliceID, Date: "2024-06-01T15:00:00Z"})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, CancelInput{AppointmentID: appt.ID, CallerID: bobID})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = svc.Cancel(ctx, CancelInput{AppointmentID: appt.ID, CallerID: bobID})
		assert.ErrorIs(t, err, ErrAlreadyCanceled)
	}
	assert.Len(t, n.canceled, 1)
}

func TestCancel_ConcurrentCallsSucceedOnce(t *testing.T) {
	ctx := context.Background()
	svc, _, n, _ := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	appt, err := svc.Schedule(ctx, ScheduleInput{RequesterID: bobID, ProviderID: aliceID, Date: "2024-06-01T15:00:00Z"})
	require.NoError(t, err)

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		already int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Cancel(ctx, CancelInput{AppointmentID: appt.ID, CallerID: bobID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrAlreadyCanceled):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, already)
	assert.Len(t, n.canceled, 1)
}

func TestCancel_NotifierFailureDoesNotFailCancel(t *testing.T) {
	ctx := context.Background()
	svc, st, n, _ := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	n.cancelErr = errors.New("smtp: connection refused")

	appt, err := svc.Schedule(ctx, ScheduleInput{RequesterID: bobID, ProviderID: aliceID, Date: "2024-06-01T15:00:00Z"})
	require.NoError(t, err)

	canceled, err := svc.Cancel(ctx, CancelInput{AppointmentID: appt.ID, CallerID: bobID})
	require.NoError(t, err)
	assert.True(t, canceled.IsCanceled())
	assert.Len(t, n.canceled, 1)

	stored, err := st.FindAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsCanceled())
}

func TestCancel_NotFoundAndValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newFixture(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	_, err := svc.Cancel(ctx, CancelInput{AppointmentID: uuid.New(), CallerID: bobID})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Cancel(ctx, CancelInput{CallerID: bobID})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestList_PaginatesActiveAppointments(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newFixture(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	for h := 1; h <= 25; h++ {
		_, err := svc.Schedule(ctx, ScheduleInput{
			RequesterID: bobID,
			ProviderID:  aliceID,
			Date:        time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(h) * time.Hour).Format(time.RFC3339),
		})
		require.NoError(t, err)
	}

	first, err := svc.List(ctx, ListInput{RequesterID: bobID})
	require.NoError(t, err)
	require.Len(t, first, DefaultPageSize)
	assert.True(t, first[0].ScheduledAt.Before(first[1].ScheduledAt))
	require.NotNil(t, first[0].Provider)
	assert.Equal(t, "Alice", first[0].Provider.Name)

	second, err := svc.List(ctx, ListInput{RequesterID: bobID, Page: 2})
	require.NoError(t, err)
	assert.Len(t, second, 5)

	none, err := svc.List(ctx, ListInput{RequesterID: carolID})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.List(ctx, ListInput{RequesterID: bobID, Page: -1})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestList_CapsPageSize(t *testing.T) {
	var gotLimit, gotOffset int
	appts := &fakeAppointments{listFn: func(ctx context.Context, requesterID int64, limit, offset int) ([]domain.Appointment, error) {
		gotLimit, gotOffset = limit, offset
		return nil, nil
	}}
	svc := NewService(&fakeUsers{}, appts, &recordingNotifier{})

	_, err := svc.List(context.Background(), ListInput{RequesterID: bobID, Page: 3, PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, gotLimit)
	assert.Equal(t, 2*MaxPageSize, gotOffset)
}

func TestList_RejectsPageBeyondOffsetRange(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newFixture(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	_, err := svc.List(ctx, ListInput{RequesterID: bobID, Page: 1 << 62, PageSize: MaxPageSize})
	assert.ErrorIs(t, err, ErrValidation)
	assert.EqualError(t, err, "page out of range")

	_, err = svc.List(ctx, ListInput{RequesterID: bobID, Page: math.MaxInt})
	assert.ErrorIs(t, err, ErrValidation)

	far, err := svc.List(ctx, ListInput{RequesterID: bobID, Page: math.MaxInt/MaxPageSize + 1, PageSize: MaxPageSize})
	require.NoError(t, err)
	assert.Empty(t, far)
}

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{in: "2024-06-01T15:37:00Z", want: time.Date(2024, 6, 1, 15, 37, 0, 0, time.UTC)},
		{in: "2024-06-01T15:37:00.123Z", want: time.Date(2024, 6, 1, 15, 37, 0, 123000000, time.UTC)},
		{in: "2024-06-01T12:37:00-03:00", want: time.Date(2024, 6, 1, 15, 37, 0, 0, time.UTC)},
		{in: "2024-06-01T15:37:00", want: time.Date(2024, 6, 1, 15, 37, 0, 0, time.UTC)},
		{in: "2024-06-01T15:37", want: time.Date(2024, 6, 1, 15, 37, 0, 0, time.UTC)},
		{in: " 2024-06-01 ", want: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseDate(tc.in)
			require.NoError(t, err)
			assert.True(t, got.Equal(tc.want), "got %v", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, err := ParseDate("01/06/2024")
	assert.ErrorIs(t, err, ErrValidation)
}

type fakeUsers struct {
	findFn func(ctx context.Context, id int64) (domain.User, error)
}

func (f *fakeUsers) FindUser(ctx context.Context, id int64) (domain.User, error) {
	if f.findFn == nil {
		panic("FindUser not configured")
	}
	return f.findFn(ctx, id)
}

type fakeAppointments struct {
	findFn       func(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	findActiveFn func(ctx context.Context, providerID int64, slot time.Time) (domain.Appointment, error)
	createFn     func(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	saveFn       func(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	listFn       func(ctx context.Context, requesterID int64, limit, offset int) ([]domain.Appointment, error)
}

func (f *fakeAppointments) FindAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	if f.findFn == nil {
		panic("FindAppointment not configured")
	}
	return f.findFn(ctx, id)
}

func (f *fakeAppointments) FindActiveAppointment(ctx context.Context, providerID int64, slot time.Time) (domain.Appointment, error) {
	if f.findActiveFn == nil {
		panic("FindActiveAppointment not configured")
	}
	return f.findActiveFn(ctx, providerID, slot)
}

func (f *fakeAppointments) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if f.createFn == nil {
		panic("CreateAppointment not configured")
	}
	return f.createFn(ctx, appt)
}

func (f *fakeAppointments) SaveCancellation(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if f.saveFn == nil {
		panic("SaveCancellation not configured")
	}
	return f.saveFn(ctx, appt)
}

func (f *fakeAppointments) ListActiveByRequester(ctx context.Context, requesterID int64, limit, offset int) ([]domain.Appointment, error) {
	if f.listFn == nil {
		panic("ListActiveByRequester not configured")
	}
	return f.listFn(ctx, requesterID, limit, offset)
}
