package grpc

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"appointly/internal/auth"
	"appointly/internal/domain"
	"appointly/internal/service/appointments"
)

// ErrorDomain is the ErrorInfo domain attached to every request-level failure.
const ErrorDomain = "appointly"

type AppointmentsServer struct {
	svc appointmentsService
	log *zap.Logger
}

type appointmentsService interface {
	Schedule(ctx context.Context, in appointments.ScheduleInput) (domain.Appointment, error)
	Cancel(ctx context.Context, in appointments.CancelInput) (domain.Appointment, error)
	List(ctx context.Context, in appointments.ListInput) ([]domain.Appointment, error)
}

var _ AppointmentsServiceServer = (*AppointmentsServer)(nil)

func NewAppointmentsServer(svc appointmentsService, log *zap.Logger) *AppointmentsServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &AppointmentsServer{
		svc: svc,
		log: log.With(zap.String("component", "grpc.appointments")),
	}
}

func (s *AppointmentsServer) CreateAppointment(ctx context.Context, req *CreateAppointmentRequest) (*CreateAppointmentResponse, error) {
	log := s.log.With(zap.String("rpc", "CreateAppointment"))

	if req == nil {
		log.Warn("invalid request", zap.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	uid, ok := auth.UserIDFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	appt, err := s.svc.Schedule(ctx, appointments.ScheduleInput{
		RequesterID: uid,
		ProviderID:  req.ProviderID,
		Date:        req.Date,
	})
	if err != nil {
		return nil, s.statusFromError(log, err,
			zap.Int64("requester_id", uid),
			zap.Int64("provider_id", req.ProviderID),
			zap.String("date", req.Date),
		)
	}

	log.Info("appointment created",
		zap.String("appointment_id", appt.ID.String()),
		zap.Int64("requester_id", uid),
		zap.Int64("provider_id", appt.ProviderID),
		zap.Time("scheduled_at", appt.ScheduledAt),
	)
	return &CreateAppointmentResponse{Appointment: toWireAppointment(appt)}, nil
}

func (s *AppointmentsServer) CancelAppointment(ctx context.Context, req *CancelAppointmentRequest) (*CancelAppointmentResponse, error) {
	log := s.log.With(zap.String("rpc", "CancelAppointment"))

	if req == nil {
		log.Warn("invalid request", zap.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	uid, ok := auth.UserIDFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	id, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		log.Warn("invalid request", zap.String("reason", "invalid_appointment_id"), zap.String("appointment_id", req.AppointmentID))
		return nil, kindStatus(codes.InvalidArgument, appointments.KindValidation, "appointment_id must be a UUID")
	}

	appt, err := s.svc.Cancel(ctx, appointments.CancelInput{AppointmentID: id, CallerID: uid})
	if err != nil {
		return nil, s.statusFromError(log, err,
			zap.Int64("caller_id", uid),
			zap.String("appointment_id", id.String()),
		)
	}

	log.Info("appointment canceled",
		zap.String("appointment_id", appt.ID.String()),
		zap.Int64("caller_id", uid),
	)
	return &CancelAppointmentResponse{Appointment: toWireAppointment(appt)}, nil
}

func (s *AppointmentsServer) ListAppointments(ctx context.Context, req *ListAppointmentsRequest) (*ListAppointmentsResponse, error) {
	log := s.log.With(zap.String("rpc", "ListAppointments"))

	if req == nil {
		req = &ListAppointmentsRequest{}
	}
	uid, ok := auth.UserIDFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	appts, err := s.svc.List(ctx, appointments.ListInput{
		RequesterID: uid,
		Page:        int(req.Page),
		PageSize:    int(req.PageSize),
	})
	if err != nil {
		return nil, s.statusFromError(log, err, zap.Int64("requester_id", uid))
	}

	out := make([]*Appointment, 0, len(appts))
	for _, a := range appts {
		out = append(out, toWireAppointment(a))
	}
	log.Debug("appointments listed", zap.Int64("requester_id", uid), zap.Int("count", len(out)))
	return &ListAppointmentsResponse{Appointments: out}, nil
}

func (s *AppointmentsServer) statusFromError(log *zap.Logger, err error, fields ...zap.Field) error {
	kind := appointments.KindOf(err)
	code, ok := kindCodes[kind]
	if !ok {
		log.Error("request failed", append(fields, zap.Error(err))...)
		return status.Error(codes.Internal, "internal error")
	}
	log.Info("request rejected", append(fields, zap.String("reason", string(kind)))...)
	return kindStatus(code, kind, err.Error())
}

var kindCodes = map[appointments.Kind]codes.Code{
	appointments.KindValidation:       codes.InvalidArgument,
	appointments.KindProviderNotFound: codes.InvalidArgument,
	appointments.KindPastDate:         codes.InvalidArgument,
	appointments.KindSlotTaken:        codes.AlreadyExists,
	appointments.KindNotFound:         codes.NotFound,
	appointments.KindForbidden:        codes.PermissionDenied,
	appointments.KindTooLate:          codes.FailedPrecondition,
	appointments.KindAlreadyCanceled:  codes.FailedPrecondition,
}

// kindStatus carries the error kind as an ErrorInfo reason so clients can
// tell apart kinds that share a status code.
func kindStatus(code codes.Code, kind appointments.Kind, msg string) error {
	st := status.New(code, msg)
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{Reason: string(kind), Domain: ErrorDomain})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

// ReasonOf extracts the ErrorInfo reason from a status error.
func ReasonOf(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return info.GetReason()
		}
	}
	return ""
}
