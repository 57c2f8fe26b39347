package grpc

import (
	"time"

	"appointly/internal/domain"
)

// Wire messages of appointly.v1.AppointmentsService. They travel with the
// json codec; field names are the snake_case names of the service contract.

type Appointment struct {
	ID           string     `json:"id"`
	RequesterID  int64      `json:"requester_id"`
	ProviderID   int64      `json:"provider_id"`
	ProviderName string     `json:"provider_name,omitempty"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	CanceledAt   *time.Time `json:"canceled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type CreateAppointmentRequest struct {
	ProviderID int64  `json:"provider_id"`
	Date       string `json:"date"`
}

type CreateAppointmentResponse struct {
	Appointment *Appointment `json:"appointment"`
}

type CancelAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type CancelAppointmentResponse struct {
	Appointment *Appointment `json:"appointment"`
}

type ListAppointmentsRequest struct {
	Page     int32 `json:"page"`
	PageSize int32 `json:"page_size"`
}

type ListAppointmentsResponse struct {
	Appointments []*Appointment `json:"appointments"`
}

func toWireAppointment(a domain.Appointment) *Appointment {
	out := &Appointment{
		ID:          a.ID.String(),
		RequesterID: a.RequesterID,
		ProviderID:  a.ProviderID,
		ScheduledAt: a.ScheduledAt.UTC(),
		CreatedAt:   a.CreatedAt.UTC(),
	}
	if a.Provider != nil {
		out.ProviderName = a.Provider.Name
	}
	if a.CanceledAt != nil {
		t := a.CanceledAt.UTC()
		out.CanceledAt = &t
	}
	return out
}
