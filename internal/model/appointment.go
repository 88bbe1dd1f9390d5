package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
)

var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentStatusPending:   {AppointmentStatusConfirmed, AppointmentStatusCancelled},
	AppointmentStatusConfirmed: {AppointmentStatusCompleted, AppointmentStatusCancelled},
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusPending, AppointmentStatusConfirmed, AppointmentStatusCancelled, AppointmentStatusCompleted:
		return true
	}
	return false
}

func (s AppointmentStatus) IsTerminal() bool {
	return s == AppointmentStatusCancelled || s == AppointmentStatusCompleted
}

func (s AppointmentStatus) CanTransitionTo(to AppointmentStatus) bool {
	for _, next := range appointmentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Appointment struct {
	Base
	DoctorID         uuid.UUID         `db:"doctor_id" json:"doctor_id"`
	StartAt          time.Time         `db:"start_at" json:"start_at"`
	EndAt            time.Time         `db:"end_at" json:"end_at"`
	Status           AppointmentStatus `db:"status" json:"status"`
	CreatedByUserID  *uuid.UUID        `db:"created_by_user_id" json:"created_by_user_id,omitempty"`
	Reason           string            `db:"reason" json:"reason"`
	PatientName      string            `db:"patient_name" json:"patient_name,omitempty"`
	PatientEmail     string            `db:"patient_email" json:"patient_email,omitempty"`
	PatientPhone     string            `db:"patient_phone" json:"patient_phone,omitempty"`
	Service          string            `db:"service" json:"service,omitempty"`
	PaymentReference *string           `db:"payment_reference" json:"payment_reference,omitempty"`
}

// Overlaps reports whether [start, end) intersects the appointment's window.
// Touching endpoints do not overlap.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.StartAt.Before(end) && a.EndAt.After(start)
}

// AppointmentWithCreator is the admin listing row.
type AppointmentWithCreator struct {
	Appointment
	Creator *UserSummary `json:"creator,omitempty"`
}

// CreateAppointmentRequest carries timestamps as strings so that values
// without an explicit UTC offset can be rejected before parsing.
type CreateAppointmentRequest struct {
	DoctorID         string `json:"doctor_id" binding:"required,uuid"`
	StartAt          string `json:"start_at" binding:"required,rfc3339tz"`
	EndAt            string `json:"end_at" binding:"required,rfc3339tz"`
	Reason           string `json:"reason" binding:"omitempty,min=3,max=200"`
	PatientName      string `json:"patient_name" binding:"omitempty,max=100"`
	PatientEmail     string `json:"patient_email" binding:"omitempty,email"`
	PatientPhone     string `json:"patient_phone" binding:"omitempty,max=20"`
	Service          string `json:"service" binding:"omitempty,max=100"`
	PaymentReference string `json:"payment_reference" binding:"omitempty,max=100"`
}

type UpdateAppointmentStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=pending confirmed cancelled completed"`
}

// Booking is a validated booking request.
type Booking struct {
	DoctorID         uuid.UUID
	StartAt          time.Time
	EndAt            time.Time
	Reason           string
	PatientName      string
	PatientEmail     string
	PatientPhone     string
	Service          string
	PaymentReference *string
}

type AppointmentFilters struct {
	DoctorID     *uuid.UUID
	PatientEmail string
	Status       AppointmentStatus
	CreatedBy    *uuid.UUID
	From         *time.Time
	To           *time.Time
	Limit        int
}

// OverlapPolicy decides which existing appointments block a new booking.
// The zero value blocks on every non-deleted appointment.
type OverlapPolicy struct {
	IgnoredStatuses []AppointmentStatus
}

// TerminalStatusesIgnored lets cancelled and completed appointments free their slot.
func TerminalStatusesIgnored() OverlapPolicy {
	return OverlapPolicy{IgnoredStatuses: []AppointmentStatus{AppointmentStatusCancelled, AppointmentStatusCompleted}}
}

func (p OverlapPolicy) Blocks(status AppointmentStatus) bool {
	for _, s := range p.IgnoredStatuses {
		if s == status {
			return false
		}
	}
	return true
}

func (p OverlapPolicy) IgnoredStrings() []string {
	out := make([]string, len(p.IgnoredStatuses))
	for i, s := range p.IgnoredStatuses {
		out[i] = string(s)
	}
	return out
}
