package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusRetry      OutboxStatus = "RETRY"
	OutboxStatusProcessed  OutboxStatus = "PROCESSED"
	OutboxStatusFailed     OutboxStatus = "FAILED"
)

const (
	EventAppointmentBooked        = "appointment.booked"
	EventAppointmentStatusChanged = "appointment.status_changed"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	AggregateID  uuid.UUID       `db:"aggregate_id" json:"aggregate_id"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// AppointmentEvent is the payload of appointment outbox events.
type AppointmentEvent struct {
	AppointmentID  uuid.UUID         `json:"appointment_id"`
	DoctorID       uuid.UUID         `json:"doctor_id"`
	StartAt        time.Time         `json:"start_at"`
	EndAt          time.Time         `json:"end_at"`
	Status         AppointmentStatus `json:"status"`
	PreviousStatus AppointmentStatus `json:"previous_status,omitempty"`
	PatientName    string            `json:"patient_name,omitempty"`
	PatientEmail   string            `json:"patient_email,omitempty"`
	Service        string            `json:"service,omitempty"`
}

// NewAppointmentEvent builds a pending outbox event for apt.
func NewAppointmentEvent(eventType string, apt *Appointment, previous AppointmentStatus) (*OutboxEvent, error) {
	payload, err := json.Marshal(AppointmentEvent{
		AppointmentID:  apt.ID,
		DoctorID:       apt.DoctorID,
		StartAt:        apt.StartAt,
		EndAt:          apt.EndAt,
		Status:         apt.Status,
		PreviousStatus: previous,
		PatientName:    apt.PatientName,
		PatientEmail:   apt.PatientEmail,
		Service:        apt.Service,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal appointment event: %w", err)
	}

	now := time.Now().UTC()
	return &OutboxEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		AggregateID: apt.ID,
		Payload:     payload,
		Status:      OutboxStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
