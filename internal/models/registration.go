package models

import "time"

// RegistrationStatus represents the lifecycle of a registration.
type RegistrationStatus string

// Possible registration statuses.
const (
	RegistrationStatusPending   RegistrationStatus = "PENDING"
	RegistrationStatusConfirmed RegistrationStatus = "CONFIRMED"
	RegistrationStatusCancelled RegistrationStatus = "CANCELLED"
)

// Valid reports whether the status is one of the known values.
func (s RegistrationStatus) Valid() bool {
	switch s {
	case RegistrationStatusPending, RegistrationStatusConfirmed, RegistrationStatusCancelled:
		return true
	}
	return false
}

// Registration captures a participant's claim on a seat at an event.
type Registration struct {
	ID                  string             `db:"id" json:"id"`
	EventID             string             `db:"event_id" json:"event_id"`
	ParticipantID       string             `db:"participant_id" json:"participant_id"`
	Status              RegistrationStatus `db:"status" json:"status"`
	AttendanceConfirmed bool               `db:"attendance_confirmed" json:"attendance_confirmed"`
	CreatedAt           time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time          `db:"updated_at" json:"updated_at"`
}

// RegistrationDetail enriches Registration with participant and event context.
type RegistrationDetail struct {
	Registration
	ParticipantName  string    `db:"participant_name" json:"participant_name"`
	ParticipantEmail string    `db:"participant_email" json:"participant_email"`
	ParticipantRole  UserRole  `db:"participant_role" json:"participant_role"`
	EventTitle       *string   `db:"event_title" json:"event_title,omitempty"`
	EventType        EventType `db:"event_type" json:"event_type"`
	EventLocation    string    `db:"event_location" json:"event_location"`
	EventStartDate   time.Time `db:"event_start_date" json:"event_start_date"`
	EventEndDate     time.Time `db:"event_end_date" json:"event_end_date"`
	EventOrganizerID string    `db:"event_organizer_id" json:"event_organizer_id"`
}

// EventDisplayTitle returns the event title, falling back to the event type.
func (d RegistrationDetail) EventDisplayTitle() string {
	if d.EventTitle != nil && *d.EventTitle != "" {
		return *d.EventTitle
	}
	return string(d.EventType)
}

// RegistrationFilter provides filters for listing registrations.
type RegistrationFilter struct {
	EventID       string
	ParticipantID string
	OrganizerID   string
	Status        RegistrationStatus
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}
