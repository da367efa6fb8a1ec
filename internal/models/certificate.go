package models

import "time"

// Certificate is the issued proof of attendance, one per eligible registration.
type Certificate struct {
	ID             string     `db:"id" json:"id"`
	RegistrationID string     `db:"registration_id" json:"registration_id"`
	IssuedByID     *string    `db:"issued_by_id" json:"issued_by_id,omitempty"`
	Code           string     `db:"code" json:"code"`
	Hours          int        `db:"hours" json:"hours"`
	IssuedAt       time.Time  `db:"issued_at" json:"issued_at"`
	ValidUntil     *time.Time `db:"valid_until" json:"valid_until,omitempty"`
	Notes          string     `db:"notes" json:"notes"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// CertificateDetail enriches Certificate with participant and event context.
type CertificateDetail struct {
	Certificate
	ParticipantID    string    `db:"participant_id" json:"participant_id"`
	ParticipantName  string    `db:"participant_name" json:"participant_name"`
	ParticipantEmail string    `db:"participant_email" json:"participant_email"`
	EventID          string    `db:"event_id" json:"event_id"`
	EventTitle       *string   `db:"event_title" json:"event_title,omitempty"`
	EventType        EventType `db:"event_type" json:"event_type"`
	EventLocation    string    `db:"event_location" json:"event_location"`
	EventStartDate   time.Time `db:"event_start_date" json:"event_start_date"`
	EventEndDate     time.Time `db:"event_end_date" json:"event_end_date"`
	EventOrganizerID string    `db:"event_organizer_id" json:"event_organizer_id"`
	IssuerName       *string   `db:"issuer_name" json:"issuer_name,omitempty"`
}

// CertificateFilter provides filters for listing certificates.
type CertificateFilter struct {
	EventID       string
	ParticipantID string
	OrganizerID   string
	Page          int
	PageSize      int
}

// EventDisplayTitle returns the event title, falling back to the event type.
func (d CertificateDetail) EventDisplayTitle() string {
	if d.EventTitle != nil && *d.EventTitle != "" {
		return *d.EventTitle
	}
	return string(d.EventType)
}
