package models

import "time"

// EventType enumerates the supported event categories.
type EventType string

const (
	EventTypeLecture     EventType = "LECTURE"
	EventTypeWorkshop    EventType = "WORKSHOP"
	EventTypeShortCourse EventType = "SHORT_COURSE"
	EventTypeSeminar     EventType = "SEMINAR"
	EventTypeOther       EventType = "OTHER"
)

// Valid reports whether the event type is one of the known categories.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeLecture, EventTypeWorkshop, EventTypeShortCourse, EventTypeSeminar, EventTypeOther:
		return true
	}
	return false
}

// Event represents an organized activity with a seat capacity.
type Event struct {
	ID          string    `db:"id" json:"id"`
	Type        EventType `db:"type" json:"type"`
	Title       *string   `db:"title" json:"title,omitempty"`
	StartDate   time.Time `db:"start_date" json:"start_date"`
	EndDate     time.Time `db:"end_date" json:"end_date"`
	StartTime   *string   `db:"start_time" json:"start_time,omitempty"`
	Location    string    `db:"location" json:"location"`
	Capacity    int       `db:"capacity" json:"capacity"`
	CreditHours int       `db:"credit_hours" json:"credit_hours"`
	OrganizerID string    `db:"organizer_id" json:"organizer_id"`
	ProfessorID *string   `db:"professor_id" json:"professor_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DisplayTitle returns the title, falling back to the event type.
func (e Event) DisplayTitle() string {
	if e.Title != nil && *e.Title != "" {
		return *e.Title
	}
	return string(e.Type)
}

// EventDetail enriches Event with organizer info and seat accounting.
type EventDetail struct {
	Event
	OrganizerName  string `db:"organizer_name" json:"organizer_name"`
	ProfessorName  *string `db:"professor_name" json:"professor_name,omitempty"`
	ConfirmedCount int    `db:"confirmed_count" json:"confirmed_count"`
}

// AvailableSlots derives the remaining confirmed seats, never negative.
func (e EventDetail) AvailableSlots() int {
	remaining := e.Capacity - e.ConfirmedCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// EventFilter provides filters for listing events.
type EventFilter struct {
	Type        EventType
	OrganizerID string
	DateFrom    *time.Time
	DateTo      *time.Time
	Search      string
	Page        int
	PageSize    int
	SortBy      string
	SortOrder   string
}
