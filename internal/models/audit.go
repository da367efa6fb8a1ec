package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin                 = "LOGIN"
	AuditActionLogout                = "LOGOUT"
	AuditActionUserCreated           = "USER_CREATED"
	AuditActionUserUpdated           = "USER_UPDATED"
	AuditActionUserDeleted           = "USER_DELETED"
	AuditActionEventCreated          = "EVENT_CREATED"
	AuditActionEventUpdated          = "EVENT_UPDATED"
	AuditActionEventDeleted          = "EVENT_DELETED"
	AuditActionEventQueried          = "EVENT_QUERIED"
	AuditActionRegistrationCreated   = "REGISTRATION_CREATED"
	AuditActionRegistrationUpdated   = "REGISTRATION_UPDATED"
	AuditActionRegistrationCancelled = "REGISTRATION_CANCELLED"
	AuditActionRegistrationDeleted   = "REGISTRATION_DELETED"
	AuditActionCertificateIssued     = "CERTIFICATE_ISSUED"
	AuditActionCertificateQueried    = "CERTIFICATE_QUERIED"
)

// AuditLog represents an append-only audit trail record.
type AuditLog struct {
	ID             string    `db:"id" json:"id"`
	Action         string    `db:"action" json:"action"`
	ActorID        *string   `db:"actor_id" json:"actor_id,omitempty"`
	AffectedUserID *string   `db:"affected_user_id" json:"affected_user_id,omitempty"`
	EventID        *string   `db:"event_id" json:"event_id,omitempty"`
	RegistrationID *string   `db:"registration_id" json:"registration_id,omitempty"`
	CertificateID  *string   `db:"certificate_id" json:"certificate_id,omitempty"`
	Description    string    `db:"description" json:"description"`
	ExtraData      []byte    `db:"extra_data" json:"extra_data,omitempty"`
	IPAddress      string    `db:"ip_address" json:"ip_address"`
	UserAgent      string    `db:"user_agent" json:"user_agent"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// AuditFilter provides filters for querying the audit trail.
type AuditFilter struct {
	Action      string
	ActorID     string
	EventID     string
	OrganizerID string
	Page        int
	PageSize    int
}

// RequestMeta carries requester metadata attached to audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}
