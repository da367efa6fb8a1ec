package service

import (
	"github.com/aegs-platform/aegs-api/internal/models"
)

// Operation identifies a protected action on the registration domain.
type Operation string

const (
	OpRegistrationCreate  Operation = "registration.create"
	OpRegistrationView    Operation = "registration.view"
	OpRegistrationConfirm Operation = "registration.confirm"
	OpRegistrationCancel  Operation = "registration.cancel"
	OpRegistrationRevert  Operation = "registration.revert"
	OpRegistrationDelete  Operation = "registration.delete"
	OpAttendanceSet       Operation = "attendance.set"
	OpCertificateIssue    Operation = "certificate.issue"
	OpCertificateView     Operation = "certificate.view"
	OpAuditView           Operation = "audit.view"
)

// Relation describes how the actor relates to the registration at hand.
type Relation int

const (
	// RelationNone means the actor has no tie to the registration.
	RelationNone Relation = iota
	// RelationSelf means the actor is the registered participant.
	RelationSelf
	// RelationOwnEvent means the actor organizes the registration's event.
	RelationOwnEvent
)

// policy lists, per operation and role, which relations grant access.
// Admins pass any operation present in the table; other roles or relations
// absent from their row are denied. Organizers act on registrations of
// events they own, never on registrations of their own: RelationSelf does
// not appear for them, and participant-role eligibility is enforced
// separately by the registration service.
var policy = map[Operation]map[models.UserRole][]Relation{
	OpRegistrationCreate: {
		models.RoleStudent:   {RelationSelf},
		models.RoleProfessor: {RelationSelf},
		models.RoleOrganizer: {RelationOwnEvent},
	},
	OpRegistrationView: {
		models.RoleStudent:   {RelationSelf},
		models.RoleProfessor: {RelationSelf},
		models.RoleOrganizer: {RelationOwnEvent},
	},
	OpRegistrationConfirm: {
		models.RoleOrganizer: {RelationOwnEvent},
	},
	OpRegistrationCancel: {
		models.RoleStudent:   {RelationSelf},
		models.RoleProfessor: {RelationSelf},
		models.RoleOrganizer: {RelationOwnEvent},
	},
	OpRegistrationRevert: {},
	OpRegistrationDelete: {},
	OpAttendanceSet: {
		models.RoleOrganizer: {RelationOwnEvent},
	},
	OpCertificateIssue: {
		models.RoleOrganizer: {RelationOwnEvent},
	},
	OpCertificateView: {
		models.RoleStudent:   {RelationSelf},
		models.RoleProfessor: {RelationSelf},
		models.RoleOrganizer: {RelationOwnEvent},
	},
	OpAuditView: {
		models.RoleOrganizer: {RelationOwnEvent},
	},
}

// Allowed reports whether the role may perform the operation given its
// relation to the registration. Pure function of its inputs.
func Allowed(op Operation, role models.UserRole, rel Relation) bool {
	row, ok := policy[op]
	if !ok {
		return false
	}
	if role == models.RoleAdmin {
		return true
	}
	for _, allowed := range row[role] {
		if allowed == rel {
			return true
		}
	}
	return false
}

// RelationOf derives the actor's relation from participant and organizer IDs.
func RelationOf(actor *models.JWTClaims, participantID, organizerID string) Relation {
	if actor == nil {
		return RelationNone
	}
	if actor.UserID == participantID {
		return RelationSelf
	}
	if actor.UserID == organizerID {
		return RelationOwnEvent
	}
	return RelationNone
}
