package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aegs-platform/aegs-api/internal/models"
)

func TestAllowed(t *testing.T) {
	cases := []struct {
		name string
		op   Operation
		role models.UserRole
		rel  Relation
		want bool
	}{
		{"student registers self", OpRegistrationCreate, models.RoleStudent, RelationSelf, true},
		{"professor registers self", OpRegistrationCreate, models.RoleProfessor, RelationSelf, true},
		{"student registers other", OpRegistrationCreate, models.RoleStudent, RelationNone, false},
		{"organizer registers into own event", OpRegistrationCreate, models.RoleOrganizer, RelationOwnEvent, true},
		{"organizer registers into foreign event", OpRegistrationCreate, models.RoleOrganizer, RelationNone, false},
		{"admin registers anyone", OpRegistrationCreate, models.RoleAdmin, RelationNone, true},
		{"organizer confirms own event", OpRegistrationConfirm, models.RoleOrganizer, RelationOwnEvent, true},
		{"organizer confirms foreign event", OpRegistrationConfirm, models.RoleOrganizer, RelationNone, false},
		{"student cannot confirm", OpRegistrationConfirm, models.RoleStudent, RelationSelf, false},
		{"student cancels own", OpRegistrationCancel, models.RoleStudent, RelationSelf, true},
		{"organizer cancels in own event", OpRegistrationCancel, models.RoleOrganizer, RelationOwnEvent, true},
		{"revert is admin only", OpRegistrationRevert, models.RoleOrganizer, RelationOwnEvent, false},
		{"admin reverts", OpRegistrationRevert, models.RoleAdmin, RelationNone, true},
		{"delete is admin only", OpRegistrationDelete, models.RoleOrganizer, RelationOwnEvent, false},
		{"attendance by organizer", OpAttendanceSet, models.RoleOrganizer, RelationOwnEvent, true},
		{"attendance by participant", OpAttendanceSet, models.RoleStudent, RelationSelf, false},
		{"certificate issue by organizer", OpCertificateIssue, models.RoleOrganizer, RelationOwnEvent, true},
		{"certificate view by owner", OpCertificateView, models.RoleStudent, RelationSelf, true},
		{"audit view by organizer", OpAuditView, models.RoleOrganizer, RelationOwnEvent, true},
		{"audit view by student", OpAuditView, models.RoleStudent, RelationSelf, false},
		{"unknown operation denied even for admin", Operation("unknown.op"), models.RoleAdmin, RelationNone, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Allowed(tc.op, tc.role, tc.rel))
		})
	}
}

func TestRelationOf(t *testing.T) {
	actor := &models.JWTClaims{UserID: "u1", Role: models.RoleStudent}
	assert.Equal(t, RelationSelf, RelationOf(actor, "u1", "org1"))
	assert.Equal(t, RelationOwnEvent, RelationOf(&models.JWTClaims{UserID: "org1"}, "u1", "org1"))
	assert.Equal(t, RelationNone, RelationOf(actor, "u2", "org1"))
	assert.Equal(t, RelationNone, RelationOf(nil, "u1", "org1"))
}
