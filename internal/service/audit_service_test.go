package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegs-platform/aegs-api/internal/models"
	appErrors "github.com/aegs-platform/aegs-api/pkg/errors"
)

type mockAuditRepo struct {
	logs       []models.AuditLog
	createErr  error
	lastFilter models.AuditFilter
}

func (m *mockAuditRepo) Create(ctx context.Context, log *models.AuditLog) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.logs = append(m.logs, *log)
	return nil
}

func (m *mockAuditRepo) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error) {
	m.lastFilter = filter
	return m.logs, len(m.logs), nil
}

func TestAuditServiceRecordSwallowsFailures(t *testing.T) {
	repo := &mockAuditRepo{createErr: errors.New("connection refused")}
	svc := NewAuditService(repo, zap.NewNop())

	// must not panic or surface the error
	svc.Record(context.Background(), models.AuditLog{Action: models.AuditActionLogin})
	assert.Empty(t, repo.logs)
}

func TestAuditServiceRecord(t *testing.T) {
	repo := &mockAuditRepo{}
	svc := NewAuditService(repo, zap.NewNop())

	svc.Record(context.Background(), models.AuditLog{Action: models.AuditActionEventCreated, Description: "event created"})
	require.Len(t, repo.logs, 1)
	assert.Equal(t, models.AuditActionEventCreated, repo.logs[0].Action)
}

func TestAuditServiceListScopesOrganizer(t *testing.T) {
	repo := &mockAuditRepo{logs: []models.AuditLog{{Action: models.AuditActionRegistrationCreated}}}
	svc := NewAuditService(repo, zap.NewNop())

	logs, pagination, err := svc.List(context.Background(), organizerClaims("org1"), models.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Equal(t, 1, pagination.TotalCount)
	assert.Equal(t, "org1", repo.lastFilter.OrganizerID)
}

func TestAuditServiceListAdminUnscoped(t *testing.T) {
	repo := &mockAuditRepo{}
	svc := NewAuditService(repo, zap.NewNop())

	_, _, err := svc.List(context.Background(), adminClaims(), models.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, repo.lastFilter.OrganizerID)
}

func TestAuditServiceListDeniedForParticipants(t *testing.T) {
	repo := &mockAuditRepo{}
	svc := NewAuditService(repo, zap.NewNop())

	_, _, err := svc.List(context.Background(), studentClaims("s1"), models.AuditFilter{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPermissionDenied.Code, appErrors.FromError(err).Code)
}
