package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/aegs-platform/aegs-api/internal/models"
	appErrors "github.com/aegs-platform/aegs-api/pkg/errors"
)

type auditRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
}

// AuditService appends and queries the append-only audit trail. Writes are
// best-effort: a failed append is logged and never fails the operation that
// produced it.
type AuditService struct {
	repo   auditRepository
	logger *zap.Logger
}

// NewAuditService constructs AuditService.
func NewAuditService(repo auditRepository, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, logger: logger}
}

// Record appends an audit entry, swallowing persistence failures.
func (s *AuditService) Record(ctx context.Context, log models.AuditLog) {
	if s == nil || s.repo == nil {
		return
	}
	if err := s.repo.Create(ctx, &log); err != nil {
		s.logger.Warn("failed to record audit entry",
			zap.String("action", log.Action),
			zap.Error(err))
	}
}

// List returns audit entries visible to the actor. Organizers only see
// entries tied to their own events; admins see everything.
func (s *AuditService) List(ctx context.Context, actor *models.JWTClaims, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error) {
	if actor == nil || !Allowed(OpAuditView, actor.Role, RelationOwnEvent) {
		return nil, nil, appErrors.Clone(appErrors.ErrPermissionDenied, "not allowed to query the audit trail")
	}
	if actor.Role == models.RoleOrganizer {
		filter.OrganizerID = actor.UserID
	}
	logs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit entries")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return logs, pagination, nil
}
