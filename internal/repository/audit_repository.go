package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aegs-platform/aegs-api/internal/models"
)

// AuditRepository persists the append-only audit trail.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends an audit log entry.
func (r *AuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, action, actor_id, affected_user_id, event_id, registration_id, certificate_id, description, extra_data, ip_address, user_agent, created_at)
        VALUES (:id, :action, :actor_id, :affected_user_id, :event_id, :registration_id, :certificate_id, :description, :extra_data, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// List returns audit entries filtered by the provided criteria, newest first.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error) {
	base := `FROM audit_logs a`
	var conditions []string
	var args []interface{}

	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("a.action = $%d", len(args)+1))
		args = append(args, filter.Action)
	}
	if filter.ActorID != "" {
		conditions = append(conditions, fmt.Sprintf("a.actor_id = $%d", len(args)+1))
		args = append(args, filter.ActorID)
	}
	if filter.EventID != "" {
		conditions = append(conditions, fmt.Sprintf("a.event_id = $%d", len(args)+1))
		args = append(args, filter.EventID)
	}
	if filter.OrganizerID != "" {
		conditions = append(conditions, fmt.Sprintf("a.event_id IN (SELECT id FROM events WHERE organizer_id = $%d)", len(args)+1))
		args = append(args, filter.OrganizerID)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT a.id, a.action, a.actor_id, a.affected_user_id, a.event_id, a.registration_id, a.certificate_id, a.description, a.extra_data, a.ip_address, a.user_agent, a.created_at
        %s ORDER BY a.created_at DESC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}
	return logs, total, nil
}
