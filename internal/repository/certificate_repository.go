package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aegs-platform/aegs-api/internal/models"
)

// CertificateRepository handles persistence of certificates.
type CertificateRepository struct {
	db *sqlx.DB
}

// NewCertificateRepository constructs the repository.
func NewCertificateRepository(db *sqlx.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

const certificateDetailSelect = `SELECT c.id, c.registration_id, c.issued_by_id, c.code, c.hours, c.issued_at, c.valid_until, c.notes, c.created_at, c.updated_at,
        r.participant_id AS participant_id, u.full_name AS participant_name, u.email AS participant_email,
        r.event_id AS event_id, e.title AS event_title, e.type AS event_type, e.location AS event_location,
        e.start_date AS event_start_date, e.end_date AS event_end_date, e.organizer_id AS event_organizer_id,
        i.full_name AS issuer_name`

const certificateDetailJoins = `
        FROM certificates c
        LEFT JOIN registrations r ON r.id = c.registration_id
        LEFT JOIN users u ON u.id = r.participant_id
        LEFT JOIN events e ON e.id = r.event_id
        LEFT JOIN users i ON i.id = c.issued_by_id`

// List returns certificates filtered by the provided criteria.
func (r *CertificateRepository) List(ctx context.Context, filter models.CertificateFilter) ([]models.CertificateDetail, int, error) {
	base := `FROM certificates c
LEFT JOIN registrations r ON r.id = c.registration_id
LEFT JOIN users u ON u.id = r.participant_id
LEFT JOIN events e ON e.id = r.event_id
LEFT JOIN users i ON i.id = c.issued_by_id`
	var conditions []string
	var args []interface{}

	if filter.EventID != "" {
		conditions = append(conditions, fmt.Sprintf("r.event_id = $%d", len(args)+1))
		args = append(args, filter.EventID)
	}
	if filter.ParticipantID != "" {
		conditions = append(conditions, fmt.Sprintf("r.participant_id = $%d", len(args)+1))
		args = append(args, filter.ParticipantID)
	}
	if filter.OrganizerID != "" {
		conditions = append(conditions, fmt.Sprintf("e.organizer_id = $%d", len(args)+1))
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

	query := fmt.Sprintf("%s %s ORDER BY c.issued_at DESC LIMIT %d OFFSET %d", certificateDetailSelect, base+clause, size, offset)

	var certificates []models.CertificateDetail
	if err := r.db.SelectContext(ctx, &certificates, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list certificates: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count certificates: %w", err)
	}
	return certificates, total, nil
}

// FindByID returns a certificate with contextual info.
func (r *CertificateRepository) FindByID(ctx context.Context, id string) (*models.CertificateDetail, error) {
	query := certificateDetailSelect + certificateDetailJoins + ` WHERE c.id = $1`
	var detail models.CertificateDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByCode returns a certificate by its verification code.
func (r *CertificateRepository) FindByCode(ctx context.Context, code string) (*models.CertificateDetail, error) {
	query := certificateDetailSelect + certificateDetailJoins + ` WHERE c.code = $1`
	var detail models.CertificateDetail
	if err := r.db.GetContext(ctx, &detail, query, code); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Upsert inserts the certificate for a registration or refreshes the existing
// one, keeping a single certificate per registration.
func (r *CertificateRepository) Upsert(ctx context.Context, certificate *models.Certificate) error {
	if certificate.ID == "" {
		certificate.ID = uuid.NewString()
	}
	if certificate.Code == "" {
		certificate.Code = uuid.NewString()
	}
	now := time.Now().UTC()
	if certificate.IssuedAt.IsZero() {
		certificate.IssuedAt = now
	}
	if certificate.CreatedAt.IsZero() {
		certificate.CreatedAt = now
	}
	certificate.UpdatedAt = now

	const query = `INSERT INTO certificates (id, registration_id, issued_by_id, code, hours, issued_at, valid_until, notes, created_at, updated_at)
        VALUES (:id, :registration_id, :issued_by_id, :code, :hours, :issued_at, :valid_until, :notes, :created_at, :updated_at)
        ON CONFLICT (registration_id)
        DO UPDATE SET issued_by_id = EXCLUDED.issued_by_id, hours = EXCLUDED.hours, valid_until = EXCLUDED.valid_until, notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
        RETURNING id, code, issued_at, created_at`
	rows, err := r.db.NamedQueryContext(ctx, query, certificate)
	if err != nil {
		return fmt.Errorf("upsert certificate: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&certificate.ID, &certificate.Code, &certificate.IssuedAt, &certificate.CreatedAt); err != nil {
			return fmt.Errorf("scan upserted certificate: %w", err)
		}
	}
	return nil
}

// Delete removes a certificate.
func (r *CertificateRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM certificates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete certificate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete certificate result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
