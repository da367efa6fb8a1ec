package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aegs-platform/aegs-api/internal/models"
)

// ErrCapacityReached signals that an event has no confirmed seats left.
var ErrCapacityReached = errors.New("event capacity reached")

// RegistrationRepository handles persistence of registrations.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

const registrationDetailSelect = `SELECT r.id, r.event_id, r.participant_id, r.status, r.attendance_confirmed, r.created_at, r.updated_at,
        u.full_name AS participant_name, u.email AS participant_email, u.role AS participant_role,
        e.title AS event_title, e.type AS event_type, e.location AS event_location,
        e.start_date AS event_start_date, e.end_date AS event_end_date, e.organizer_id AS event_organizer_id`

// List returns registrations filtered by the provided criteria.
func (r *RegistrationRepository) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	base := `FROM registrations r
LEFT JOIN users u ON u.id = r.participant_id
LEFT JOIN events e ON e.id = r.event_id`
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
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("r.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":       "r.created_at",
		"status":           "r.status",
		"participant_name": "u.full_name",
		"event_start_date": "e.start_date",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "r.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf("%s %s ORDER BY %s %s LIMIT %d OFFSET %d", registrationDetailSelect, base+clause, orderBy, order, size, offset)

	var registrations []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &registrations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count registrations: %w", err)
	}
	return registrations, total, nil
}

// FindByID returns a registration by its ID.
func (r *RegistrationRepository) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	const query = `SELECT id, event_id, participant_id, status, attendance_confirmed, created_at, updated_at FROM registrations WHERE id = $1`
	var registration models.Registration
	if err := r.db.GetContext(ctx, &registration, query, id); err != nil {
		return nil, err
	}
	return &registration, nil
}

// FindDetailByID returns a registration with contextual info.
func (r *RegistrationRepository) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	query := registrationDetailSelect + `
        FROM registrations r
        LEFT JOIN users u ON u.id = r.participant_id
        LEFT JOIN events e ON e.id = r.event_id
        WHERE r.id = $1`
	var detail models.RegistrationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Exists checks if a registration exists for the event and participant.
func (r *RegistrationRepository) Exists(ctx context.Context, eventID, participantID string) (bool, error) {
	const query = `SELECT 1 FROM registrations WHERE event_id = $1 AND participant_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, eventID, participantID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check registration: %w", err)
	}
	return true, nil
}

// CountConfirmed counts confirmed registrations for an event, optionally excluding one registration.
func (r *RegistrationRepository) CountConfirmed(ctx context.Context, eventID, excludeID string) (int, error) {
	query := `SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND status = $2`
	args := []interface{}{eventID, models.RegistrationStatusConfirmed}
	if excludeID != "" {
		query += fmt.Sprintf(" AND id <> $%d", len(args)+1)
		args = append(args, excludeID)
	}
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count confirmed registrations: %w", err)
	}
	return count, nil
}

// CreateWithCapacity inserts a registration, checking the confirmed seat count
// inside a serializable transaction when the new registration takes a seat.
func (r *RegistrationRepository) CreateWithCapacity(ctx context.Context, registration *models.Registration, capacity int) (err error) {
	if registration.ID == "" {
		registration.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if registration.CreatedAt.IsZero() {
		registration.CreatedAt = now
	}
	registration.UpdatedAt = now
	if registration.Status == "" {
		registration.Status = models.RegistrationStatusPending
	}

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin create registration: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if registration.Status == models.RegistrationStatusConfirmed {
		var confirmed int
		if err = tx.GetContext(ctx, &confirmed, `SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND status = $2`, registration.EventID, models.RegistrationStatusConfirmed); err != nil {
			return fmt.Errorf("count confirmed registrations: %w", err)
		}
		if confirmed >= capacity {
			err = ErrCapacityReached
			return err
		}
	}

	const query = `INSERT INTO registrations (id, event_id, participant_id, status, attendance_confirmed, created_at, updated_at)
        VALUES (:id, :event_id, :participant_id, :status, :attendance_confirmed, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, query, registration); err != nil {
		return fmt.Errorf("create registration: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create registration: %w", err)
	}
	return nil
}

// ConfirmWithCapacity transitions a registration to CONFIRMED, re-checking the
// confirmed seat count inside a serializable transaction.
func (r *RegistrationRepository) ConfirmWithCapacity(ctx context.Context, id, eventID string, capacity int) (err error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin confirm registration: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var confirmed int
	if err = tx.GetContext(ctx, &confirmed, `SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND status = $2 AND id <> $3`, eventID, models.RegistrationStatusConfirmed, id); err != nil {
		return fmt.Errorf("count confirmed registrations: %w", err)
	}
	if confirmed >= capacity {
		err = ErrCapacityReached
		return err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE registrations SET status = $2, updated_at = $3 WHERE id = $1`, id, models.RegistrationStatusConfirmed, time.Now().UTC()); err != nil {
		return fmt.Errorf("confirm registration: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit confirm registration: %w", err)
	}
	return nil
}

// UpdateStatus updates the status, optionally clearing the attendance flag.
func (r *RegistrationRepository) UpdateStatus(ctx context.Context, id string, status models.RegistrationStatus, resetAttendance bool) error {
	query := `UPDATE registrations SET status = $2, updated_at = $3 WHERE id = $1`
	if resetAttendance {
		query = `UPDATE registrations SET status = $2, updated_at = $3, attendance_confirmed = FALSE WHERE id = $1`
	}
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update registration status: %w", err)
	}
	return nil
}

// SetAttendance sets the attendance flag for a registration.
func (r *RegistrationRepository) SetAttendance(ctx context.Context, id string, attended bool) error {
	const query = `UPDATE registrations SET attendance_confirmed = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, attended, time.Now().UTC()); err != nil {
		return fmt.Errorf("set registration attendance: %w", err)
	}
	return nil
}

// Delete removes a registration and any certificate issued from it.
func (r *RegistrationRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete registration: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM certificates WHERE registration_id = $1`, id); err != nil {
		return fmt.Errorf("delete registration certificate: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM registrations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete registration result: %w", err)
	}
	if affected == 0 {
		err = sql.ErrNoRows
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete registration: %w", err)
	}
	return nil
}

// ListCertificateEligible returns attended confirmed registrations of ended
// events that have no certificate yet.
func (r *RegistrationRepository) ListCertificateEligible(ctx context.Context, endedBefore time.Time) ([]models.RegistrationDetail, error) {
	query := registrationDetailSelect + `
        FROM registrations r
        LEFT JOIN users u ON u.id = r.participant_id
        LEFT JOIN events e ON e.id = r.event_id
        WHERE r.status = $1 AND r.attendance_confirmed = TRUE AND e.end_date < $2
          AND NOT EXISTS (SELECT 1 FROM certificates c WHERE c.registration_id = r.id)
        ORDER BY e.end_date, r.created_at`
	var registrations []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &registrations, query, models.RegistrationStatusConfirmed, endedBefore); err != nil {
		return nil, fmt.Errorf("list certificate eligible registrations: %w", err)
	}
	return registrations, nil
}
