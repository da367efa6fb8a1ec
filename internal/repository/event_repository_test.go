package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/aegs-platform/aegs-api/internal/models"
)

func newEventRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEventRepositoryFindDetailByID(t *testing.T) {
	db, mock, cleanup := newEventRepoMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	now := time.Now().UTC()
	title := "Go Workshop"
	rows := sqlmock.NewRows([]string{
		"id", "type", "title", "start_date", "end_date", "start_time", "location",
		"capacity", "credit_hours", "organizer_id", "professor_id", "created_at", "updated_at",
		"organizer_name", "professor_name", "confirmed_count",
	}).AddRow("evt-1", models.EventTypeWorkshop, title, now, now.AddDate(0, 0, 1), nil, "Lab 3",
		30, 8, "org-1", nil, now, now, "Carlos Lima", nil, 12)

	mock.ExpectQuery("SELECT e\\.id, e\\.type, e\\.title, .+ WHERE e\\.id = \\$1").
		WithArgs("evt-1").
		WillReturnRows(rows)

	detail, err := repo.FindDetailByID(context.Background(), "evt-1")
	require.NoError(t, err)
	require.Equal(t, 12, detail.ConfirmedCount)
	require.Equal(t, 18, detail.AvailableSlots())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepositoryDeleteCascades(t *testing.T) {
	db, mock, cleanup := newEventRepoMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM certificates WHERE registration_id IN (SELECT id FROM registrations WHERE event_id = $1)")).
		WithArgs("evt-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM registrations WHERE event_id = $1")).
		WithArgs("evt-1").
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM events WHERE id = $1")).
		WithArgs("evt-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Delete(context.Background(), "evt-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newEventRepoMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM certificates WHERE registration_id IN (SELECT id FROM registrations WHERE event_id = $1)")).
		WithArgs("evt-404").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM registrations WHERE event_id = $1")).
		WithArgs("evt-404").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM events WHERE id = $1")).
		WithArgs("evt-404").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "evt-404")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
