package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/aegs-platform/aegs-api/internal/models"
)

func newCertificateRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCertificateRepositoryUpsertKeepsExistingIdentity(t *testing.T) {
	db, mock, cleanup := newCertificateRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	firstIssued := time.Now().UTC().Add(-24 * time.Hour)
	rows := sqlmock.NewRows([]string{"id", "code", "issued_at", "created_at"}).
		AddRow("cert-1", "code-original", firstIssued, firstIssued)
	mock.ExpectQuery("INSERT INTO certificates .+ ON CONFLICT \\(registration_id\\)").
		WillReturnRows(rows)

	certificate := &models.Certificate{
		RegistrationID: "reg-1",
		Hours:          8,
	}
	err := repo.Upsert(context.Background(), certificate)
	require.NoError(t, err)
	require.Equal(t, "cert-1", certificate.ID)
	require.Equal(t, "code-original", certificate.Code)
	require.Equal(t, firstIssued, certificate.IssuedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryFindByCodeNotFound(t *testing.T) {
	db, mock, cleanup := newCertificateRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	mock.ExpectQuery("WHERE c\\.code = \\$1").
		WithArgs("code-404").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByCode(context.Background(), "code-404")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
