package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegs-platform/aegs-api/internal/models"
	appErrors "github.com/aegs-platform/aegs-api/pkg/errors"
	"github.com/aegs-platform/aegs-api/pkg/export"
)

type mockCertificateRepo struct {
	certificates map[string]models.CertificateDetail
	byReg        map[string]string
	regs         map[string]models.RegistrationDetail
	upserts      int
}

func (m *mockCertificateRepo) List(ctx context.Context, filter models.CertificateFilter) ([]models.CertificateDetail, int, error) {
	var list []models.CertificateDetail
	for _, d := range m.certificates {
		if filter.ParticipantID != "" && d.ParticipantID != filter.ParticipantID {
			continue
		}
		if filter.OrganizerID != "" && d.EventOrganizerID != filter.OrganizerID {
			continue
		}
		list = append(list, d)
	}
	return list, len(list), nil
}

func (m *mockCertificateRepo) FindByID(ctx context.Context, id string) (*models.CertificateDetail, error) {
	if d, ok := m.certificates[id]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCertificateRepo) FindByCode(ctx context.Context, code string) (*models.CertificateDetail, error) {
	for _, d := range m.certificates {
		if d.Code == code {
			return &d, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockCertificateRepo) Upsert(ctx context.Context, certificate *models.Certificate) error {
	m.upserts++
	if m.certificates == nil {
		m.certificates = make(map[string]models.CertificateDetail)
	}
	if m.byReg == nil {
		m.byReg = make(map[string]string)
	}
	if id, ok := m.byReg[certificate.RegistrationID]; ok {
		existing := m.certificates[id]
		certificate.ID = existing.ID
		certificate.Code = existing.Code
		certificate.IssuedAt = existing.IssuedAt
		existing.Hours = certificate.Hours
		existing.ValidUntil = certificate.ValidUntil
		existing.Notes = certificate.Notes
		existing.IssuedByID = certificate.IssuedByID
		m.certificates[id] = existing
		return nil
	}
	certificate.ID = fmt.Sprintf("cert-%d", len(m.certificates)+1)
	certificate.Code = fmt.Sprintf("CODE-%d", len(m.certificates)+1)
	certificate.IssuedAt = time.Now().UTC()
	m.byReg[certificate.RegistrationID] = certificate.ID
	detail := models.CertificateDetail{Certificate: *certificate}
	if reg, ok := m.regs[certificate.RegistrationID]; ok {
		detail.ParticipantID = reg.ParticipantID
		detail.ParticipantName = reg.ParticipantName
		detail.EventID = reg.EventID
		detail.EventType = reg.EventType
		detail.EventLocation = reg.EventLocation
		detail.EventStartDate = reg.EventStartDate
		detail.EventEndDate = reg.EventEndDate
		detail.EventOrganizerID = reg.EventOrganizerID
	}
	m.certificates[certificate.ID] = detail
	return nil
}

type mockCertRegistrations struct {
	registrations map[string]models.RegistrationDetail
	eligible      []models.RegistrationDetail
}

func (m *mockCertRegistrations) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	if d, ok := m.registrations[id]; ok {
		return &d, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCertRegistrations) ListCertificateEligible(ctx context.Context, endedBefore time.Time) ([]models.RegistrationDetail, error) {
	return m.eligible, nil
}

type mockCertNotifier struct {
	sent int
}

func (m *mockCertNotifier) SendCertificateIssued(detail *models.CertificateDetail) {
	m.sent++
}

type mockRenderer struct {
	docs []export.CertificateDocument
}

func (m *mockRenderer) RenderCertificate(doc export.CertificateDocument) ([]byte, error) {
	m.docs = append(m.docs, doc)
	return []byte("%PDF-" + doc.Code), nil
}

type mockCertStorage struct {
	dir string
}

func (m *mockCertStorage) Save(filename string, data []byte) (string, error) {
	path := filepath.Join(m.dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, os.WriteFile(path, data, 0o644)
}

func (m *mockCertStorage) Open(filename string) (*os.File, error) {
	return os.Open(filepath.Join(m.dir, filename))
}

type mockSigner struct{}

func (m *mockSigner) Generate(jobID, relPath string) (string, time.Time, error) {
	return jobID + "|" + relPath, time.Now().Add(time.Hour), nil
}

func (m *mockSigner) Parse(token string, allowExpired bool) (string, string, time.Time, error) {
	parts := strings.SplitN(token, "|", 2)
	if len(parts) != 2 {
		return "", "", time.Time{}, errors.New("malformed token")
	}
	return parts[0], parts[1], time.Now().Add(time.Hour), nil
}

func eligibleRegistration(id string) models.RegistrationDetail {
	return models.RegistrationDetail{
		Registration: models.Registration{
			ID:                  id,
			EventID:             "ev1",
			ParticipantID:       "s1",
			Status:              models.RegistrationStatusConfirmed,
			AttendanceConfirmed: true,
		},
		ParticipantName:  "Ana Souza",
		EventType:        models.EventTypeWorkshop,
		EventLocation:    "Auditorium",
		EventStartDate:   time.Now().Add(-48 * time.Hour),
		EventEndDate:     time.Now().Add(-24 * time.Hour),
		EventOrganizerID: "org1",
	}
}

func newCertificateFixture(t *testing.T) (*CertificateService, *mockCertificateRepo, *mockCertRegistrations, *mockCertNotifier, *mockAuditRecorder) {
	t.Helper()
	registrations := &mockCertRegistrations{registrations: map[string]models.RegistrationDetail{
		"r1": eligibleRegistration("r1"),
	}}
	repo := &mockCertificateRepo{regs: registrations.registrations}
	events := &mockEventReader{events: map[string]*models.Event{
		"ev1": {ID: "ev1", Type: models.EventTypeWorkshop, Capacity: 10, CreditHours: 8, OrganizerID: "org1"},
	}}
	notifier := &mockCertNotifier{}
	audit := &mockAuditRecorder{}
	svc := NewCertificateService(repo, registrations, events, notifier, audit,
		&mockRenderer{}, &mockCertStorage{dir: t.TempDir()}, &mockSigner{}, validator.New(), zap.NewNop())
	return svc, repo, registrations, notifier, audit
}

func TestCertificateServiceIssue(t *testing.T) {
	svc, repo, _, notifier, audit := newCertificateFixture(t)

	detail, err := svc.Issue(context.Background(), organizerClaims("org1"), IssueCertificateRequest{RegistrationID: "r1"})
	require.NoError(t, err)
	assert.NotEmpty(t, detail.Code)
	assert.Equal(t, 8, detail.Hours)
	assert.Equal(t, 1, repo.upserts)
	assert.Equal(t, 1, notifier.sent)
	assert.Equal(t, models.AuditActionCertificateIssued, audit.lastAction())
}

func TestCertificateServiceIssueDeniedForOtherOrganizer(t *testing.T) {
	svc, _, _, _, _ := newCertificateFixture(t)

	_, err := svc.Issue(context.Background(), organizerClaims("org2"), IssueCertificateRequest{RegistrationID: "r1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPermissionDenied.Code, appErrors.FromError(err).Code)
}

func TestCertificateServiceIssueRequiresAttendance(t *testing.T) {
	svc, _, registrations, _, _ := newCertificateFixture(t)
	reg := registrations.registrations["r1"]
	reg.AttendanceConfirmed = false
	registrations.registrations["r1"] = reg

	_, err := svc.Issue(context.Background(), organizerClaims("org1"), IssueCertificateRequest{RegistrationID: "r1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotEligible.Code, appErrors.FromError(err).Code)
}

func TestCertificateServiceIssueBeforeEventEnds(t *testing.T) {
	svc, _, registrations, _, _ := newCertificateFixture(t)
	reg := registrations.registrations["r1"]
	reg.EventEndDate = time.Now().Add(24 * time.Hour)
	registrations.registrations["r1"] = reg

	detail, err := svc.Issue(context.Background(), organizerClaims("org1"), IssueCertificateRequest{RegistrationID: "r1"})
	require.NoError(t, err)
	assert.NotEmpty(t, detail.Code)
}

func TestCertificateServiceIssueRequiresPositiveHours(t *testing.T) {
	svc, _, _, _, _ := newCertificateFixture(t)
	svc.events.(*mockEventReader).events["ev1"].CreditHours = 0

	_, err := svc.Issue(context.Background(), organizerClaims("org1"), IssueCertificateRequest{RegistrationID: "r1"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	require.Len(t, appErr.Details, 1)
	assert.Equal(t, "hours", appErr.Details[0].Field)
}

func TestCertificateServiceIssueValidityBeforeEventEnd(t *testing.T) {
	svc, _, _, _, _ := newCertificateFixture(t)
	validUntil := time.Now().Add(-72 * time.Hour)

	_, err := svc.Issue(context.Background(), organizerClaims("org1"), IssueCertificateRequest{RegistrationID: "r1", ValidUntil: &validUntil})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidValidityDate.Code, appErrors.FromError(err).Code)
}

func TestCertificateServiceReissueKeepsIdentity(t *testing.T) {
	svc, repo, _, _, _ := newCertificateFixture(t)

	first, err := svc.Issue(context.Background(), organizerClaims("org1"), IssueCertificateRequest{RegistrationID: "r1", Hours: 4})
	require.NoError(t, err)

	second, err := svc.Issue(context.Background(), organizerClaims("org1"), IssueCertificateRequest{RegistrationID: "r1", Hours: 6, Notes: "revised"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.IssuedAt, second.IssuedAt)
	assert.Equal(t, 6, second.Hours)
	assert.Equal(t, 2, repo.upserts)
}

func TestCertificateServiceVerifyByCode(t *testing.T) {
	svc, _, _, _, _ := newCertificateFixture(t)

	issued, err := svc.Issue(context.Background(), organizerClaims("org1"), IssueCertificateRequest{RegistrationID: "r1"})
	require.NoError(t, err)

	detail, err := svc.VerifyByCode(context.Background(), " "+issued.Code+" ")
	require.NoError(t, err)
	assert.Equal(t, issued.ID, detail.ID)

	_, err = svc.VerifyByCode(context.Background(), "UNKNOWN")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.VerifyByCode(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCertificateServiceAutoIssue(t *testing.T) {
	svc, repo, registrations, notifier, _ := newCertificateFixture(t)
	missingEvent := eligibleRegistration("r2")
	missingEvent.EventID = "gone"
	registrations.eligible = []models.RegistrationDetail{eligibleRegistration("r1"), missingEvent}

	result, err := svc.AutoIssue(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Issued)
	assert.Equal(t, []string{"r2"}, result.Skipped)
	assert.Equal(t, 1, repo.upserts)
	assert.Equal(t, 1, notifier.sent)
}

func TestCertificateServiceAutoIssueSkipsZeroHourEvents(t *testing.T) {
	svc, repo, registrations, notifier, _ := newCertificateFixture(t)
	svc.events.(*mockEventReader).events["ev1"].CreditHours = 0
	registrations.eligible = []models.RegistrationDetail{eligibleRegistration("r1")}

	result, err := svc.AutoIssue(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Issued)
	assert.Equal(t, []string{"r1"}, result.Skipped)
	assert.Equal(t, 0, repo.upserts)
	assert.Equal(t, 0, notifier.sent)
}

func TestCertificateServiceAutoIssueDeniedForNonAdmin(t *testing.T) {
	svc, _, _, _, _ := newCertificateFixture(t)

	_, err := svc.AutoIssue(context.Background(), organizerClaims("org1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPermissionDenied.Code, appErrors.FromError(err).Code)
}

func TestCertificateServiceDownload(t *testing.T) {
	svc, _, _, _, _ := newCertificateFixture(t)

	issued, err := svc.Issue(context.Background(), organizerClaims("org1"), IssueCertificateRequest{RegistrationID: "r1"})
	require.NoError(t, err)

	link, err := svc.DownloadLink(context.Background(), studentClaims("s1"), issued.ID)
	require.NoError(t, err)

	data, filename, err := svc.Download(context.Background(), link.Token)
	require.NoError(t, err)
	assert.Contains(t, string(data), "%PDF-")
	assert.Equal(t, fmt.Sprintf("certificate-%s.pdf", issued.ID), filename)

	// second download is served from the cached file
	cached, _, err := svc.Download(context.Background(), link.Token)
	require.NoError(t, err)
	assert.Equal(t, data, cached)
}

func TestCertificateServiceDownloadLinkDeniedForStranger(t *testing.T) {
	svc, _, _, _, _ := newCertificateFixture(t)

	issued, err := svc.Issue(context.Background(), organizerClaims("org1"), IssueCertificateRequest{RegistrationID: "r1"})
	require.NoError(t, err)

	_, err = svc.DownloadLink(context.Background(), studentClaims("s9"), issued.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPermissionDenied.Code, appErrors.FromError(err).Code)
}

func TestCertificateServiceDownloadRejectsBadToken(t *testing.T) {
	svc, _, _, _, _ := newCertificateFixture(t)

	_, _, err := svc.Download(context.Background(), "garbage")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
