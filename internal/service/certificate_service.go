package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/aegs-platform/aegs-api/internal/models"
	appErrors "github.com/aegs-platform/aegs-api/pkg/errors"
	"github.com/aegs-platform/aegs-api/pkg/export"
)

type certificateRepository interface {
	List(ctx context.Context, filter models.CertificateFilter) ([]models.CertificateDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.CertificateDetail, error)
	FindByCode(ctx context.Context, code string) (*models.CertificateDetail, error)
	Upsert(ctx context.Context, certificate *models.Certificate) error
}

type certificateRegistrationReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
	ListCertificateEligible(ctx context.Context, endedBefore time.Time) ([]models.RegistrationDetail, error)
}

type certificateNotifier interface {
	SendCertificateIssued(detail *models.CertificateDetail)
}

type certificateRenderer interface {
	RenderCertificate(doc export.CertificateDocument) ([]byte, error)
}

type certificateStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type downloadSigner interface {
	Generate(jobID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (string, string, time.Time, error)
}

// IssueCertificateRequest describes a certificate issuance payload.
type IssueCertificateRequest struct {
	RegistrationID string             `json:"registration_id" validate:"required"`
	Hours          int                `json:"hours" validate:"omitempty,min=1"`
	ValidUntil     *time.Time         `json:"valid_until"`
	Notes          string             `json:"notes"`
	Meta           models.RequestMeta `json:"-"`
}

// DownloadLink is a time-limited certificate download reference.
type DownloadLink struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CertificateService issues and serves participation certificates.
type CertificateService struct {
	repo          certificateRepository
	registrations certificateRegistrationReader
	events        eventReader
	notifier      certificateNotifier
	audit         auditRecorder
	renderer      certificateRenderer
	storage       certificateStorage
	signer        downloadSigner
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewCertificateService constructs CertificateService.
func NewCertificateService(repo certificateRepository, registrations certificateRegistrationReader, events eventReader, notifier certificateNotifier, audit auditRecorder, renderer certificateRenderer, storage certificateStorage, signer downloadSigner, validate *validator.Validate, logger *zap.Logger) *CertificateService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CertificateService{
		repo:          repo,
		registrations: registrations,
		events:        events,
		notifier:      notifier,
		audit:         audit,
		renderer:      renderer,
		storage:       storage,
		signer:        signer,
		validator:     validate,
		logger:        logger,
	}
}

// List returns certificates visible to the actor with pagination metadata.
func (s *CertificateService) List(ctx context.Context, actor *models.JWTClaims, filter models.CertificateFilter) ([]models.CertificateDetail, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	switch actor.Role {
	case models.RoleStudent, models.RoleProfessor:
		filter.ParticipantID = actor.UserID
	case models.RoleOrganizer:
		filter.OrganizerID = actor.UserID
	}
	certificates, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list certificates")
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
	return certificates, pagination, nil
}

// Get returns a single certificate if the actor may view it.
func (s *CertificateService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.CertificateDetail, error) {
	detail, err := s.loadDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor == nil || !Allowed(OpCertificateView, actor.Role, RelationOf(actor, detail.ParticipantID, detail.EventOrganizerID)) {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "not allowed to view this certificate")
	}
	return detail, nil
}

// VerifyByCode resolves a certificate from its public verification code.
func (s *CertificateService) VerifyByCode(ctx context.Context, code string) (*models.CertificateDetail, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "verification code required")
	}
	detail, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify certificate")
	}
	return detail, nil
}

// Issue creates the certificate for an eligible registration. Re-issuing for
// the same registration refreshes mutable fields but keeps the original
// identity, code and issue date.
func (s *CertificateService) Issue(ctx context.Context, actor *models.JWTClaims, req IssueCertificateRequest) (*models.CertificateDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid certificate payload")
	}
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}

	registration, err := s.registrations.FindDetailByID(ctx, req.RegistrationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	if !Allowed(OpCertificateIssue, actor.Role, RelationOf(actor, registration.ParticipantID, registration.EventOrganizerID)) {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "not allowed to issue certificates for this event")
	}

	if registration.Status != models.RegistrationStatusConfirmed || !registration.AttendanceConfirmed {
		return nil, appErrors.Clone(appErrors.ErrNotEligible, "")
	}
	if req.ValidUntil != nil && !req.ValidUntil.After(registration.EventEndDate) {
		return nil, appErrors.Clone(appErrors.ErrInvalidValidityDate, "")
	}

	hours := req.Hours
	if hours <= 0 {
		event, err := s.events.FindByID(ctx, registration.EventID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
		}
		hours = event.CreditHours
	}
	if hours <= 0 {
		return nil, appErrors.WithDetails(appErrors.ErrValidation,
			appErrors.FieldError{Field: "hours", Message: "hours must be a positive number"})
	}

	certificate := &models.Certificate{
		RegistrationID: req.RegistrationID,
		IssuedByID:     strPtr(actor.UserID),
		Hours:          hours,
		ValidUntil:     req.ValidUntil,
		Notes:          req.Notes,
	}
	if err := s.repo.Upsert(ctx, certificate); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue certificate")
	}

	detail, err := s.loadDetail(ctx, certificate.ID)
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		s.audit.Record(ctx, models.AuditLog{
			Action:         models.AuditActionCertificateIssued,
			ActorID:        strPtr(actor.UserID),
			AffectedUserID: strPtr(registration.ParticipantID),
			EventID:        strPtr(registration.EventID),
			RegistrationID: strPtr(req.RegistrationID),
			CertificateID:  strPtr(certificate.ID),
			Description:    fmt.Sprintf("certificate issued with code %s", certificate.Code),
			IPAddress:      req.Meta.IP,
			UserAgent:      req.Meta.UserAgent,
		})
	}
	if s.notifier != nil {
		s.notifier.SendCertificateIssued(detail)
	}
	return detail, nil
}

// AutoIssueResult summarises an automatic issuance sweep.
type AutoIssueResult struct {
	Issued  int      `json:"issued"`
	Skipped []string `json:"skipped,omitempty"`
}

// AutoIssue sweeps ended events and issues certificates for every confirmed,
// attended registration that has none yet. Per-registration failures are
// collected, not fatal.
func (s *CertificateService) AutoIssue(ctx context.Context, actor *models.JWTClaims) (*AutoIssueResult, error) {
	if actor != nil && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "only administrators may run certificate issuance")
	}

	eligible, err := s.registrations.ListCertificateEligible(ctx, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list eligible registrations")
	}

	result := &AutoIssueResult{}
	for _, registration := range eligible {
		event, err := s.events.FindByID(ctx, registration.EventID)
		if err != nil {
			result.Skipped = append(result.Skipped, registration.ID)
			s.logger.Warn("auto issue skipped registration", zap.String("registration_id", registration.ID), zap.Error(err))
			continue
		}
		if event.CreditHours <= 0 {
			result.Skipped = append(result.Skipped, registration.ID)
			s.logger.Warn("auto issue skipped registration: event has no credit hours", zap.String("registration_id", registration.ID), zap.String("event_id", event.ID))
			continue
		}
		certificate := &models.Certificate{
			RegistrationID: registration.ID,
			Hours:          event.CreditHours,
		}
		if actor != nil {
			certificate.IssuedByID = strPtr(actor.UserID)
		}
		if err := s.repo.Upsert(ctx, certificate); err != nil {
			result.Skipped = append(result.Skipped, registration.ID)
			s.logger.Warn("auto issue failed", zap.String("registration_id", registration.ID), zap.Error(err))
			continue
		}
		result.Issued++

		if s.notifier != nil {
			if detail, err := s.loadDetail(ctx, certificate.ID); err == nil {
				s.notifier.SendCertificateIssued(detail)
			}
		}
		if s.audit != nil {
			log := models.AuditLog{
				Action:         models.AuditActionCertificateIssued,
				AffectedUserID: strPtr(registration.ParticipantID),
				EventID:        strPtr(registration.EventID),
				RegistrationID: strPtr(registration.ID),
				CertificateID:  strPtr(certificate.ID),
				Description:    "certificate issued by automatic sweep",
			}
			if actor != nil {
				log.ActorID = strPtr(actor.UserID)
			}
			s.audit.Record(ctx, log)
		}
	}
	return result, nil
}

// DownloadLink returns a signed, expiring link for the certificate PDF.
func (s *CertificateService) DownloadLink(ctx context.Context, actor *models.JWTClaims, id string) (*DownloadLink, error) {
	detail, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	relPath := certificatePath(detail.ID)
	token, expiresAt, err := s.signer.Generate(detail.ID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &DownloadLink{Token: token, ExpiresAt: expiresAt}, nil
}

// Download validates a signed token and returns the certificate PDF,
// rendering and caching it on first access.
func (s *CertificateService) Download(ctx context.Context, token string) ([]byte, string, error) {
	certificateID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download link")
	}

	if file, err := s.storage.Open(relPath); err == nil {
		defer file.Close() //nolint:errcheck
		if data, err := io.ReadAll(file); err == nil {
			return data, downloadFilename(certificateID), nil
		}
	}

	detail, err := s.loadDetail(ctx, certificateID)
	if err != nil {
		return nil, "", err
	}
	data, err := s.render(detail)
	if err != nil {
		return nil, "", err
	}
	if _, err := s.storage.Save(relPath, data); err != nil {
		s.logger.Warn("failed to cache certificate pdf", zap.String("certificate_id", certificateID), zap.Error(err))
	}
	return data, downloadFilename(certificateID), nil
}

func (s *CertificateService) render(detail *models.CertificateDetail) ([]byte, error) {
	doc := export.CertificateDocument{
		Code:            detail.Code,
		ParticipantName: detail.ParticipantName,
		EventTitle:      detail.EventDisplayTitle(),
		EventLocation:   detail.EventLocation,
		EventStartDate:  detail.EventStartDate.Format("2006-01-02"),
		EventEndDate:    detail.EventEndDate.Format("2006-01-02"),
		Hours:           detail.Hours,
		IssuedAt:        detail.IssuedAt.Format("2006-01-02"),
		Notes:           detail.Notes,
	}
	if detail.IssuerName != nil {
		doc.IssuerName = *detail.IssuerName
	}
	if detail.ValidUntil != nil {
		doc.ValidUntil = detail.ValidUntil.Format("2006-01-02")
	}
	data, err := s.renderer.RenderCertificate(doc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate")
	}
	return data, nil
}

func (s *CertificateService) loadDetail(ctx context.Context, id string) (*models.CertificateDetail, error) {
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}
	return detail, nil
}

func certificatePath(certificateID string) string {
	return fmt.Sprintf("certificates/%s.pdf", certificateID)
}

func downloadFilename(certificateID string) string {
	return fmt.Sprintf("certificate-%s.pdf", certificateID)
}
