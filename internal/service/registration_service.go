package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/aegs-platform/aegs-api/internal/models"
	"github.com/aegs-platform/aegs-api/internal/repository"
	appErrors "github.com/aegs-platform/aegs-api/pkg/errors"
)

type registrationRepository interface {
	List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
	Exists(ctx context.Context, eventID, participantID string) (bool, error)
	CreateWithCapacity(ctx context.Context, registration *models.Registration, capacity int) error
	ConfirmWithCapacity(ctx context.Context, id, eventID string, capacity int) error
	UpdateStatus(ctx context.Context, id string, status models.RegistrationStatus, resetAttendance bool) error
	SetAttendance(ctx context.Context, id string, attended bool) error
	Delete(ctx context.Context, id string) error
}

type eventReader interface {
	FindByID(ctx context.Context, id string) (*models.Event, error)
}

type participantReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type registrationNotifier interface {
	SendRegistrationStatus(detail *models.RegistrationDetail)
}

type auditRecorder interface {
	Record(ctx context.Context, log models.AuditLog)
}

// CreateRegistrationRequest describes a registration creation payload.
type CreateRegistrationRequest struct {
	EventID       string                    `json:"event_id" validate:"required"`
	ParticipantID string                    `json:"participant_id"`
	Status        models.RegistrationStatus `json:"status"`
	Meta          models.RequestMeta        `json:"-"`
}

// UpdateRegistrationStatusRequest describes a status transition payload.
type UpdateRegistrationStatusRequest struct {
	Status models.RegistrationStatus `json:"status" validate:"required"`
	Meta   models.RequestMeta        `json:"-"`
}

// SetAttendanceRequest describes an attendance toggle payload.
type SetAttendanceRequest struct {
	Attended *bool              `json:"attended" validate:"required"`
	Meta     models.RequestMeta `json:"-"`
}

// BulkAttendanceRequest toggles attendance for several registrations at once.
type BulkAttendanceRequest struct {
	RegistrationIDs []string           `json:"registration_ids" validate:"required,min=1"`
	Attended        bool               `json:"attended"`
	Meta            models.RequestMeta `json:"-"`
}

// registrationTransitions maps each valid transition to the operation that
// authorizes it. Missing pairs are invalid. CANCELLED is terminal.
var registrationTransitions = map[models.RegistrationStatus]map[models.RegistrationStatus]Operation{
	models.RegistrationStatusPending: {
		models.RegistrationStatusConfirmed: OpRegistrationConfirm,
		models.RegistrationStatusCancelled: OpRegistrationCancel,
	},
	models.RegistrationStatusConfirmed: {
		models.RegistrationStatusCancelled: OpRegistrationCancel,
		models.RegistrationStatusPending:   OpRegistrationRevert,
	},
	models.RegistrationStatusCancelled: {},
}

// RegistrationService orchestrates the registration lifecycle.
type RegistrationService struct {
	repo      registrationRepository
	events    eventReader
	users     participantReader
	notifier  registrationNotifier
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRegistrationService constructs RegistrationService.
func NewRegistrationService(repo registrationRepository, events eventReader, users participantReader, notifier registrationNotifier, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{repo: repo, events: events, users: users, notifier: notifier, audit: audit, validator: validate, logger: logger}
}

// List returns registrations visible to the actor with pagination metadata.
// Participants only see their own; organizers only those of their events.
func (s *RegistrationService) List(ctx context.Context, actor *models.JWTClaims, filter models.RegistrationFilter) ([]models.RegistrationDetail, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	switch actor.Role {
	case models.RoleStudent, models.RoleProfessor:
		filter.ParticipantID = actor.UserID
	case models.RoleOrganizer:
		filter.OrganizerID = actor.UserID
	}
	registrations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
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
	return registrations, pagination, nil
}

// Get returns a single registration if the actor may view it.
func (s *RegistrationService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.RegistrationDetail, error) {
	detail, err := s.loadDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Allowed(OpRegistrationView, actor.Role, RelationOf(actor, detail.ParticipantID, detail.EventOrganizerID)) {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "not allowed to view this registration")
	}
	return detail, nil
}

// Register creates a registration for an event seat. Validations run in a
// fixed order: eligibility, uniqueness, then capacity inside the insert
// transaction.
func (s *RegistrationService) Register(ctx context.Context, actor *models.JWTClaims, req CreateRegistrationRequest) (*models.RegistrationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}

	event, err := s.events.FindByID(ctx, req.EventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}

	participantID := req.ParticipantID
	if participantID == "" {
		participantID = actor.UserID
	}

	// Role eligibility is checked before authorization: an ineligible
	// participant is rejected with RoleNotEligible no matter who asks.
	participant, err := s.users.FindByID(ctx, participantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "participant not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participant")
	}
	if !participant.Role.IsParticipant() {
		return nil, appErrors.Clone(appErrors.ErrRoleNotEligible, "")
	}
	if !participant.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "participant account is inactive")
	}

	if !Allowed(OpRegistrationCreate, actor.Role, RelationOf(actor, participantID, event.OrganizerID)) {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "not allowed to register this participant")
	}

	exists, err := s.repo.Exists(ctx, req.EventID, participantID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing registration")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrAlreadyRegistered, "")
	}

	status := req.Status
	if status == "" {
		status = models.RegistrationStatusPending
	}
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown registration status")
	}
	if status != models.RegistrationStatusPending && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "only administrators may create a registration with a final status")
	}

	registration := &models.Registration{
		EventID:       req.EventID,
		ParticipantID: participantID,
		Status:        status,
	}
	if err := s.repo.CreateWithCapacity(ctx, registration, event.Capacity); err != nil {
		if errors.Is(err, repository.ErrCapacityReached) {
			return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create registration")
	}

	detail, err := s.loadDetail(ctx, registration.ID)
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		s.audit.Record(ctx, models.AuditLog{
			Action:         models.AuditActionRegistrationCreated,
			ActorID:        strPtr(actor.UserID),
			AffectedUserID: strPtr(participantID),
			EventID:        strPtr(req.EventID),
			RegistrationID: strPtr(registration.ID),
			Description:    fmt.Sprintf("registration created with status %s", registration.Status),
			IPAddress:      req.Meta.IP,
			UserAgent:      req.Meta.UserAgent,
		})
	}
	if s.notifier != nil {
		s.notifier.SendRegistrationStatus(detail)
	}
	return detail, nil
}

// UpdateStatus transitions a registration between lifecycle states. It
// returns non-fatal warnings, e.g. when cancelling clears a confirmed
// attendance flag.
func (s *RegistrationService) UpdateStatus(ctx context.Context, actor *models.JWTClaims, id string, req UpdateRegistrationStatusRequest) (*models.RegistrationDetail, []string, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if !req.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown registration status")
	}
	if actor == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}

	detail, err := s.loadDetail(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	op, valid := registrationTransitions[detail.Status][req.Status]
	if !valid {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot transition registration from %s to %s", detail.Status, req.Status))
	}
	if !Allowed(op, actor.Role, RelationOf(actor, detail.ParticipantID, detail.EventOrganizerID)) {
		return nil, nil, appErrors.Clone(appErrors.ErrPermissionDenied, "not allowed to change this registration")
	}

	var warnings []string
	switch req.Status {
	case models.RegistrationStatusConfirmed:
		event, err := s.events.FindByID(ctx, detail.EventID)
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
		}
		if err := s.repo.ConfirmWithCapacity(ctx, id, detail.EventID, event.Capacity); err != nil {
			if errors.Is(err, repository.ErrCapacityReached) {
				return nil, nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "")
			}
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm registration")
		}
	default:
		resetAttendance := detail.AttendanceConfirmed
		if err := s.repo.UpdateStatus(ctx, id, req.Status, resetAttendance); err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update registration status")
		}
		if resetAttendance {
			warnings = append(warnings, "attendance confirmation was cleared by the status change")
			s.logger.Warn("attendance flag cleared on status change",
				zap.String("registration_id", id),
				zap.String("status", string(req.Status)))
		}
	}

	updated, err := s.loadDetail(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	action := models.AuditActionRegistrationUpdated
	if req.Status == models.RegistrationStatusCancelled {
		action = models.AuditActionRegistrationCancelled
	}
	if s.audit != nil {
		s.audit.Record(ctx, models.AuditLog{
			Action:         action,
			ActorID:        strPtr(actor.UserID),
			AffectedUserID: strPtr(detail.ParticipantID),
			EventID:        strPtr(detail.EventID),
			RegistrationID: strPtr(id),
			Description:    fmt.Sprintf("registration status changed from %s to %s", detail.Status, req.Status),
			IPAddress:      req.Meta.IP,
			UserAgent:      req.Meta.UserAgent,
		})
	}
	if s.notifier != nil {
		s.notifier.SendRegistrationStatus(updated)
	}
	return updated, warnings, nil
}

// SetAttendance flips the attendance flag of a confirmed registration.
func (s *RegistrationService) SetAttendance(ctx context.Context, actor *models.JWTClaims, id string, req SetAttendanceRequest) (*models.RegistrationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}

	detail, err := s.loadDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if !Allowed(OpAttendanceSet, actor.Role, RelationOf(actor, detail.ParticipantID, detail.EventOrganizerID)) {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "not allowed to set attendance for this registration")
	}
	if detail.Status != models.RegistrationStatusConfirmed {
		return nil, appErrors.Clone(appErrors.ErrNotEligible, "attendance requires a confirmed registration")
	}

	if err := s.repo.SetAttendance(ctx, id, *req.Attended); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set attendance")
	}

	if s.audit != nil {
		s.audit.Record(ctx, models.AuditLog{
			Action:         models.AuditActionRegistrationUpdated,
			ActorID:        strPtr(actor.UserID),
			AffectedUserID: strPtr(detail.ParticipantID),
			EventID:        strPtr(detail.EventID),
			RegistrationID: strPtr(id),
			Description:    fmt.Sprintf("attendance confirmed set to %t", *req.Attended),
			IPAddress:      req.Meta.IP,
			UserAgent:      req.Meta.UserAgent,
		})
	}
	return s.loadDetail(ctx, id)
}

// BulkSetAttendance toggles attendance for several registrations of a single
// event. Individual failures are reported as warnings instead of aborting the
// batch.
func (s *RegistrationService) BulkSetAttendance(ctx context.Context, actor *models.JWTClaims, eventID string, req BulkAttendanceRequest) (int, []string, error) {
	if err := s.validator.Struct(req); err != nil {
		return 0, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk attendance payload")
	}
	if actor == nil {
		return 0, nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return 0, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	if !Allowed(OpAttendanceSet, actor.Role, RelationOf(actor, "", event.OrganizerID)) {
		return 0, nil, appErrors.Clone(appErrors.ErrPermissionDenied, "not allowed to set attendance for this event")
	}

	attended := req.Attended
	updated := 0
	var warnings []string
	for _, id := range req.RegistrationIDs {
		registration, err := s.repo.FindByID(ctx, id)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("registration %s not found", id))
			continue
		}
		if registration.EventID != eventID {
			warnings = append(warnings, fmt.Sprintf("registration %s does not belong to the event", id))
			continue
		}
		if registration.Status != models.RegistrationStatusConfirmed {
			warnings = append(warnings, fmt.Sprintf("registration %s is not confirmed", id))
			continue
		}
		if err := s.repo.SetAttendance(ctx, id, attended); err != nil {
			warnings = append(warnings, fmt.Sprintf("registration %s could not be updated", id))
			s.logger.Warn("bulk attendance update failed", zap.String("registration_id", id), zap.Error(err))
			continue
		}
		updated++
	}

	if s.audit != nil {
		s.audit.Record(ctx, models.AuditLog{
			Action:      models.AuditActionRegistrationUpdated,
			ActorID:     strPtr(actor.UserID),
			EventID:     strPtr(eventID),
			Description: fmt.Sprintf("bulk attendance set to %t for %d registrations", attended, updated),
			IPAddress:   req.Meta.IP,
			UserAgent:   req.Meta.UserAgent,
		})
	}
	return updated, warnings, nil
}

// Delete removes a registration entirely. Reserved for administrators.
func (s *RegistrationService) Delete(ctx context.Context, actor *models.JWTClaims, id string, meta models.RequestMeta) error {
	if actor == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	detail, err := s.loadDetail(ctx, id)
	if err != nil {
		return err
	}
	if !Allowed(OpRegistrationDelete, actor.Role, RelationOf(actor, detail.ParticipantID, detail.EventOrganizerID)) {
		return appErrors.Clone(appErrors.ErrPermissionDenied, "not allowed to delete this registration")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete registration")
	}
	if s.audit != nil {
		s.audit.Record(ctx, models.AuditLog{
			Action:         models.AuditActionRegistrationDeleted,
			ActorID:        strPtr(actor.UserID),
			AffectedUserID: strPtr(detail.ParticipantID),
			EventID:        strPtr(detail.EventID),
			RegistrationID: strPtr(id),
			Description:    "registration removed",
			IPAddress:      meta.IP,
			UserAgent:      meta.UserAgent,
		})
	}
	return nil
}

func (s *RegistrationService) loadDetail(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	return detail, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
