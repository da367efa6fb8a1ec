package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/aegs-platform/aegs-api/internal/models"
	appErrors "github.com/aegs-platform/aegs-api/pkg/errors"
	"github.com/aegs-platform/aegs-api/pkg/export"
)

type eventRepository interface {
	List(ctx context.Context, filter models.EventFilter) ([]models.EventDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Event, error)
	FindDetailByID(ctx context.Context, id string) (*models.EventDetail, error)
	Create(ctx context.Context, event *models.Event) error
	Update(ctx context.Context, event *models.Event) error
	Delete(ctx context.Context, id string) error
}

type eventRegistrationLister interface {
	List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// CreateEventRequest describes an event creation payload.
type CreateEventRequest struct {
	Type        models.EventType   `json:"type" validate:"required"`
	Title       *string            `json:"title"`
	StartDate   time.Time          `json:"start_date" validate:"required"`
	EndDate     time.Time          `json:"end_date" validate:"required"`
	StartTime   *string            `json:"start_time"`
	Location    string             `json:"location" validate:"required"`
	Capacity    int                `json:"capacity" validate:"required,min=1"`
	CreditHours int                `json:"credit_hours" validate:"min=0"`
	OrganizerID string             `json:"organizer_id"`
	ProfessorID *string            `json:"professor_id"`
	Meta        models.RequestMeta `json:"-"`
}

// UpdateEventRequest describes an event update payload.
type UpdateEventRequest struct {
	Type        *models.EventType  `json:"type"`
	Title       *string            `json:"title"`
	StartDate   *time.Time         `json:"start_date"`
	EndDate     *time.Time         `json:"end_date"`
	StartTime   *string            `json:"start_time"`
	Location    *string            `json:"location"`
	Capacity    *int               `json:"capacity" validate:"omitempty,min=1"`
	CreditHours *int               `json:"credit_hours" validate:"omitempty,min=0"`
	ProfessorID *string            `json:"professor_id"`
	Meta        models.RequestMeta `json:"-"`
}

// EventService manages events and their seat accounting.
type EventService struct {
	repo          eventRepository
	registrations eventRegistrationLister
	cache         *CacheService
	csv           csvRenderer
	audit         auditRecorder
	validator     *validator.Validate
	logger        *zap.Logger
	cacheTTL      time.Duration
}

// NewEventService constructs EventService.
func NewEventService(repo eventRepository, registrations eventRegistrationLister, cache *CacheService, csv csvRenderer, audit auditRecorder, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *EventService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventService{
		repo:          repo,
		registrations: registrations,
		cache:         cache,
		csv:           csv,
		audit:         audit,
		validator:     validate,
		logger:        logger,
		cacheTTL:      cacheTTL,
	}
}

type cachedEventList struct {
	Events     []models.EventDetail `json:"events"`
	Pagination models.Pagination    `json:"pagination"`
}

// List returns events with pagination metadata, served from cache when warm.
// The returned bool reports whether the cache was hit.
func (s *EventService) List(ctx context.Context, filter models.EventFilter) ([]models.EventDetail, *models.Pagination, bool, error) {
	key := EventListCacheKey(filter)
	var cached cachedEventList
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		pagination := cached.Pagination
		return cached.Events, &pagination, true, nil
	}

	events, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list events")
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

	_ = s.cache.Set(ctx, key, cachedEventList{Events: events, Pagination: *pagination}, s.cacheTTL)
	return events, pagination, false, nil
}

// Get returns a single event with organizer info and seat accounting.
func (s *EventService) Get(ctx context.Context, id string) (*models.EventDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load event")
	}
	return detail, nil
}

// Create registers a new event owned by the acting organizer. Administrators
// may create events on behalf of another organizer.
func (s *EventService) Create(ctx context.Context, actor *models.JWTClaims, req CreateEventRequest) (*models.EventDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event payload")
	}
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	if !actor.Role.IsOrganizerOrAdmin() {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "only organizers may create events")
	}
	if !req.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown event type")
	}
	if req.EndDate.Before(req.StartDate) {
		return nil, appErrors.WithDetails(appErrors.ErrValidation,
			appErrors.FieldError{Field: "end_date", Message: "end date must not precede start date"})
	}

	organizerID := actor.UserID
	if req.OrganizerID != "" && actor.Role == models.RoleAdmin {
		organizerID = req.OrganizerID
	}

	event := &models.Event{
		Type:        req.Type,
		Title:       req.Title,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		StartTime:   req.StartTime,
		Location:    req.Location,
		Capacity:    req.Capacity,
		CreditHours: req.CreditHours,
		OrganizerID: organizerID,
		ProfessorID: req.ProfessorID,
	}
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create event")
	}
	s.cache.InvalidateEvents(ctx)

	if s.audit != nil {
		s.audit.Record(ctx, models.AuditLog{
			Action:      models.AuditActionEventCreated,
			ActorID:     strPtr(actor.UserID),
			EventID:     strPtr(event.ID),
			Description: fmt.Sprintf("event created: %s", event.DisplayTitle()),
			IPAddress:   req.Meta.IP,
			UserAgent:   req.Meta.UserAgent,
		})
	}
	return s.Get(ctx, event.ID)
}

// Update modifies an event owned by the actor. Capacity can never drop below
// the number of already confirmed registrations.
func (s *EventService) Update(ctx context.Context, actor *models.JWTClaims, id string, req UpdateEventRequest) (*models.EventDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event payload")
	}
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}

	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && actor.UserID != detail.OrganizerID {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "not allowed to modify this event")
	}

	event := detail.Event
	if req.Type != nil {
		if !req.Type.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown event type")
		}
		event.Type = *req.Type
	}
	if req.Title != nil {
		event.Title = req.Title
	}
	if req.StartDate != nil {
		event.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		event.EndDate = *req.EndDate
	}
	if req.StartTime != nil {
		event.StartTime = req.StartTime
	}
	if req.Location != nil {
		event.Location = *req.Location
	}
	if req.Capacity != nil {
		if *req.Capacity < detail.ConfirmedCount {
			return nil, appErrors.WithDetails(appErrors.ErrValidation,
				appErrors.FieldError{Field: "capacity", Message: fmt.Sprintf("capacity cannot drop below the %d confirmed registrations", detail.ConfirmedCount)})
		}
		event.Capacity = *req.Capacity
	}
	if req.CreditHours != nil {
		event.CreditHours = *req.CreditHours
	}
	if req.ProfessorID != nil {
		event.ProfessorID = req.ProfessorID
	}
	if event.EndDate.Before(event.StartDate) {
		return nil, appErrors.WithDetails(appErrors.ErrValidation,
			appErrors.FieldError{Field: "end_date", Message: "end date must not precede start date"})
	}

	if err := s.repo.Update(ctx, &event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update event")
	}
	s.cache.InvalidateEvents(ctx)

	if s.audit != nil {
		s.audit.Record(ctx, models.AuditLog{
			Action:      models.AuditActionEventUpdated,
			ActorID:     strPtr(actor.UserID),
			EventID:     strPtr(id),
			Description: fmt.Sprintf("event updated: %s", event.DisplayTitle()),
			IPAddress:   req.Meta.IP,
			UserAgent:   req.Meta.UserAgent,
		})
	}
	return s.Get(ctx, id)
}

// Delete removes an event along with its registrations and certificates.
func (s *EventService) Delete(ctx context.Context, actor *models.JWTClaims, id string, meta models.RequestMeta) error {
	if actor == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	detail, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if actor.Role != models.RoleAdmin && actor.UserID != detail.OrganizerID {
		return appErrors.Clone(appErrors.ErrPermissionDenied, "not allowed to delete this event")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete event")
	}
	s.cache.InvalidateEvents(ctx)

	if s.audit != nil {
		s.audit.Record(ctx, models.AuditLog{
			Action:      models.AuditActionEventDeleted,
			ActorID:     strPtr(actor.UserID),
			EventID:     strPtr(id),
			Description: fmt.Sprintf("event deleted: %s", detail.DisplayTitle()),
			IPAddress:   meta.IP,
			UserAgent:   meta.UserAgent,
		})
	}
	return nil
}

// ExportRegistrationsCSV renders the event's registration sheet as CSV.
func (s *EventService) ExportRegistrationsCSV(ctx context.Context, actor *models.JWTClaims, id string) ([]byte, string, error) {
	if actor == nil {
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if actor.Role != models.RoleAdmin && actor.UserID != detail.OrganizerID {
		return nil, "", appErrors.Clone(appErrors.ErrPermissionDenied, "not allowed to export this event")
	}

	const pageSize = 100
	var registrations []models.RegistrationDetail
	for page := 1; ; page++ {
		batch, _, err := s.registrations.List(ctx, models.RegistrationFilter{EventID: id, Page: page, PageSize: pageSize})
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
		}
		registrations = append(registrations, batch...)
		if len(batch) < pageSize {
			break
		}
	}

	dataset := export.Dataset{
		Headers: []string{"participant", "email", "role", "status", "attended", "registered_at"},
	}
	for _, registration := range registrations {
		attended := "no"
		if registration.AttendanceConfirmed {
			attended = "yes"
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"participant":   registration.ParticipantName,
			"email":         registration.ParticipantEmail,
			"role":          string(registration.ParticipantRole),
			"status":        string(registration.Status),
			"attended":      attended,
			"registered_at": registration.CreatedAt.Format(time.RFC3339),
		})
	}

	data, err := s.csv.Render(dataset)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
	}
	filename := fmt.Sprintf("event-%s-registrations.csv", id)
	return data, filename, nil
}
