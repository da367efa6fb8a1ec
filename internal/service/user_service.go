package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/aegs-platform/aegs-api/internal/models"
	appErrors "github.com/aegs-platform/aegs-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email, excludeID string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
}

type welcomeNotifier interface {
	SendWelcome(user *models.User)
}

// CreateUserRequest describes an account creation payload. Self-service
// signup is restricted to participant roles; administrators may create any.
type CreateUserRequest struct {
	Username    string             `json:"username" validate:"required,min=3,max=60"`
	Email       string             `json:"email" validate:"required,email"`
	Password    string             `json:"password" validate:"required,min=8"`
	FullName    string             `json:"full_name" validate:"required"`
	Phone       string             `json:"phone"`
	Role        models.UserRole    `json:"role" validate:"required"`
	Institution *string            `json:"institution"`
	Meta        models.RequestMeta `json:"-"`
}

// UpdateUserRequest describes a profile update payload. Role and active flag
// changes are reserved for administrators.
type UpdateUserRequest struct {
	Email       *string            `json:"email" validate:"omitempty,email"`
	FullName    *string            `json:"full_name"`
	Phone       *string            `json:"phone"`
	Role        *models.UserRole   `json:"role"`
	Institution *string            `json:"institution"`
	Active      *bool              `json:"active"`
	Meta        models.RequestMeta `json:"-"`
}

// UserService manages application accounts.
type UserService struct {
	repo      userRepository
	notifier  welcomeNotifier
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService constructs UserService.
func NewUserService(repo userRepository, notifier welcomeNotifier, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *UserService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, notifier: notifier, audit: audit, validator: validate, logger: logger}
}

// List returns users with pagination metadata. Restricted to staff roles at
// the routing layer.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
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
	return users, pagination, nil
}

// Get returns a user profile.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Create registers a new account. When the actor is nil the call is treated
// as self-service signup.
func (s *UserService) Create(ctx context.Context, actor *models.JWTClaims, req CreateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	role := req.Role
	switch {
	case !roleKnown(role):
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	case actor == nil || actor.Role != models.RoleAdmin:
		// Signup is open to student, professor and organizer accounts;
		// only administrator accounts need an admin to create them.
		if role == models.RoleAdmin {
			return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "only administrators may create administrator accounts")
		}
	}
	if role.RequiresInstitution() && (req.Institution == nil || *req.Institution == "") {
		return nil, appErrors.WithDetails(appErrors.ErrValidation,
			appErrors.FieldError{Field: "institution", Message: "institution is required for this role"})
	}

	taken, err := s.repo.ExistsByUsernameOrEmail(ctx, req.Username, req.Email, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check account uniqueness")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "username or email already in use")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Phone:        req.Phone,
		Role:         role,
		Institution:  req.Institution,
		Active:       true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	if s.audit != nil {
		log := models.AuditLog{
			Action:         models.AuditActionUserCreated,
			AffectedUserID: strPtr(user.ID),
			Description:    fmt.Sprintf("account created with role %s", user.Role),
			IPAddress:      req.Meta.IP,
			UserAgent:      req.Meta.UserAgent,
		}
		if actor != nil {
			log.ActorID = strPtr(actor.UserID)
		} else {
			log.ActorID = strPtr(user.ID)
		}
		s.audit.Record(ctx, log)
	}
	if s.notifier != nil {
		s.notifier.SendWelcome(user)
	}
	return user, nil
}

// Update modifies a user profile. Self-updates cannot change role or the
// active flag.
func (s *UserService) Update(ctx context.Context, actor *models.JWTClaims, id string, req UpdateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	isAdmin := actor.Role == models.RoleAdmin
	if !isAdmin && actor.UserID != id {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "not allowed to update this profile")
	}
	if !isAdmin && (req.Role != nil || req.Active != nil) {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "only administrators may change role or account status")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Email != nil && *req.Email != user.Email {
		taken, err := s.repo.ExistsByUsernameOrEmail(ctx, user.Username, *req.Email, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check account uniqueness")
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already in use")
		}
		user.Email = *req.Email
	}
	if req.FullName != nil {
		user.FullName = *req.FullName
	}
	if req.Phone != nil {
		user.Phone = *req.Phone
	}
	if req.Role != nil {
		if !roleKnown(*req.Role) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
		}
		user.Role = *req.Role
	}
	if req.Institution != nil {
		user.Institution = req.Institution
	}
	if req.Active != nil {
		user.Active = *req.Active
	}
	if user.Role.RequiresInstitution() && (user.Institution == nil || *user.Institution == "") {
		return nil, appErrors.WithDetails(appErrors.ErrValidation,
			appErrors.FieldError{Field: "institution", Message: "institution is required for this role"})
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	if s.audit != nil {
		s.audit.Record(ctx, models.AuditLog{
			Action:         models.AuditActionUserUpdated,
			ActorID:        strPtr(actor.UserID),
			AffectedUserID: strPtr(id),
			Description:    "account profile updated",
			IPAddress:      req.Meta.IP,
			UserAgent:      req.Meta.UserAgent,
		})
	}
	return user, nil
}

// Delete deactivates an account. Reserved for administrators.
func (s *UserService) Delete(ctx context.Context, actor *models.JWTClaims, id string, meta models.RequestMeta) error {
	if actor == nil || actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrPermissionDenied, "only administrators may deactivate accounts")
	}
	if actor.UserID == id {
		return appErrors.Clone(appErrors.ErrValidation, "cannot deactivate own account")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate user")
	}
	if s.audit != nil {
		s.audit.Record(ctx, models.AuditLog{
			Action:         models.AuditActionUserDeleted,
			ActorID:        strPtr(actor.UserID),
			AffectedUserID: strPtr(id),
			Description:    "account deactivated",
			IPAddress:      meta.IP,
			UserAgent:      meta.UserAgent,
		})
	}
	return nil
}

func roleKnown(role models.UserRole) bool {
	switch role {
	case models.RoleStudent, models.RoleProfessor, models.RoleOrganizer, models.RoleAdmin:
		return true
	}
	return false
}
