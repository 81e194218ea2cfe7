package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/stvsoc/internal-site/internal/shared"
)

// ValidationErrors maps form fields to messages.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for field, msg := range v {
		parts = append(parts, field+": "+msg)
	}
	return "users: invalid input: " + strings.Join(parts, ", ")
}

func (v ValidationErrors) Unwrap() error { return errInvalid }

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	roles    RoleAssigner
	audit    shared.AuditRecorder
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService builds Service instance. audit may be nil.
func NewService(repo RepositoryPort, roles RoleAssigner, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roles: roles, audit: audit, validate: validator.New(), logger: logger}
}

// List returns one page of users.
func (s *Service) List(ctx context.Context, filter ListFilter) (Page, error) {
	query := strings.TrimSpace(filter.Query)
	total, err := s.repo.CountUsers(ctx, query)
	if err != nil {
		return Page{}, fmt.Errorf("users: count: %w", err)
	}
	pagination := shared.NewPagination(filter.Page, filter.PerPage, total)
	list, err := s.repo.ListUsers(ctx, query, pagination.PerPage, pagination.Offset())
	if err != nil {
		return Page{}, fmt.Errorf("users: list: %w", err)
	}
	return Page{Users: list, Pagination: pagination, Query: query}, nil
}

// Get returns a user with role membership.
func (s *Service) Get(ctx context.Context, id int64) (Detail, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	member, err := s.roles.UserRoles(ctx, id)
	if err != nil {
		return Detail{}, fmt.Errorf("users: roles of %d: %w", id, err)
	}
	all, err := s.roles.ListRoles(ctx)
	if err != nil {
		return Detail{}, fmt.Errorf("users: list roles: %w", err)
	}
	held := make(map[int64]struct{}, len(member))
	for _, role := range member {
		held[role.ID] = struct{}{}
	}
	granted, err := s.roles.EffectivePermissions(ctx, id)
	if err != nil {
		return Detail{}, fmt.Errorf("users: permissions of %d: %w", id, err)
	}
	detail := Detail{User: user, Roles: member, Permissions: granted.Names()}
	for _, role := range all {
		if _, ok := held[role.ID]; !ok {
			detail.Available = append(detail.Available, role)
		}
	}
	return detail, nil
}

// Create validates the input and inserts a user. A password is required.
func (s *Service) Create(ctx context.Context, actorID int64, in Input) (User, error) {
	in = normalize(in)
	errs := s.check(in)
	if in.Password == "" {
		errs["Password"] = "is required"
	}
	if len(errs) > 0 {
		return User{}, errs
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	user, err := s.repo.CreateUser(ctx, in, string(hash))
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actorID, shared.AuditCreate, user.ID, map[string]any{"email": user.Email})
	return user, nil
}

// Update edits profile fields and, when given, resets the password.
func (s *Service) Update(ctx context.Context, actorID, id int64, in Input) (User, error) {
	in = normalize(in)
	if errs := s.check(in); len(errs) > 0 {
		return User{}, errs
	}
	var hash []byte
	if in.Password != "" {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return User{}, fmt.Errorf("users: hash password: %w", err)
		}
	}
	user, err := s.repo.UpdateUser(ctx, id, in, string(hash))
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actorID, shared.AuditUpdate, id, map[string]any{"email": user.Email, "active": user.IsActive, "password_reset": in.Password != ""})
	return user, nil
}

// Delete removes a user and every role membership they hold.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	if actorID == id {
		return ErrSelfDelete
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditDelete, id, nil)
	return nil
}

// AssignRole adds the user to a role.
func (s *Service) AssignRole(ctx context.Context, actorID, userID, roleID int64) error {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return err
	}
	return s.roles.AddMember(ctx, actorID, roleID, userID)
}

// UnassignRole removes the user from a role.
func (s *Service) UnassignRole(ctx context.Context, actorID, userID, roleID int64) error {
	return s.roles.RemoveMember(ctx, actorID, roleID, userID)
}

func (s *Service) check(in Input) ValidationErrors {
	errs := ValidationErrors{}
	if err := s.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			errs["general"] = err.Error()
			return errs
		}
		for _, fe := range fieldErrs {
			errs[fe.Field()] = describe(fe)
		}
	}
	return errs
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}

func normalize(in Input) Input {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	return in
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("users: audit record", slog.Any("error", err))
	}
}
