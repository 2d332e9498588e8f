// Package authpw provides email/password accounts, profile updates and the
// encrypted third-party API key kept on each user.
package authpw

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"canvas/api/internal/lockout"
	"canvas/api/internal/secretbox"
	"canvas/api/internal/store"
)

const MinPasswordLength = 6

// Service provides email/password authentication
type Service struct {
	store     store.UserStore
	box       *secretbox.Box
	lockout   lockout.Store
	validate  *validator.Validate
	cost      int
	dummyHash []byte
	log       zerolog.Logger
}

type Options struct {
	// Cost is the bcrypt cost. Zero means bcrypt.DefaultCost.
	Cost    int
	Lockout lockout.Store
	Logger  zerolog.Logger
}

// NewService creates a new auth service
func NewService(users store.UserStore, box *secretbox.Box, opts Options) (*Service, error) {
	cost := opts.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}
	if opts.Lockout == nil {
		opts.Lockout = lockout.Disabled{}
	}

	// Compared against when the email is unknown so both paths cost one hash.
	filler := make([]byte, 24)
	if _, err := rand.Read(filler); err != nil {
		return nil, fmt.Errorf("dummy password: %w", err)
	}
	dummy, err := bcrypt.GenerateFromPassword(filler, cost)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	return &Service{
		store:     users,
		box:       box,
		lockout:   opts.Lockout,
		validate:  validate,
		cost:      cost,
		dummyHash: dummy,
		log:       opts.Logger,
	}, nil
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"required"`
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// SignUp creates a new user account
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	req.Email = NormalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := s.check(req); err != nil {
		return store.User{}, err
	}

	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return store.User{}, ErrDuplicateEmail
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{
		Email:        req.Email,
		PasswordHash: string(hash),
		Name:         req.Name,
	})
	if errors.Is(err, store.ErrConflict) {
		return store.User{}, ErrDuplicateEmail
	}
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	req.Email = NormalizeEmail(req.Email)
	if err := s.check(req); err != nil {
		return store.User{}, err
	}

	locked, retryAfter, err := s.lockout.IsLocked(ctx, req.Email)
	if err != nil {
		s.log.Warn().Err(err).Msg("lockout check failed")
	}
	if locked {
		return store.User{}, &LockedError{RetryAfter: retryAfter}
	}

	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	hash := s.dummyHash
	if err == nil {
		hash = []byte(user.PasswordHash)
	}
	if cmpErr := bcrypt.CompareHashAndPassword(hash, []byte(req.Password)); cmpErr != nil || err != nil {
		if recErr := s.lockout.RecordFailure(ctx, req.Email); recErr != nil {
			s.log.Warn().Err(recErr).Msg("record sign-in failure")
		}
		return store.User{}, ErrInvalidCredentials
	}

	if err := s.lockout.RecordSuccess(ctx, req.Email); err != nil {
		s.log.Warn().Err(err).Msg("clear sign-in failures")
	}
	return user, nil
}

// Get returns the user with id.
func (s *Service) Get(ctx context.Context, userID string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// ProfileUpdate changes the display fields of a user. Name is required;
// nil optional fields are left as they are.
type ProfileUpdate struct {
	Name   string
	Bio    *string
	Banner *string
	Avatar *string
}

// UpdateProfile applies a partial profile update
func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (store.User, error) {
	name := strings.TrimSpace(update.Name)
	if name == "" {
		return store.User{}, invalid("name", "name is required")
	}
	user, err := s.store.UpdateUserProfile(ctx, userID, store.ProfileUpdate{
		Name:   name,
		Bio:    update.Bio,
		Banner: update.Banner,
		Avatar: update.Avatar,
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("update profile: %w", err)
	}
	return user, nil
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validate request: %w", err)
	}
	first := fieldErrs[0]
	switch first.Tag() {
	case "required":
		return invalid(first.Field(), first.Field()+" is required")
	case "email":
		return invalid(first.Field(), "email must be a valid address")
	case "min":
		return invalid(first.Field(), fmt.Sprintf("%s must be at least %s characters", first.Field(), first.Param()))
	default:
		return invalid(first.Field(), first.Field()+" is invalid")
	}
}
