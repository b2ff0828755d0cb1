package service

import (
	"context"
	"errors"
	"strings"

	"codexverse/internal/models"
	"codexverse/internal/repository"
	"codexverse/internal/validation"

	"golang.org/x/crypto/bcrypt"
)

// RegisterInput is the sign-up request.
type RegisterInput struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,strict_email"`
	Password string `json:"password" validate:"required,password"`
}

// AuthService verifies credentials and creates accounts.
type AuthService struct {
	userRepo repository.UserRepository
	cost     int
	onCreate func(ctx context.Context)
}

// NewAuthService builds an AuthService. onCreate, when set, runs after a new
// account is stored (the server uses it to invalidate cached totals).
func NewAuthService(userRepo repository.UserRepository, onCreate func(ctx context.Context)) *AuthService {
	return &AuthService{userRepo: userRepo, cost: bcrypt.DefaultCost, onCreate: onCreate}
}

// HashPassword hashes a password with the default bcrypt cost.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", models.NewInternalError(err)
	}
	return string(hashed), nil
}

// Register validates the input and stores a new user with role user. A taken
// username or email is a conflict.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if err := validation.ValidateStruct(in); err != nil {
		return nil, validationAppError(err)
	}

	existing, err := s.userRepo.GetByUsername(ctx, in.Username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.NewConflictError("Username already taken")
	}
	existing, err = s.userRepo.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.NewConflictError("Email already registered")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	user := &models.User{
		Username: in.Username,
		Email:    in.Email,
		Password: string(hashed),
		Role:     models.RoleUser,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	if s.onCreate != nil {
		s.onCreate(ctx)
	}
	return user, nil
}

// Authenticate resolves login as an email or a username and checks the
// password. Banned accounts are refused even with the right password.
func (s *AuthService) Authenticate(ctx context.Context, login, password string) (*models.User, error) {
	if strings.TrimSpace(login) == "" || password == "" {
		return nil, models.NewValidationError("Login and password are required")
	}

	user, err := s.userRepo.GetByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Equalise timing with the wrong-password path.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, models.NewUnauthorizedError("Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, models.NewUnauthorizedError("Invalid credentials")
	}
	if user.IsBanned {
		return nil, models.NewForbiddenError("Account is banned")
	}
	return user, nil
}

var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z0L3P0dQ2b6qPsV8U4zH1r1C")

func validationAppError(err error) error {
	var ve *validation.RequestValidationError
	if errors.As(err, &ve) {
		return ve.ToAppError()
	}
	return models.NewValidationError(err.Error())
}
