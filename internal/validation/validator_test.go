package validation

import (
	"errors"
	"testing"

	"codexverse/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signupRequest struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,strict_email"`
	Password string `json:"password" validate:"required,password"`
	Priority string `json:"priority" validate:"omitempty,oneof=low medium high"`
	Title    string `json:"title" validate:"omitempty,max=5"`
}

func TestValidateStruct_Valid(t *testing.T) {
	t.Parallel()
	err := ValidateStruct(&signupRequest{
		Username: "ada_l",
		Email:    "ada@example.com",
		Password: "SecurePass12!@",
		Priority: "high",
	})
	assert.NoError(t, err)
}

func TestValidateStruct_CollectsFieldErrors(t *testing.T) {
	t.Parallel()
	err := ValidateStruct(&signupRequest{
		Username: "_x",
		Email:    "nope",
		Password: "weak",
		Priority: "urgent",
		Title:    "too long title",
	})
	require.Error(t, err)

	var ve *RequestValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Fields, 5)

	byField := map[string]FieldError{}
	for _, f := range ve.Fields {
		byField[f.Field] = f
	}
	assert.Equal(t, "username", byField["username"].Tag)
	assert.Equal(t, "priority must be one of: low medium high", byField["priority"].Message)
	assert.Equal(t, "title must be at most 5 characters", byField["title"].Message)

	appErr := ve.ToAppError()
	assert.Equal(t, models.CodeValidation, appErr.Code)
	assert.Contains(t, appErr.Message, "email must be a valid email address")
}

func TestValidateStruct_Required(t *testing.T) {
	t.Parallel()
	err := ValidateStruct(&signupRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "username is required")
}
