package types

import (
	"errors"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return IsValidUsername(fl.Field().String())
	})
	// Built-in max counts runes; frame limits are in bytes
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(fl.Field().String()) <= limit
	})
	return v
}

// RegisterRequest is the body of POST /register
type RegisterRequest struct {
	Username string `json:"username" validate:"username"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest is the body of POST /login
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=50"`
	Password string `json:"password" validate:"required,max=72"`
}

// Validate checks a chat submission before it is encrypted
// FUNCTIONAL DISCOVERY: Username is a free-text identity asserted by the client,
// so only presence and size are enforced here
func (s *ChatSubmission) Validate() error {
	if err := validate.Struct(s); err != nil {
		return mapFieldError(err, map[string]error{
			"Username": ErrInvalidUsername,
			"Location": ErrInvalidLocation,
			"Message":  ErrMessageTooLarge,
		})
	}
	return nil
}

// Validate checks a registration request
func (r *RegisterRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return mapFieldError(err, map[string]error{
			"Username": ErrInvalidUsername,
			"Email":    ErrInvalidEmail,
			"Password": ErrInvalidPassword,
		})
	}
	return nil
}

// Validate checks a login request
func (r *LoginRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return mapFieldError(err, map[string]error{
			"Username": ErrInvalidUsername,
			"Password": ErrInvalidPassword,
		})
	}
	return nil
}

// IsValidUsername checks the account username format
// FUNCTIONAL DISCOVERY: 1-50 character limit prevents database issues
// and ensures reasonable display in UI components
func IsValidUsername(username string) bool {
	if len(username) < 1 || len(username) > 50 {
		return false
	}
	return usernameRegex.MatchString(username)
}

// mapFieldError converts the first validator failure into a package sentinel
func mapFieldError(err error, byField map[string]error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		if mapped, ok := byField[fieldErrs[0].Field()]; ok {
			return mapped
		}
	}
	return ErrInvalidSubmission
}
