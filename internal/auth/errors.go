package auth

import (
	"net/http"

	apperrors "github.com/tranqk/schoolhub/pkg/errors"
)

// Domain-level rejections surfaced to users. Internal causes are logged at
// the point of failure and never attached to these values.
var (
	// ErrInvalidCredentials covers unknown accounts, deactivated accounts,
	// and wrong passwords alike so callers cannot enumerate users.
	ErrInvalidCredentials = apperrors.ErrInvalidCredentials

	ErrDuplicateEmail = apperrors.New("EMAIL_TAKEN", "Email already registered", http.StatusConflict)

	ErrRegistrationFailed = apperrors.New("REGISTRATION_FAILED", "Registration failed, please try again", http.StatusInternalServerError)

	ErrGoogleLoginFailed = apperrors.New("GOOGLE_LOGIN_FAILED", "Login failed", http.StatusUnauthorized)

	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)

	ErrIncorrectPassword = apperrors.New("INCORRECT_PASSWORD", "Current password is incorrect", http.StatusBadRequest)

	ErrNoFieldsToUpdate = apperrors.New("NO_FIELDS_TO_UPDATE", "No editable fields supplied", http.StatusBadRequest)

	ErrResetTokenInvalid = apperrors.New("RESET_TOKEN_INVALID", "Password reset link is invalid or has expired", http.StatusBadRequest)
)
