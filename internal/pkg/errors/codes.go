package errors

import "net/http"

// Error code registry. Codes are machine-readable and stable; messages
// are for humans and may change.

// User and account error codes.
const (
	CodeUserNotFound = "USER_NOT_FOUND"
	CodeEmailTaken   = "EMAIL_TAKEN"
)

// Auth error codes.
const (
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeVerificationInvalid = "VERIFICATION_INVALID"
)

// Notification error codes.
const (
	CodeJobNotFound          = "JOB_NOT_FOUND"
	CodeNotificationNotFound = "NOTIFICATION_NOT_FOUND"
	CodeUnknownChannel       = "UNKNOWN_CHANNEL"
)

// Validation error codes.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInvalidEmail   = "INVALID_EMAIL"
)

// CodeInternal is the fallback code for unclassified failures.
const CodeInternal = "INTERNAL_ERROR"

// Convenience constructors using predefined codes.

// ErrUserNotFound creates a user not found error.
func ErrUserNotFound() *AppError {
	return &AppError{
		Code:       CodeUserNotFound,
		Message:    "user not found",
		HTTPStatus: http.StatusNotFound,
	}
}

// ErrInvalidCredentials creates a login failure error. The same error
// is returned for unknown emails and wrong passwords.
func ErrInvalidCredentials() *AppError {
	return &AppError{
		Code:       CodeInvalidCredentials,
		Message:    "invalid email or password",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// ErrUnknownChannel creates a bad request error for an unrecognized
// notification channel name.
func ErrUnknownChannel(channel string) *AppError {
	return &AppError{
		Code:       CodeUnknownChannel,
		Message:    "unknown notification channel: " + channel,
		HTTPStatus: http.StatusBadRequest,
	}
}
