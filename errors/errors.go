package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type ErrorCode string

const (
	CodeUnauthorized       ErrorCode = "AUTH_001"
	CodeTokenExpired       ErrorCode = "AUTH_002"
	CodeTokenInvalid       ErrorCode = "AUTH_003"
	CodeNotActivityManager ErrorCode = "AUTH_004"
	CodeNotBillRecipient   ErrorCode = "AUTH_005"

	CodeInvalidRequest       ErrorCode = "VALIDATION_001"
	CodeMissingRequiredField ErrorCode = "VALIDATION_002"
	CodeInvalidFieldFormat   ErrorCode = "VALIDATION_003"
	CodeInvalidAmount        ErrorCode = "VALIDATION_004"
	CodeMissingReason        ErrorCode = "VALIDATION_005"
	CodeInvalidRatio         ErrorCode = "VALIDATION_006"
	CodeInvalidUUID          ErrorCode = "VALIDATION_007"
	CodeInvalidCustomTotal   ErrorCode = "VALIDATION_008"

	CodeNotFound            ErrorCode = "NOT_FOUND_001"
	CodeActivityNotFound    ErrorCode = "NOT_FOUND_002"
	CodeParticipantNotFound ErrorCode = "NOT_FOUND_003"
	CodeExpenseNotFound     ErrorCode = "NOT_FOUND_004"
	CodeBillNotFound        ErrorCode = "NOT_FOUND_005"
	CodePaymentNotFound     ErrorCode = "NOT_FOUND_006"

	CodeConflict              ErrorCode = "CONFLICT_001"
	CodeDuplicateEntry        ErrorCode = "CONFLICT_002"
	CodeDuplicateRegistration ErrorCode = "CONFLICT_003"
	CodeCapacityExceeded      ErrorCode = "CONFLICT_004"

	CodeNotPending               ErrorCode = "STATE_001"
	CodeAlreadyTerminal          ErrorCode = "STATE_002"
	CodeAlreadyFinalized         ErrorCode = "STATE_003"
	CodeInvalidTransition        ErrorCode = "STATE_004"
	CodeInvalidBillState         ErrorCode = "STATE_005"
	CodeUnderMinimumParticipants ErrorCode = "STATE_006"

	CodeDatabaseError       ErrorCode = "DATABASE_001"
	CodeDatabaseConnection  ErrorCode = "DATABASE_002"
	CodeDatabaseQuery       ErrorCode = "DATABASE_003"
	CodeDatabaseTransaction ErrorCode = "DATABASE_004"

	CodeExternalServiceError ErrorCode = "EXTERNAL_001"
	CodeStorageError         ErrorCode = "EXTERNAL_002"
	CodeAIServiceError       ErrorCode = "EXTERNAL_003"

	CodeInternalError ErrorCode = "INTERNAL_001"
)

type ErrorType int

const (
	ErrorTypeUnauthorized ErrorType = iota
	ErrorTypeForbidden
	ErrorTypeBadRequest
	ErrorTypeNotFound
	ErrorTypeConflict
	ErrorTypeUnprocessable
	ErrorTypeInternal
	ErrorTypeServiceUnavailable
)

type AppError struct {
	Type    ErrorType      `json:"-"`
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details string         `json:"details,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on Code so callers can write errors.Is(err, apperrors.NotPending("")).
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func (e *AppError) UserMessage() string {
	return e.Message
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeUnauthorized,
		Code:    CodeUnauthorized,
		Message: message,
	}
}

func TokenExpired() *AppError {
	return &AppError{
		Type:    ErrorTypeUnauthorized,
		Code:    CodeTokenExpired,
		Message: "Your session has expired. Please log in again.",
	}
}

func TokenInvalid() *AppError {
	return &AppError{
		Type:    ErrorTypeUnauthorized,
		Code:    CodeTokenInvalid,
		Message: "Invalid authentication token.",
	}
}

func NotActivityManager() *AppError {
	return &AppError{
		Type:    ErrorTypeForbidden,
		Code:    CodeNotActivityManager,
		Message: "Only the organizer or a manager of this activity can do this.",
	}
}

func NotBillRecipient() *AppError {
	return &AppError{
		Type:    ErrorTypeForbidden,
		Code:    CodeNotBillRecipient,
		Message: "You can only update your own payment.",
	}
}

func InvalidRequest(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeBadRequest,
		Code:    CodeInvalidRequest,
		Message: message,
	}
}

func InvalidRequestWithDetails(message, details string) *AppError {
	return &AppError{
		Type:    ErrorTypeBadRequest,
		Code:    CodeInvalidRequest,
		Message: message,
		Details: details,
	}
}

func MissingRequiredField(fieldName string) *AppError {
	return &AppError{
		Type:    ErrorTypeBadRequest,
		Code:    CodeMissingRequiredField,
		Message: fmt.Sprintf("%s is required.", fieldName),
	}
}

func InvalidFieldFormat(fieldName, expectedFormat string) *AppError {
	return &AppError{
		Type:    ErrorTypeBadRequest,
		Code:    CodeInvalidFieldFormat,
		Message: fmt.Sprintf("Invalid format for %s.", fieldName),
		Details: fmt.Sprintf("Expected format: %s", expectedFormat),
	}
}

func InvalidAmount(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeBadRequest,
		Code:    CodeInvalidAmount,
		Message: message,
	}
}

func MissingReason() *AppError {
	return &AppError{
		Type:    ErrorTypeBadRequest,
		Code:    CodeMissingReason,
		Message: "A reason is required for this change.",
	}
}

func InvalidRatio(ratio string) *AppError {
	return &AppError{
		Type:    ErrorTypeBadRequest,
		Code:    CodeInvalidRatio,
		Message: "Cost sharing ratio must be zero or greater.",
		Meta:    map[string]any{"ratio": ratio},
	}
}

func InvalidCustomTotal(customTotalCost string) *AppError {
	return &AppError{
		Type:    ErrorTypeUnprocessable,
		Code:    CodeInvalidCustomTotal,
		Message: "Custom total cost must be set and not negative.",
		Meta:    map[string]any{"customTotalCost": customTotalCost},
	}
}

func NotFound(resourceType string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found.", resourceType),
	}
}

func ActivityNotFound() *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Code:    CodeActivityNotFound,
		Message: "Activity not found.",
	}
}

func ParticipantNotFound() *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Code:    CodeParticipantNotFound,
		Message: "Participant not found.",
	}
}

func ExpenseNotFound() *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Code:    CodeExpenseNotFound,
		Message: "Expense not found.",
	}
}

func BillNotFound() *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Code:    CodeBillNotFound,
		Message: "Bill not found.",
	}
}

func PaymentNotFound() *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Code:    CodePaymentNotFound,
		Message: "Payment not found.",
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeConflict,
		Code:    CodeConflict,
		Message: message,
	}
}

func DuplicateEntry(resourceType string) *AppError {
	return &AppError{
		Type:    ErrorTypeConflict,
		Code:    CodeDuplicateEntry,
		Message: fmt.Sprintf("%s already exists.", resourceType),
	}
}

func DuplicateRegistration() *AppError {
	return &AppError{
		Type:    ErrorTypeConflict,
		Code:    CodeDuplicateRegistration,
		Message: "You already have an active registration for this activity.",
	}
}

func CapacityExceeded(current, max int) *AppError {
	return &AppError{
		Type:    ErrorTypeConflict,
		Code:    CodeCapacityExceeded,
		Message: fmt.Sprintf("Activity is full (%d of %d places taken).", current, max),
		Meta:    map[string]any{"current": current, "max": max},
	}
}

func NotPending(status string) *AppError {
	return &AppError{
		Type:    ErrorTypeUnprocessable,
		Code:    CodeNotPending,
		Message: "Only pending applications can be approved or rejected.",
		Meta:    map[string]any{"status": status},
	}
}

func AlreadyTerminal(status string) *AppError {
	return &AppError{
		Type:    ErrorTypeUnprocessable,
		Code:    CodeAlreadyTerminal,
		Message: fmt.Sprintf("Participation is already %s.", status),
		Meta:    map[string]any{"status": status},
	}
}

func AlreadyFinalized(status string) *AppError {
	return &AppError{
		Type:    ErrorTypeUnprocessable,
		Code:    CodeAlreadyFinalized,
		Message: fmt.Sprintf("Attendance was already recorded as %s.", status),
		Details: "Pass correction=true to change it.",
		Meta:    map[string]any{"status": status},
	}
}

func InvalidTransition(from, to string) *AppError {
	return &AppError{
		Type:    ErrorTypeUnprocessable,
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("Cannot move participation from %s to %s.", from, to),
		Meta:    map[string]any{"from": from, "to": to},
	}
}

func InvalidBillState(status string) *AppError {
	return &AppError{
		Type:    ErrorTypeUnprocessable,
		Code:    CodeInvalidBillState,
		Message: fmt.Sprintf("Operation not allowed on a %s bill.", status),
		Meta:    map[string]any{"status": status},
	}
}

// UnderMinimumParticipants is advisory. Services report it inside a result and
// never return it as the operation's error.
func UnderMinimumParticipants(current, min int) *AppError {
	return &AppError{
		Type:    ErrorTypeUnprocessable,
		Code:    CodeUnderMinimumParticipants,
		Message: fmt.Sprintf("Activity now has %d eligible participants, below the minimum of %d.", current, min),
		Meta:    map[string]any{"current": current, "min": min},
	}
}

func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Code:    CodeDatabaseError,
		Message: "A database error occurred. Please try again.",
		Details: operation,
		Err:     err,
	}
}

func StorageError(operation string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Code:    CodeStorageError,
		Message: "Failed to process file storage. Please try again.",
		Details: operation,
		Err:     err,
	}
}

func AIServiceError(err error) *AppError {
	return &AppError{
		Type:    ErrorTypeServiceUnavailable,
		Code:    CodeAIServiceError,
		Message: "AI service is temporarily unavailable. Please try again later.",
		Err:     err,
	}
}

func InternalError(err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Code:    CodeInternalError,
		Message: "An unexpected error occurred. Please try again.",
		Err:     err,
	}
}

func Wrap(err error, appErr *AppError) *AppError {
	appErr.Err = err
	return appErr
}

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

func GetHTTPStatus(errType ErrorType) int {
	switch errType {
	case ErrorTypeUnauthorized:
		return 401
	case ErrorTypeForbidden:
		return 403
	case ErrorTypeBadRequest:
		return 400
	case ErrorTypeNotFound:
		return 404
	case ErrorTypeConflict:
		return 409
	case ErrorTypeUnprocessable:
		return 422
	case ErrorTypeServiceUnavailable:
		return 503
	default:
		return 500
	}
}

func IsNotFoundError(err error) bool {
	return err != nil && errors.Is(err, pgx.ErrNoRows)
}

const uniqueViolation = "23505"

func IsDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// IsConstraintViolation reports a unique violation on the named constraint or index.
func IsConstraintViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}
