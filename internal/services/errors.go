package services

import (
	"errors"
	"net/http"
)

// ErrorInfo describes one member of the payment core's error taxonomy.
type ErrorInfo struct {
	Name    string
	Status  int
	Message string
}

var (
	ErrorValidation = ErrorInfo{
		Name:    "ValidationError",
		Status:  http.StatusBadRequest,
		Message: "Invalid request",
	}
	ErrorNoActiveTerminal = ErrorInfo{
		Name:    "NoActiveTerminal",
		Status:  http.StatusBadRequest,
		Message: "The venue has no active payment terminal. Add a terminal to accept payments.",
	}
	ErrorGatewayUnavailable = ErrorInfo{
		Name:    "PaymentGatewayUnavailable",
		Status:  http.StatusServiceUnavailable,
		Message: "The payment gateway could not issue a QR code. Please try again.",
	}
	ErrorInsufficientBalance = ErrorInfo{
		Name:    "InsufficientBalance",
		Status:  http.StatusPaymentRequired,
		Message: "Insufficient balance",
	}
	ErrorPaymentNotFound = ErrorInfo{
		Name:    "PaymentNotFound",
		Status:  http.StatusNotFound,
		Message: "Payment not found",
	}
	ErrorForbidden = ErrorInfo{
		Name:    "Forbidden",
		Status:  http.StatusForbidden,
		Message: "Not enough permissions",
	}
	ErrorNotFound = ErrorInfo{
		Name:    "NotFound",
		Status:  http.StatusNotFound,
		Message: "Resource not found",
	}
)

// Sentinels for errors.Is checks against a ServiceError of the same kind.
var (
	ErrValidation         = &ServiceError{Info: ErrorValidation}
	ErrNoActiveTerminal   = &ServiceError{Info: ErrorNoActiveTerminal}
	ErrGatewayUnavailable = &ServiceError{Info: ErrorGatewayUnavailable}
	ErrInsufficient       = &ServiceError{Info: ErrorInsufficientBalance}
	ErrPaymentNotFound    = &ServiceError{Info: ErrorPaymentNotFound}
	ErrForbidden          = &ServiceError{Info: ErrorForbidden}
	ErrNotFound           = &ServiceError{Info: ErrorNotFound}
)

// ServiceError is a structured, user-facing payment core error.
type ServiceError struct {
	Info   ErrorInfo
	Detail string
	Err    error
}

func (e *ServiceError) Error() string {
	msg := e.Info.Name
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches any ServiceError of the same taxonomy member.
func (e *ServiceError) Is(target error) bool {
	var other *ServiceError
	if !errors.As(target, &other) {
		return false
	}
	return other.Info.Name == e.Info.Name
}

func newError(info ErrorInfo, detail string, cause error) *ServiceError {
	return &ServiceError{Info: info, Detail: detail, Err: cause}
}

func validationError(detail string) *ServiceError {
	return newError(ErrorValidation, detail, nil)
}
