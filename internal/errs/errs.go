// Package errs holds the error taxonomy shared by routing, triggering and delivery.
// Every constructor returns a *goerrors.Error so callers can branch on TextCode
// and HTTP handlers can reuse Code as the response status.
package errs

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextConfiguration    = "CONFIGURATION_ERROR"
	TextStoreUnavailable = "STORE_UNAVAILABLE"
	TextValidation       = "VALIDATION_ERROR"
	TextDeliveryFailure  = "DELIVERY_FAILURE"
	TextNotFound         = "NOT_FOUND"
)

// Configuration reports a malformed configuration entry, such as a watched
// model name that is not in namespace.Model shape.
func Configuration(message string, metadata map[string]any) error {
	err := goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusInternalServerError).
		WithTextCode(TextConfiguration)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// StoreUnavailable wraps a transient failure of the subscription store.
// It must never be collapsed into an empty result.
func StoreUnavailable(source error, message string) error {
	if source == nil {
		return goerrors.New(message, goerrors.CategoryExternal).
			WithCode(http.StatusServiceUnavailable).
			WithTextCode(TextStoreUnavailable)
	}
	return goerrors.Wrap(source, goerrors.CategoryExternal, message).
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(TextStoreUnavailable)
}

// Validation reports a failed precondition on a single field.
func Validation(field, message string) error {
	return goerrors.NewValidation(message, goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusUnprocessableEntity).
		WithTextCode(TextValidation)
}

// DeliveryFailure carries the terminal outcome of a synchronous delivery.
func DeliveryFailure(source error, message string, metadata map[string]any) error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, goerrors.CategoryExternal)
	} else {
		err = goerrors.Wrap(source, goerrors.CategoryExternal, message)
	}
	err = err.WithCode(http.StatusBadGateway).WithTextCode(TextDeliveryFailure)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func NotFound(message string) error {
	return goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(TextNotFound)
}

// TextCode returns the text code of a rich error, or "" for plain errors.
func TextCode(err error) string {
	var rich *goerrors.Error
	if err == nil || !errors.As(err, &rich) {
		return ""
	}
	return rich.TextCode
}

// StatusCode returns the HTTP status carried by a rich error, defaulting to 500.
func StatusCode(err error) int {
	var rich *goerrors.Error
	if err == nil || !errors.As(err, &rich) || rich.Code == 0 {
		return http.StatusInternalServerError
	}
	return rich.Code
}

func IsStoreUnavailable(err error) bool { return TextCode(err) == TextStoreUnavailable }
func IsValidation(err error) bool       { return TextCode(err) == TextValidation }
func IsDeliveryFailure(err error) bool  { return TextCode(err) == TextDeliveryFailure }
func IsConfiguration(err error) bool    { return TextCode(err) == TextConfiguration }
func IsNotFound(err error) bool         { return TextCode(err) == TextNotFound }
