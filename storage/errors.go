package storage

import (
	"errors"
	"strings"

	"vigil/core"
)

// Storage error constants. The not-found sentinels match any core.NotFoundError
// for the same resource, so errors.Is(err, ErrAgentNotFound) works on returned errors.
var (
	// ErrEventNotFound is returned when an event is not found
	ErrEventNotFound = &core.NotFoundError{Resource: "event"}

	// ErrAlertNotFound is returned when an alert is not found
	ErrAlertNotFound = &core.NotFoundError{Resource: "alert"}

	// ErrIndicatorNotFound is returned when an indicator is not found
	ErrIndicatorNotFound = &core.NotFoundError{Resource: "indicator"}

	// ErrAgentNotFound is returned when an agent is not registered
	ErrAgentNotFound = &core.NotFoundError{Resource: "agent"}

	// ErrActionNotFound is returned when an action is not found
	ErrActionNotFound = &core.NotFoundError{Resource: "action"}

	// ErrIncidentNotFound is returned when an incident is not found
	ErrIncidentNotFound = &core.NotFoundError{Resource: "incident"}

	// ErrDuplicateIndicator is returned when (type, value) already exists
	ErrDuplicateIndicator = errors.New("indicator already exists")

	// ErrAlertAlreadyPromoted is returned when an incident already references the alert
	ErrAlertAlreadyPromoted = errors.New("alert already promoted to an incident")
)

func notFound(resource, id string) error {
	return &core.NotFoundError{Resource: resource, ID: id}
}

func storageErr(op string, err error) error {
	return &core.StorageError{Op: op, Err: err}
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// wrapTxErr passes domain errors raised inside a transaction through unchanged
// and wraps everything else as a StorageError.
func wrapTxErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrValidation) || errors.Is(err, core.ErrStorage) ||
		errors.Is(err, ErrAlertAlreadyPromoted) {
		return err
	}
	return storageErr(op, err)
}
