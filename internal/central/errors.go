package central

import (
	"errors"
	"fmt"
)

// ErrorKind classifies manager errors returned to the host.
type ErrorKind string

const (
	CapabilityUnavailable ErrorKind = "capability_unavailable"
	NotInitialized        ErrorKind = "not_initialized"
	AlreadyInitialized    ErrorKind = "already_initialized"
	AlreadyScanning       ErrorKind = "already_scanning"
	InvalidState          ErrorKind = "invalid_state"
	Closed                ErrorKind = "closed"
)

// ManagerError is returned by host commands on caller misuse or lifecycle violations.
// Transport failures are never returned this way; they arrive as events.
type ManagerError struct {
	Kind ErrorKind
	Msg  string
}

// Error implements the error interface
func (e *ManagerError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare ManagerError values by Kind
func (e *ManagerError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ManagerError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors
var (
	ErrCapabilityUnavailable = &ManagerError{Kind: CapabilityUnavailable}
	ErrNotInitialized        = &ManagerError{Kind: NotInitialized}
	ErrAlreadyInitialized    = &ManagerError{Kind: AlreadyInitialized}
	ErrAlreadyScanning       = &ManagerError{Kind: AlreadyScanning}
	ErrInvalidState          = &ManagerError{Kind: InvalidState}
	ErrClosed                = &ManagerError{Kind: Closed}
)

// IsKind reports whether err is a ManagerError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var merr *ManagerError
	if errors.As(err, &merr) {
		return merr.Kind == kind
	}
	return false
}

func invalidStateError(op, id string, state ConnectionState) error {
	return &ManagerError{
		Kind: InvalidState,
		Msg:  fmt.Sprintf("cannot %s peripheral %q in state %s", op, id, state),
	}
}

// NotFoundError represents an error when a peripheral or GATT resource is not known
type NotFoundError struct {
	Resource string   // "peripheral", "service", "characteristic"
	IDs      []string // [peripheralID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.IDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.IDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.IDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.IDs[len(e.IDs)-1], e.IDs[0])
}
