package central

import "fmt"

// ConnectionState is the lifecycle state of a single peripheral.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateDiscoveringServices
	StateNegotiatingLink
	StateReady
	StateDisconnecting
	StateDisconnected
	StateReconnectPending
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateDiscoveringServices:
		return "discovering_services"
	case StateNegotiatingLink:
		return "negotiating_link"
	case StateReady:
		return "ready"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateReconnectPending:
		return "reconnect_pending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// linkActive reports whether the driver holds, or is building, a link for the peripheral.
func (s ConnectionState) linkActive() bool {
	switch s {
	case StateConnecting, StateDiscoveringServices, StateNegotiatingLink, StateReady, StateDisconnecting:
		return true
	default:
		return false
	}
}

// Status is the outcome reported with a link event.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusTimeout
	StatusLinkLoss
	StatusRemoteTerminated
	StatusLocalTerminated
	StatusNotSupported
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusTimeout:
		return "timeout"
	case StatusLinkLoss:
		return "link_loss"
	case StatusRemoteTerminated:
		return "remote_terminated"
	case StatusLocalTerminated:
		return "local_terminated"
	case StatusNotSupported:
		return "not_supported"
	case StatusCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// OK reports whether the status is StatusSuccess.
func (s Status) OK() bool {
	return s == StatusSuccess
}

// AdapterState is the power state of the local radio.
type AdapterState int

const (
	AdapterOff AdapterState = iota
	AdapterTurningOn
	AdapterOn
	AdapterTurningOff
)

func (a AdapterState) String() string {
	switch a {
	case AdapterOff:
		return "off"
	case AdapterTurningOn:
		return "turning_on"
	case AdapterOn:
		return "on"
	case AdapterTurningOff:
		return "turning_off"
	default:
		return fmt.Sprintf("adapter(%d)", int(a))
	}
}

// ScanErrorCode tells the host why a scan stopped.
type ScanErrorCode int

const (
	ScanErrorAlreadyStarted     ScanErrorCode = 1
	ScanErrorRegistrationFailed ScanErrorCode = 2
	ScanErrorInternal           ScanErrorCode = 3
	ScanErrorFeatureUnsupported ScanErrorCode = 4
	ScanErrorAdapterOff         ScanErrorCode = 5
)

func (c ScanErrorCode) String() string {
	switch c {
	case ScanErrorAlreadyStarted:
		return "already_started"
	case ScanErrorRegistrationFailed:
		return "registration_failed"
	case ScanErrorInternal:
		return "internal_error"
	case ScanErrorFeatureUnsupported:
		return "feature_unsupported"
	case ScanErrorAdapterOff:
		return "adapter_off"
	default:
		return fmt.Sprintf("scan_error(%d)", int(c))
	}
}
