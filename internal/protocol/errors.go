package protocol

import "errors"

var (
	// ErrValidation marks input rejected before any cross-context call.
	ErrValidation = errors.New("validation error")
	// ErrProtocol marks a malformed or foreign-origin message.
	ErrProtocol = errors.New("protocol error")
	// ErrTransport marks a failure of the native host channel.
	ErrTransport = errors.New("transport error")
	// ErrStore marks a failed local persistence write.
	ErrStore = errors.New("store error")
)

// Warnings returned with a successful DeliveryResult.
const (
	WarnHostUnavailable = "Native messaging not available."
	warnHostErrorPrefix = "Native messaging error: "
)

// HostErrorWarning formats the warning used when the native host failed.
func HostErrorWarning(err error) string {
	return warnHostErrorPrefix + err.Error()
}
