package homeworks

import "errors"

// Domain errors for the Homeworks core package.
var (
	// ErrNotConnected is returned when an operation requires a live session
	// but the client is not connected to the controller.
	ErrNotConnected = errors.New("hw: not connected to controller")

	// ErrConnectionFailed is returned when the TCP connection to the
	// controller (or its serial-to-IP adapter) fails.
	ErrConnectionFailed = errors.New("hw: connection to controller failed")

	// ErrLoginFailed is returned when the controller rejects the configured
	// credentials. It is handled as a transport-class failure: the session
	// is torn down and the standard reconnect path runs.
	ErrLoginFailed = errors.New("hw: login rejected by controller")

	// ErrNoCredentials is returned when the controller presents a login
	// prompt but no credentials are configured.
	ErrNoCredentials = errors.New("hw: controller requires login but no credentials configured")

	// ErrInvalidAddress is returned when an address string cannot be parsed.
	ErrInvalidAddress = errors.New("hw: invalid address")

	// ErrInvalidKLS is returned when a KLS digit string has the wrong length
	// or contains symbols outside {0,1,2,3}.
	ErrInvalidKLS = errors.New("hw: invalid KLS digit string")

	// ErrButtonOutOfRange is returned at registration time when a device's
	// button number does not fall inside the configured KLS button window.
	ErrButtonOutOfRange = errors.New("hw: button number outside KLS window")

	// ErrDeviceExists is returned when registering a device whose
	// (address, button) pair is already registered.
	ErrDeviceExists = errors.New("hw: device already registered")

	// ErrDeviceNotFound is returned when a device lookup fails.
	ErrDeviceNotFound = errors.New("hw: device not registered")

	// ErrCommandStale is returned to the submitter when a queued command
	// aged out before the connection recovered.
	ErrCommandStale = errors.New("hw: command exceeded queue age bound")

	// ErrDispatcherClosed is returned when commands are submitted after
	// shutdown.
	ErrDispatcherClosed = errors.New("hw: dispatcher closed")

	// ErrQueueFull is returned when the bounded command queue cannot
	// accept another entry.
	ErrQueueFull = errors.New("hw: command queue full")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("hw: operation timed out")
)
