package upnpcast

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the failure kinds the facade itself decides. Wrapped contexts use
// fmt.Errorf("...: %w", ...) and are tested with errors.Is. Network, parse and SOAP
// fault errors from the internal packages are not mapped to a sentinel; classifyErr
// passes them through unchanged.
var (
	ErrNotInitialized  = errors.New("upnpcast: facade not initialized")
	ErrReleased        = errors.New("upnpcast: facade released")
	ErrCancelled       = errors.New("upnpcast: operation cancelled")
	ErrTimeout         = errors.New("upnpcast: operation timed out")
	ErrDeviceError     = errors.New("upnpcast: device error")
	ErrInvalidArgument = errors.New("upnpcast: invalid argument")
)

// classifyErr folds context teardown/deadline errors into the facade's sentinel kinds so
// callers can errors.Is against ErrCancelled/ErrTimeout instead of context internals.
// Every other error passes through unchanged.
func classifyErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return err
	}
}
