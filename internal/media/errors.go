package media

import "errors"

// Error kinds a Controller can return.
var (
	ErrReleased                  = errors.New("media: controller released")
	ErrNoAVTransportService      = errors.New("media: device has no AVTransport service")
	ErrNoRenderingControlService = errors.New("media: device has no RenderingControl service")
)
