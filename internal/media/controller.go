// Package media implements the per-device AVTransport/RenderingControl controller:
// service URL selection, SOAP envelope dispatch, response parsing, and retry.
// A Controller holds only a copy of its device's service list, never a
// back-reference to the discovery engine or the facade.
package media

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoakerin/upnpcast/internal/codec"
	"github.com/yoakerin/upnpcast/internal/httpclient"
)

const (
	avTransportServiceType      = "urn:schemas-upnp-org:service:AVTransport:1"
	renderingControlServiceType = "urn:schemas-upnp-org:service:RenderingControl:1"
)

// TransportState mirrors the CurrentTransportState string AVTransport reports, folded
// into the advisory PlaybackState enum by the facade.
type TransportState string

const (
	TransportPlaying       TransportState = "PLAYING"
	TransportPaused        TransportState = "PAUSED_PLAYBACK"
	TransportStopped       TransportState = "STOPPED"
	TransportTransitioning TransportState = "TRANSITIONING"
	TransportUnknown       TransportState = ""
)

// Config configures retry behavior, (soapMaxRetries, soapBackoffStepMillis).
type Config struct {
	MaxRetries  int
	BackoffStep time.Duration
}

// DefaultConfig returns the defaults: 3 attempts per action, 1s linear backoff step.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, BackoffStep: time.Second}
}

// DeviceRef is the minimal device descriptor a Controller needs. Service control URLs
// are expected to already be resolved to absolute form by the discovery engine.
type DeviceRef struct {
	ID       string
	Location string
	Services []codec.Service
}

func (r DeviceRef) avTransportControlURL() (string, error) {
	for _, s := range r.Services {
		if s.HasType("AVTransport") && s.ControlURL != "" {
			return s.ControlURL, nil
		}
	}
	return "", ErrNoAVTransportService
}

func (r DeviceRef) renderingControlURL() (string, error) {
	for _, s := range r.Services {
		if s.HasType("RenderingControl") && s.ControlURL != "" {
			return s.ControlURL, nil
		}
	}
	return "", ErrNoRenderingControlService
}

// Controller is a per-device AVTransport/RenderingControl client, created lazily and
// cached per device id by the facade.
type Controller struct {
	ref  DeviceRef
	http *httpclient.Client
	cfg  Config
	log  *logrus.Entry

	baseCtx context.Context
	cancel  context.CancelFunc
	closed  int32
}

// NewController builds a Controller bound to parentCtx. Cancelling parentCtx or calling
// Release cancels any in-flight SOAP request.
func NewController(parentCtx context.Context, ref DeviceRef, client *httpclient.Client, cfg Config, log *logrus.Entry) *Controller {
	ctx, cancel := context.WithCancel(parentCtx)
	if log == nil {
		log = logrus.WithField("component", "media")
	}
	return &Controller{
		ref:     ref,
		http:    client,
		cfg:     cfg,
		log:     log.WithField("device", ref.ID),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

func (c *Controller) checkReleased() error {
	if atomic.LoadInt32(&c.closed) != 0 {
		return ErrReleased
	}
	return nil
}

// Release cancels any in-flight request and marks the controller closed. Safe to call
// more than once; operations after Release fail fast with ErrReleased.
func (c *Controller) Release() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.cancel()
	}
}

// linkRelease returns a context done when either ctx or the controller's own
// release-triggered context is done, so a Release() call during an in-flight SOAP
// request unblocks it even if the caller passed an unrelated ctx. The caller must
// always invoke the returned cancel func.
func (c *Controller) linkRelease(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := make(chan struct{})
	go func() {
		select {
		case <-c.baseCtx.Done():
			cancel()
		case <-stop:
		}
	}()
	return merged, func() {
		close(stop)
		cancel()
	}
}

func instanceIDArg() codec.Arg { return codec.Arg{Name: "InstanceID", Value: "0"} }

// PlayMedia composes SetAVTransportURI -> Play -> optional Seek. Each
// step is retried independently; a later step only runs after the previous step's
// success, matching the per-chain ordering guarantee.
func (c *Controller) PlayMedia(ctx context.Context, mediaURL, title string, startPositionMs int64) error {
	if err := c.checkReleased(); err != nil {
		return err
	}
	controlURL, err := c.ref.avTransportControlURL()
	if err != nil {
		return err
	}

	metadata := codec.WrapCDATA(codec.BuildDIDLLite(mediaURL, title))
	setURI := codec.Action{
		ServiceType: avTransportServiceType,
		Name:        "SetAVTransportURI",
		Args: []codec.Arg{
			instanceIDArg(),
			{Name: "CurrentURI", Value: mediaURL, URL: true},
			{Name: "CurrentURIMetaData", Value: metadata, Raw: true},
		},
	}
	if _, err := c.postAction(ctx, controlURL, setURI); err != nil {
		return fmt.Errorf("media: SetAVTransportURI: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(250 * time.Millisecond):
	}

	if err := c.Play(ctx); err != nil {
		return err
	}

	if startPositionMs > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
		if err := c.Seek(ctx, startPositionMs); err != nil {
			return err
		}
	}
	return nil
}

// Play issues Play with Speed=1.
func (c *Controller) Play(ctx context.Context) error {
	if err := c.checkReleased(); err != nil {
		return err
	}
	controlURL, err := c.ref.avTransportControlURL()
	if err != nil {
		return err
	}
	action := codec.Action{
		ServiceType: avTransportServiceType,
		Name:        "Play",
		Args:        []codec.Arg{instanceIDArg(), {Name: "Speed", Value: "1"}},
	}
	_, err = c.postAction(ctx, controlURL, action)
	if err != nil {
		return fmt.Errorf("media: Play: %w", err)
	}
	return nil
}

// Pause issues Pause.
func (c *Controller) Pause(ctx context.Context) error {
	return c.simpleTransportAction(ctx, "Pause")
}

// Stop issues Stop.
func (c *Controller) Stop(ctx context.Context) error {
	return c.simpleTransportAction(ctx, "Stop")
}

func (c *Controller) simpleTransportAction(ctx context.Context, name string) error {
	if err := c.checkReleased(); err != nil {
		return err
	}
	controlURL, err := c.ref.avTransportControlURL()
	if err != nil {
		return err
	}
	action := codec.Action{ServiceType: avTransportServiceType, Name: name, Args: []codec.Arg{instanceIDArg()}}
	if _, err := c.postAction(ctx, controlURL, action); err != nil {
		return fmt.Errorf("media: %s: %w", name, err)
	}
	return nil
}

// Seek issues Seek REL_TIME to positionMs (must be >= 0).
func (c *Controller) Seek(ctx context.Context, positionMs int64) error {
	if err := c.checkReleased(); err != nil {
		return err
	}
	controlURL, err := c.ref.avTransportControlURL()
	if err != nil {
		return err
	}
	action := codec.Action{
		ServiceType: avTransportServiceType,
		Name:        "Seek",
		Args: []codec.Arg{
			instanceIDArg(),
			{Name: "Unit", Value: "REL_TIME"},
			{Name: "Target", Value: codec.FormatRelTime(positionMs)},
		},
	}
	if _, err := c.postAction(ctx, controlURL, action); err != nil {
		return fmt.Errorf("media: Seek: %w", err)
	}
	return nil
}

// SetVolume issues SetVolume, Channel=Master, clamping v into 0..=100.
func (c *Controller) SetVolume(ctx context.Context, v int) error {
	if err := c.checkReleased(); err != nil {
		return err
	}
	controlURL, err := c.ref.renderingControlURL()
	if err != nil {
		return err
	}
	clamped := codec.ClampVolume(v)
	action := codec.Action{
		ServiceType: renderingControlServiceType,
		Name:        "SetVolume",
		Args: []codec.Arg{
			instanceIDArg(),
			{Name: "Channel", Value: "Master"},
			{Name: "DesiredVolume", Value: fmt.Sprintf("%d", clamped)},
		},
	}
	if _, err := c.postAction(ctx, controlURL, action); err != nil {
		return fmt.Errorf("media: SetVolume: %w", err)
	}
	return nil
}

// SetMute issues SetMute, Channel=Master.
func (c *Controller) SetMute(ctx context.Context, muted bool) error {
	if err := c.checkReleased(); err != nil {
		return err
	}
	controlURL, err := c.ref.renderingControlURL()
	if err != nil {
		return err
	}
	desired := "0"
	if muted {
		desired = "1"
	}
	action := codec.Action{
		ServiceType: renderingControlServiceType,
		Name:        "SetMute",
		Args: []codec.Arg{
			instanceIDArg(),
			{Name: "Channel", Value: "Master"},
			{Name: "DesiredMute", Value: desired},
		},
	}
	if _, err := c.postAction(ctx, controlURL, action); err != nil {
		return fmt.Errorf("media: SetMute: %w", err)
	}
	return nil
}

// GetPosition returns (positionMs, durationMs) from GetPositionInfo.
func (c *Controller) GetPosition(ctx context.Context) (int64, int64, error) {
	if err := c.checkReleased(); err != nil {
		return 0, 0, err
	}
	controlURL, err := c.ref.avTransportControlURL()
	if err != nil {
		return 0, 0, err
	}
	action := codec.Action{ServiceType: avTransportServiceType, Name: "GetPositionInfo", Args: []codec.Arg{instanceIDArg()}}
	resp, err := c.postAction(ctx, controlURL, action)
	if err != nil {
		return 0, 0, fmt.Errorf("media: GetPositionInfo: %w", err)
	}
	posMs, err := codec.ParseRelTime(codec.ExtractValue(resp, "RelTime"))
	if err != nil {
		return 0, 0, err
	}
	durMs, err := codec.ParseRelTime(codec.ExtractValue(resp, "TrackDuration"))
	if err != nil {
		return 0, 0, err
	}
	return posMs, durMs, nil
}

// GetVolume returns CurrentVolume (0..=100).
func (c *Controller) GetVolume(ctx context.Context) (int, error) {
	if err := c.checkReleased(); err != nil {
		return 0, err
	}
	controlURL, err := c.ref.renderingControlURL()
	if err != nil {
		return 0, err
	}
	action := codec.Action{
		ServiceType: renderingControlServiceType,
		Name:        "GetVolume",
		Args:        []codec.Arg{instanceIDArg(), {Name: "Channel", Value: "Master"}},
	}
	resp, err := c.postAction(ctx, controlURL, action)
	if err != nil {
		return 0, fmt.Errorf("media: GetVolume: %w", err)
	}
	return codec.ParseVolume(codec.ExtractValue(resp, "CurrentVolume"))
}

// GetMute returns CurrentMute.
func (c *Controller) GetMute(ctx context.Context) (bool, error) {
	if err := c.checkReleased(); err != nil {
		return false, err
	}
	controlURL, err := c.ref.renderingControlURL()
	if err != nil {
		return false, err
	}
	action := codec.Action{
		ServiceType: renderingControlServiceType,
		Name:        "GetMute",
		Args:        []codec.Arg{instanceIDArg(), {Name: "Channel", Value: "Master"}},
	}
	resp, err := c.postAction(ctx, controlURL, action)
	if err != nil {
		return false, fmt.Errorf("media: GetMute: %w", err)
	}
	return codec.ParseMute(codec.ExtractValue(resp, "CurrentMute"))
}

// GetTransportState returns the best-effort CurrentTransportState string from
// GetTransportInfo, folded into MediaState.PlaybackState by the facade.
func (c *Controller) GetTransportState(ctx context.Context) (TransportState, error) {
	if err := c.checkReleased(); err != nil {
		return TransportUnknown, err
	}
	controlURL, err := c.ref.avTransportControlURL()
	if err != nil {
		return TransportUnknown, err
	}
	action := codec.Action{ServiceType: avTransportServiceType, Name: "GetTransportInfo", Args: []codec.Arg{instanceIDArg()}}
	resp, err := c.postAction(ctx, controlURL, action)
	if err != nil {
		return TransportUnknown, fmt.Errorf("media: GetTransportInfo: %w", err)
	}
	return TransportState(codec.ExtractValue(resp, "CurrentTransportState")), nil
}
