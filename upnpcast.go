// Package upnpcast is a control-point library for the UPnP AV (DLNA) ecosystem: it
// discovers media-renderer devices on the LAN, pushes a media URL to a chosen renderer,
// and controls/observes its playback. It does not serve media and does not implement a
// MediaServer role.
package upnpcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/yoakerin/upnpcast/internal/httpclient"
	"github.com/yoakerin/upnpcast/internal/media"
	"github.com/yoakerin/upnpcast/internal/ssdp"
)

// ResultFunc is the single-fire result callback every facade command invokes exactly
// once.
type ResultFunc func(error)

// DeltaFunc receives newly observed devices during a search.
type DeltaFunc func([]Device)

// DeviceSelector picks a device (or none) from the known set, for CastTo.
type DeviceSelector func([]Device) *Device

// Facade is the library's public surface: init/search/cast/castTo/castToDevice/control/
// getState/release. The zero value is not usable; use New.
type Facade struct {
	cfg Config
	log *logrus.Entry

	mu          sync.Mutex
	initialized bool
	released    bool
	ctx         context.Context
	cancel      context.CancelFunc

	http   *httpclient.Client
	engine *ssdp.Engine

	stateMu       sync.RWMutex
	currentDevice *ssdp.RemoteDevice
	state         MediaState

	controllersMu sync.Mutex
	controllers   map[string]*media.Controller
	controllerSF  singleflight.Group
}

// New builds an uninitialized Facade. Call Init before any other method.
func New(cfg Config) *Facade {
	return &Facade{
		cfg:         cfg,
		log:         logrus.WithField("component", "facade"),
		controllers: make(map[string]*media.Controller),
	}
}

// Init opens the discovery engine and HTTP client. Safe to call repeatedly — a second
// call while already initialized is a no-op — and safe to call again after Release to
// reinitialize the same Facade instance. There is no process-wide singleton;
// independent instances can coexist, though only one can bind the multicast socket.
func (f *Facade) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initialized && !f.released {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	httpClient := httpclient.New(httpclient.Config{
		ConnectTimeout: f.cfg.HTTPConnectTimeout,
		ReadTimeout:    f.cfg.HTTPReadTimeout,
		CacheTTL:       time.Hour,
		Log:            f.log.WithField("component", "httpclient"),
	})

	engine, err := ssdp.NewEngine(ssdp.Config{
		MulticastAddress:      f.cfg.MulticastAddress,
		MulticastPort:         f.cfg.MulticastPort,
		MulticastTTL:          f.cfg.MulticastTTL,
		DeviceLiveness:        f.cfg.DeviceLiveness,
		LivenessSweepInterval: 30 * time.Second,
		MaxProcessedLocations: f.cfg.MaxProcessedLocs,
		ReAnnounceWindow:      10 * time.Second,
		Log:                   f.log.WithField("component", "ssdp"),
	}, httpClient)
	if err != nil {
		cancel()
		return fmt.Errorf("upnpcast: build discovery engine: %w", err)
	}
	if err := engine.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("upnpcast: start discovery engine: %w", err)
	}

	f.ctx = runCtx
	f.cancel = cancel
	f.http = httpClient
	f.engine = engine
	f.controllers = make(map[string]*media.Controller)
	f.initialized = true
	f.released = false
	return nil
}

func (f *Facade) checkUsable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return ErrReleased
	}
	if !f.initialized {
		return ErrNotInitialized
	}
	return nil
}

// Search starts discovery if needed and delivers delta devices as they're found.
// The search runs on a background goroutine; Search itself only validates and
// enqueues. onDelta is invoked from that goroutine.
func (f *Facade) Search(timeout time.Duration, onDelta DeltaFunc) error {
	if err := f.checkUsable(); err != nil {
		return err
	}
	go func() {
		// The engine enforces the window itself; a context deadline of the same length
		// would end the search before its final known-set callback could fire.
		ctx, cancel := context.WithCancel(f.ctx)
		defer cancel()
		f.engine.Search(ctx, timeout, func(remotes []*ssdp.RemoteDevice) {
			onDelta(devicesFromRemote(remotes))
		})
	}()
	return nil
}

// Cast performs a bounded search (the configured search timeout), selects a
// device preferring isTV then insertion order, and plays. The work runs on a background
// goroutine; onResult fires exactly once when it completes.
func (f *Facade) Cast(mediaURL, title string, onResult ResultFunc) {
	if err := f.checkUsable(); err != nil {
		onResult(err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(f.ctx, f.cfg.SearchTimeout)
		f.engine.Search(ctx, f.cfg.SearchTimeout, func([]*ssdp.RemoteDevice) {})
		cancel()

		chosen := selectDevice(f.engine.Devices())
		if chosen == nil {
			onResult(fmt.Errorf("%w: no devices found", ErrDeviceError))
			return
		}
		f.playOn(f.ctx, chosen, mediaURL, title, onResult)
	}()
}

// CastTo invokes selector immediately against already-known devices, or performs a
// bounded search first if none are known yet. A nil selector result means no cast. Runs on a background goroutine; onResult fires exactly once.
func (f *Facade) CastTo(mediaURL, title string, selector DeviceSelector, onResult ResultFunc) {
	if err := f.checkUsable(); err != nil {
		onResult(err)
		return
	}
	go func() {
		known := f.engine.Devices()
		if len(known) == 0 {
			ctx, cancel := context.WithTimeout(f.ctx, f.cfg.SearchTimeout)
			f.engine.Search(ctx, f.cfg.SearchTimeout, func([]*ssdp.RemoteDevice) {})
			cancel()
			known = f.engine.Devices()
		}

		picked := selector(devicesFromRemote(known))
		if picked == nil {
			onResult(nil)
			return
		}
		remote, ok := f.engine.DeviceByID(picked.ID)
		if !ok {
			onResult(fmt.Errorf("%w: selected device no longer known", ErrDeviceError))
			return
		}
		f.playOn(f.ctx, remote, mediaURL, title, onResult)
	}()
}

// CastToDevice casts directly if the device id is already known, otherwise performs a
// short rediscovery search. Runs on a background goroutine; onResult
// fires exactly once.
func (f *Facade) CastToDevice(device Device, mediaURL, title string, onResult ResultFunc) {
	if err := f.checkUsable(); err != nil {
		onResult(err)
		return
	}
	go func() {
		if remote, ok := f.engine.DeviceByID(device.ID); ok {
			f.playOn(f.ctx, remote, mediaURL, title, onResult)
			return
		}

		ctx, cancel := context.WithTimeout(f.ctx, rediscoveryTimeout)
		f.engine.Search(ctx, rediscoveryTimeout, func([]*ssdp.RemoteDevice) {})
		cancel()

		remote, ok := f.engine.DeviceByID(device.ID)
		if !ok {
			onResult(fmt.Errorf("%w: device %s not found", ErrDeviceError, device.ID))
			return
		}
		f.playOn(f.ctx, remote, mediaURL, title, onResult)
	}()
}

// rediscoveryTimeout bounds the short search CastToDevice runs when asked to cast to a
// device id it doesn't currently know.
const rediscoveryTimeout = 5 * time.Second

func (f *Facade) playOn(ctx context.Context, remote *ssdp.RemoteDevice, mediaURL, title string, onResult ResultFunc) {
	if !remote.Castable() {
		onResult(fmt.Errorf("%w: device has no AVTransport service", ErrDeviceError))
		return
	}
	ctrl, err := f.controllerFor(remote)
	if err != nil {
		onResult(err)
		return
	}
	err = classifyErr(ctrl.PlayMedia(ctx, mediaURL, title, 0))
	if err == nil {
		f.engine.Touch(remote.ID)
	}
	f.setCurrentDevice(remote, err)
	onResult(err)
}

// controllerFor returns the cached controller for remote, creating it single-flight on
// first use.
func (f *Facade) controllerFor(remote *ssdp.RemoteDevice) (*media.Controller, error) {
	f.controllersMu.Lock()
	if ctrl, ok := f.controllers[remote.ID]; ok {
		f.controllersMu.Unlock()
		return ctrl, nil
	}
	f.controllersMu.Unlock()

	v, err, _ := f.controllerSF.Do(remote.ID, func() (interface{}, error) {
		f.controllersMu.Lock()
		if ctrl, ok := f.controllers[remote.ID]; ok {
			f.controllersMu.Unlock()
			return ctrl, nil
		}
		f.controllersMu.Unlock()

		ctrl := media.NewController(
			f.ctx,
			media.DeviceRef{ID: remote.ID, Location: remote.Location, Services: remote.Services},
			f.http,
			media.Config{MaxRetries: f.cfg.SOAPMaxRetries, BackoffStep: f.cfg.SOAPBackoffStep},
			f.log.WithField("component", "media"),
		)

		f.controllersMu.Lock()
		f.controllers[remote.ID] = ctrl
		f.controllersMu.Unlock()
		return ctrl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*media.Controller), nil
}

func (f *Facade) setCurrentDevice(remote *ssdp.RemoteDevice, castErr error) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	if castErr != nil {
		f.state.PlaybackState = PlaybackError
		return
	}
	f.currentDevice = remote
	d := deviceFromRemote(remote)
	f.state = MediaState{IsConnected: true, CurrentDevice: &d, PlaybackState: PlaybackPlaying}
}

// GetState returns the cached media state snapshot synchronously; it never initiates
// network I/O and never fails.
func (f *Facade) GetState() MediaState {
	f.stateMu.RLock()
	defer f.stateMu.RUnlock()
	return f.state
}

// AddManualDevice seeds a device from a known host/port/description path without
// waiting for an SSDP announcement, for renderers that answer searches unreliably.
func (f *Facade) AddManualDevice(host string, port int, descriptionPath, name string) error {
	if err := f.checkUsable(); err != nil {
		return err
	}
	f.engine.AddManualDevice(host, port, descriptionPath, name)
	return nil
}

// Release tears down the discovery engine, every cached media controller, and the HTTP
// client. Idempotent; safe to call more than once.
func (f *Facade) Release() error {
	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		return nil
	}
	f.released = true
	engine := f.engine
	httpClient := f.http
	cancel := f.cancel
	f.mu.Unlock()

	var result error
	if cancel != nil {
		cancel()
	}
	if engine != nil {
		if err := engine.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	f.controllersMu.Lock()
	for _, ctrl := range f.controllers {
		ctrl.Release()
	}
	f.controllers = make(map[string]*media.Controller)
	f.controllersMu.Unlock()

	if httpClient != nil {
		httpClient.Close()
	}

	f.stateMu.Lock()
	f.currentDevice = nil
	f.state = MediaState{}
	f.stateMu.Unlock()

	return result
}
