package upnpcast

import (
	"fmt"

	"github.com/yoakerin/upnpcast/internal/media"
)

// ControlAction is one of the facade's control() verbs.
type ControlAction string

const (
	ActionPlay      ControlAction = "play"
	ActionPause     ControlAction = "pause"
	ActionStop      ControlAction = "stop"
	ActionSeek      ControlAction = "seek"
	ActionSetVolume ControlAction = "setVolume"
	ActionSetMute   ControlAction = "setMute"
)

// Control dispatches action to the current device's controller. value is a tagged
// variant: volume takes an int 0..=100, mute takes a bool, seek takes milliseconds;
// play/pause/stop take nil. A value of the wrong shape yields ErrInvalidArgument.
// Validation happens up front; the SOAP round-trip runs on a background goroutine and
// onResult fires exactly once when it completes.
func (f *Facade) Control(action ControlAction, value interface{}, onResult ResultFunc) {
	if err := f.checkUsable(); err != nil {
		onResult(err)
		return
	}

	f.stateMu.RLock()
	remote := f.currentDevice
	f.stateMu.RUnlock()
	if remote == nil {
		onResult(fmt.Errorf("%w: no current device", ErrDeviceError))
		return
	}

	ctrl, err := f.controllerFor(remote)
	if err != nil {
		onResult(err)
		return
	}

	var op func() error
	switch action {
	case ActionPlay:
		op = func() error { return ctrl.Play(f.ctx) }
	case ActionPause:
		op = func() error { return ctrl.Pause(f.ctx) }
	case ActionStop:
		op = func() error { return ctrl.Stop(f.ctx) }
	case ActionSeek:
		ms, ok := toMillis(value)
		if !ok || ms < 0 {
			onResult(fmt.Errorf("%w: seek requires a non-negative millisecond value", ErrInvalidArgument))
			return
		}
		op = func() error { return ctrl.Seek(f.ctx, ms) }
	case ActionSetVolume:
		v, ok := value.(int)
		if !ok {
			onResult(fmt.Errorf("%w: setVolume requires an int 0..100", ErrInvalidArgument))
			return
		}
		op = func() error { return ctrl.SetVolume(f.ctx, v) }
	case ActionSetMute:
		m, ok := value.(bool)
		if !ok {
			onResult(fmt.Errorf("%w: setMute requires a bool", ErrInvalidArgument))
			return
		}
		op = func() error { return ctrl.SetMute(f.ctx, m) }
	default:
		onResult(fmt.Errorf("%w: unrecognized action %q", ErrInvalidArgument, action))
		return
	}

	go func() {
		err := classifyErr(f.runAndRefresh(ctrl, op))
		if err == nil {
			f.engine.Touch(remote.ID)
		}
		onResult(err)
	}()
}

func toMillis(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

func (f *Facade) runAndRefresh(ctrl *media.Controller, op func() error) error {
	if err := op(); err != nil {
		f.stateMu.Lock()
		f.state.PlaybackState = PlaybackError
		f.stateMu.Unlock()
		return err
	}
	f.refreshState(ctrl)
	return nil
}

// refreshState best-effort re-queries position/volume/mute/transport state after a
// successful control action. A failed query leaves the
// corresponding field untouched rather than failing the whole refresh.
func (f *Facade) refreshState(ctrl *media.Controller) {
	transport, tErr := ctrl.GetTransportState(f.ctx)
	pos, dur, pErr := ctrl.GetPosition(f.ctx)
	vol, vErr := ctrl.GetVolume(f.ctx)
	muted, mErr := ctrl.GetMute(f.ctx)

	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	if tErr == nil && transport != media.TransportUnknown {
		f.state.PlaybackState = mapTransportState(transport)
	}
	if pErr == nil {
		f.state.PositionMs, f.state.DurationMs = pos, dur
	}
	if vErr == nil {
		v := vol
		f.state.Volume = &v
	}
	if mErr == nil {
		m := muted
		f.state.IsMuted = &m
	}
}

func mapTransportState(t media.TransportState) PlaybackState {
	switch t {
	case media.TransportPlaying:
		return PlaybackPlaying
	case media.TransportPaused:
		return PlaybackPaused
	case media.TransportStopped:
		return PlaybackStopped
	case media.TransportTransitioning:
		return PlaybackBuffering
	default:
		return PlaybackIdle
	}
}
