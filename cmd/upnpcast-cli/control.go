package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/yoakerin/upnpcast"
)

// newControlCmd builds the control subcommand. Because control() dispatches to the
// facade's "current device" and a one-shot CLI process has no state from a previous
// invocation, --cast-url lets a single call establish the current device before sending
// the action; run without it, control correctly surfaces the "no current device"
// DeviceError the library defines for that case.
func newControlCmd() *cobra.Command {
	var castURL, value string
	cmd := &cobra.Command{
		Use:       "control <play|pause|stop|seek|volume|mute>",
		Short:     "Send a transport or volume action to the current device",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"play", "pause", "stop", "seek", "volume", "mute"},
		RunE: func(cmd *cobra.Command, args []string) error {
			f, teardown, err := withFacade(cmd)
			if err != nil {
				return err
			}
			defer teardown()

			if castURL != "" {
				if err := awaitCast(f, "", castURL, ""); err != nil {
					return fmt.Errorf("cast before control: %w", err)
				}
			}

			action, argVal, err := parseAction(args[0], value)
			if err != nil {
				return err
			}

			ctrlCh := make(chan error, 1)
			f.Control(action, argVal, func(err error) { ctrlCh <- err })
			if err := <-ctrlCh; err != nil {
				return fmt.Errorf("control failed: %w", err)
			}

			state := f.GetState()
			fmt.Printf("ok: playbackState=%s positionMs=%d durationMs=%d\n",
				state.PlaybackState, state.PositionMs, state.DurationMs)
			return nil
		},
	}
	cmd.Flags().StringVar(&castURL, "cast-url", "", "cast this media URL first, then apply the action to it")
	cmd.Flags().StringVar(&value, "value", "", "action argument: milliseconds for seek, 0-100 for volume, true/false for mute")
	return cmd
}

func parseAction(name, value string) (upnpcast.ControlAction, interface{}, error) {
	switch name {
	case "play":
		return upnpcast.ActionPlay, nil, nil
	case "pause":
		return upnpcast.ActionPause, nil, nil
	case "stop":
		return upnpcast.ActionStop, nil, nil
	case "seek":
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("seek requires --value=<milliseconds>: %w", err)
		}
		return upnpcast.ActionSeek, ms, nil
	case "volume":
		v, err := strconv.Atoi(value)
		if err != nil {
			return "", nil, fmt.Errorf("volume requires --value=<0-100>: %w", err)
		}
		return upnpcast.ActionSetVolume, v, nil
	case "mute":
		m, err := strconv.ParseBool(value)
		if err != nil {
			return "", nil, fmt.Errorf("mute requires --value=<true|false>: %w", err)
		}
		return upnpcast.ActionSetMute, m, nil
	default:
		return "", nil, fmt.Errorf("unknown action %q", name)
	}
}
