package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yoakerin/upnpcast"
)

func newCastCmd() *cobra.Command {
	var mediaURL, title, deviceID string
	cmd := &cobra.Command{
		Use:   "cast",
		Short: "Cast a media URL to a renderer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if mediaURL == "" {
				return fmt.Errorf("--url is required")
			}
			f, teardown, err := withFacade(cmd)
			if err != nil {
				return err
			}
			defer teardown()

			if err := awaitCast(f, deviceID, mediaURL, title); err != nil {
				return fmt.Errorf("cast failed: %w", err)
			}
			fmt.Println("casting:", mediaURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&mediaURL, "url", "", "media URL to cast (required)")
	cmd.Flags().StringVar(&title, "title", "", "display title for the renderer, if supported")
	cmd.Flags().StringVar(&deviceID, "device", "", "cast to this device ID; omitted means auto-select (prefer TVs)")
	return cmd
}

// awaitCast runs the (asynchronous) cast and blocks until its one-shot result fires.
func awaitCast(f *upnpcast.Facade, deviceID, mediaURL, title string) error {
	errCh := make(chan error, 1)
	onResult := func(err error) { errCh <- err }
	if deviceID != "" {
		f.CastToDevice(upnpcast.Device{ID: deviceID}, mediaURL, title, onResult)
	} else {
		f.Cast(mediaURL, title, onResult)
	}
	return <-errCh
}
