package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/yoakerin/upnpcast"
)

func newSearchCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Discover media renderers on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, teardown, err := withFacade(cmd)
			if err != nil {
				return err
			}
			defer teardown()

			var mu sync.Mutex
			seen := map[string]bool{}
			err = f.Search(timeout, func(devices []upnpcast.Device) {
				mu.Lock()
				defer mu.Unlock()
				for _, d := range devices {
					if seen[d.ID] {
						continue
					}
					seen[d.ID] = true
					printDevice(d)
				}
			})
			if err != nil {
				return err
			}

			// Deltas arrive on a background goroutine; wait out the search window
			// (plus a grace period for the final known-set callback) before deciding
			// nothing was found.
			select {
			case <-cmd.Context().Done():
			case <-time.After(timeout + 500*time.Millisecond):
			}

			mu.Lock()
			defer mu.Unlock()
			if len(seen) == 0 {
				fmt.Println("no devices found")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to listen for responses")
	return cmd
}

func printDevice(d upnpcast.Device) {
	tv := ""
	if d.IsTV {
		tv = " [tv]"
	}
	castable := ""
	if !d.Castable {
		castable = " (no AVTransport)"
	}
	fmt.Printf("%s\t%s\t%s%s%s\n", d.ID, d.Name, d.Address, tv, castable)
}
