// Package ssdp implements the multicast discovery engine: socket lifecycle,
// M-SEARCH issuance, NOTIFY/response dispatch, dedup, single-flight
// description fetch, and liveness eviction.
package ssdp

import "github.com/yoakerin/upnpcast/internal/codec"

// RemoteDevice is a discovered device, owned exclusively by the Engine and
// exposed to callers as an immutable snapshot (copy-on-read).
type RemoteDevice struct {
	ID             string // the description URL; stable per announcement
	USN            string // raw USN from the announce that created this entry
	Name           string
	Address        string
	Manufacturer   string
	ModelName      string
	DeviceType     string
	Location       string
	Services       []codec.Service
	IsTV           bool
	LastSeenMillis int64
}

// Castable reports whether the device exposes an AVTransport-flavored
// service with a non-empty control URL.
func (d *RemoteDevice) Castable() bool {
	return d.AVTransportService() != nil
}

// AVTransportService returns the first service whose type looks like
// AVTransport, or nil.
func (d *RemoteDevice) AVTransportService() *codec.Service {
	return d.serviceByType("AVTransport")
}

// RenderingControlService returns the first service whose type looks like
// RenderingControl, or nil.
func (d *RemoteDevice) RenderingControlService() *codec.Service {
	return d.serviceByType("RenderingControl")
}

func (d *RemoteDevice) serviceByType(needle string) *codec.Service {
	for i := range d.Services {
		if d.Services[i].HasType(needle) && d.Services[i].ControlURL != "" {
			return &d.Services[i]
		}
	}
	return nil
}

// clone returns a value copy safe to hand to callers outside the Engine's lock.
func (d *RemoteDevice) clone() *RemoteDevice {
	cp := *d
	cp.Services = append([]codec.Service(nil), d.Services...)
	return &cp
}
