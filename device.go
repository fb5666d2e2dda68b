package upnpcast

import "github.com/yoakerin/upnpcast/internal/ssdp"

// Device is the smallest unit the facade exposes. Its ID is the
// description URL: stable per announcement and immediately usable to refetch.
type Device struct {
	ID       string
	Name     string
	Address  string
	IsTV     bool
	Castable bool
}

func deviceFromRemote(r *ssdp.RemoteDevice) Device {
	return Device{
		ID:       r.ID,
		Name:     r.Name,
		Address:  r.Address,
		IsTV:     r.IsTV,
		Castable: r.Castable(),
	}
}

func devicesFromRemote(remotes []*ssdp.RemoteDevice) []Device {
	out := make([]Device, len(remotes))
	for i, r := range remotes {
		out[i] = deviceFromRemote(r)
	}
	return out
}

// selectDevice applies the device-selection heuristic: isTV preferred, then
// first known (insertion order, as returned by the engine's device snapshot).
func selectDevice(remotes []*ssdp.RemoteDevice) *ssdp.RemoteDevice {
	if len(remotes) == 0 {
		return nil
	}
	for _, r := range remotes {
		if r.IsTV {
			return r
		}
	}
	return remotes[0]
}
